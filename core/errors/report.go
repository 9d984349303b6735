package errors

import (
	"fmt"
	"strings"
)

// SchemaError is fatal to report construction: the schema could not be
// retrieved, parsed or compiled.
type SchemaError struct {
	Location string
	Cause    error
}

func (e *SchemaError) Error() string {
	detail := "unknown schema failure"
	if e.Cause != nil {
		detail = e.Cause.Error()
	}
	if strings.TrimSpace(e.Location) == "" {
		return "schema error: " + detail
	}
	return fmt.Sprintf("schema error (%s): %s", e.Location, detail)
}

func (e *SchemaError) Unwrap() error {
	return e.Cause
}

func (e *SchemaError) Category() Category {
	return CategorySchemaFailure
}

func (e *SchemaError) Code() string {
	return "schema_failure"
}

func (e *SchemaError) Hint() string {
	return "check the schema url and that the schema is valid json"
}

// MissingParameterError is raised when no schema location can be resolved.
type MissingParameterError struct {
	Parameters []string
}

func (e *MissingParameterError) Error() string {
	return "no schema url defined"
}

func (e *MissingParameterError) Category() Category {
	return CategoryMissingParameter
}

func (e *MissingParameterError) Code() string {
	return "missing_schema_url"
}

func (e *MissingParameterError) Hint() string {
	return "pass a schema url or add schema_url to the report values"
}

// MissingFieldsError carries every mandatory field that no source resolved,
// in schema order and in canonical form.
type MissingFieldsError struct {
	Fields []string
}

func (e *MissingFieldsError) Error() string {
	return "missing required parameter(s): " + strings.Join(e.Fields, ", ")
}

func (e *MissingFieldsError) Category() Category {
	return CategoryMissingParameter
}

func (e *MissingFieldsError) Code() string {
	return "missing_fields"
}

func (e *MissingFieldsError) Hint() string {
	return "add the missing fields as parameters or extra values"
}

// ValidationError carries every violation found in one validation pass.
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Error() string {
	return strings.Join(e.Violations, ", ")
}

func (e *ValidationError) Category() Category {
	return CategoryValidation
}

func (e *ValidationError) Code() string {
	return "validation_failed"
}

func (e *ValidationError) Hint() string {
	return "fix the listed fields and build the report again"
}
