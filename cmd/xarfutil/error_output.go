package main

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"strings"

	coreerrors "github.com/davidahmann/xarf/core/errors"
)

const (
	exitOK                = 0
	exitInternalFailure   = 1
	exitValidationFailed  = 2
	exitMissingParameter  = 3
	exitSchemaFailure     = 4
	exitSendFailed        = 5
	exitInvalidInput      = 6
	exitMissingDependency = 7
)

// reportedError ends a command whose outcome was already written.
type reportedError struct {
	code int
}

func (e reportedError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

func writeJSONOutput(out io.Writer, output any, exitCode int) int {
	encoded, err := marshalOutputWithErrorEnvelope(output, exitCode)
	if err != nil {
		_, _ = fmt.Fprintln(out, `{"ok":false,"error":"failed to encode output","error_code":"encode_failed","error_category":"internal_failure","retryable":false}`)
		return exitInternalFailure
	}
	_, _ = fmt.Fprintln(out, string(encoded))
	return exitCode
}

func marshalOutputWithErrorEnvelope(output any, exitCode int) ([]byte, error) {
	encoded, err := json.Marshal(output)
	if err != nil {
		return nil, err
	}
	result, err := unmarshalJSONToMap(encoded)
	if err != nil {
		return nil, err
	}
	errorText := strings.TrimSpace(asString(result["error"]))
	if errorText == "" {
		return json.Marshal(result)
	}
	if strings.TrimSpace(asString(result["error_code"])) == "" {
		result["error_code"] = defaultErrorCode(exitCode)
	}
	if strings.TrimSpace(asString(result["error_category"])) == "" {
		category := defaultErrorCategory(exitCode)
		result["error_category"] = string(category)
	}
	if _, exists := result["retryable"]; !exists {
		category := coreerrors.Category(asString(result["error_category"]))
		result["retryable"] = defaultRetryable(category)
	}
	if strings.TrimSpace(asString(result["hint"])) == "" {
		result["hint"] = defaultHint(exitCode)
	}
	return json.Marshal(result)
}

// errorOutput is the JSON body for a failed command.
func errorOutput(err error) map[string]any {
	output := map[string]any{"ok": false, "error": err.Error()}
	if code := coreerrors.CodeOf(err); code != "" {
		output["error_code"] = code
	}
	if category := coreerrors.CategoryOf(err); category != "" {
		output["error_category"] = string(category)
	}
	if hint := coreerrors.HintOf(err); hint != "" {
		output["hint"] = hint
	}
	if coreerrors.RetryableOf(err) {
		output["retryable"] = true
	}
	if flags := missingFlags(err); len(flags) > 0 {
		output["missing_parameters"] = flags
	}
	var validationErr *coreerrors.ValidationError
	if stderrors.As(err, &validationErr) {
		output["violations"] = validationErr.Violations
	}
	return output
}

// describeError is the human form of a failed command.
func describeError(err error) string {
	var validationErr *coreerrors.ValidationError
	if stderrors.As(err, &validationErr) {
		return "error: validation failed! reason(s):\n" + validationErr.Error()
	}
	message := "error: " + err.Error()
	if flags := missingFlags(err); len(flags) > 0 {
		message += "\nadd missing parameter(s) with " + strings.Join(flags, " ")
	}
	return message
}

// missingFlags renders missing canonical names as the flags that supply them.
func missingFlags(err error) []string {
	var names []string
	var parameterErr *coreerrors.MissingParameterError
	var fieldsErr *coreerrors.MissingFieldsError
	switch {
	case stderrors.As(err, &fieldsErr):
		names = fieldsErr.Fields
	case stderrors.As(err, &parameterErr):
		names = parameterErr.Parameters
	}
	flags := make([]string, 0, len(names))
	for _, name := range names {
		flags = append(flags, "--"+strings.ReplaceAll(name, "_", "-"))
	}
	return flags
}

func exitCodeForError(err error, fallbackExit int) int {
	if err == nil {
		return exitOK
	}
	var reported reportedError
	if stderrors.As(err, &reported) {
		return reported.code
	}
	switch coreerrors.CategoryOf(err) {
	case coreerrors.CategoryInvalidInput:
		return exitInvalidInput
	case coreerrors.CategoryMissingParameter:
		return exitMissingParameter
	case coreerrors.CategorySchemaFailure:
		return exitSchemaFailure
	case coreerrors.CategoryValidation:
		return exitValidationFailed
	case coreerrors.CategorySendFailure:
		return exitSendFailed
	case coreerrors.CategoryDependencyMissing:
		return exitMissingDependency
	case coreerrors.CategoryIOFailure, coreerrors.CategoryNetworkTransient, coreerrors.CategoryNetworkPermanent, coreerrors.CategoryInternalFailure:
		return exitInternalFailure
	}
	var netErr net.Error
	if stderrors.As(err, &netErr) && netErr.Timeout() {
		return exitInternalFailure
	}
	return fallbackExit
}

func defaultErrorCategory(exitCode int) coreerrors.Category {
	switch exitCode {
	case exitInvalidInput:
		return coreerrors.CategoryInvalidInput
	case exitMissingParameter:
		return coreerrors.CategoryMissingParameter
	case exitSchemaFailure:
		return coreerrors.CategorySchemaFailure
	case exitValidationFailed:
		return coreerrors.CategoryValidation
	case exitSendFailed:
		return coreerrors.CategorySendFailure
	case exitMissingDependency:
		return coreerrors.CategoryDependencyMissing
	default:
		return coreerrors.CategoryInternalFailure
	}
}

func defaultErrorCode(exitCode int) string {
	switch exitCode {
	case exitInvalidInput:
		return "invalid_input"
	case exitMissingParameter:
		return "missing_parameter"
	case exitSchemaFailure:
		return "schema_failure"
	case exitValidationFailed:
		return "validation_failed"
	case exitSendFailed:
		return "send_failed"
	case exitMissingDependency:
		return "dependency_missing"
	default:
		return "internal_failure"
	}
}

func defaultHint(exitCode int) string {
	switch exitCode {
	case exitInvalidInput:
		return "check command usage and input files"
	case exitMissingParameter:
		return "add the missing parameters as flags or key value arguments"
	case exitSchemaFailure:
		return "check the schema url and that the schema is valid json"
	case exitValidationFailed:
		return "fix the reported fields and retry"
	case exitSendFailed:
		return "check mail server settings and retry"
	case exitMissingDependency:
		return "configure the missing setting in .xarf/config.yaml or pass it as a flag"
	default:
		return "retry after checking local environment and logs"
	}
}

func defaultRetryable(category coreerrors.Category) bool {
	return category == coreerrors.CategoryNetworkTransient
}

func unmarshalJSONToMap(payload []byte) (map[string]any, error) {
	output := map[string]any{}
	if err := json.Unmarshal(payload, &output); err != nil {
		return nil, err
	}
	return output, nil
}

func asString(value any) string {
	text, _ := value.(string)
	return text
}
