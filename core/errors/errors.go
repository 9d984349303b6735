package errors

import "errors"

type Category string

const (
	CategoryInvalidInput      Category = "invalid_input"
	CategoryMissingParameter  Category = "missing_parameter"
	CategorySchemaFailure     Category = "schema_failure"
	CategoryValidation        Category = "validation_failed"
	CategoryDependencyMissing Category = "dependency_missing"
	CategoryIOFailure         Category = "io_failure"
	CategoryNetworkTransient  Category = "network_transient"
	CategoryNetworkPermanent  Category = "network_permanent"
	CategorySendFailure       Category = "send_failed"
	CategoryInternalFailure   Category = "internal_failure"
)

type (
	categorized interface {
		Category() Category
	}
	coded interface {
		Code() string
	}
	hinted interface {
		Hint() string
	}
	retryable interface {
		Retryable() bool
	}
)

type classifiedError struct {
	category  Category
	code      string
	hint      string
	retryable bool
	cause     error
}

func (e *classifiedError) Error() string {
	if e.cause == nil {
		return "unknown error"
	}
	return e.cause.Error()
}

func (e *classifiedError) Unwrap() error {
	return e.cause
}

func (e *classifiedError) Category() Category {
	return e.category
}

func (e *classifiedError) Code() string {
	return e.code
}

func (e *classifiedError) Hint() string {
	return e.hint
}

func (e *classifiedError) Retryable() bool {
	return e.retryable
}

func Wrap(cause error, category Category, code, hint string, retryable bool) error {
	if cause == nil {
		return nil
	}
	return &classifiedError{
		category:  category,
		code:      code,
		hint:      hint,
		retryable: retryable,
		cause:     cause,
	}
}

// CategoryOf reports the outermost category found in the chain, covering both
// classified wraps and the typed report errors.
func CategoryOf(err error) Category {
	var classified categorized
	if errors.As(err, &classified) {
		return classified.Category()
	}
	return ""
}

// CodeOf, HintOf and RetryableOf read the outermost error that carries the
// attribute. Typed report errors have codes and hints but never mark
// themselves retryable, so a transient fetch failure inside a SchemaError
// stays retryable.
func CodeOf(err error) string {
	var classified coded
	if errors.As(err, &classified) {
		return classified.Code()
	}
	return ""
}

func HintOf(err error) string {
	var classified hinted
	if errors.As(err, &classified) {
		return classified.Hint()
	}
	return ""
}

func RetryableOf(err error) bool {
	var classified retryable
	if errors.As(err, &classified) {
		return classified.Retryable()
	}
	return false
}
