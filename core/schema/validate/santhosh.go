package validate

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/url"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/davidahmann/xarf/core/schema"
)

type santhoshChecker struct {
	schema *jsonschema.Schema
}

func santhoshCompiler(assertFormat bool) compileFunc {
	return func(name string, constraints []byte) (checker, error) {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020
		compiler.AssertFormat = assertFormat
		// Without a $schema the compiler has no metaschema and asserts
		// format regardless of AssertFormat.
		document, err := withDialect(constraints)
		if err != nil {
			return nil, err
		}
		location := "file:///xarf/fields/" + url.PathEscape(name) + ".json"
		if err := compiler.AddResource(location, bytes.NewReader(document)); err != nil {
			return nil, err
		}
		compiled, err := compiler.Compile(location)
		if err != nil {
			return nil, err
		}
		return santhoshChecker{schema: compiled}, nil
	}
}

func withDialect(constraints []byte) ([]byte, error) {
	document := map[string]any{}
	if err := json.Unmarshal(constraints, &document); err != nil {
		return nil, err
	}
	document["$schema"] = schema.NativeDialect
	return json.Marshal(document)
}

func (c santhoshChecker) check(value []byte) []string {
	var instance any
	if err := json.Unmarshal(value, &instance); err != nil {
		return []string{err.Error()}
	}
	err := c.schema.Validate(instance)
	if err == nil {
		return nil
	}
	var validationErr *jsonschema.ValidationError
	if !errors.As(err, &validationErr) {
		return []string{err.Error()}
	}
	return leafMessages(validationErr, nil)
}

// leafMessages keeps the innermost causes; the outer levels only say which
// schema failed.
func leafMessages(err *jsonschema.ValidationError, into []string) []string {
	if len(err.Causes) == 0 {
		return append(into, err.Message)
	}
	for _, cause := range err.Causes {
		into = leafMessages(cause, into)
	}
	return into
}
