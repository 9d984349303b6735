package validate

import (
	"sort"

	"github.com/kaptinlin/jsonschema"
)

type kaptinlinChecker struct {
	schema *jsonschema.Schema
}

func kaptinlinCompiler(assertFormat bool) compileFunc {
	compiler := jsonschema.NewCompiler()
	compiler.AssertFormat = assertFormat
	return func(_ string, constraints []byte) (checker, error) {
		compiled, err := compiler.Compile(constraints)
		if err != nil {
			return nil, err
		}
		return kaptinlinChecker{schema: compiled}, nil
	}
}

func (c kaptinlinChecker) check(value []byte) []string {
	result := c.schema.ValidateJSON(value)
	if result.IsValid() {
		return nil
	}
	return collectEvaluationErrors(result, nil)
}

// collectEvaluationErrors flattens a result tree; keywords are sorted so the
// output is stable across runs.
func collectEvaluationErrors(result *jsonschema.EvaluationResult, into []string) []string {
	if result == nil {
		return into
	}
	keywords := make([]string, 0, len(result.Errors))
	for keyword := range result.Errors {
		keywords = append(keywords, keyword)
	}
	sort.Strings(keywords)
	for _, keyword := range keywords {
		into = append(into, result.Errors[keyword].Error())
	}
	for _, detail := range result.Details {
		into = collectEvaluationErrors(detail, into)
	}
	return into
}
