package validate

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	coreerrors "github.com/davidahmann/xarf/core/errors"
	"github.com/davidahmann/xarf/core/schema"
)

type Engine string

const (
	EngineKaptinlin Engine = "kaptinlin"
	EngineSanthosh  Engine = "santhosh"
)

func ParseEngine(value string) (Engine, error) {
	switch Engine(strings.ToLower(strings.TrimSpace(value))) {
	case "", EngineKaptinlin:
		return EngineKaptinlin, nil
	case EngineSanthosh:
		return EngineSanthosh, nil
	default:
		return "", fmt.Errorf("unsupported validator engine %q", value)
	}
}

type Options struct {
	Engine Engine
	// AssertFormat turns format keywords into assertions. Off by default since
	// legacy report dates are not RFC 3339.
	AssertFormat bool
}

// checker validates one encoded field value and returns violation details.
type checker interface {
	check(value []byte) []string
}

type compileFunc func(name string, constraints []byte) (checker, error)

type Validator struct {
	doc      *schema.Document
	checkers map[string]checker
}

// New compiles every field's translated constraints once.
func New(doc *schema.Document, opts Options) (*Validator, error) {
	if doc == nil {
		return nil, &coreerrors.SchemaError{Cause: fmt.Errorf("schema document is required")}
	}
	engine, err := ParseEngine(string(opts.Engine))
	if err != nil {
		return nil, coreerrors.Wrap(err, coreerrors.CategoryInvalidInput, "unknown_validator_engine", "use kaptinlin or santhosh", false)
	}
	var compile compileFunc
	switch engine {
	case EngineSanthosh:
		compile = santhoshCompiler(opts.AssertFormat)
	default:
		compile = kaptinlinCompiler(opts.AssertFormat)
	}

	validator := &Validator{doc: doc, checkers: make(map[string]checker, len(doc.Fields))}
	for _, field := range doc.Fields {
		constraints, err := json.Marshal(field.Native())
		if err != nil {
			return nil, &coreerrors.SchemaError{Cause: fmt.Errorf("encode %s constraints: %w", field.Name, err)}
		}
		compiled, err := compile(field.Name, constraints)
		if err != nil {
			return nil, &coreerrors.SchemaError{Cause: fmt.Errorf("compile %s constraints: %w", field.Name, err)}
		}
		validator.checkers[field.Name] = compiled
	}
	return validator, nil
}

// Check returns every violation in schema order: presence, field constraints
// and dependencies per field, then keys the schema does not allow.
func (v *Validator) Check(record map[string]any) []string {
	violations := []string{}
	seen := map[string]struct{}{}
	add := func(message string) {
		if _, ok := seen[message]; ok {
			return
		}
		seen[message] = struct{}{}
		violations = append(violations, message)
	}

	for _, field := range v.doc.Fields {
		value, present := record[field.Name]
		if !present {
			if field.Required && field.Name != schema.ToolField {
				add(field.Name + " is a required property")
			}
			continue
		}
		encoded, err := json.Marshal(value)
		if err != nil {
			add(field.Name + " is not a JSON value")
			continue
		}
		for _, detail := range v.checkers[field.Name].check(encoded) {
			add(field.Name + " " + detail)
		}
		if field.Name == schema.ToolField {
			continue
		}
		for _, dependency := range field.Dependencies {
			if _, ok := record[dependency]; !ok {
				add(fmt.Sprintf("%s requires %s to be present", field.Name, dependency))
			}
		}
	}

	if v.doc.ClosedProperties() {
		unknown := []string{}
		for key := range record {
			if _, known := v.doc.Field(key); !known && key != schema.ToolField {
				unknown = append(unknown, key)
			}
		}
		sort.Strings(unknown)
		for _, key := range unknown {
			add(key + " is not allowed by the schema")
		}
	}
	return violations
}

func (v *Validator) Validate(record map[string]any) error {
	violations := v.Check(record)
	if len(violations) == 0 {
		return nil
	}
	return &coreerrors.ValidationError{Violations: violations}
}

// ValidateJSON validates one encoded machine readable part.
func (v *Validator) ValidateJSON(data []byte) error {
	record, err := decodeRecord(data)
	if err != nil {
		return err
	}
	return v.Validate(record)
}

// ValidateJSONL validates one machine readable part per line and stops at the
// first failing line.
func (v *Validator) ValidateJSONL(data []byte) error {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		b := bytes.TrimSpace(scanner.Bytes())
		if len(b) == 0 {
			continue
		}
		if err := v.ValidateJSON(b); err != nil {
			return fmt.Errorf("jsonl line %d: %w", line, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read jsonl: %w", err)
	}
	return nil
}

func decodeRecord(data []byte) (map[string]any, error) {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	var record map[string]any
	if err := decoder.Decode(&record); err != nil {
		return nil, coreerrors.Wrap(fmt.Errorf("parse machine readable part: %w", err), coreerrors.CategoryInvalidInput, "invalid_machine_readable", "provide a JSON object", false)
	}
	if record == nil {
		return nil, coreerrors.Wrap(fmt.Errorf("machine readable part must be an object"), coreerrors.CategoryInvalidInput, "invalid_machine_readable", "provide a JSON object", false)
	}
	return record, nil
}
