package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	coreerrors "github.com/davidahmann/xarf/core/errors"
)

const (
	// ToolField is injected by the report builder and never collected from callers.
	ToolField = "User-Agent"

	NativeDialect = "https://json-schema.org/draft/2020-12/schema"
)

var legacyFieldKeys = []string{"optional", "required", "requires", "dependencies"}

type Field struct {
	Name         string
	Required     bool
	Dependencies []string
	// Constraints holds the descriptor keywords left after legacy markers are
	// stripped, still in the source dialect.
	Constraints map[string]any
}

// Native returns the field constraints rewritten for a 2020-12 validator.
func (f Field) Native() map[string]any {
	return translate(f.Constraints)
}

type Document struct {
	Fields []Field
	// Extra carries every root keyword other than properties, untouched.
	Extra map[string]any

	index map[string]int
}

// Normalize parses legacy schema text and applies the requirement rules to
// every field except ToolField. It returns the document and its mandatory
// field names in schema order.
func Normalize(raw []byte) (*Document, []string, error) {
	root, err := decodeRoot(raw)
	if err != nil {
		return nil, nil, &coreerrors.SchemaError{Cause: err}
	}
	doc := &Document{Extra: map[string]any{}, index: map[string]int{}}
	for key, value := range root {
		if key == "properties" {
			continue
		}
		decoded, err := decodeValue(value)
		if err != nil {
			return nil, nil, &coreerrors.SchemaError{Cause: fmt.Errorf("root keyword %s: %w", key, err)}
		}
		doc.Extra[key] = decoded
	}
	if rawProperties, ok := root["properties"]; ok {
		properties, err := decodeOrderedObject(rawProperties)
		if err != nil {
			return nil, nil, &coreerrors.SchemaError{Cause: fmt.Errorf("properties: %w", err)}
		}
		for _, property := range properties {
			field, err := normalizeField(property.key, property.value)
			if err != nil {
				return nil, nil, &coreerrors.SchemaError{Cause: err}
			}
			doc.add(field)
		}
	}
	return doc, doc.MandatoryFields(), nil
}

func (d *Document) add(field Field) {
	if position, ok := d.index[field.Name]; ok {
		d.Fields[position] = field
		return
	}
	d.index[field.Name] = len(d.Fields)
	d.Fields = append(d.Fields, field)
}

func (d *Document) Field(name string) (Field, bool) {
	position, ok := d.index[name]
	if !ok {
		return Field{}, false
	}
	return d.Fields[position], true
}

func (d *Document) Names() []string {
	names := make([]string, 0, len(d.Fields))
	for _, field := range d.Fields {
		names = append(names, field.Name)
	}
	return names
}

// MandatoryFields lists the required fields in schema order, ToolField excluded.
func (d *Document) MandatoryFields() []string {
	mandatory := []string{}
	for _, field := range d.Fields {
		if field.Required && field.Name != ToolField {
			mandatory = append(mandatory, field.Name)
		}
	}
	return mandatory
}

// ClosedProperties reports whether the root forbids keys outside properties.
func (d *Document) ClosedProperties() bool {
	value, ok := d.Extra["additionalProperties"]
	if !ok {
		return false
	}
	allowed, isBool := value.(bool)
	return isBool && !allowed
}

// MarshalJSON renders the normalized document in its legacy form with
// properties kept in schema order.
func (d *Document) MarshalJSON() ([]byte, error) {
	properties := make([]orderedEntry, 0, len(d.Fields))
	for _, field := range d.Fields {
		properties = append(properties, orderedEntry{key: field.Name, value: field.legacy()})
	}
	return d.marshal(d.Extra, properties)
}

// Native renders a 2020-12 document: required becomes a root array and field
// dependencies become dependentRequired.
func (d *Document) Native() ([]byte, error) {
	root := map[string]any{}
	for key, value := range d.Extra {
		if key == "$schema" {
			continue
		}
		root[key] = translateValue(value)
	}
	root["$schema"] = NativeDialect
	if _, ok := root["type"]; !ok {
		root["type"] = "object"
	}
	if mandatory := d.MandatoryFields(); len(mandatory) > 0 {
		root["required"] = mandatory
	}
	dependent := map[string][]string{}
	properties := make([]orderedEntry, 0, len(d.Fields))
	for _, field := range d.Fields {
		properties = append(properties, orderedEntry{key: field.Name, value: field.Native()})
		if field.Name != ToolField && len(field.Dependencies) > 0 {
			dependent[field.Name] = field.Dependencies
		}
	}
	if len(dependent) > 0 {
		root["dependentRequired"] = dependent
	}
	return d.marshal(root, properties)
}

func (d *Document) marshal(root map[string]any, properties []orderedEntry) ([]byte, error) {
	keys := make([]string, 0, len(root)+1)
	for key := range root {
		keys = append(keys, key)
	}
	keys = append(keys, "properties")
	sort.Strings(keys)

	var buffer bytes.Buffer
	buffer.WriteByte('{')
	for i, key := range keys {
		if i > 0 {
			buffer.WriteByte(',')
		}
		encodedKey, err := json.Marshal(key)
		if err != nil {
			return nil, err
		}
		buffer.Write(encodedKey)
		buffer.WriteByte(':')
		if key == "properties" {
			if err := writeOrdered(&buffer, properties); err != nil {
				return nil, err
			}
			continue
		}
		encoded, err := json.Marshal(root[key])
		if err != nil {
			return nil, fmt.Errorf("marshal %s: %w", key, err)
		}
		buffer.Write(encoded)
	}
	buffer.WriteByte('}')
	return buffer.Bytes(), nil
}

func (f Field) legacy() map[string]any {
	descriptor := make(map[string]any, len(f.Constraints)+2)
	for key, value := range f.Constraints {
		descriptor[key] = value
	}
	if f.Name == ToolField {
		return descriptor
	}
	descriptor["required"] = f.Required
	if len(f.Dependencies) > 0 {
		descriptor["dependencies"] = f.Dependencies
	}
	return descriptor
}

func normalizeField(name string, raw json.RawMessage) (Field, error) {
	decoded, err := decodeValue(raw)
	if err != nil {
		return Field{}, fmt.Errorf("field %s: %w", name, err)
	}
	descriptor, ok := decoded.(map[string]any)
	if !ok {
		return Field{}, fmt.Errorf("field %s: descriptor must be an object", name)
	}
	if name == ToolField {
		return Field{Name: name, Constraints: descriptor}, nil
	}

	field := Field{Name: name, Required: true, Constraints: map[string]any{}}
	for key, value := range descriptor {
		if !isLegacyKey(key) {
			field.Constraints[key] = value
		}
	}

	dependencySource, hasDependencies := descriptor["requires"]
	if !hasDependencies {
		dependencySource, hasDependencies = descriptor["dependencies"]
	}
	if hasDependencies {
		field.Dependencies, err = fieldNames(dependencySource)
		if err != nil {
			return Field{}, fmt.Errorf("field %s: %w", name, err)
		}
	}

	if marker, ok := descriptor["optional"]; ok {
		optional, isBool := marker.(bool)
		if !isBool {
			return Field{}, fmt.Errorf("field %s: optional must be a boolean", name)
		}
		field.Required = !optional
		return field, nil
	}
	if marker, ok := descriptor["required"]; ok {
		required, isBool := marker.(bool)
		if !isBool {
			return Field{}, fmt.Errorf("field %s: required must be a boolean", name)
		}
		field.Required = required
	}
	return field, nil
}

func fieldNames(value any) ([]string, error) {
	switch typed := value.(type) {
	case string:
		return []string{typed}, nil
	case []any:
		names := make([]string, 0, len(typed))
		for _, item := range typed {
			name, ok := item.(string)
			if !ok || strings.TrimSpace(name) == "" {
				return nil, fmt.Errorf("requires must list field names")
			}
			names = append(names, name)
		}
		return names, nil
	default:
		return nil, fmt.Errorf("requires must be a field name or a list of field names")
	}
}

func isLegacyKey(key string) bool {
	for _, legacy := range legacyFieldKeys {
		if key == legacy {
			return true
		}
	}
	return false
}

type orderedEntry struct {
	key   string
	value any
}

func writeOrdered(buffer *bytes.Buffer, entries []orderedEntry) error {
	buffer.WriteByte('{')
	for i, entry := range entries {
		if i > 0 {
			buffer.WriteByte(',')
		}
		encodedKey, err := json.Marshal(entry.key)
		if err != nil {
			return err
		}
		encodedValue, err := json.Marshal(entry.value)
		if err != nil {
			return fmt.Errorf("marshal field %s: %w", entry.key, err)
		}
		buffer.Write(encodedKey)
		buffer.WriteByte(':')
		buffer.Write(encodedValue)
	}
	buffer.WriteByte('}')
	return nil
}

type rawEntry struct {
	key   string
	value json.RawMessage
}

func decodeRoot(raw []byte) (map[string]json.RawMessage, error) {
	var root map[string]json.RawMessage
	if err := json.Unmarshal(raw, &root); err != nil {
		return nil, fmt.Errorf("parse schema: %w", err)
	}
	if root == nil {
		return nil, fmt.Errorf("parse schema: document must be an object")
	}
	return root, nil
}

// decodeOrderedObject walks a JSON object with the token API so member order
// survives. A repeated key keeps its first position and its last value.
func decodeOrderedObject(raw json.RawMessage) ([]rawEntry, error) {
	decoder := json.NewDecoder(bytes.NewReader(raw))
	token, err := decoder.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := token.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("must be an object")
	}
	entries := []rawEntry{}
	positions := map[string]int{}
	for decoder.More() {
		keyToken, err := decoder.Token()
		if err != nil {
			return nil, err
		}
		key, ok := keyToken.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected token %v", keyToken)
		}
		var value json.RawMessage
		if err := decoder.Decode(&value); err != nil {
			return nil, err
		}
		if position, seen := positions[key]; seen {
			entries[position].value = value
			continue
		}
		positions[key] = len(entries)
		entries = append(entries, rawEntry{key: key, value: value})
	}
	if _, err := decoder.Token(); err != nil && err != io.EOF {
		return nil, err
	}
	return entries, nil
}

func decodeValue(raw json.RawMessage) (any, error) {
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, err
	}
	return value, nil
}
