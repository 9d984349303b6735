package schema

import (
	"encoding/json"
	stderrors "errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	coreerrors "github.com/davidahmann/xarf/core/errors"
)

func readFixture(t *testing.T, name string) []byte {
	t.Helper()
	raw, err := os.ReadFile(filepath.Join("testdata", name))
	if err != nil {
		t.Fatalf("read fixture %s: %v", name, err)
	}
	return raw
}

func TestNormalizeLoginAttackSchema(t *testing.T) {
	doc, mandatory, err := Normalize(readFixture(t, "abuse_login-attack_0.1.2.json"))
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	want := []string{
		"Reported-From", "Category", "Report-Type", "Service", "Port", "Report-ID",
		"Date", "Source", "Source-Type", "Attachment", "Schema-URL",
	}
	if diff := cmp.Diff(want, mandatory); diff != "" {
		t.Fatalf("mandatory fields mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(want, doc.MandatoryFields()); diff != "" {
		t.Fatalf("document mandatory fields mismatch (-want +got):\n%s", diff)
	}
	if got := len(doc.Names()); got != 16 {
		t.Fatalf("expected 16 fields in schema order, got %d", got)
	}
	if !doc.ClosedProperties() {
		t.Fatalf("expected additionalProperties false to close the document")
	}

	destination, ok := doc.Field("Destination")
	if !ok {
		t.Fatalf("expected Destination field")
	}
	if destination.Required {
		t.Fatalf("optional field must not be required")
	}
	if diff := cmp.Diff([]string{"Destination-Type"}, destination.Dependencies); diff != "" {
		t.Fatalf("dependencies mismatch (-want +got):\n%s", diff)
	}
	if _, exists := destination.Constraints["requires"]; exists {
		t.Fatalf("requires must not survive normalization: %#v", destination.Constraints)
	}
	if _, exists := destination.Constraints["optional"]; exists {
		t.Fatalf("optional must not survive normalization: %#v", destination.Constraints)
	}

	tool, ok := doc.Field(ToolField)
	if !ok {
		t.Fatalf("expected tool field to stay in the document")
	}
	if tool.Required {
		t.Fatalf("tool field must be skipped by the requirement rules")
	}
}

func TestNormalizeLegacyMarkers(t *testing.T) {
	doc, mandatory, err := Normalize(readFixture(t, "legacy_dialect.json"))
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if diff := cmp.Diff([]string{"Source", "Window"}, mandatory); diff != "" {
		t.Fatalf("mandatory fields mismatch (-want +got):\n%s", diff)
	}
	window, _ := doc.Field("Window")
	if diff := cmp.Diff([]string{"Window-Start", "Window-End"}, window.Dependencies); diff != "" {
		t.Fatalf("window dependencies mismatch (-want +got):\n%s", diff)
	}
	tool, _ := doc.Field(ToolField)
	if _, ok := tool.Constraints["requires"]; !ok {
		t.Fatalf("tool field descriptor must stay untouched: %#v", tool.Constraints)
	}
	if tool.Dependencies != nil {
		t.Fatalf("tool field must not gain dependencies: %#v", tool.Dependencies)
	}
}

func TestNormalizeIsIdempotentOnMandatoryFields(t *testing.T) {
	for _, fixture := range []string{"abuse_login-attack_0.1.2.json", "abuse_minimal_0.1.0.json", "legacy_dialect.json"} {
		t.Run(fixture, func(t *testing.T) {
			first, firstMandatory, err := Normalize(readFixture(t, fixture))
			if err != nil {
				t.Fatalf("first normalize: %v", err)
			}
			encoded, err := json.Marshal(first)
			if err != nil {
				t.Fatalf("marshal normalized document: %v", err)
			}
			second, secondMandatory, err := Normalize(encoded)
			if err != nil {
				t.Fatalf("second normalize: %v", err)
			}
			if diff := cmp.Diff(firstMandatory, secondMandatory); diff != "" {
				t.Fatalf("mandatory fields changed on re-normalization (-first +second):\n%s", diff)
			}
			if diff := cmp.Diff(first.Names(), second.Names()); diff != "" {
				t.Fatalf("field order changed on re-normalization (-first +second):\n%s", diff)
			}
		})
	}
}

func TestNormalizeRejectsMalformedSchemas(t *testing.T) {
	cases := []struct {
		name string
		raw  []byte
	}{
		{name: "truncated", raw: readFixture(t, "malformed.json")},
		{name: "not_json", raw: []byte("<html>not found</html>")},
		{name: "array_root", raw: []byte(`[1,2]`)},
		{name: "null_root", raw: []byte(`null`)},
		{name: "properties_array", raw: []byte(`{"properties": ["Source"]}`)},
		{name: "descriptor_string", raw: []byte(`{"properties": {"Source": "string"}}`)},
		{name: "optional_string", raw: []byte(`{"properties": {"Source": {"optional": "yes"}}}`)},
		{name: "requires_object", raw: []byte(`{"properties": {"Source": {"requires": {"type": "string"}}}}`)},
	}
	for _, testCase := range cases {
		t.Run(testCase.name, func(t *testing.T) {
			_, _, err := Normalize(testCase.raw)
			if err == nil {
				t.Fatalf("expected schema error")
			}
			var schemaErr *coreerrors.SchemaError
			if !stderrors.As(err, &schemaErr) {
				t.Fatalf("expected SchemaError, got %T: %v", err, err)
			}
			if coreerrors.CategoryOf(err) != coreerrors.CategorySchemaFailure {
				t.Fatalf("unexpected category: %s", coreerrors.CategoryOf(err))
			}
		})
	}
}

func TestNormalizeWithoutPropertiesHasNoMandatoryFields(t *testing.T) {
	doc, mandatory, err := Normalize([]byte(`{"type": "object", "description": "empty"}`))
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if len(mandatory) != 0 || len(doc.Fields) != 0 {
		t.Fatalf("expected empty document, got fields=%v mandatory=%v", doc.Names(), mandatory)
	}
	if doc.Extra["description"] != "empty" {
		t.Fatalf("root keywords must pass through: %#v", doc.Extra)
	}
}

func TestNormalizeDuplicateFieldKeepsFirstPosition(t *testing.T) {
	doc, mandatory, err := Normalize([]byte(`{"properties": {"A": {"optional": true}, "B": {}, "A": {}}}`))
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if diff := cmp.Diff([]string{"A", "B"}, doc.Names()); diff != "" {
		t.Fatalf("field order mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"A", "B"}, mandatory); diff != "" {
		t.Fatalf("mandatory mismatch (-want +got):\n%s", diff)
	}
}

func TestMarshalJSONKeepsSchemaOrder(t *testing.T) {
	doc, _, err := Normalize([]byte(`{"properties": {"Zulu": {"type": "string"}, "Alpha": {"type": "string", "optional": true, "requires": "Zulu"}}, "type": "object"}`))
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	encoded, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"properties":{"Zulu":{"required":true,"type":"string"},"Alpha":{"dependencies":["Zulu"],"required":false,"type":"string"}},"type":"object"}`
	if string(encoded) != want {
		t.Fatalf("unexpected normalized document:\n got=%s\nwant=%s", encoded, want)
	}
}

func TestNativeDocument(t *testing.T) {
	doc, _, err := Normalize(readFixture(t, "abuse_login-attack_0.1.2.json"))
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	encoded, err := doc.Native()
	if err != nil {
		t.Fatalf("native: %v", err)
	}
	var native map[string]any
	if err := json.Unmarshal(encoded, &native); err != nil {
		t.Fatalf("parse native document: %v", err)
	}
	if native["$schema"] != NativeDialect {
		t.Fatalf("unexpected dialect: %v", native["$schema"])
	}
	required, ok := native["required"].([]any)
	if !ok || len(required) != 11 {
		t.Fatalf("unexpected required array: %#v", native["required"])
	}
	dependent, ok := native["dependentRequired"].(map[string]any)
	if !ok {
		t.Fatalf("expected dependentRequired, got %#v", native["dependentRequired"])
	}
	if diff := cmp.Diff([]any{"Destination-Type"}, dependent["Destination"]); diff != "" {
		t.Fatalf("dependentRequired mismatch (-want +got):\n%s", diff)
	}
	properties := native["properties"].(map[string]any)
	destination := properties["Destination"].(map[string]any)
	for _, key := range []string{"optional", "required", "requires", "dependencies"} {
		if _, exists := destination[key]; exists {
			t.Fatalf("native field must not carry %s: %#v", key, destination)
		}
	}
}

func TestFieldNativeTranslation(t *testing.T) {
	doc, _, err := Normalize(readFixture(t, "legacy_dialect.json"))
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	cases := []struct {
		field string
		want  map[string]any
	}{
		{field: "Source", want: map[string]any{"type": "string", "format": "ipv4"}},
		{field: "Host", want: map[string]any{"type": "string", "format": "hostname"}},
		{field: "Seen", want: map[string]any{"type": "integer"}},
		{field: "Count", want: map[string]any{"type": "integer", "multipleOf": json.Number("2"), "exclusiveMinimum": json.Number("0")}},
		{field: "Ratio", want: map[string]any{"type": "number", "maximum": json.Number("1")}},
		{field: "Note", want: map[string]any{}},
		{field: "Label", want: map[string]any{"not": map[string]any{"type": "integer"}}},
		{field: "Tags", want: map[string]any{"type": "array", "items": map[string]any{"type": "string", "format": "hostname"}}},
		{field: ToolField, want: map[string]any{"type": "string"}},
	}
	for _, testCase := range cases {
		t.Run(testCase.field, func(t *testing.T) {
			field, ok := doc.Field(testCase.field)
			if !ok {
				t.Fatalf("missing field %s", testCase.field)
			}
			if diff := cmp.Diff(testCase.want, field.Native()); diff != "" {
				t.Fatalf("native constraints mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestTranslateTypeUnions(t *testing.T) {
	got := translate(map[string]any{"type": []any{"string", map[string]any{"type": "integer", "divisibleBy": json.Number("5")}}})
	want := map[string]any{"anyOf": anyOf{
		map[string]any{"type": "string"},
		map[string]any{"type": "integer", "multipleOf": json.Number("5")},
	}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("type union mismatch (-want +got):\n%s", diff)
	}
	if got := translate(map[string]any{"type": []any{"string", "any"}}); len(got) != 0 {
		t.Fatalf("any in a union must remove the type constraint: %#v", got)
	}
	source := map[string]any{"divisibleBy": json.Number("3")}
	_ = translate(source)
	if _, ok := source["divisibleBy"]; !ok {
		t.Fatalf("translate must not modify its input")
	}
}
