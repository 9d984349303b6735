package record

import (
	stderrors "errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	coreerrors "github.com/davidahmann/xarf/core/errors"
	"github.com/davidahmann/xarf/core/schema"
)

var mandatoryFields = []string{
	"Reported-From", "Category", "Report-Type", "Report-ID", "Date",
	"Source", "Source-Type", "Attachment", "Schema-URL",
}

func discreteValues() map[string]any {
	return map[string]any{
		"reported_from": "reporter@example.com",
		"category":      "abuse",
		"report_type":   "login-attack",
		"report_id":     "1231231",
		"date":          "Jan  1 2014 02:13:35 +0100",
		"source":        "83.169.54.26",
		"source_type":   "ip-address",
		"attachment":    "text/plain",
		"schema_url":    "http://xarf.org/schema/abuse_login-attack_0.1.2.json",
	}
}

func TestCanonical(t *testing.T) {
	for _, name := range []string{"Report-ID", "report_id", "REPORT-ID", " Report_Id "} {
		if got := Canonical(name); got != "report_id" {
			t.Fatalf("Canonical(%q) = %q", name, got)
		}
	}
	if Canonical("") != "" {
		t.Fatalf("expected empty canonical name")
	}
}

func TestBuildResolvesEveryMandatoryField(t *testing.T) {
	result, resolution, err := Build(mandatoryFields, []Source{
		NewSource("extras", nil),
		NewSource("params", discreteValues()),
	}, Options{UserAgent: "goxarf test", HasEvidence: true})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	for _, name := range mandatoryFields {
		if _, ok := result[name]; !ok {
			t.Fatalf("expected %s in record: %#v", name, result)
		}
	}
	if result[schema.ToolField] != "goxarf test" {
		t.Fatalf("expected injected tool identity, got %#v", result[schema.ToolField])
	}
	if len(result) != len(mandatoryFields)+1 {
		t.Fatalf("unexpected record size %d: %#v", len(result), result)
	}
	if result[AttachmentField] != "text/plain" {
		t.Fatalf("expected caller attachment with evidence, got %#v", result[AttachmentField])
	}
	if resolution.Origins["Category"] != "params" {
		t.Fatalf("unexpected origin: %#v", resolution.Origins)
	}
}

func TestBuildFreeformExtrasTakePrecedence(t *testing.T) {
	result, resolution, err := Build(mandatoryFields, []Source{
		NewSource("extras", map[string]any{"Category": "fraud", "port": 22}),
		NewSource("params", discreteValues()),
	}, Options{HasEvidence: true})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if result["Category"] != "fraud" || resolution.Origins["Category"] != "extras" {
		t.Fatalf("expected extras to win, got %#v from %s", result["Category"], resolution.Origins["Category"])
	}
	if _, ok := result["Port"]; ok {
		t.Fatalf("non-mandatory extras must not enter the record")
	}
}

func TestBuildReportsEveryMissingField(t *testing.T) {
	for _, missing := range mandatoryFields {
		if missing == AttachmentField {
			continue
		}
		t.Run(missing, func(t *testing.T) {
			values := discreteValues()
			delete(values, Canonical(missing))
			_, _, err := Build(mandatoryFields, []Source{NewSource("params", values)}, Options{HasEvidence: true})
			var missingErr *coreerrors.MissingFieldsError
			if !stderrors.As(err, &missingErr) {
				t.Fatalf("expected MissingFieldsError, got %T: %v", err, err)
			}
			if diff := cmp.Diff([]string{Canonical(missing)}, missingErr.Fields); diff != "" {
				t.Fatalf("missing list mismatch (-want +got):\n%s", diff)
			}
		})
	}

	_, _, err := Build(mandatoryFields, []Source{NewSource("params", map[string]any{"category": "abuse", "source": nil})}, Options{})
	var missingErr *coreerrors.MissingFieldsError
	if !stderrors.As(err, &missingErr) {
		t.Fatalf("expected MissingFieldsError, got %v", err)
	}
	want := []string{"reported_from", "report_type", "report_id", "date", "source", "source_type", "schema_url"}
	if diff := cmp.Diff(want, missingErr.Fields); diff != "" {
		t.Fatalf("missing list mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildForcesSentinelWithoutEvidence(t *testing.T) {
	cases := []struct {
		name       string
		attachment any
	}{
		{name: "caller_value", attachment: "text/plain"},
		{name: "absent", attachment: nil},
	}
	for _, testCase := range cases {
		t.Run(testCase.name, func(t *testing.T) {
			values := discreteValues()
			values["attachment"] = testCase.attachment
			result, resolution, err := Build(mandatoryFields, []Source{NewSource("params", values)}, Options{})
			if err != nil {
				t.Fatalf("build: %v", err)
			}
			if result[AttachmentField] != NoAttachment {
				t.Fatalf("expected sentinel, got %#v", result[AttachmentField])
			}
			if resolution.HasAttachment != (testCase.attachment != nil) || resolution.Attachment != testCase.attachment {
				t.Fatalf("unexpected remembered attachment: %#v", resolution)
			}
		})
	}
}

func TestBuildWithEvidenceRequiresAttachment(t *testing.T) {
	values := discreteValues()
	delete(values, "attachment")
	_, _, err := Build(mandatoryFields, []Source{NewSource("params", values)}, Options{HasEvidence: true})
	var missingErr *coreerrors.MissingFieldsError
	if !stderrors.As(err, &missingErr) || missingErr.Fields[0] != "attachment" {
		t.Fatalf("expected attachment to be missing, got %v", err)
	}
}

func TestSourceAndCanonicalize(t *testing.T) {
	source := NewSource("mapping", map[string]any{"Source-Type": "ip-address", "Port": 22, "Empty": nil})
	if value, ok := source.Lookup("source_type"); !ok || value != "ip-address" {
		t.Fatalf("unexpected lookup: %v %v", value, ok)
	}
	if _, ok := source.Lookup("empty"); ok {
		t.Fatalf("nil values must be absent")
	}
	if source.Len() != 2 {
		t.Fatalf("unexpected source size: %d", source.Len())
	}
	got := Canonicalize(map[string]any{"Report-ID": "1", "Port": 22})
	if diff := cmp.Diff(map[string]any{"report_id": "1", "port": 22}, got); diff != "" {
		t.Fatalf("canonicalize mismatch (-want +got):\n%s", diff)
	}
}

func TestRecordClone(t *testing.T) {
	original := Record{"Category": "abuse"}
	clone := original.Clone()
	clone["Category"] = "fraud"
	if original["Category"] != "abuse" {
		t.Fatalf("clone must not share storage")
	}
}

func TestBuildCopiesSuppliedOptionalFields(t *testing.T) {
	values := discreteValues()
	values["Version"] = "OpenSSH_6.6"
	result, resolution, err := Build(mandatoryFields, []Source{NewSource("mapping", values)}, Options{
		HasEvidence: true,
		Optional:    []string{"Version", "Destination", schema.ToolField},
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if result["Version"] != "OpenSSH_6.6" || resolution.Origins["Version"] != "mapping" {
		t.Fatalf("expected optional field to be copied: %#v", result)
	}
	if _, ok := result["Destination"]; ok {
		t.Fatalf("absent optional field must not appear")
	}
	if result[schema.ToolField] != "" {
		t.Fatalf("tool field must come from options only, got %#v", result[schema.ToolField])
	}
}
