package xarf

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	coreerrors "github.com/davidahmann/xarf/core/errors"
	"github.com/davidahmann/xarf/core/jcs"
	"github.com/davidahmann/xarf/core/record"
	"github.com/davidahmann/xarf/core/schema"
)

const (
	minimalSchemaURL     = "http://xarf.org/schema/abuse_minimal_0.1.0.json"
	loginAttackSchemaURL = "http://xarf.org/schema/abuse_login-attack_0.1.2.json"
)

type fixtureFetcher struct {
	calls map[string]int
}

func (f *fixtureFetcher) Fetch(_ context.Context, location string) ([]byte, error) {
	f.calls[location]++
	switch location {
	case minimalSchemaURL, loginAttackSchemaURL:
		return os.ReadFile(filepath.Join("..", "schema", "testdata", filepath.Base(location)))
	case "http://xarf.org/schema/broken.json":
		return []byte(`{"properties": `), nil
	default:
		return nil, fmt.Errorf("unexpected status 404")
	}
}

func testOptions(t *testing.T) (Options, *fixtureFetcher) {
	t.Helper()
	fetcher := &fixtureFetcher{calls: map[string]int{}}
	return Options{Fetcher: fetcher}, fetcher
}

func minimalParams() Params {
	return Params{
		SchemaURL:    minimalSchemaURL,
		Evidence:     []byte("evidence data belongs here"),
		ReportedFrom: "reporter@example.com",
		Category:     "abuse",
		ReportType:   "login-attack",
		ReportID:     "1231231",
		Date:         "Jan  1 2014 02:13:35 +0100",
		Source:       "83.169.54.26",
		SourceType:   "ip-address",
		Attachment:   "text/plain",
	}
}

func loginAttackMapping() map[string]any {
	return map[string]any{
		"Reported-From": "reporter@example.com",
		"Category":      "abuse",
		"Report-Type":   "login-attack",
		"Service":       "ssh",
		"Date":          "Jan  1 2014 02:13:35 +0100",
		"Source-Type":   "ip-address",
		"Source":        "83.169.54.26",
		"Port":          22,
		"Report-ID":     "1231231",
		"Schema-URL":    loginAttackSchemaURL,
		"Attachment":    "text/plain",
	}
}

func TestNewWithEvidenceKeepsCallerAttachment(t *testing.T) {
	opts, fetcher := testOptions(t)
	report, err := New(context.Background(), minimalParams(), opts)
	if err != nil {
		t.Fatalf("new report: %v", err)
	}
	snapshot, err := report.Snapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snapshot.Evidence == nil || *snapshot.Evidence != "evidence data belongs here" {
		t.Fatalf("unexpected evidence: %v", snapshot.Evidence)
	}
	want := record.Record{
		"Reported-From": "reporter@example.com",
		"Category":      "abuse",
		"Report-Type":   "login-attack",
		"Report-ID":     "1231231",
		"Date":          "Jan  1 2014 02:13:35 +0100",
		"Source":        "83.169.54.26",
		"Source-Type":   "ip-address",
		"Attachment":    "text/plain",
		"Schema-URL":    minimalSchemaURL,
		"User-Agent":    UserAgent,
	}
	if diff := cmp.Diff(want, snapshot.MachineReadable); diff != "" {
		t.Fatalf("machine readable mismatch (-want +got):\n%s", diff)
	}
	if fetcher.calls[minimalSchemaURL] != 1 {
		t.Fatalf("expected one schema fetch, got %d", fetcher.calls[minimalSchemaURL])
	}
	if report.SchemaURL() != minimalSchemaURL || len(report.MandatoryFields()) != 9 {
		t.Fatalf("unexpected schema accessors: %s %v", report.SchemaURL(), report.MandatoryFields())
	}
	if report.Schema() == nil {
		t.Fatalf("expected normalized schema")
	}
}

func TestNewWithoutSchemaURL(t *testing.T) {
	opts, fetcher := testOptions(t)
	params := minimalParams()
	params.SchemaURL = ""
	_, err := New(context.Background(), params, opts)
	var missingErr *coreerrors.MissingParameterError
	if !stderrors.As(err, &missingErr) {
		t.Fatalf("expected MissingParameterError, got %T: %v", err, err)
	}
	if diff := cmp.Diff([]string{"schema_url"}, missingErr.Parameters); diff != "" {
		t.Fatalf("parameters mismatch (-want +got):\n%s", diff)
	}
	if len(fetcher.calls) != 0 {
		t.Fatalf("no fetch expected without a schema url")
	}
}

func TestNewTakesSchemaURLFromExtras(t *testing.T) {
	opts, _ := testOptions(t)
	params := minimalParams()
	params.SchemaURL = ""
	params.Extras = map[string]any{"Schema-URL": minimalSchemaURL}
	report, err := New(context.Background(), params, opts)
	if err != nil {
		t.Fatalf("new report: %v", err)
	}
	if report.SchemaURL() != minimalSchemaURL {
		t.Fatalf("unexpected schema url: %s", report.SchemaURL())
	}
}

func TestSchemaURLFromExtrasWinsOverParameter(t *testing.T) {
	opts, fetcher := testOptions(t)
	params := minimalParams()
	params.SchemaURL = "http://elsewhere.example/schema/unused.json"
	params.Extras = map[string]any{"schema_url": minimalSchemaURL}
	report, err := New(context.Background(), params, opts)
	if err != nil {
		t.Fatalf("new report: %v", err)
	}
	if fetcher.calls[params.SchemaURL] != 0 || fetcher.calls[minimalSchemaURL] != 1 {
		t.Fatalf("expected only the extras schema to be fetched, got %v", fetcher.calls)
	}
	machineReadable, err := report.MachineReadable()
	if err != nil {
		t.Fatalf("machine readable: %v", err)
	}
	if machineReadable["Schema-URL"] != minimalSchemaURL || report.SchemaURL() != minimalSchemaURL {
		t.Fatalf("record and fetched schema disagree: %#v vs %s", machineReadable["Schema-URL"], report.SchemaURL())
	}
}

func TestFromMachineReadableForcesSentinelWithoutEvidence(t *testing.T) {
	opts, _ := testOptions(t)
	mapping := loginAttackMapping()
	mapping["Version"] = "OpenSSH_6.6"
	report, err := FromMachineReadable(context.Background(), mapping, nil, opts)
	if err != nil {
		t.Fatalf("from machine readable: %v", err)
	}
	machineReadable, err := report.MachineReadable()
	if err != nil {
		t.Fatalf("machine readable: %v", err)
	}
	if machineReadable[record.AttachmentField] != record.NoAttachment {
		t.Fatalf("expected sentinel, got %#v", machineReadable[record.AttachmentField])
	}
	if machineReadable["Port"] != 22 || machineReadable["Version"] != "OpenSSH_6.6" {
		t.Fatalf("expected mapping values to survive: %#v", machineReadable)
	}
	evidence, err := report.Part(PartEvidence)
	if err != nil {
		t.Fatalf("evidence part: %v", err)
	}
	if evidence.(*string) != nil {
		t.Fatalf("expected nil evidence part")
	}
}

func TestFromMachineReadableWithoutSchemaURL(t *testing.T) {
	opts, _ := testOptions(t)
	mapping := loginAttackMapping()
	delete(mapping, "Schema-URL")
	_, err := FromMachineReadable(context.Background(), mapping, nil, opts)
	var missingErr *coreerrors.MissingParameterError
	if !stderrors.As(err, &missingErr) {
		t.Fatalf("expected MissingParameterError, got %v", err)
	}
}

func TestMissingFieldsAreReportedTogether(t *testing.T) {
	opts, _ := testOptions(t)
	mapping := loginAttackMapping()
	delete(mapping, "Port")
	delete(mapping, "Service")
	_, err := FromMachineReadable(context.Background(), mapping, []byte("log line"), opts)
	var missingErr *coreerrors.MissingFieldsError
	if !stderrors.As(err, &missingErr) {
		t.Fatalf("expected MissingFieldsError, got %T: %v", err, err)
	}
	if diff := cmp.Diff([]string{"service", "port"}, missingErr.Fields); diff != "" {
		t.Fatalf("missing fields mismatch (-want +got):\n%s", diff)
	}
}

func TestSchemaFailures(t *testing.T) {
	opts, _ := testOptions(t)
	for _, location := range []string{"http://xarf.org/schema/broken.json", "http://xarf.org/schema/absent.json"} {
		params := minimalParams()
		params.SchemaURL = location
		_, err := New(context.Background(), params, opts)
		var schemaErr *coreerrors.SchemaError
		if !stderrors.As(err, &schemaErr) {
			t.Fatalf("%s: expected SchemaError, got %T: %v", location, err, err)
		}
		if schemaErr.Location != location {
			t.Fatalf("expected schema error location %s, got %q", location, schemaErr.Location)
		}
		if coreerrors.CategoryOf(err) != coreerrors.CategorySchemaFailure {
			t.Fatalf("unexpected category: %s", coreerrors.CategoryOf(err))
		}
	}
}

func TestValidatedReadsFailWithCompleteViolations(t *testing.T) {
	opts, _ := testOptions(t)
	mapping := loginAttackMapping()
	mapping["Category"] = "spam"
	mapping["Service"] = "gopher"
	report, err := FromMachineReadable(context.Background(), mapping, nil, opts)
	if err != nil {
		t.Fatalf("construction must not validate: %v", err)
	}
	_, err = report.MachineReadable()
	var validationErr *coreerrors.ValidationError
	if !stderrors.As(err, &validationErr) {
		t.Fatalf("expected ValidationError, got %T: %v", err, err)
	}
	if len(validationErr.Violations) < 2 ||
		!strings.HasPrefix(validationErr.Violations[0], "Category ") ||
		!strings.HasPrefix(validationErr.Violations[len(validationErr.Violations)-1], "Service ") {
		t.Fatalf("expected category and service violations in schema order, got %v", validationErr.Violations)
	}
	if _, err := report.Snapshot(); !stderrors.As(err, &validationErr) {
		t.Fatalf("expected snapshot to fail validation, got %v", err)
	}
	if _, err := report.Digest(); !stderrors.As(err, &validationErr) {
		t.Fatalf("expected digest to fail validation, got %v", err)
	}
}

func TestAttachEvidenceReappliesAttachmentRule(t *testing.T) {
	opts, _ := testOptions(t)
	params := minimalParams()
	params.Evidence = nil
	report, err := New(context.Background(), params, opts)
	if err != nil {
		t.Fatalf("new report: %v", err)
	}
	assertAttachment := func(want string) {
		t.Helper()
		machineReadable, err := report.MachineReadable()
		if err != nil {
			t.Fatalf("machine readable: %v", err)
		}
		if machineReadable[record.AttachmentField] != want {
			t.Fatalf("expected attachment %q, got %#v", want, machineReadable[record.AttachmentField])
		}
	}
	assertAttachment(record.NoAttachment)

	report.AttachEvidence([]byte("Jan  1 02:13:35 sshd[42]: Failed password for root"))
	assertAttachment("text/plain")
	if string(report.Evidence()) != "Jan  1 02:13:35 sshd[42]: Failed password for root" {
		t.Fatalf("unexpected evidence: %s", report.Evidence())
	}

	report.AttachEvidence(nil)
	assertAttachment(record.NoAttachment)
	if report.Evidence() != nil && len(report.Evidence()) != 0 {
		t.Fatalf("expected evidence to be cleared")
	}
}

func TestAttachEvidenceSniffsTypeWhenNoneWasSupplied(t *testing.T) {
	opts, _ := testOptions(t)
	params := minimalParams()
	params.Evidence = nil
	params.Attachment = ""
	report, err := New(context.Background(), params, opts)
	if err != nil {
		t.Fatalf("new report: %v", err)
	}
	report.AttachEvidence([]byte("plain text evidence"))
	machineReadable, err := report.MachineReadable()
	if err != nil {
		t.Fatalf("machine readable: %v", err)
	}
	if machineReadable[record.AttachmentField] != "text/plain" {
		t.Fatalf("expected sniffed text/plain, got %#v", machineReadable[record.AttachmentField])
	}
}

func TestPartsAndDigest(t *testing.T) {
	opts, _ := testOptions(t)
	report, err := New(context.Background(), minimalParams(), opts)
	if err != nil {
		t.Fatalf("new report: %v", err)
	}
	whole, err := report.Part("")
	if err != nil {
		t.Fatalf("whole report: %v", err)
	}
	if _, ok := whole.(Snapshot); !ok {
		t.Fatalf("expected snapshot for empty part, got %T", whole)
	}
	machineReadable, err := report.Part(PartMachineReadable)
	if err != nil {
		t.Fatalf("machine readable part: %v", err)
	}
	if _, err := report.Part("headers"); coreerrors.CategoryOf(err) != coreerrors.CategoryInvalidInput {
		t.Fatalf("expected invalid input for unknown part, got %v", err)
	}

	digest, err := report.Digest()
	if err != nil {
		t.Fatalf("digest: %v", err)
	}
	want, err := jcs.DigestValue(machineReadable)
	if err != nil {
		t.Fatalf("reference digest: %v", err)
	}
	if digest != want || len(digest) != 64 {
		t.Fatalf("unexpected digest %q want %q", digest, want)
	}
}

func TestExtrasTakePrecedenceOverDiscreteValues(t *testing.T) {
	opts, _ := testOptions(t)
	params := minimalParams()
	params.Extras = map[string]any{"report_id": "override-7"}
	report, err := New(context.Background(), params, opts)
	if err != nil {
		t.Fatalf("new report: %v", err)
	}
	machineReadable, err := report.MachineReadable()
	if err != nil {
		t.Fatalf("machine readable: %v", err)
	}
	if machineReadable["Report-ID"] != "override-7" {
		t.Fatalf("expected extras to win, got %#v", machineReadable["Report-ID"])
	}
	if report.Resolution().Origins["Report-ID"] != "extras" {
		t.Fatalf("unexpected origin: %#v", report.Resolution().Origins)
	}
	if machineReadable[schema.ToolField] != UserAgent {
		t.Fatalf("unexpected tool identity: %#v", machineReadable[schema.ToolField])
	}
}

func TestMachineReadableReturnsACopy(t *testing.T) {
	opts, _ := testOptions(t)
	report, err := New(context.Background(), minimalParams(), opts)
	if err != nil {
		t.Fatalf("new report: %v", err)
	}
	first, _ := report.MachineReadable()
	first["Category"] = "tampered"
	second, err := report.MachineReadable()
	if err != nil {
		t.Fatalf("machine readable: %v", err)
	}
	if second["Category"] != "abuse" {
		t.Fatalf("callers must not mutate the stored record")
	}
}
