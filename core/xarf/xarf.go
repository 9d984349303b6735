package xarf

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"sync"

	coreerrors "github.com/davidahmann/xarf/core/errors"
	"github.com/davidahmann/xarf/core/fetch"
	"github.com/davidahmann/xarf/core/jcs"
	"github.com/davidahmann/xarf/core/record"
	"github.com/davidahmann/xarf/core/schema"
	"github.com/davidahmann/xarf/core/schema/validate"
)

const Version = "0.1.0"

// UserAgent identifies this library in reports and schema downloads.
var UserAgent = "goxarf " + Version

const (
	PartMachineReadable = "machine_readable"
	PartEvidence        = "evidence"

	schemaURLKey = "schema_url"
)

type SchemaFetcher interface {
	Fetch(ctx context.Context, location string) ([]byte, error)
}

// Params are the discrete values of a report. Empty strings count as not
// supplied. Extras are looked up before the discrete values.
type Params struct {
	SchemaURL    string
	Evidence     []byte
	ReportedFrom string
	Category     string
	ReportType   string
	ReportID     string
	Date         string
	Source       string
	SourceType   string
	Attachment   string
	Extras       map[string]any
}

type Options struct {
	Fetcher   SchemaFetcher
	Validator validate.Options
	UserAgent string
	Logger    *slog.Logger
}

type Report struct {
	mu         sync.RWMutex
	schemaURL  string
	doc        *schema.Document
	mandatory  []string
	validator  *validate.Validator
	record     record.Record
	resolution record.Resolution
	evidence   []byte
	logger     *slog.Logger
}

// Snapshot is a validated report. Evidence is nil when none is attached.
type Snapshot struct {
	MachineReadable record.Record `json:"machine_readable" yaml:"machine_readable"`
	Evidence        *string       `json:"evidence" yaml:"evidence"`
}

func New(ctx context.Context, params Params, opts Options) (*Report, error) {
	sources := []record.Source{
		record.NewSource("extras", params.Extras),
		record.NewSource("params", params.discrete()),
	}
	// Same precedence as the record, so the report is checked against the
	// schema it names.
	location := lookupString(sources, schemaURLKey)
	if location == "" {
		return nil, &coreerrors.MissingParameterError{Parameters: []string{schemaURLKey}}
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	fetcher := opts.Fetcher
	if fetcher == nil {
		fetcher = fetch.New(fetch.Options{UserAgent: opts.userAgent(), Logger: logger})
	}
	raw, err := fetcher.Fetch(ctx, location)
	if err != nil {
		return nil, &coreerrors.SchemaError{Location: location, Cause: err}
	}
	logger.Debug("schema before conversion", "location", location, "schema", string(raw))
	doc, mandatory, err := schema.Normalize(raw)
	if err != nil {
		return nil, withLocation(err, location)
	}
	if logger.Enabled(ctx, slog.LevelDebug) {
		normalized, _ := doc.MarshalJSON()
		logger.Debug("schema after conversion", "location", location, "schema", string(normalized), "mandatory", mandatory)
	}
	validator, err := validate.New(doc, opts.Validator)
	if err != nil {
		return nil, withLocation(err, location)
	}

	optional := []string{}
	for _, name := range doc.Names() {
		if field, _ := doc.Field(name); !field.Required {
			optional = append(optional, name)
		}
	}
	built, resolution, err := record.Build(mandatory, sources, record.Options{
		UserAgent:   opts.userAgent(),
		HasEvidence: len(params.Evidence) > 0,
		Optional:    optional,
	})
	if err != nil {
		return nil, err
	}
	return &Report{
		schemaURL:  location,
		doc:        doc,
		mandatory:  mandatory,
		validator:  validator,
		record:     built,
		resolution: resolution,
		evidence:   params.Evidence,
		logger:     logger,
	}, nil
}

// FromMachineReadable builds a report from a mapping keyed by schema field
// names. The schema location is read from the mapping itself.
func FromMachineReadable(ctx context.Context, mapping map[string]any, evidence []byte, opts Options) (*Report, error) {
	canonical := record.Canonicalize(mapping)
	location, _ := canonical[schemaURLKey].(string)
	return New(ctx, Params{SchemaURL: location, Evidence: evidence, Extras: canonical}, opts)
}

// MachineReadable validates the current record on every call.
func (r *Report) MachineReadable() (record.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.validated()
}

func (r *Report) validated() (record.Record, error) {
	r.logger.Debug("validating machine readable part", "record", r.record)
	if err := r.validator.Validate(r.record); err != nil {
		return nil, err
	}
	return r.record.Clone(), nil
}

func (r *Report) Snapshot() (Snapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	machineReadable, err := r.validated()
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{MachineReadable: machineReadable, Evidence: r.evidenceText()}, nil
}

// Part returns one named part, or the whole snapshot for an empty name.
func (r *Report) Part(name string) (any, error) {
	switch strings.TrimSpace(name) {
	case "":
		return r.Snapshot()
	case PartMachineReadable:
		return r.MachineReadable()
	case PartEvidence:
		r.mu.RLock()
		defer r.mu.RUnlock()
		return r.evidenceText(), nil
	default:
		return nil, coreerrors.Wrap(fmt.Errorf("unknown report part %q", name), coreerrors.CategoryInvalidInput, "unknown_report_part", "use machine_readable or evidence", false)
	}
}

func (r *Report) evidenceText() *string {
	if len(r.evidence) == 0 {
		return nil
	}
	text := string(r.evidence)
	return &text
}

func (r *Report) Evidence() []byte {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]byte(nil), r.evidence...)
}

// AttachEvidence replaces the evidence and re-applies the attachment rule: a
// report with evidence gets the caller supplied attachment type back, or a
// sniffed one, in place of the none sentinel. Removing evidence restores the
// sentinel.
func (r *Report) AttachEvidence(evidence []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evidence = append([]byte(nil), evidence...)
	if len(r.evidence) == 0 {
		r.record[record.AttachmentField] = record.NoAttachment
		return
	}
	if current, ok := r.record[record.AttachmentField]; ok && current != record.NoAttachment {
		return
	}
	if r.resolution.HasAttachment && r.resolution.Attachment != record.NoAttachment {
		r.record[record.AttachmentField] = r.resolution.Attachment
		return
	}
	r.record[record.AttachmentField] = detectMediaType(r.evidence)
}

// Digest is the sha256 of the RFC 8785 form of the validated record.
func (r *Report) Digest() (string, error) {
	machineReadable, err := r.MachineReadable()
	if err != nil {
		return "", err
	}
	digest, err := jcs.DigestValue(machineReadable)
	if err != nil {
		return "", coreerrors.Wrap(err, coreerrors.CategoryInternalFailure, "digest_failed", "", false)
	}
	return digest, nil
}

func (r *Report) MandatoryFields() []string {
	return append([]string(nil), r.mandatory...)
}

func (r *Report) Schema() *schema.Document {
	return r.doc
}

func (r *Report) SchemaURL() string {
	return r.schemaURL
}

func (r *Report) Resolution() record.Resolution {
	return r.resolution
}

func (p Params) discrete() map[string]any {
	values := map[string]any{}
	for key, value := range map[string]string{
		"reported_from": p.ReportedFrom,
		"category":      p.Category,
		"report_type":   p.ReportType,
		"report_id":     p.ReportID,
		"date":          p.Date,
		"source":        p.Source,
		"source_type":   p.SourceType,
		"attachment":    p.Attachment,
		schemaURLKey:    p.SchemaURL,
	} {
		if strings.TrimSpace(value) != "" {
			values[key] = value
		}
	}
	return values
}

func (o Options) userAgent() string {
	if strings.TrimSpace(o.UserAgent) != "" {
		return o.UserAgent
	}
	return UserAgent
}

func lookupString(sources []record.Source, name string) string {
	for _, source := range sources {
		if value, ok := source.Lookup(name); ok {
			if text, isText := value.(string); isText && strings.TrimSpace(text) != "" {
				return strings.TrimSpace(text)
			}
		}
	}
	return ""
}

func withLocation(err error, location string) error {
	var schemaErr *coreerrors.SchemaError
	if errors.As(err, &schemaErr) && schemaErr.Location == "" {
		schemaErr.Location = location
	}
	return err
}

func detectMediaType(evidence []byte) string {
	mediaType, _, err := mime.ParseMediaType(http.DetectContentType(evidence))
	if err != nil {
		return "application/octet-stream"
	}
	return mediaType
}
