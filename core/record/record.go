package record

import (
	"sort"
	"strings"

	coreerrors "github.com/davidahmann/xarf/core/errors"
	"github.com/davidahmann/xarf/core/schema"
)

const (
	AttachmentField = "Attachment"
	// NoAttachment is the attachment value of a report that carries no evidence.
	NoAttachment = "none"
)

// Record is a machine readable part keyed by schema field names.
type Record map[string]any

// Canonical maps a schema field name to its lookup key: Report-ID, report_id
// and REPORT-ID all become report_id.
func Canonical(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "-", "_")
}

type Source struct {
	Name   string
	values map[string]any
}

// NewSource canonicalizes every key. When two keys collapse to the same
// canonical form the later one in sorted key order is kept.
func NewSource(name string, values map[string]any) Source {
	source := Source{Name: name, values: make(map[string]any, len(values))}
	for _, key := range sortedKeys(values) {
		value := values[key]
		if value == nil {
			continue
		}
		source.values[Canonical(key)] = value
	}
	return source
}

func (s Source) Lookup(name string) (any, bool) {
	value, ok := s.values[Canonical(name)]
	return value, ok
}

func (s Source) Len() int {
	return len(s.values)
}

type Options struct {
	UserAgent   string
	HasEvidence bool
	// Optional schema fields are copied in when a source has them and are
	// never reported missing.
	Optional []string
}

// Resolution records where each mandatory field came from.
type Resolution struct {
	Origins map[string]string
	// Attachment is the caller supplied attachment value, kept even when the
	// record carries the sentinel.
	Attachment    any
	HasAttachment bool
}

// Build resolves every mandatory field against sources in order, so the first
// source wins. Missing fields are collected before failing.
func Build(mandatory []string, sources []Source, opts Options) (Record, Resolution, error) {
	resolution := Resolution{Origins: map[string]string{}}
	for _, source := range sources {
		if value, ok := source.Lookup(AttachmentField); ok {
			resolution.Attachment = value
			resolution.HasAttachment = true
			break
		}
	}

	result := Record{}
	missing := []string{}
	for _, name := range mandatory {
		if name == schema.ToolField {
			continue
		}
		if name == AttachmentField && !opts.HasEvidence {
			result[name] = NoAttachment
			resolution.Origins[name] = "default"
			continue
		}
		value, origin, ok := resolve(name, sources)
		if !ok {
			missing = append(missing, Canonical(name))
			continue
		}
		result[name] = value
		resolution.Origins[name] = origin
	}
	if len(missing) > 0 {
		return nil, Resolution{}, &coreerrors.MissingFieldsError{Fields: missing}
	}
	for _, name := range opts.Optional {
		if _, done := result[name]; done || name == schema.ToolField || name == AttachmentField {
			continue
		}
		if value, origin, ok := resolve(name, sources); ok {
			result[name] = value
			resolution.Origins[name] = origin
		}
	}
	result[schema.ToolField] = opts.UserAgent
	if !opts.HasEvidence {
		result[AttachmentField] = NoAttachment
	}
	return result, resolution, nil
}

func resolve(name string, sources []Source) (any, string, bool) {
	for _, source := range sources {
		if value, ok := source.Lookup(name); ok {
			return value, source.Name, true
		}
	}
	return nil, "", false
}

// Clone returns a shallow copy; values are scalars.
func (r Record) Clone() Record {
	clone := make(Record, len(r))
	for key, value := range r {
		clone[key] = value
	}
	return clone
}

// Canonicalize rekeys a schema-keyed mapping to lookup keys.
func Canonicalize(values map[string]any) map[string]any {
	out := make(map[string]any, len(values))
	for _, key := range sortedKeys(values) {
		out[Canonical(key)] = values[key]
	}
	return out
}

func sortedKeys(values map[string]any) []string {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
