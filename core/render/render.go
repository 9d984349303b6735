package render

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/goccy/go-yaml"

	"github.com/davidahmann/xarf/core/jcs"
)

type Format string

const (
	FormatJSON          Format = "json"
	FormatYAML          Format = "yaml"
	FormatCanonicalJSON Format = "canonical-json"
	FormatCloudEvent    Format = "cloudevent"
)

func ParseFormat(value string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(value))) {
	case "", FormatJSON:
		return FormatJSON, nil
	case FormatYAML, "yml":
		return FormatYAML, nil
	case FormatCanonicalJSON, "jcs":
		return FormatCanonicalJSON, nil
	case FormatCloudEvent, "cloudevents":
		return FormatCloudEvent, nil
	default:
		return "", fmt.Errorf("unsupported output format %q", value)
	}
}

// EventMeta carries the CloudEvent context attributes. A zero Time means now.
type EventMeta struct {
	ID      string
	Source  string
	Type    string
	Subject string
	Time    time.Time
}

func Render(format Format, value any, meta EventMeta) ([]byte, error) {
	switch format {
	case FormatJSON:
		return JSON(value, true)
	case FormatYAML:
		return YAML(value)
	case FormatCanonicalJSON:
		return CanonicalJSON(value)
	case FormatCloudEvent:
		return CloudEvent(value, meta)
	default:
		return nil, fmt.Errorf("unsupported output format %q", format)
	}
}

func JSON(value any, indent bool) ([]byte, error) {
	var buffer bytes.Buffer
	encoder := json.NewEncoder(&buffer)
	encoder.SetEscapeHTML(false)
	if indent {
		encoder.SetIndent("", "  ")
	}
	if err := encoder.Encode(value); err != nil {
		return nil, fmt.Errorf("encode json: %w", err)
	}
	return buffer.Bytes(), nil
}

// CanonicalJSON renders RFC 8785 JSON followed by a newline.
func CanonicalJSON(value any) ([]byte, error) {
	canonical, err := jcs.CanonicalizeValue(value)
	if err != nil {
		return nil, err
	}
	return append(canonical, '\n'), nil
}

func YAML(value any) ([]byte, error) {
	encoded, err := yaml.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode yaml: %w", err)
	}
	return encoded, nil
}

func CloudEvent(value any, meta EventMeta) ([]byte, error) {
	event := cloudevents.NewEvent()
	event.SetID(meta.ID)
	event.SetSource(meta.Source)
	event.SetType(meta.Type)
	if meta.Subject != "" {
		event.SetSubject(meta.Subject)
	}
	eventTime := meta.Time
	if eventTime.IsZero() {
		eventTime = time.Now().UTC()
	}
	event.SetTime(eventTime)
	if err := event.SetData(cloudevents.ApplicationJSON, value); err != nil {
		return nil, fmt.Errorf("set event data: %w", err)
	}
	if err := event.Validate(); err != nil {
		return nil, fmt.Errorf("invalid cloudevent: %w", err)
	}
	encoded, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("encode cloudevent: %w", err)
	}
	return append(encoded, '\n'), nil
}
