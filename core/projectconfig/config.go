package projectconfig

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
)

const DefaultPath = ".xarf/config.yaml"

type Config struct {
	Schema    SchemaDefaults    `yaml:"schema"`
	Validator ValidatorDefaults `yaml:"validator"`
	Mail      MailDefaults      `yaml:"mail"`
	Contact   ContactDefaults   `yaml:"contact"`
	Log       LogDefaults       `yaml:"log"`
}

type SchemaDefaults struct {
	// Cache is a directory, "memory:" or gs://bucket/prefix.
	Cache            string `yaml:"cache"`
	RequireHTTPS     bool   `yaml:"require_https"`
	RetryMaxAttempts int    `yaml:"retry_max_attempts"`
	RetryBaseDelay   string `yaml:"retry_base_delay"`
	Timeout          string `yaml:"timeout"`
	MaxBytes         int64  `yaml:"max_bytes"`
}

type ValidatorDefaults struct {
	Engine       string `yaml:"engine"`
	AssertFormat bool   `yaml:"assert_format"`
}

type MailDefaults struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	Username    string `yaml:"username"`
	PasswordEnv string `yaml:"password_env"`
	From        string `yaml:"from"`
	Subject     string `yaml:"subject"`
}

type ContactDefaults struct {
	Zone string `yaml:"zone"`
}

type LogDefaults struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func Load(path string, allowMissing bool) (Config, error) {
	trimmedPath := strings.TrimSpace(path)
	if trimmedPath == "" {
		return Config{}, fmt.Errorf("project config path is required")
	}

	// #nosec G304 -- project config path is explicit local user input.
	content, err := os.ReadFile(trimmedPath)
	if err != nil {
		if os.IsNotExist(err) && allowMissing {
			return Config{}, nil
		}
		return Config{}, fmt.Errorf("read project config: %w", err)
	}
	if len(strings.TrimSpace(string(content))) == 0 {
		return Config{}, nil
	}

	var configuration Config
	if err := yaml.Unmarshal(content, &configuration); err != nil {
		return Config{}, fmt.Errorf("parse project config: %w", err)
	}
	configuration.normalize()
	if err := configuration.validate(); err != nil {
		return Config{}, fmt.Errorf("invalid project config: %w", err)
	}
	return configuration, nil
}

// RetryBaseDelayDuration and TimeoutDuration return zero when unset so
// callers fall back to their own defaults.
func (s SchemaDefaults) RetryBaseDelayDuration() time.Duration {
	parsed, _ := time.ParseDuration(s.RetryBaseDelay)
	return parsed
}

func (s SchemaDefaults) TimeoutDuration() time.Duration {
	parsed, _ := time.ParseDuration(s.Timeout)
	return parsed
}

// Password reads the mail password from the configured environment variable.
func (m MailDefaults) Password() string {
	if m.PasswordEnv == "" {
		return ""
	}
	return os.Getenv(m.PasswordEnv)
}

func (configuration *Config) normalize() {
	configuration.Schema.Cache = strings.TrimSpace(configuration.Schema.Cache)
	configuration.Schema.RetryBaseDelay = strings.TrimSpace(configuration.Schema.RetryBaseDelay)
	configuration.Schema.Timeout = strings.TrimSpace(configuration.Schema.Timeout)
	configuration.Validator.Engine = strings.ToLower(strings.TrimSpace(configuration.Validator.Engine))
	configuration.Mail.Host = strings.TrimSpace(configuration.Mail.Host)
	configuration.Mail.Username = strings.TrimSpace(configuration.Mail.Username)
	configuration.Mail.PasswordEnv = strings.TrimSpace(configuration.Mail.PasswordEnv)
	configuration.Mail.From = strings.TrimSpace(configuration.Mail.From)
	configuration.Mail.Subject = strings.TrimSpace(configuration.Mail.Subject)
	configuration.Contact.Zone = strings.ToLower(strings.TrimSpace(configuration.Contact.Zone))
	configuration.Log.Level = strings.ToLower(strings.TrimSpace(configuration.Log.Level))
	configuration.Log.Format = strings.ToLower(strings.TrimSpace(configuration.Log.Format))
}

func (configuration Config) validate() error {
	for key, value := range map[string]string{
		"schema.retry_base_delay": configuration.Schema.RetryBaseDelay,
		"schema.timeout":          configuration.Schema.Timeout,
	} {
		if value == "" {
			continue
		}
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}
	if configuration.Schema.RetryMaxAttempts < 0 || configuration.Schema.MaxBytes < 0 {
		return fmt.Errorf("schema retry_max_attempts and max_bytes must not be negative")
	}
	if configuration.Mail.Port < 0 || configuration.Mail.Port > 65535 {
		return fmt.Errorf("mail.port out of range: %d", configuration.Mail.Port)
	}
	switch configuration.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json")
	}
	return nil
}
