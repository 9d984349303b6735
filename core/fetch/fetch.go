package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	coreerrors "github.com/davidahmann/xarf/core/errors"
)

const (
	defaultMaxAttempts = 3
	defaultBaseDelay   = 200 * time.Millisecond
	defaultTimeout     = 20 * time.Second
	defaultMaxBytes    = 5 * 1024 * 1024
)

type Options struct {
	HTTPClient       *http.Client
	Cache            Cache
	UserAgent        string
	RetryMaxAttempts int
	RetryBaseDelay   time.Duration
	MaxBytes         int64
	RequireHTTPS     bool
	Logger           *slog.Logger
}

// Fetcher retrieves schema text. Remote locations go through the cache, and
// concurrent fetches of one location share a single download.
type Fetcher struct {
	opts   Options
	logger *slog.Logger
	group  singleflight.Group
}

func New(opts Options) *Fetcher {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: defaultTimeout}
	}
	if opts.RetryMaxAttempts <= 0 {
		opts.RetryMaxAttempts = defaultMaxAttempts
	}
	if opts.RetryBaseDelay <= 0 {
		opts.RetryBaseDelay = defaultBaseDelay
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = defaultMaxBytes
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{opts: opts, logger: logger}
}

type statusError struct {
	statusCode int
}

func (e statusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.statusCode)
}

func (f *Fetcher) Fetch(ctx context.Context, location string) ([]byte, error) {
	location = strings.TrimSpace(location)
	if location == "" {
		return nil, coreerrors.Wrap(fmt.Errorf("schema location is empty"), coreerrors.CategoryInvalidInput, "schema_location_empty", "pass a schema url or path", false)
	}
	if !isRemote(location) {
		return readLocal(location)
	}
	// The shared download outlives any single caller; each caller stops
	// waiting on its own context.
	results := f.group.DoChan(location, func() (any, error) {
		return f.fetchRemote(context.WithoutCancel(ctx), location)
	})
	select {
	case <-ctx.Done():
		return nil, coreerrors.Wrap(fmt.Errorf("download schema: %w", ctx.Err()), coreerrors.CategoryNetworkTransient, "schema_download_cancelled", "", true)
	case result := <-results:
		if result.Err != nil {
			return nil, result.Err
		}
		if result.Shared {
			f.logger.Debug("schema fetch shared", "location", location)
		}
		raw := result.Val.([]byte)
		return append([]byte(nil), raw...), nil
	}
}

func (f *Fetcher) fetchRemote(ctx context.Context, location string) ([]byte, error) {
	if err := enforceScheme(location, f.opts.RequireHTTPS); err != nil {
		return nil, coreerrors.Wrap(err, coreerrors.CategoryInvalidInput, "schema_scheme_rejected", "use an https schema url or disable schema.require_https", false)
	}
	if f.opts.Cache != nil {
		cached, ok, err := f.opts.Cache.Get(ctx, location)
		if err != nil {
			return nil, coreerrors.Wrap(fmt.Errorf("read schema cache: %w", err), coreerrors.CategoryIOFailure, "schema_cache_read_failed", "check the schema cache location", false)
		}
		if ok {
			f.logger.Debug("schema cache hit", "location", location)
			return cached, nil
		}
	}

	f.logger.Debug("downloading schema", "location", location)
	raw, err := f.downloadWithRetry(ctx, location)
	if err != nil {
		return nil, err
	}
	if f.opts.Cache == nil {
		return raw, nil
	}
	stored, err := f.opts.Cache.Put(ctx, location, raw)
	if err != nil {
		return nil, coreerrors.Wrap(fmt.Errorf("write schema cache: %w", err), coreerrors.CategoryIOFailure, "schema_cache_write_failed", "check the schema cache location", false)
	}
	return stored, nil
}

func (f *Fetcher) downloadWithRetry(ctx context.Context, location string) ([]byte, error) {
	var lastErr error
	for attempt := 1; attempt <= f.opts.RetryMaxAttempts; attempt++ {
		payload, err := f.downloadOnce(ctx, location)
		if err == nil {
			return payload, nil
		}
		lastErr = err
		if !isTransient(err) || attempt == f.opts.RetryMaxAttempts {
			break
		}
		sleepFor := retryDelay(f.opts.RetryBaseDelay, attempt)
		f.logger.Debug("retrying schema download", "location", location, "attempt", attempt, "delay", sleepFor, "error", err)
		timer := time.NewTimer(sleepFor)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, coreerrors.Wrap(fmt.Errorf("download schema: %w", ctx.Err()), coreerrors.CategoryNetworkTransient, "schema_download_cancelled", "", true)
		case <-timer.C:
		}
	}
	if isTransient(lastErr) {
		return nil, coreerrors.Wrap(fmt.Errorf("download schema: %w", lastErr), coreerrors.CategoryNetworkTransient, "schema_download_unavailable", "retry later or use a schema cache", true)
	}
	return nil, coreerrors.Wrap(fmt.Errorf("download schema: %w", lastErr), coreerrors.CategoryNetworkPermanent, "schema_download_failed", "check the schema url", false)
}

func (f *Fetcher) downloadOnce(ctx context.Context, location string) ([]byte, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, fmt.Errorf("build schema request: %w", err)
	}
	if f.opts.UserAgent != "" {
		request.Header.Set("User-Agent", f.opts.UserAgent)
	}
	request.Header.Set("Accept", "application/schema+json, application/json;q=0.9, */*;q=0.1")
	// #nosec G107 -- schema url is caller-controlled by design of the tool.
	response, err := f.opts.HTTPClient.Do(request)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = response.Body.Close()
	}()
	if response.StatusCode != http.StatusOK {
		return nil, statusError{statusCode: response.StatusCode}
	}
	raw, err := ioReadAllLimit(response.Body, f.opts.MaxBytes)
	if err != nil {
		return nil, fmt.Errorf("read schema response: %w", err)
	}
	return raw, nil
}

func readLocal(location string) ([]byte, error) {
	path := location
	if strings.HasPrefix(strings.ToLower(location), "file://") {
		parsed, err := url.Parse(location)
		if err != nil {
			return nil, coreerrors.Wrap(fmt.Errorf("parse schema location: %w", err), coreerrors.CategoryInvalidInput, "schema_location_invalid", "", false)
		}
		path = parsed.Path
	}
	// #nosec G304 -- user-supplied local schema path is intentional.
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, coreerrors.Wrap(fmt.Errorf("read schema file: %w", err), coreerrors.CategoryIOFailure, "schema_read_failed", "check the schema path", false)
	}
	return raw, nil
}

func isRemote(location string) bool {
	lower := strings.ToLower(location)
	return strings.HasPrefix(lower, "https://") || strings.HasPrefix(lower, "http://")
}

func enforceScheme(location string, requireHTTPS bool) error {
	parsed, err := url.Parse(location)
	if err != nil {
		return fmt.Errorf("parse schema url: %w", err)
	}
	if parsed.Host == "" {
		return fmt.Errorf("schema url has no host")
	}
	if requireHTTPS && strings.ToLower(parsed.Scheme) != "https" {
		return fmt.Errorf("schema url requires https")
	}
	return nil
}

func isTransient(err error) bool {
	if err == nil {
		return false
	}
	var status statusError
	if errors.As(err, &status) {
		switch status.statusCode {
		case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return true
		default:
			return false
		}
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	errText := strings.ToLower(err.Error())
	return strings.Contains(errText, "connection reset") ||
		strings.Contains(errText, "connection refused") ||
		strings.Contains(errText, "unexpected eof")
}

func retryDelay(baseDelay time.Duration, attempt int) time.Duration {
	if attempt <= 0 {
		return baseDelay
	}
	backoff := baseDelay << (attempt - 1)
	jitter := time.Duration(attempt) * 25 * time.Millisecond
	if jitter > 100*time.Millisecond {
		jitter = 100 * time.Millisecond
	}
	return backoff + jitter
}

func ioReadAllLimit(reader io.Reader, maxBytes int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(reader, maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("payload exceeds %d bytes", maxBytes)
	}
	return data, nil
}
