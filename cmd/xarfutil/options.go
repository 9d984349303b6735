package main

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/spf13/cobra"

	coreerrors "github.com/davidahmann/xarf/core/errors"
	"github.com/davidahmann/xarf/core/fetch"
	"github.com/davidahmann/xarf/core/schema/validate"
	"github.com/davidahmann/xarf/core/xarf"
	"github.com/davidahmann/xarf/internal/logging"
)

// schemaFlags are shared by every command that loads a schema. Unset flags
// fall back to the project config.
type schemaFlags struct {
	cache        string
	requireHTTPS bool
	engine       string
	assertFormat bool
}

func (s *schemaFlags) register(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVar(&s.cache, "schema-cache", "", "schema cache: directory, memory: or gs://bucket/prefix")
	flags.BoolVar(&s.requireHTTPS, "require-https", false, "refuse plain http schema urls")
	flags.StringVar(&s.engine, "engine", "", "validator engine: kaptinlin or santhosh")
	flags.BoolVar(&s.assertFormat, "assert-format", false, "treat format keywords as assertions")
}

// reportOptions wires the fetcher and validator from flags and config. The
// returned closer releases remote cache clients.
func (a *app) reportOptions(ctx context.Context, cmd *cobra.Command, flags schemaFlags, fallbackCache fetch.Cache) (xarf.Options, func(), error) {
	noop := func() {}
	cacheLocation := a.config.Schema.Cache
	if cmd.Flags().Changed("schema-cache") {
		cacheLocation = flags.cache
	}
	cache, err := fetch.OpenCache(ctx, cacheLocation)
	if err != nil {
		return xarf.Options{}, noop, coreerrors.Wrap(err, coreerrors.CategoryInvalidInput, "invalid_schema_cache", "use a directory, memory: or gs://bucket/prefix", false)
	}
	closer := noop
	if closable, ok := cache.(io.Closer); ok {
		closer = func() {
			if err := closable.Close(); err != nil {
				a.logger.Warn("close schema cache", "error", err)
			}
		}
	}
	if cache == nil {
		cache = fallbackCache
	}

	engineName := a.config.Validator.Engine
	if cmd.Flags().Changed("engine") {
		engineName = flags.engine
	}
	engine, err := validate.ParseEngine(engineName)
	if err != nil {
		closer()
		return xarf.Options{}, noop, coreerrors.Wrap(err, coreerrors.CategoryInvalidInput, "invalid_engine", "use kaptinlin or santhosh", false)
	}

	fetchOptions := fetch.Options{
		Cache:            cache,
		UserAgent:        xarf.UserAgent,
		RetryMaxAttempts: a.config.Schema.RetryMaxAttempts,
		RetryBaseDelay:   a.config.Schema.RetryBaseDelayDuration(),
		MaxBytes:         a.config.Schema.MaxBytes,
		RequireHTTPS:     a.config.Schema.RequireHTTPS || flags.requireHTTPS,
		Logger:           logging.New("fetch"),
	}
	if timeout := a.config.Schema.TimeoutDuration(); timeout > 0 {
		fetchOptions.HTTPClient = &http.Client{Timeout: timeout}
	}
	return xarf.Options{
		Fetcher: fetch.New(fetchOptions),
		Validator: validate.Options{
			Engine:       engine,
			AssertFormat: a.config.Validator.AssertFormat || flags.assertFormat,
		},
		Logger: logging.New("report"),
	}, closer, nil
}

func invalidInput(code string, format string, args ...any) error {
	return coreerrors.Wrap(fmt.Errorf(format, args...), coreerrors.CategoryInvalidInput, code, "", false)
}
