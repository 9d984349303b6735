package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	coreerrors "github.com/davidahmann/xarf/core/errors"
	"github.com/davidahmann/xarf/core/fetch"
	"github.com/davidahmann/xarf/core/record"
	"github.com/davidahmann/xarf/core/xarf"
)

type fileResult struct {
	File       string   `json:"file"`
	OK         bool     `json:"ok"`
	Error      string   `json:"error,omitempty"`
	Category   string   `json:"error_category,omitempty"`
	Violations []string `json:"violations,omitempty"`
	err        error
}

func (a *app) validateCommand() *cobra.Command {
	var flags schemaFlags
	var parallel int
	var schemaURL string
	cmd := &cobra.Command{
		Use:   "validate <file>...",
		Short: "Validate machine readable report files against their schemas",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if parallel < 1 {
				return invalidInput("invalid_flag", "--parallel must be at least 1")
			}
			ctx := cmd.Context()
			// one batch shares schema downloads even without a configured cache
			options, closeCache, err := a.reportOptions(ctx, cmd, flags, fetch.NewMemoryCache())
			if err != nil {
				return err
			}
			defer closeCache()
			results := a.validateFiles(ctx, args, schemaURL, parallel, options)
			return a.writeValidateResults(results)
		},
	}
	flags.register(cmd)
	cmd.Flags().IntVar(&parallel, "parallel", 4, "number of files validated concurrently")
	cmd.Flags().StringVar(&schemaURL, "schema-url", "", "schema for files that do not name one")
	return cmd
}

func (a *app) validateFiles(ctx context.Context, files []string, schemaURL string, parallel int, options xarf.Options) []fileResult {
	results := make([]fileResult, len(files))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(parallel)
	for index, file := range files {
		group.Go(func() error {
			results[index] = validateFile(groupCtx, file, schemaURL, options)
			return nil
		})
	}
	_ = group.Wait()
	return results
}

func validateFile(ctx context.Context, file string, schemaURL string, options xarf.Options) fileResult {
	result := fileResult{File: file}
	err := func() error {
		mapping, err := readMachineReadable(file)
		if err != nil {
			return err
		}
		if _, ok := record.NewSource("file", mapping).Lookup("schema_url"); !ok && schemaURL != "" {
			mapping["Schema-URL"] = schemaURL
		}
		report, err := xarf.FromMachineReadable(ctx, mapping, nil, options)
		if err != nil {
			return err
		}
		_, err = report.MachineReadable()
		return err
	}()
	if err == nil {
		result.OK = true
		return result
	}
	result.err = err
	result.Error = err.Error()
	result.Category = string(coreerrors.CategoryOf(err))
	var validationErr *coreerrors.ValidationError
	if stderrors.As(err, &validationErr) {
		result.Violations = validationErr.Violations
	}
	return result
}

func (a *app) writeValidateResults(results []fileResult) error {
	var firstFailure error
	failed := 0
	for _, result := range results {
		if result.OK {
			continue
		}
		failed++
		if firstFailure == nil {
			firstFailure = result.err
		}
	}
	exitCode := exitCodeForError(firstFailure, exitInvalidInput)

	if a.global.jsonOutput {
		output := map[string]any{"ok": failed == 0, "files": results}
		if failed > 0 {
			output["error"] = fmt.Sprintf("%d of %d file(s) failed validation", failed, len(results))
			output["error_category"] = string(coreerrors.CategoryOf(firstFailure))
		}
		writeJSONOutput(a.stdout, output, exitCode)
		if failed > 0 {
			return reportedError{code: exitCode}
		}
		return nil
	}

	for _, result := range results {
		if result.OK {
			_, _ = fmt.Fprintf(a.stdout, "ok   %s\n", result.File)
			continue
		}
		detail := result.Error
		if len(result.Violations) > 0 {
			detail = strings.Join(result.Violations, "; ")
		}
		_, _ = fmt.Fprintf(a.stdout, "fail %s: %s\n", result.File, detail)
	}
	if failed > 0 {
		_, _ = fmt.Fprintf(a.stderr, "error: %d of %d file(s) failed validation\n", failed, len(results))
		return reportedError{code: exitCode}
	}
	return nil
}
