package main

import (
	"encoding/json"
	stderrors "errors"
	"fmt"

	"github.com/spf13/cobra"

	coreerrors "github.com/davidahmann/xarf/core/errors"
	"github.com/davidahmann/xarf/core/render"
	"github.com/davidahmann/xarf/core/schema"
)

type schemaOutput struct {
	Location        string          `json:"location"`
	MandatoryFields []string        `json:"mandatory_fields"`
	Schema          json.RawMessage `json:"schema"`
}

func (a *app) schemaCommand() *cobra.Command {
	var flags schemaFlags
	var native bool
	cmd := &cobra.Command{
		Use:   "schema <location>",
		Short: "Print a report schema after conversion and its mandatory fields",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			options, closeCache, err := a.reportOptions(ctx, cmd, flags, nil)
			if err != nil {
				return err
			}
			defer closeCache()

			location := args[0]
			raw, err := options.Fetcher.Fetch(ctx, location)
			if err != nil {
				return &coreerrors.SchemaError{Location: location, Cause: err}
			}
			doc, mandatory, err := schema.Normalize(raw)
			if err != nil {
				return withSchemaLocation(err, location)
			}
			var rendered []byte
			if native {
				rendered, err = doc.Native()
			} else {
				rendered, err = doc.MarshalJSON()
			}
			if err != nil {
				return withSchemaLocation(err, location)
			}
			encoded, err := render.JSON(schemaOutput{Location: location, MandatoryFields: mandatory, Schema: rendered}, true)
			if err != nil {
				return coreerrors.Wrap(err, coreerrors.CategoryInternalFailure, "render_failed", "", false)
			}
			_, err = fmt.Fprint(a.stdout, string(encoded))
			return err
		},
	}
	flags.register(cmd)
	cmd.Flags().BoolVar(&native, "native", false, "print the JSON Schema 2020-12 form instead of the legacy form")
	return cmd
}

func withSchemaLocation(err error, location string) error {
	var schemaErr *coreerrors.SchemaError
	if !stderrors.As(err, &schemaErr) {
		return &coreerrors.SchemaError{Location: location, Cause: err}
	}
	if schemaErr.Location == "" {
		schemaErr.Location = location
	}
	return err
}
