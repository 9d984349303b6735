package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/davidahmann/xarf/core/contact"
	coreerrors "github.com/davidahmann/xarf/core/errors"
	"github.com/davidahmann/xarf/core/mail"
	"github.com/davidahmann/xarf/core/projectconfig"
	"github.com/davidahmann/xarf/core/xarf"
	"github.com/davidahmann/xarf/internal/logging"
)

type globalFlags struct {
	configPath string
	debug      bool
	logFormat  string
	jsonOutput bool
}

// app is one CLI invocation. Resolver and sender are swapped out in tests.
type app struct {
	stdout   io.Writer
	stderr   io.Writer
	global   globalFlags
	config   projectconfig.Config
	logger   *slog.Logger
	resolver contact.Resolver
	sender   mail.Sender
	now      func() time.Time
}

func newApp(stdout, stderr io.Writer) *app {
	return &app{
		stdout: stdout,
		stderr: stderr,
		logger: slog.Default(),
		now:    time.Now,
	}
}

func (a *app) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "xarfutil",
		Short: "Build, validate and send X-ARF abuse reports",
		Long: "xarfutil assembles X-ARF abuse reports from flags or files, validates them\n" +
			"against the report type's published schema and prints or mails the result.",
		Version:           version,
		SilenceErrors:     true,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
		CompletionOptions: cobra.CompletionOptions{
			HiddenDefaultCmd: true,
		},
	}
	flags := root.PersistentFlags()
	flags.StringVar(&a.global.configPath, "config", projectconfig.DefaultPath, "project config file")
	flags.BoolVar(&a.global.debug, "debug", false, "enable debug logging")
	flags.StringVar(&a.global.logFormat, "log-format", "", "log format: text or json")
	flags.BoolVar(&a.global.jsonOutput, "json", false, "print status and errors as json")

	root.AddCommand(a.reportCommand())
	root.AddCommand(a.schemaCommand())
	root.AddCommand(a.validateCommand())
	root.AddCommand(a.versionCommand())
	return root
}

// setup loads the project config and configures logging. A missing config
// file is only an error when --config was given explicitly.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	configuration, err := projectconfig.Load(a.global.configPath, !cmd.Flags().Changed("config"))
	if err != nil {
		return coreerrors.Wrap(err, coreerrors.CategoryInvalidInput, "invalid_config", "fix or remove the project config file", false)
	}
	a.config = configuration

	level, err := logging.ParseLevel(configuration.Log.Level)
	if err != nil {
		return coreerrors.Wrap(err, coreerrors.CategoryInvalidInput, "invalid_config", "", false)
	}
	if a.global.debug {
		level = slog.LevelDebug
	}
	format := strings.ToLower(strings.TrimSpace(a.global.logFormat))
	if format == "" {
		format = configuration.Log.Format
	}
	switch format {
	case "", "text", "json":
	default:
		return coreerrors.Wrap(fmt.Errorf("unsupported log format %q", a.global.logFormat), coreerrors.CategoryInvalidInput, "invalid_flag", "use text or json", false)
	}
	logging.Init(level, format, a.stderr)
	a.logger = logging.New("xarfutil")
	return nil
}

func (a *app) versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the CLI and library versions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if a.global.jsonOutput {
				writeJSONOutput(a.stdout, map[string]any{"ok": true, "version": version, "user_agent": xarf.UserAgent}, exitOK)
				return nil
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "xarfutil %s (%s)\n", version, xarf.UserAgent)
			return err
		},
	}
}
