package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/davidahmann/xarf/core/contact"
	coreerrors "github.com/davidahmann/xarf/core/errors"
	"github.com/davidahmann/xarf/core/fsx"
	"github.com/davidahmann/xarf/core/mail"
	"github.com/davidahmann/xarf/core/record"
	"github.com/davidahmann/xarf/core/render"
	"github.com/davidahmann/xarf/core/xarf"
)

const formatEmail = "email"

var (
	parameterModeFlags = []string{
		"greeting", "evidence", "schema-url", "reported-from", "category", "report-type",
		"report-id", "date", "source", "source-type", "attachment",
	}
	fileModeFlags = []string{"file-machine-readable", "file-evidence", "file-greeting"}
)

type reportFlags struct {
	schema schemaFlags

	greeting     string
	evidence     string
	schemaURL    string
	reportedFrom string
	category     string
	reportType   string
	reportID     string
	date         string
	source       string
	sourceType   string
	attachment   string

	fileMachineReadable string
	fileEvidence        string
	fileGreeting        string

	format           string
	part             string
	out              string
	eventSource      string
	generateReportID bool
	ledger           string

	sendEmail     bool
	lookupContact bool
	mailHost      string
	mailPort      int
	mailUser      string
	mailPass      string
	mailFrom      string
	mailSubject   string
	mailTo        []string
}

type ledgerEntry struct {
	CreatedAt  string   `json:"created_at"`
	Action     string   `json:"action"`
	ReportID   string   `json:"report_id,omitempty"`
	SchemaURL  string   `json:"schema_url"`
	Digest     string   `json:"digest"`
	Format     string   `json:"format,omitempty"`
	Path       string   `json:"path,omitempty"`
	Recipients []string `json:"recipients,omitempty"`
}

func (a *app) reportCommand() *cobra.Command {
	options := &reportFlags{}
	cmd := &cobra.Command{
		Use:   "report [key value | key=value]...",
		Short: "Build and validate one report, then print, write or mail it",
		Long: "Parameter mode takes report values from flags and schema specific key value\n" +
			"arguments (use -- before arguments that start with a dash). File mode reads\n" +
			"the machine readable part from a YAML or JSON file. The modes conflict.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runReport(cmd, options, args)
		},
	}
	options.schema.register(cmd)
	flags := cmd.Flags()

	flags.StringVar(&options.greeting, "greeting", "", "greeting text (mail only)")
	flags.StringVar(&options.evidence, "evidence", "", "evidence text")
	flags.StringVar(&options.schemaURL, "schema-url", "", "url or path of the report schema")
	flags.StringVar(&options.reportedFrom, "reported-from", "", "email address of the reporter")
	flags.StringVar(&options.category, "category", "", "report category")
	flags.StringVar(&options.reportType, "report-type", "", "report type")
	flags.StringVar(&options.reportID, "report-id", "", "report id")
	flags.StringVar(&options.date, "date", "", "date of the report")
	flags.StringVar(&options.source, "source", "", "source of the abuse")
	flags.StringVar(&options.sourceType, "source-type", "", "type of source")
	flags.StringVar(&options.attachment, "attachment", "", "attachment mime type")

	flags.StringVar(&options.fileMachineReadable, "file-machine-readable", "", "YAML or JSON file with the machine readable part")
	flags.StringVar(&options.fileEvidence, "file-evidence", "", "file with evidence data")
	flags.StringVar(&options.fileGreeting, "file-greeting", "", "file with greeting text")

	flags.StringVar(&options.format, "format", "json", "output format: json, yaml, canonical-json, cloudevent or email")
	flags.StringVar(&options.part, "part", "", "print one part: machine_readable or evidence")
	flags.StringVar(&options.out, "out", "", "write the rendered report to a file")
	flags.StringVar(&options.eventSource, "event-source", "xarfutil", "cloudevent source attribute")
	flags.BoolVar(&options.generateReportID, "generate-report-id", false, "generate a report id when none is given")
	flags.StringVar(&options.ledger, "ledger", "", "append one JSON line per produced report")

	flags.BoolVar(&options.sendEmail, "send-email", false, "send the report by mail")
	flags.BoolVar(&options.lookupContact, "lookup-contact", false, "look up the abuse contact of an ip source")
	flags.StringVar(&options.mailHost, "mail-server-host", "", "mail server host")
	flags.IntVar(&options.mailPort, "mail-server-port", 0, "mail server port")
	flags.StringVar(&options.mailUser, "mail-server-user", "", "mail server username")
	flags.StringVar(&options.mailPass, "mail-server-pass", "", "mail server password")
	flags.StringVar(&options.mailFrom, "mail-from", "", "sender of the report")
	flags.StringVar(&options.mailSubject, "mail-subject", "", "subject of the report mail")
	flags.StringSliceVar(&options.mailTo, "mail-to", nil, "recipient of the report")
	return cmd
}

func (a *app) runReport(cmd *cobra.Command, options *reportFlags, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	fileMode, err := reportMode(cmd, args)
	if err != nil {
		return err
	}
	format := strings.ToLower(strings.TrimSpace(options.format))
	if format == formatEmail && options.part != "" {
		return invalidInput("invalid_flag", "--part cannot be combined with --format email")
	}
	if format != formatEmail {
		if _, err := render.ParseFormat(format); err != nil {
			return coreerrors.Wrap(err, coreerrors.CategoryInvalidInput, "invalid_format", "use json, yaml, canonical-json, cloudevent or email", false)
		}
	}

	xarfOptions, closeCache, err := a.reportOptions(ctx, cmd, options.schema, nil)
	if err != nil {
		return err
	}
	defer closeCache()

	greeting := options.greeting
	var report *xarf.Report
	if fileMode {
		report, greeting, err = a.reportFromFiles(ctx, options, xarfOptions)
	} else {
		report, err = a.reportFromParameters(ctx, options, args, xarfOptions)
	}
	if err != nil {
		return err
	}
	snapshot, err := report.Snapshot()
	if err != nil {
		return err
	}
	a.logger.Debug("report built", "schema_url", report.SchemaURL(), "mandatory", report.MandatoryFields())

	if options.sendEmail {
		return a.sendReport(ctx, options, report, snapshot, greeting)
	}

	var rendered []byte
	if format == formatEmail {
		rendered, _, err = a.composeMail(ctx, options, report, snapshot, greeting)
	} else {
		rendered, err = a.renderReport(report, snapshot, options, render.Format(format))
	}
	if err != nil {
		return err
	}
	if options.out == "" {
		_, err := a.stdout.Write(rendered)
		if err != nil {
			return err
		}
		return a.appendLedger(options, report, ledgerEntry{Action: "printed", Format: format})
	}
	if err := fsx.WriteFileAtomic(options.out, rendered, 0o600); err != nil {
		return coreerrors.Wrap(err, coreerrors.CategoryIOFailure, "write_output_failed", "check the --out path", false)
	}
	if err := a.appendLedger(options, report, ledgerEntry{Action: "written", Format: format, Path: options.out}); err != nil {
		return err
	}
	if a.global.jsonOutput {
		writeJSONOutput(a.stdout, map[string]any{"ok": true, "path": options.out, "format": format}, exitOK)
		return nil
	}
	_, err = fmt.Fprintf(a.stdout, "wrote %s\n", options.out)
	return err
}

// reportMode reports whether file mode is in use, rejecting a mix of modes.
func reportMode(cmd *cobra.Command, args []string) (bool, error) {
	flags := cmd.Flags()
	parameterMode := len(args) > 0
	for _, name := range parameterModeFlags {
		parameterMode = parameterMode || flags.Changed(name)
	}
	fileMode := false
	for _, name := range fileModeFlags {
		fileMode = fileMode || flags.Changed(name)
	}
	if parameterMode && fileMode {
		return false, invalidInput("conflicting_modes", `parameters from group "file mode" conflict with group "parameter mode"`)
	}
	if fileMode && !flags.Changed("file-machine-readable") {
		return false, invalidInput("missing_machine_readable", "--file-machine-readable is required with file mode")
	}
	return fileMode, nil
}

func (a *app) reportFromParameters(ctx context.Context, options *reportFlags, args []string, xarfOptions xarf.Options) (*xarf.Report, error) {
	extras := parseExtraArguments(args)
	reportID := options.reportID
	if reportID == "" && options.generateReportID {
		if _, ok := record.NewSource("extras", extras).Lookup("report_id"); !ok {
			reportID = uuid.NewString()
		}
	}
	var evidence []byte
	if options.evidence != "" {
		evidence = []byte(options.evidence)
	}
	return xarf.New(ctx, xarf.Params{
		SchemaURL:    options.schemaURL,
		Evidence:     evidence,
		ReportedFrom: options.reportedFrom,
		Category:     options.category,
		ReportType:   options.reportType,
		ReportID:     reportID,
		Date:         options.date,
		Source:       options.source,
		SourceType:   options.sourceType,
		Attachment:   options.attachment,
		Extras:       extras,
	}, xarfOptions)
}

func (a *app) reportFromFiles(ctx context.Context, options *reportFlags, xarfOptions xarf.Options) (*xarf.Report, string, error) {
	mapping, err := readMachineReadable(options.fileMachineReadable)
	if err != nil {
		return nil, "", err
	}
	if options.generateReportID {
		if _, ok := record.NewSource("file", mapping).Lookup("report_id"); !ok {
			mapping["Report-ID"] = uuid.NewString()
		}
	}
	var evidence []byte
	if options.fileEvidence != "" {
		if evidence, err = readInputFile(options.fileEvidence); err != nil {
			return nil, "", err
		}
	}
	greeting := ""
	if options.fileGreeting != "" {
		content, err := readInputFile(options.fileGreeting)
		if err != nil {
			return nil, "", err
		}
		greeting = string(content)
	}
	report, err := xarf.FromMachineReadable(ctx, mapping, evidence, xarfOptions)
	return report, greeting, err
}

// readMachineReadable decodes a YAML or JSON mapping.
func readMachineReadable(path string) (map[string]any, error) {
	content, err := readInputFile(path)
	if err != nil {
		return nil, err
	}
	mapping := map[string]any{}
	if err := yaml.Unmarshal(content, &mapping); err != nil {
		return nil, coreerrors.Wrap(fmt.Errorf("%s does not specify a valid json or yaml file: %w", path, err), coreerrors.CategoryInvalidInput, "invalid_machine_readable", "", false)
	}
	return mapping, nil
}

func readInputFile(path string) ([]byte, error) {
	content, err := os.ReadFile(path) // #nosec G304 -- explicit local user input.
	if err != nil {
		return nil, coreerrors.Wrap(fmt.Errorf("read %s: %w", path, err), coreerrors.CategoryIOFailure, "read_input_failed", "check the input path", false)
	}
	return content, nil
}

func (a *app) renderReport(report *xarf.Report, snapshot xarf.Snapshot, options *reportFlags, format render.Format) ([]byte, error) {
	var value any = snapshot
	if options.part != "" {
		part, err := report.Part(options.part)
		if err != nil {
			return nil, err
		}
		value = part
	}
	meta := render.EventMeta{
		ID:      uuid.NewString(),
		Source:  options.eventSource,
		Type:    "org.xarf.report",
		Subject: reportField(snapshot, "Report-ID"),
		Time:    a.now(),
	}
	rendered, err := render.Render(format, value, meta)
	if err != nil {
		return nil, coreerrors.Wrap(err, coreerrors.CategoryInternalFailure, "render_failed", "", false)
	}
	return rendered, nil
}

func reportField(snapshot xarf.Snapshot, name string) string {
	text, _ := snapshot.MachineReadable[name].(string)
	return text
}

func (a *app) appendLedger(options *reportFlags, report *xarf.Report, entry ledgerEntry) error {
	if options.ledger == "" {
		return nil
	}
	digest, err := report.Digest()
	if err != nil {
		return err
	}
	machineReadable, err := report.MachineReadable()
	if err != nil {
		return err
	}
	entry.CreatedAt = a.now().UTC().Format("2006-01-02T15:04:05Z07:00")
	entry.SchemaURL = report.SchemaURL()
	entry.Digest = digest
	entry.ReportID, _ = machineReadable["Report-ID"].(string)
	if err := fsx.AppendJSONLine(options.ledger, entry, 0o600); err != nil {
		return coreerrors.Wrap(err, coreerrors.CategoryIOFailure, "ledger_append_failed", "check the --ledger path", false)
	}
	return nil
}

// mailRecipients prefers a looked up abuse contact for ip sources and falls
// back to --mail-to.
func (a *app) mailRecipients(ctx context.Context, options *reportFlags, snapshot xarf.Snapshot) ([]string, error) {
	recipients := options.mailTo
	sourceType := reportField(snapshot, "Source-Type")
	if options.lookupContact && strings.HasPrefix(sourceType, "ip") {
		zone := a.config.Contact.Zone
		if zone == "" {
			zone = contact.DefaultZone
		}
		contacts, err := contact.Lookup(ctx, a.resolver, reportField(snapshot, "Source"), zone)
		if err != nil {
			a.logger.Warn("abuse contact lookup failed", "source", reportField(snapshot, "Source"), "error", err)
		}
		if len(contacts) > 0 {
			recipients = contacts
		}
	}
	if len(recipients) == 0 {
		return nil, coreerrors.Wrap(fmt.Errorf("no recipient for the report"), coreerrors.CategoryDependencyMissing, "missing_recipient", "supply a recipient with --mail-to or --lookup-contact", false)
	}
	return recipients, nil
}

func (a *app) composeMail(ctx context.Context, options *reportFlags, report *xarf.Report, snapshot xarf.Snapshot, greeting string) ([]byte, []string, error) {
	recipients, err := a.mailRecipients(ctx, options, snapshot)
	if err != nil {
		return nil, nil, err
	}
	from := firstNonEmpty(options.mailFrom, a.config.Mail.From)
	if from == "" {
		return nil, nil, coreerrors.Wrap(fmt.Errorf("no sender for the report"), coreerrors.CategoryDependencyMissing, "missing_sender", "pass --mail-from or set mail.from", false)
	}
	machineReadable, err := render.YAML(snapshot.MachineReadable)
	if err != nil {
		return nil, nil, coreerrors.Wrap(err, coreerrors.CategoryInternalFailure, "render_failed", "", false)
	}
	raw, err := mail.Compose(mail.Message{
		From:            from,
		To:              recipients,
		Subject:         firstNonEmpty(options.mailSubject, a.config.Mail.Subject, "abuse report about "+reportField(snapshot, "Source")),
		Greeting:        greeting,
		MachineReadable: machineReadable,
		Evidence:        report.Evidence(),
		Date:            a.now(),
	})
	if err != nil {
		return nil, nil, coreerrors.Wrap(err, coreerrors.CategoryInvalidInput, "invalid_mail", "check mail addresses", false)
	}
	return raw, recipients, nil
}

func (a *app) sendReport(ctx context.Context, options *reportFlags, report *xarf.Report, snapshot xarf.Snapshot, greeting string) error {
	raw, recipients, err := a.composeMail(ctx, options, report, snapshot, greeting)
	if err != nil {
		return err
	}
	sender, err := a.mailSender(options)
	if err != nil {
		return err
	}
	from := firstNonEmpty(options.mailFrom, a.config.Mail.From)
	if err := sender.Send(ctx, from, recipients, raw); err != nil {
		return err
	}
	a.logger.Info("report sent", "recipients", recipients)
	if err := a.appendLedger(options, report, ledgerEntry{Action: "sent", Format: formatEmail, Recipients: recipients}); err != nil {
		return err
	}
	if a.global.jsonOutput {
		writeJSONOutput(a.stdout, map[string]any{"ok": true, "sent": true, "recipients": recipients}, exitOK)
		return nil
	}
	_, err = fmt.Fprintln(a.stdout, "Report sent.")
	return err
}

func (a *app) mailSender(options *reportFlags) (mail.Sender, error) {
	if a.sender != nil {
		return a.sender, nil
	}
	host := firstNonEmpty(options.mailHost, a.config.Mail.Host)
	if host == "" {
		return nil, coreerrors.Wrap(fmt.Errorf("no mail server configured"), coreerrors.CategoryDependencyMissing, "missing_mail_server", "pass --mail-server-host or set mail.host", false)
	}
	port := options.mailPort
	if port == 0 {
		port = a.config.Mail.Port
	}
	return mail.SMTPSender{
		Host:     host,
		Port:     port,
		Username: firstNonEmpty(options.mailUser, a.config.Mail.Username),
		Password: firstNonEmpty(options.mailPass, a.config.Mail.Password()),
	}, nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
