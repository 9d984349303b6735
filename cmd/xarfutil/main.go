// xarfutil builds, validates, renders and mails X-ARF abuse reports.
//
// Usage:
//
//	xarfutil report --schema-url=<url> --source=<ip> ... [key value ...]
//	xarfutil report --file-machine-readable=<path> [--file-evidence=<path>]
//	xarfutil schema <location> [--native]
//	xarfutil validate <file>... [--parallel=<n>]
//	xarfutil version
package main

import (
	stderrors "errors"
	"fmt"
	"io"
	"os"
)

// version is stamped at release time via ldflags; default stays dev for local builds.
var version = "0.0.0-dev"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(arguments []string, stdout, stderr io.Writer) int {
	return newApp(stdout, stderr).execute(arguments)
}

func (a *app) execute(arguments []string) int {
	root := a.rootCommand()
	if len(arguments) > 0 && arguments[0] == "report" {
		if report, _, err := root.Find(arguments[:1]); err == nil {
			arguments = append([]string{"report"}, reorderExtraArguments(arguments[1:], commandValueFlags(report))...)
		}
	}
	root.SetArgs(arguments)
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)
	return a.finish(root.Execute())
}

// finish maps a command error to an exit code and reports it once.
func (a *app) finish(err error) int {
	if err == nil {
		return exitOK
	}
	exitCode := exitCodeForError(err, exitInvalidInput)
	var reported reportedError
	if stderrors.As(err, &reported) {
		return exitCode
	}
	if a.global.jsonOutput {
		return writeJSONOutput(a.stdout, errorOutput(err), exitCode)
	}
	_, _ = fmt.Fprintln(a.stderr, describeError(err))
	return exitCode
}
