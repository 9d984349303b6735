package main

import (
	"math"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// reorderExtraArguments moves flags the command does not define, with their
// values, behind "--" so "--port 22" reaches the report as a schema specific
// argument instead of failing flag parsing. valueFlags maps every known flag
// name to whether it takes a separate value.
func reorderExtraArguments(arguments []string, valueFlags map[string]bool) []string {
	known := make([]string, 0, len(arguments))
	extras := make([]string, 0, len(arguments))
	for index := 0; index < len(arguments); index++ {
		argument := arguments[index]
		if argument == "--" {
			extras = append(extras, arguments[index+1:]...)
			break
		}
		if !isFlagToken(argument) {
			extras = append(extras, argument)
			continue
		}
		name, _, inline := strings.Cut(strings.TrimLeft(argument, "-"), "=")
		requiresValue, isKnown := valueFlags[name]
		if !isKnown {
			extras = append(extras, argument)
			if !inline && index+1 < len(arguments) {
				index++
				extras = append(extras, arguments[index])
			}
			continue
		}
		known = append(known, argument)
		if !inline && requiresValue && index+1 < len(arguments) {
			index++
			known = append(known, arguments[index])
		}
	}
	if len(extras) == 0 {
		return known
	}
	return append(append(known, "--"), extras...)
}

func isFlagToken(argument string) bool {
	if len(argument) < 2 || !strings.HasPrefix(argument, "-") {
		return false
	}
	_, err := strconv.ParseFloat(argument, 64)
	return err != nil
}

// commandValueFlags lists the flags a command accepts, local and inherited,
// by long and short name.
func commandValueFlags(cmd *cobra.Command) map[string]bool {
	valueFlags := map[string]bool{"help": false, "h": false}
	collect := func(flag *pflag.Flag) {
		requiresValue := flag.NoOptDefVal == ""
		valueFlags[flag.Name] = requiresValue
		if flag.Shorthand != "" {
			valueFlags[flag.Shorthand] = requiresValue
		}
	}
	cmd.Flags().VisitAll(collect)
	for parent := cmd.Parent(); parent != nil; parent = parent.Parent() {
		parent.PersistentFlags().VisitAll(collect)
	}
	return valueFlags
}

// parseExtraArguments turns schema specific positionals into a mapping.
// Both "key value" pairs and "key=value" tokens are accepted; leading dashes
// on keys are dropped and a trailing key without a value is ignored.
func parseExtraArguments(arguments []string) map[string]any {
	extras := map[string]any{}
	for index := 0; index < len(arguments); index++ {
		argument := arguments[index]
		if key, value, found := strings.Cut(argument, "="); found && strings.TrimLeft(key, "-") != "" {
			extras[strings.TrimLeft(key, "-")] = coerceValue(value)
			continue
		}
		if index+1 >= len(arguments) {
			break
		}
		key := strings.TrimLeft(argument, "-")
		index++
		if key == "" {
			continue
		}
		extras[key] = coerceValue(arguments[index])
	}
	return extras
}

// coerceValue types command line text: an integer when integer and float
// readings agree, else a finite float, else the text itself.
func coerceValue(value string) any {
	trimmed := strings.TrimSpace(value)
	floatValue, floatErr := strconv.ParseFloat(trimmed, 64)
	if intValue, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
		if floatErr == nil && float64(intValue) == floatValue {
			return intValue
		}
	}
	if floatErr == nil && !math.IsInf(floatValue, 0) && !math.IsNaN(floatValue) {
		return floatValue
	}
	return value
}
