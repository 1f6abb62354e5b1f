package api

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// OutputFormat defines the output format for CLI commands.
type OutputFormat string

const (
	OutputFormatYAML  OutputFormat = "yaml"
	OutputFormatJSON  OutputFormat = "json"
	OutputFormatTable OutputFormat = "table"
)

// DefaultOutput is the default output format.
var DefaultOutput OutputFormat = OutputFormatTable

// globalOutputFormat is set by the root command's --output flag.
var globalOutputFormat OutputFormat = DefaultOutput

// ParseOutputFormat validates a --output value.
func ParseOutputFormat(format string) (OutputFormat, error) {
	switch OutputFormat(format) {
	case OutputFormatJSON, OutputFormatYAML, OutputFormatTable:
		return OutputFormat(format), nil
	case "":
		return DefaultOutput, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want yaml, json or table)", format)
	}
}

// SetOutputFormat sets the global output format. Unknown values select the default.
func SetOutputFormat(format string) {
	f, err := ParseOutputFormat(format)
	if err != nil {
		f = DefaultOutput
	}
	globalOutputFormat = f
}

// GetOutputFormat returns the current global output format.
func GetOutputFormat() OutputFormat {
	return globalOutputFormat
}

// Output writes data to stdout in the configured format.
func Output(data any) error {
	return OutputTo(os.Stdout, globalOutputFormat, data)
}

// OutputAs writes data to stdout in the specified format.
func OutputAs(format OutputFormat, data any) error {
	return OutputTo(os.Stdout, format, data)
}

// OutputTo writes data to the given writer in the specified format. Values
// that do not implement Tabular are written as YAML in table mode.
func OutputTo(w io.Writer, format OutputFormat, data any) error {
	switch format {
	case OutputFormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	case OutputFormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(data)
	case OutputFormatTable:
		t, ok := data.(Tabular)
		if !ok {
			return OutputTo(w, OutputFormatYAML, data)
		}
		_, err := fmt.Fprintln(w, RenderTable(t.Table()))
		return err
	default:
		return fmt.Errorf("unknown output format: %s", format)
	}
}

// IsStructuredOutput returns true if the output format is structured (JSON/YAML).
// Commands print human-friendly messages only when it is false.
func IsStructuredOutput() bool {
	return globalOutputFormat == OutputFormatJSON || globalOutputFormat == OutputFormatYAML
}
