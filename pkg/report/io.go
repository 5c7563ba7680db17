package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Format is a report serialization format.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ParseFormat validates a format name.
func ParseFormat(name string) (Format, error) {
	switch f := Format(name); f {
	case FormatJSON, FormatYAML:
		return f, nil
	default:
		return "", fmt.Errorf("unknown report format %q (want json or yaml)", name)
	}
}

// Write serializes result in the given format.
func Write(w io.Writer, result RunResult, format Format) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			return fmt.Errorf("encoding json report: %w", err)
		}
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(result); err != nil {
			return fmt.Errorf("encoding yaml report: %w", err)
		}
		if err := enc.Close(); err != nil {
			return fmt.Errorf("encoding yaml report: %w", err)
		}
	default:
		return fmt.Errorf("unknown report format %q", format)
	}
	return nil
}

// Read parses a report written by Write.
func Read(r io.Reader, format Format) (RunResult, error) {
	var result RunResult
	switch format {
	case FormatJSON:
		if err := json.NewDecoder(r).Decode(&result); err != nil {
			return RunResult{}, fmt.Errorf("decoding json report: %w", err)
		}
	case FormatYAML:
		if err := yaml.NewDecoder(r).Decode(&result); err != nil {
			return RunResult{}, fmt.Errorf("decoding yaml report: %w", err)
		}
	default:
		return RunResult{}, fmt.Errorf("unknown report format %q", format)
	}
	return result, nil
}

// WriteFile writes the report to path, or to stdout when path is "-".
func WriteFile(path string, result RunResult, format Format) error {
	if path == "-" {
		return Write(os.Stdout, result, format)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating report file: %w", err)
	}
	writeErr := Write(f, result, format)
	if closeErr := f.Close(); closeErr != nil && writeErr == nil {
		return fmt.Errorf("closing report file: %w", closeErr)
	}
	return writeErr
}
