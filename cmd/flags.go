package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// addFlagValidation wraps a flag so invalid values are rejected while the
// command line is parsed.
func addFlagValidation(fs *pflag.FlagSet, name string, validator func(string) error) {
	flag := fs.Lookup(name)
	if flag == nil {
		return
	}
	flag.Value = &validatingValue{Value: flag.Value, validator: validator}
}

type validatingValue struct {
	pflag.Value
	validator func(string) error
}

func (v *validatingValue) Set(val string) error {
	if v.validator != nil {
		if err := v.validator(val); err != nil {
			return err
		}
	}
	return v.Value.Set(val)
}

// validateFormat accepts one of allowed, suggesting the closest match by
// prefix otherwise.
func validateFormat(format string, allowed []string) error {
	lower := strings.ToLower(format)
	for _, a := range allowed {
		if lower == a {
			return nil
		}
	}
	for _, a := range allowed {
		if lower != "" && strings.HasPrefix(a, lower) {
			return fmt.Errorf("unsupported format %q, did you mean %q?", format, a)
		}
	}
	return fmt.Errorf("unsupported format %q (supported: %s)", format, strings.Join(allowed, ", "))
}

func addOutputFlag(fs *pflag.FlagSet, target *string) {
	fs.StringVarP(target, "output", "o", "table", "Output format (table|json|yaml)")
	addFlagValidation(fs, "output", func(s string) error {
		return validateFormat(s, []string{"table", "json", "yaml"})
	})
}

// encode writes v as indented JSON or YAML.
func encode(w io.Writer, format string, v interface{}) error {
	switch strings.ToLower(format) {
	case "json":
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(v)
	case "yaml":
		encoder := yaml.NewEncoder(w)
		encoder.SetIndent(2)
		if err := encoder.Encode(v); err != nil {
			return err
		}
		return encoder.Close()
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}

// formatSize renders a byte count for tables.
func formatSize(n int) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MiB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KiB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}
