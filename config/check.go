package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// RequiredKeys must appear explicitly in a configuration file.
var RequiredKeys = []string{
	"headless", "implicit_wait", "page_load_timeout",
	"min_delay", "max_delay", "max_retries",
	"record_file", "log_file",
}

// Check reads the file at path and writes a human-readable report to w:
// missing keys, the effective configuration, validation errors and
// warnings, and output directories that do not exist yet. It returns
// false when the file cannot be used.
func Check(path string, w io.Writer) bool {
	rule := "============================================================"
	fmt.Fprintf(w, "%s\nConfiguration check: %s\n%s\n", rule, path, rule)

	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(w, "✗ cannot read configuration: %v\n", err)
		return false
	}
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		fmt.Fprintf(w, "✗ configuration is malformed: %v\n", err)
		return false
	}
	fmt.Fprintln(w, "✓ configuration parses")

	ok := true
	var missing []string
	for _, k := range RequiredKeys {
		if _, present := raw[k]; !present {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		fmt.Fprintf(w, "✗ missing keys: %v\n", missing)
		ok = false
	} else {
		fmt.Fprintln(w, "✓ all required keys present")
	}

	cfg, err := Parse(data)
	if err != nil {
		fmt.Fprintf(w, "✗ %v\n", err)
		return false
	}
	out, _ := yaml.Marshal(cfg)
	fmt.Fprintf(w, "\nEffective configuration:\n%s\n", out)

	warnings, err := cfg.Validate()
	if err != nil {
		fmt.Fprintf(w, "✗ invalid: %v\n", err)
		ok = false
	}
	for _, msg := range warnings {
		fmt.Fprintf(w, "⚠ %s\n", msg)
	}

	for _, f := range []struct{ key, path string }{
		{"record_file", cfg.RecordFile}, {"log_file", cfg.LogFile}, {"event_db", cfg.EventDB},
	} {
		if f.path == "" {
			continue
		}
		dir := filepath.Dir(f.path)
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			fmt.Fprintf(w, "⚠ %s directory %s does not exist; it is created at runtime\n", f.key, dir)
		}
	}

	fmt.Fprintln(w, rule)
	return ok
}
