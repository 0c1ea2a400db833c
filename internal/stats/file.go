package stats

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ReadJSON decodes the JSON file at path into v.
func ReadJSON(path string, v any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// WriteJSON writes v as indented JSON through a temp file and rename, so
// readers never observe a half-written file.
func WriteJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// ShortHostname returns the machine name up to the first dot.
func ShortHostname() (string, error) {
	name, err := os.Hostname()
	if err != nil {
		return "", err
	}
	return ShortName(name), nil
}

// ShortName strips the domain part of a host name.
func ShortName(name string) string {
	short, _, _ := strings.Cut(strings.TrimSpace(name), ".")
	return short
}
