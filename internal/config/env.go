package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

// BaseDir resolves the directory relative paths are anchored to: flagDir
// when set, otherwise the directory holding the running executable.
func BaseDir(flagDir string) (string, error) {
	if dir := firstNonEmpty(flagDir, os.Getenv("GPUHUB_DIR")); dir != "" {
		return filepath.Abs(dir)
	}
	exe, err := os.Executable()
	if err != nil {
		return "", err
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return filepath.Dir(exe), nil
}

// Resolve anchors p on base unless it is already absolute.
func Resolve(base, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}

// LoadDotEnv loads <base>/.env without overriding variables already set.
// A missing file is not an error.
func LoadDotEnv(base string) error {
	path := filepath.Join(base, ".env")
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	return godotenv.Load(path)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
