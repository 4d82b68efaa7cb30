package envfile

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"

	"github.com/joho/godotenv"
)

// Load reads the dotenv file at path. A missing file is not an error,
// apps without custom variables are the common case.
func Load(path string) (map[string]string, error) {
	vars, err := godotenv.Read(path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading env file: %w", err)
	}

	return vars, nil
}

// Append validates text as dotenv syntax and appends it to the file at
// path, keeping variables saved earlier.
func Append(path, text string) error {
	if _, err := godotenv.Unmarshal(text); err != nil {
		return fmt.Errorf("invalid env syntax: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("opening env file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	if info.Size() > 0 {
		if _, err := f.WriteString("\n"); err != nil {
			return err
		}
	}

	if _, err := f.WriteString(strings.TrimRight(text, "\n") + "\n"); err != nil {
		return fmt.Errorf("appending env vars: %w", err)
	}

	return nil
}

// Overlay merges vars over a base environment in os.Environ form.
// Overlay values win, the result is deterministic.
func Overlay(base []string, vars map[string]string) []string {
	merged := make([]string, 0, len(base)+len(vars))

	for _, entry := range base {
		key, _, ok := strings.Cut(entry, "=")
		if ok {
			if _, overridden := vars[key]; overridden {
				continue
			}
		}
		merged = append(merged, entry)
	}

	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		merged = append(merged, k+"="+vars[k])
	}

	return merged
}
