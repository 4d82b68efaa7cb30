package manifest

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/opencontainers/go-digest"
)

// Manifest is a normalized dependency manifest in pip requirements format.
type Manifest struct {
	lines []string
}

// Parse normalizes raw manifest bytes. Blank lines are dropped and lines
// pasted as shell commands ("pip install foo bar") are unfolded into their
// package tokens. Comment lines pass through untouched, the installer
// ignores them.
func Parse(data []byte) Manifest {
	var lines []string

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if strings.HasPrefix(strings.ToLower(line), "pip install") {
			lines = append(lines, strings.Fields(line[len("pip install"):])...)
			continue
		}

		lines = append(lines, line)
	}

	return Manifest{lines: lines}
}

// Load reads and normalizes the manifest at path. A missing file yields an
// empty manifest, apps without third party dependencies are fine.
func Load(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Manifest{}, nil
	}
	if err != nil {
		return Manifest{}, fmt.Errorf("reading manifest: %w", err)
	}

	return Parse(data), nil
}

// Entries returns the requirement lines without comments.
func (m Manifest) Entries() []string {
	var entries []string
	for _, line := range m.lines {
		if strings.HasPrefix(line, "#") {
			continue
		}
		entries = append(entries, line)
	}

	return entries
}

// Empty reports whether the manifest holds no installable entries.
func (m Manifest) Empty() bool {
	return len(m.Entries()) == 0
}

// Content renders the normalized manifest as fed to the installer.
func (m Manifest) Content() []byte {
	return []byte(strings.Join(m.lines, "\n"))
}

// Digest returns the content digest of the normalized manifest.
func (m Manifest) Digest() digest.Digest {
	return digest.FromBytes(m.Content())
}
