package recipe

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// FileName is looked up at the root of an application tree.
const FileName = "pyhost.json"

// Defaults applied when an app ships no recipe or leaves fields empty.
const (
	DefaultBase       = "python:3.10"
	DefaultManifest   = "requirements.txt"
	DefaultEntrypoint = "bot.py"
)

func DefaultPackages() []string {
	return []string{"procps", "build-essential", "git"}
}

// Recipe declares the build-time inputs of an application environment:
// the base runtime, the OS packages, the dependency manifest and the
// entry point started once the environment is ready.
type Recipe struct {
	Base       string   `json:"base,omitempty"`
	Packages   []string `json:"packages,omitempty"`
	Manifest   string   `json:"manifest,omitempty"`
	Entrypoint string   `json:"entrypoint,omitempty"`
	WantsPort  bool     `json:"wants_port,omitempty"`
	PublicPort int      `json:"public_port,omitempty"`
}

func Default() Recipe {
	return Recipe{
		Base:       DefaultBase,
		Packages:   DefaultPackages(),
		Manifest:   DefaultManifest,
		Entrypoint: DefaultEntrypoint,
	}
}

// Load reads the recipe from an application tree. A missing file yields
// the defaults, everything else is fatal for the build.
func Load(appDir string) (Recipe, error) {
	data, err := os.ReadFile(filepath.Join(appDir, FileName))
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return Recipe{}, fmt.Errorf("reading %s: %w", FileName, err)
	}

	return Parse(data)
}

// Parse decodes a recipe and fills empty fields with the defaults.
func Parse(data []byte) (Recipe, error) {
	var r Recipe

	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&r); err != nil {
		return Recipe{}, fmt.Errorf("parsing %s: %w", FileName, err)
	}

	if r.Base == "" {
		r.Base = DefaultBase
	}
	if r.Packages == nil {
		r.Packages = DefaultPackages()
	}
	if r.Manifest == "" {
		r.Manifest = DefaultManifest
	}
	if r.Entrypoint == "" {
		r.Entrypoint = DefaultEntrypoint
	}
	// exposing a port makes no sense unless the app gets one assigned
	if r.PublicPort > 0 {
		r.WantsPort = true
	}

	if err := r.validate(); err != nil {
		return Recipe{}, err
	}

	return r, nil
}

func (r Recipe) validate() error {
	if err := checkRelPath(r.Entrypoint); err != nil {
		return fmt.Errorf("entrypoint: %w", err)
	}
	if err := checkRelPath(r.Manifest); err != nil {
		return fmt.Errorf("manifest: %w", err)
	}

	for _, pkg := range r.Packages {
		if strings.TrimSpace(pkg) == "" {
			return errors.New("packages: empty package name")
		}
	}

	if r.PublicPort < 0 || r.PublicPort > 65535 {
		return fmt.Errorf("public_port %d out of range", r.PublicPort)
	}

	return nil
}

// checkRelPath rejects paths that could escape the application tree.
func checkRelPath(p string) error {
	if p == "" {
		return errors.New("must not be empty")
	}
	if filepath.IsAbs(p) {
		return fmt.Errorf("%s must be relative to the app root", p)
	}

	clean := filepath.Clean(p)
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return fmt.Errorf("%s escapes the app root", p)
	}

	return nil
}
