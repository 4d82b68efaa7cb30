package envfile

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestLoadMissingFile(t *testing.T) {
	vars, err := Load(filepath.Join(t.TempDir(), "nope.env"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(vars) != 0 {
		t.Errorf("expected empty vars, got %v", vars)
	}
}

func TestLoadParsesQuotedValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.env")
	content := "TOKEN=\"abc123\"\n# a comment\nDEBUG=1\nNAME='tele bot'\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	vars, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	want := map[string]string{"TOKEN": "abc123", "DEBUG": "1", "NAME": "tele bot"}
	if !reflect.DeepEqual(vars, want) {
		t.Errorf("Load() = %v, want %v", vars, want)
	}
}

func TestAppendKeepsExistingVars(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.env")

	if err := Append(path, "A=1"); err != nil {
		t.Fatalf("first Append failed: %v", err)
	}
	if err := Append(path, "B=2"); err != nil {
		t.Fatalf("second Append failed: %v", err)
	}

	vars, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	want := map[string]string{"A": "1", "B": "2"}
	if !reflect.DeepEqual(vars, want) {
		t.Errorf("Load() = %v, want %v", vars, want)
	}
}

func TestAppendRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.env")
	if err := Append(path, "this is not an env file"); err == nil {
		t.Error("expected error for invalid syntax")
	}

	if _, err := os.Stat(path); err == nil {
		t.Error("invalid input should not create the file")
	}
}

func TestOverlay(t *testing.T) {
	base := []string{"PATH=/usr/bin", "HOME=/root", "LANG=C"}
	got := Overlay(base, map[string]string{"HOME": "/app", "TOKEN": "x"})

	want := []string{"PATH=/usr/bin", "LANG=C", "HOME=/app", "TOKEN=x"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Overlay() = %v, want %v", got, want)
	}
}
