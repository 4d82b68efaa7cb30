// Package source provides the ways application trees are materialized:
// local directories, git repositories, single script files and tar.gz
// archives. All implementations fetch the tree unmodified, the build
// pipeline never rewrites application code.
package source

import (
	"context"
	"fmt"
)

// Kind identifies a source implementation. Persisted with the app, so
// values are part of the stored state format.
type Kind string

const (
	KindDir     Kind = "dir"
	KindGit     Kind = "git"
	KindFile    Kind = "file"
	KindArchive Kind = "archive"
)

// Source abstracts where application trees come from (directory, git,
// single file, archive).
type Source interface {
	Fetch(ctx context.Context, targetDir string) error
	Info() string
}

// New constructs the source for a stored kind and reference.
func New(kind Kind, ref string) (Source, error) {
	switch kind {
	case KindDir:
		return NewDir(ref), nil
	case KindGit:
		return NewGit(ref), nil
	case KindFile:
		return NewFile(ref), nil
	case KindArchive:
		return NewArchive(ref), nil
	default:
		return nil, fmt.Errorf("unknown source kind %q", kind)
	}
}
