package launcher

import (
	"bytes"
	"fmt"

	"github.com/opencontainers/go-digest"
	"github.com/princesrivastav546-cell/pyhost/pkg/recipe"
)

// EnvironmentDescriptor declares everything an application environment is
// built from: the base runtime, the OS packages, the dependency manifest
// location and the entry point. It is assembled once from the recipe and
// passed through the pipeline by value, stages never mutate it.
type EnvironmentDescriptor struct {
	Runtime      string
	OSPackages   []string
	ManifestPath string
	Entrypoint   string
}

// NewDescriptor builds the descriptor for a recipe. The package list is
// copied so later recipe edits cannot leak into a running build.
func NewDescriptor(r recipe.Recipe) EnvironmentDescriptor {
	return EnvironmentDescriptor{
		Runtime:      r.Base,
		OSPackages:   append([]string(nil), r.Packages...),
		ManifestPath: r.Manifest,
		Entrypoint:   r.Entrypoint,
	}
}

// EnvironmentDigest computes the identity of the environment this
// descriptor names once its runtime and requirements are pinned. Equal
// digests mean interchangeable environments, which is what makes rebuilds
// of unchanged inputs cache hits.
func (d EnvironmentDescriptor) EnvironmentDigest(runtimeDigest, manifestDigest digest.Digest) digest.Digest {
	var b bytes.Buffer

	fmt.Fprintf(&b, "runtime %s\n", runtimeDigest)
	for _, pkg := range d.OSPackages {
		fmt.Fprintf(&b, "ospkg %s\n", pkg)
	}
	fmt.Fprintf(&b, "requirements %s\n", manifestDigest)
	fmt.Fprintf(&b, "entrypoint %s\n", d.Entrypoint)

	return digest.FromBytes(b.Bytes())
}
