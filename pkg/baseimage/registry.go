package baseimage

import (
	"context"
	"fmt"
	"runtime"
	"strings"

	"github.com/google/go-containerregistry/pkg/name"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/opencontainers/go-digest"
)

// RegistryResolver pins a base runtime against a container registry using
// go-containerregistry. The registry image is the source of truth for the
// runtime's identity (digest) and baked-in environment, execution itself
// happens with a matching host interpreter.
//
// Image references need to be fully quallified like docker.io/library/python:3.10
type RegistryResolver struct {
	imageRef name.Reference
}

// NewRegistryResolver creates a resolver for the given image reference
// ref can be:
//   - "python:3.10" (defaults to docker.io/library)
//   - "docker.io/python:3.10"
//   - "ghcr.io/owner/repo:tag"
//   - "localhost:5000/image:tag"
func NewRegistryResolver(imageRef string) (Resolver, error) {
	ref, err := name.ParseReference(NormalizeRef(imageRef))
	if err != nil {
		return nil, fmt.Errorf("invalid runtime reference: %w", err)
	}

	return &RegistryResolver{
		imageRef: ref,
	}, nil
}

// NormalizeRef adds the docker.io default when no registry is specified.
func NormalizeRef(imageRef string) string {
	if !strings.Contains(imageRef, "/") {
		return "docker.io/library/" + imageRef
	}
	// If first component has no dots or colons, prepend docker.io
	if !strings.Contains(strings.Split(imageRef, "/")[0], ".") && !strings.Contains(strings.Split(imageRef, "/")[0], ":") {
		return "docker.io/" + imageRef
	}

	return imageRef
}

func (r *RegistryResolver) Info() string {
	return r.imageRef.String()
}

// Resolve fetches digest and config from the registry and pairs them with a
// host interpreter matching the declared version.
func (r *RegistryResolver) Resolve(ctx context.Context) (*Runtime, error) {
	platformStr := fmt.Sprintf("linux/%s", runtime.GOARCH)
	platform, err := v1.ParsePlatform(platformStr)
	if err != nil {
		return nil, fmt.Errorf("could not parse platform: %w", err)
	}

	img, err := remote.Image(r.imageRef, remote.WithContext(ctx), remote.WithPlatform(*platform))
	if err != nil {
		return nil, fmt.Errorf("fetch runtime image: %w", err)
	}

	dgst, err := img.Digest()
	if err != nil {
		return nil, fmt.Errorf("get runtime digest: %w", err)
	}

	cfgFile, err := img.ConfigFile()
	if err != nil {
		return nil, fmt.Errorf("get runtime config: %w", err)
	}
	if cfgFile == nil {
		return nil, fmt.Errorf("no config file in runtime image")
	}

	interpreter, err := findInterpreter(ctx, r.imageRef.Identifier())
	if err != nil {
		return nil, err
	}

	return &Runtime{
		Ref:         r.imageRef.String(),
		Digest:      digest.Digest(dgst.String()),
		Env:         cfgFile.Config.Env,
		Interpreter: interpreter,
	}, nil
}
