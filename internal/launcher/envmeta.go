package launcher

import (
	"encoding/json"
	"fmt"
	"os"
	"path"
	"time"

	"github.com/opencontainers/go-digest"
)

// EnvMeta is written into every published environment. Starting an app
// from a cached environment needs the pinned runtime context without
// re-running the pipeline.
type EnvMeta struct {
	Runtime    string        `json:"runtime"`
	Digest     digest.Digest `json:"digest"`
	Env        []string      `json:"env,omitempty"`
	Entrypoint string        `json:"entrypoint"`
	BuiltAt    time.Time     `json:"built_at"`
}

const metaDir = "pyhost"

func WriteEnvMeta(envDir string, meta EnvMeta) error {
	dir := path.Join(envDir, metaDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create meta directory: %w", err)
	}

	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal env meta: %w", err)
	}

	if err := os.WriteFile(path.Join(dir, "meta.json"), data, 0o644); err != nil {
		return fmt.Errorf("write env meta: %w", err)
	}

	return nil
}

func ReadEnvMeta(envDir string) (*EnvMeta, error) {
	data, err := os.ReadFile(path.Join(envDir, metaDir, "meta.json"))
	if err != nil {
		return nil, fmt.Errorf("read env meta: %w", err)
	}

	var meta EnvMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("parse env meta: %w", err)
	}

	return &meta, nil
}
