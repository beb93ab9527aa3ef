// Package cmd implements the cassette CLI's subcommands as Command
// constructors consumed by the root binary, one file per subcommand, in
// the same shape as the teacher's own cmd/serve.go.
package cmd

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/sandwichfarm/cassette/pkg/config"
	"github.com/sandwichfarm/cassette/pkg/loader"
	wasmtimeloader "github.com/sandwichfarm/cassette/pkg/loader/wasmtime"
)

// stageDBPath returns the staging database path under cfg's stage
// directory.
func stageDBPath(cfg *config.Config) string {
	return filepath.Join(cfg.StageDir, "stage.db")
}

// openLoader instantiates the cassette at path using cfg's configured
// backend ("wazero", the default, or "wasmtime").
func openLoader(ctx context.Context, cfg *config.Config, path string) (loader.Loader, error) {
	switch cfg.Loader.Backend {
	case "", "wazero":
		l, err := loader.LoadWazero(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("loading %s via wazero: %w", path, err)
		}
		return l, nil
	case "wasmtime":
		l, err := wasmtimeloader.Load(path)
		if err != nil {
			return nil, fmt.Errorf("loading %s via wasmtime: %w", path, err)
		}
		return l, nil
	default:
		return nil, fmt.Errorf("unknown loader backend %q", cfg.Loader.Backend)
	}
}
