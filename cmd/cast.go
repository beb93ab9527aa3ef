package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/sandwichfarm/cassette/pkg/builder"
	"github.com/sandwichfarm/cassette/pkg/config"
	"github.com/sandwichfarm/cassette/pkg/event"
	"github.com/sandwichfarm/cassette/pkg/stage"
)

// CastCommand creates the cast command: it builds a cassette from a
// staged batch or an NDJSON file, and with --watch keeps rebuilding it
// whenever the source changes (SPEC_FULL.md §4.7's supplemental
// `cast --watch` feature).
func CastCommand() *cli.Command {
	return &cli.Command{
		Name:  "cast",
		Usage: "Build a cassette from the staged batch or an event file",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "source",
				Usage: "NDJSON event file to build from (default: the staged batch)",
			},
			&cli.StringFlag{
				Name:  "name",
				Usage: "Cassette name",
				Value: "cassette",
			},
			&cli.BoolFlag{
				Name:  "watch",
				Usage: "Rebuild whenever the source file changes",
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			return cast(ctx, c.String("config"), c.String("source"), c.String("name"), c.Bool("watch"))
		},
	}
}

func cast(ctx context.Context, configPath, source, name string, watch bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	rebuild := func() error {
		events, err := loadCastEvents(ctx, cfg, source)
		if err != nil {
			return err
		}
		result, err := builder.Build(events, builder.Meta{
			Name:    name,
			Created: time.Now().Unix(),
		}, builder.Options{
			OutputDir:  cfg.Builder.OutputDir,
			OutputName: name,
			Compress:   cfg.Builder.Compress,
			GoBinary:   cfg.Builder.GoBinary,
		})
		if err != nil {
			return fmt.Errorf("building cassette: %w", err)
		}
		fmt.Printf("built %s (%d events)\n", result.WasmPath, result.EventCount)
		return nil
	}

	if !watch {
		return rebuild()
	}
	if source == "" {
		return fmt.Errorf("cast --watch requires --source, since the staged batch has no file to watch")
	}
	return builder.Watch(ctx, source, cfg.Builder.WatchDebounce.Duration, rebuild)
}

func loadCastEvents(ctx context.Context, cfg *config.Config, source string) ([]event.Event, error) {
	if source == "" {
		st, err := stage.Open(stageDBPath(cfg), nil)
		if err != nil {
			return nil, fmt.Errorf("opening stage: %w", err)
		}
		defer st.Close()
		return st.All(ctx)
	}

	f, err := os.Open(source)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", source, err)
	}
	defer f.Close()

	events, _, err := readNDJSON(f)
	return events, err
}
