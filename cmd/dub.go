package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/sandwichfarm/cassette/pkg/builder"
	"github.com/sandwichfarm/cassette/pkg/config"
	"github.com/sandwichfarm/cassette/pkg/event"
	"github.com/sandwichfarm/cassette/pkg/filter"
)

// DubCommand creates the dub command: it merges the events out of N
// built cassettes (spec.md §4.7 Dub), optionally narrowed by a filter,
// into one new cassette.
func DubCommand() *cli.Command {
	return &cli.Command{
		Name:      "dub",
		Usage:     "Merge several cassettes into one",
		ArgsUsage: "<cassette1.wasm> <cassette2.wasm> ...",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "name",
				Usage: "Merged cassette name",
				Value: "dub",
			},
			&cli.StringFlag{
				Name:  "filter",
				Usage: "Optional NIP-01 filter JSON object to narrow the merge",
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			paths := c.Args().Slice()
			if len(paths) < 2 {
				return fmt.Errorf("dub: at least two cassette paths are required")
			}
			return dub(ctx, c.String("config"), paths, c.String("name"), c.String("filter"))
		},
	}
}

func dub(ctx context.Context, configPath string, paths []string, name, filterJSON string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	inputs := make([][]event.Event, 0, len(paths))
	for _, path := range paths {
		events, err := drainAllEvents(ctx, cfg, path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		inputs = append(inputs, events)
	}

	var f *filter.Filter
	if filterJSON != "" {
		parsed, err := filter.Parse(json.RawMessage(filterJSON))
		if err != nil {
			return fmt.Errorf("parsing filter: %w", err)
		}
		f = &parsed
	}

	result, err := builder.Dub(inputs, f, builder.Meta{
		Name:    name,
		Created: time.Now().Unix(),
	}, builder.Options{
		OutputDir:  cfg.Builder.OutputDir,
		OutputName: name,
		Compress:   cfg.Builder.Compress,
		GoBinary:   cfg.Builder.GoBinary,
	})
	if err != nil {
		return fmt.Errorf("dubbing: %w", err)
	}
	fmt.Printf("dubbed %s (%d events from %d inputs)\n", result.WasmPath, result.EventCount, len(paths))
	return nil
}

// drainAllEvents opens the cassette at path and pulls every event back
// out via an unfiltered REQ, the same drain idiom pkg/loader.DrainREQ
// implements for a live host, reused here to reconstruct an event batch
// from a compiled artifact rather than its original source file.
func drainAllEvents(ctx context.Context, cfg *config.Config, path string) ([]event.Event, error) {
	l, err := openLoader(ctx, cfg, path)
	if err != nil {
		return nil, err
	}
	defer l.Close(ctx)

	result, err := l.Send(`["REQ","dub",{}]`)
	if err != nil {
		return nil, fmt.Errorf("draining: %w", err)
	}

	lines := result.Multiple
	if result.IsSingle {
		lines = []string{result.Single}
	}

	var events []event.Event
	for _, line := range lines {
		var parsed []json.RawMessage
		if err := json.Unmarshal([]byte(strings.TrimSpace(line)), &parsed); err != nil || len(parsed) < 3 {
			continue
		}
		var verb string
		if err := json.Unmarshal(parsed[0], &verb); err != nil || verb != "EVENT" {
			continue
		}
		var e event.Event
		if err := json.Unmarshal(parsed[2], &e); err != nil {
			continue
		}
		events = append(events, e)
	}

	return events, nil
}
