package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/sandwichfarm/cassette/pkg/builder"
	"github.com/sandwichfarm/cassette/pkg/config"
	"github.com/sandwichfarm/cassette/pkg/event"
	"github.com/sandwichfarm/cassette/pkg/stage"
)

// RecordCommand creates the record command: it reads NDJSON events from
// stdin or a file, validates and stages them (pkg/stage), and can
// optionally build a cassette from the staged batch immediately.
func RecordCommand() *cli.Command {
	return &cli.Command{
		Name:  "record",
		Usage: "Stage incoming NDJSON events ahead of a build",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "source",
				Usage: "NDJSON event file to read (default: stdin)",
			},
			&cli.BoolFlag{
				Name:  "build",
				Usage: "Build a cassette from the staged batch immediately after recording",
			},
			&cli.StringFlag{
				Name:  "name",
				Usage: "Cassette name (used when --build is set)",
				Value: "cassette",
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			return record(ctx, c.String("config"), c.String("source"), c.Bool("build"), c.String("name"))
		},
	}
}

func record(ctx context.Context, configPath, source string, build bool, name string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	st, err := stage.Open(stageDBPath(cfg), nil)
	if err != nil {
		return fmt.Errorf("opening stage: %w", err)
	}
	defer st.Close()

	var r io.Reader = os.Stdin
	if source != "" {
		f, err := os.Open(source)
		if err != nil {
			return fmt.Errorf("opening %s: %w", source, err)
		}
		defer f.Close()
		r = f
	}

	events, skipped, err := readNDJSON(r)
	if err != nil {
		return err
	}

	inserted, err := st.Add(ctx, events)
	if err != nil {
		return fmt.Errorf("staging events: %w", err)
	}
	fmt.Printf("staged %d new events (%d duplicates skipped, %d lines rejected)\n", inserted, len(events)-inserted, skipped)

	if !build {
		return nil
	}

	all, err := st.All(ctx)
	if err != nil {
		return fmt.Errorf("reading staged events: %w", err)
	}

	result, err := builder.Build(all, builder.Meta{
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

// readNDJSON parses one event.Event per non-empty line, skipping (and
// counting) lines that fail to parse or validate rather than aborting
// the whole batch over one bad line.
func readNDJSON(r io.Reader) ([]event.Event, int, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)

	var events []event.Event
	skipped := 0
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e event.Event
		if err := json.Unmarshal(line, &e); err != nil {
			skipped++
			continue
		}
		if err := e.Validate(); err != nil {
			skipped++
			continue
		}
		events = append(events, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, skipped, fmt.Errorf("reading events: %w", err)
	}
	return events, skipped, nil
}
