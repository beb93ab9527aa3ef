package main

import (
	"context"
	"log"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/sandwichfarm/cassette/cmd"
	"github.com/sandwichfarm/cassette/internal/cassettelog"
	"github.com/sandwichfarm/cassette/pkg/config"
)

func main() {
	app := &cli.Command{
		Name:  "cassette",
		Usage: "Package, build, and serve NIP-01 events as self-contained WebAssembly relays",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Enable debug logging",
				Value: false,
			},
			&cli.StringFlag{
				Name:  "config",
				Usage: "Configuration file path",
				Value: config.DefaultConfigPath(),
			},
		},
		Before: func(ctx context.Context, c *cli.Command) (context.Context, error) {
			if c.Bool("debug") {
				cassettelog.SetGlobalDebug(true)
			}
			return ctx, nil
		},
		Commands: []*cli.Command{
			cmd.InitCommand(),
			cmd.RecordCommand(),
			cmd.CastCommand(),
			cmd.PlayCommand(),
			cmd.DubCommand(),
			cmd.DeckCommand(),
			cmd.ListenCommand(),
			cmd.VersionCommand(),
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}
