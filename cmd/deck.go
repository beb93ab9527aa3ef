package cmd

import (
	"context"
	"fmt"
	"net/http"

	"github.com/urfave/cli/v3"

	"github.com/sandwichfarm/cassette/internal/cassettelog"
	"github.com/sandwichfarm/cassette/pkg/config"
	"github.com/sandwichfarm/cassette/pkg/deck"
	"github.com/sandwichfarm/cassette/pkg/loader"
	"github.com/sandwichfarm/cassette/pkg/realtime"
)

var deckLog = cassettelog.ForService("cli")

// DeckCommand creates the deck command: it serves one cassette's NIP-01
// protocol over WebSocket (pkg/deck), instantiating a fresh loader.Loader
// per connection per spec.md §5's single-threaded instance model.
func DeckCommand() *cli.Command {
	return &cli.Command{
		Name:      "deck",
		Usage:     "Serve a cassette's relay protocol over WebSocket",
		ArgsUsage: "<cassette.wasm>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "listen",
				Usage: "Address to listen on (overrides config)",
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			path := c.Args().First()
			if path == "" {
				return fmt.Errorf("deck: a cassette path is required")
			}
			return runDeck(ctx, c.String("config"), path, c.String("listen"))
		},
	}
}

func runDeck(ctx context.Context, configPath, path, listenOverride string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	listen := cfg.Deck.Listen
	if listenOverride != "" {
		listen = listenOverride
	}

	bufSize := cfg.Deck.BroadcastBuf
	hub := realtime.NewHub(bufSize)

	factory := func() (loader.Loader, error) {
		return openLoader(ctx, cfg, path)
	}

	srv := deck.NewServer(factory, hub)
	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)

	deckLog.Infof("serving %s on %s", path, listen)
	return http.ListenAndServe(listen, mux)
}
