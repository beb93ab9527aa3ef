package cmd

import (
	"context"
	"fmt"
	"net/url"

	"github.com/gorilla/websocket"
	"github.com/urfave/cli/v3"
)

// ListenCommand creates the listen command: it attaches to a running
// deck over WebSocket with an open-ended REQ and prints every EVENT
// frame as it arrives, for debugging a live record/deck pipeline.
func ListenCommand() *cli.Command {
	return &cli.Command{
		Name:      "listen",
		Usage:     "Attach to a running deck and print events as they arrive",
		ArgsUsage: "<ws://host:port>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "filter",
				Usage: "NIP-01 filter JSON object (default: {})",
				Value: "{}",
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			addr := c.Args().First()
			if addr == "" {
				return fmt.Errorf("listen: a deck address is required, e.g. ws://127.0.0.1:7979")
			}
			return listen(ctx, addr, c.String("filter"))
		},
	}
}

func listen(ctx context.Context, addr, filterJSON string) error {
	u, err := url.Parse(addr)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", addr, err)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("dialing %s: %w", addr, err)
	}
	defer conn.Close()

	req := fmt.Sprintf(`["REQ","listen",%s]`, filterJSON)
	if err := conn.WriteMessage(websocket.TextMessage, []byte(req)); err != nil {
		return fmt.Errorf("sending REQ: %w", err)
	}

	fmt.Printf("listening on %s (ctrl-c to stop)\n", addr)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("connection closed: %w", err)
		}
		printFrame(string(data))
	}
}
