package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/urfave/cli/v3"

	"github.com/sandwichfarm/cassette/pkg/config"
	"github.com/sandwichfarm/cassette/pkg/loader"
)

var (
	eventStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	eoseStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	noticeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
)

// PlayCommand creates the play command: it drives a built cassette's
// send() loop against a REQ filter and prints each frame as the guest
// produces it, using loader.Loader.SendFrame directly rather than the
// aggregated Loader.Send so a slow or unbounded cassette streams live.
func PlayCommand() *cli.Command {
	return &cli.Command{
		Name:      "play",
		Usage:     "Drive a cassette's send() loop against a filter and print each frame",
		ArgsUsage: "<cassette.wasm>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "filter",
				Usage: "NIP-01 filter JSON object (default: {})",
				Value: "{}",
			},
			&cli.StringFlag{
				Name:  "sub",
				Usage: "Subscription id used for the REQ frame",
				Value: "play",
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			path := c.Args().First()
			if path == "" {
				return fmt.Errorf("play: a cassette path is required")
			}
			return play(ctx, c.String("config"), path, c.String("sub"), c.String("filter"))
		},
	}
}

func play(ctx context.Context, configPath, path, subID, filterJSON string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	l, err := openLoader(ctx, cfg, path)
	if err != nil {
		return err
	}
	defer l.Close(ctx)

	message := fmt.Sprintf(`["REQ",%q,%s]`, subID, filterJSON)
	tracker := loader.NewEventTracker()

	for {
		response, err := l.SendFrame(message)
		if err != nil {
			return fmt.Errorf("send: %w", err)
		}
		if response == "" {
			fmt.Println(noticeStyle.Render("(empty response, stopping)"))
			return nil
		}

		done := false
		for _, line := range strings.Split(strings.TrimSpace(response), "\n") {
			if isDuplicateEvent(line, tracker) {
				continue
			}
			printFrame(line)
			if strings.Contains(line, `"EOSE"`) || strings.Contains(line, `"CLOSED"`) {
				done = true
			}
		}
		if done {
			return nil
		}
	}
}

// isDuplicateEvent reports whether line is an EVENT frame whose id this
// tracker has already seen, the same re-REQ dedup obligation
// loader.DrainREQ applies to the aggregated Send path (spec.md §6.2
// step 6), needed here too since play drives SendFrame directly.
func isDuplicateEvent(line string, tracker *loader.EventTracker) bool {
	var parsed []json.RawMessage
	if err := json.Unmarshal([]byte(line), &parsed); err != nil || len(parsed) < 3 {
		return false
	}
	var verb string
	if err := json.Unmarshal(parsed[0], &verb); err != nil || verb != "EVENT" {
		return false
	}
	var ev map[string]any
	if err := json.Unmarshal(parsed[2], &ev); err != nil {
		return false
	}
	id, ok := ev["id"].(string)
	if !ok {
		return false
	}
	return !tracker.AddAndCheck(id)
}

func printFrame(line string) {
	switch {
	case strings.Contains(line, `"EVENT"`):
		fmt.Println(eventStyle.Render(line))
	case strings.Contains(line, `"EOSE"`), strings.Contains(line, `"CLOSED"`):
		fmt.Println(eoseStyle.Render(line))
	case strings.Contains(line, `"NOTICE"`):
		fmt.Println(noticeStyle.Render(line))
	default:
		fmt.Println(line)
	}
}
