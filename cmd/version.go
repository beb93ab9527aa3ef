package cmd

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"
)

// Version is the cassette CLI's own version string.
const Version = "0.1.0"

// VersionCommand creates the version command.
func VersionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Print the cassette version",
		Action: func(ctx context.Context, c *cli.Command) error {
			fmt.Printf("cassette version %s\n", Version)
			return nil
		},
	}
}
