package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"
)

// Version and BuildDate can be set at build time via ldflags.
var (
	Version   string = "0.0.1"
	BuildDate string = "unknown"

	AppName string = "trafficsimd"
)

func main() {
	root := &cli.Command{
		Name:    AppName,
		Usage:   "sharded city traffic simulation daemon",
		Version: Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   ".",
				Usage:   "directory containing config.json",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "run the simulation until interrupted",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "mcp",
						Usage: "serve the MCP control surface on stdin/stdout",
					},
				},
				Action: runAction,
			},
			{
				Name:   "validate",
				Usage:  "check the city layout and tuning files without starting a run",
				Action: validateAction,
			},
			{
				Name:  "export",
				Usage: "build a replay JSON file from the journal database",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "run-id",
						Usage: "run to export (defaults to the most recent run)",
					},
					&cli.StringFlag{
						Name:  "output",
						Value: "./replays",
						Usage: "output directory for the replay file",
					},
				},
				Action: exportAction,
			},
			{
				Name:  "version",
				Usage: "print version information",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					fmt.Printf("%s %s (built %s)\n", AppName, Version, BuildDate)
					return nil
				},
			},
		},
		// Bare invocation starts a run.
		Action: runAction,
	}

	if err := root.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
