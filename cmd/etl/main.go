package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/johndauphine/etl-orchestrator/internal/exitcodes"
	"github.com/johndauphine/etl-orchestrator/internal/logging"

	// Store drivers register themselves with the driver registry.
	_ "github.com/johndauphine/etl-orchestrator/internal/driver/mssql"
	_ "github.com/johndauphine/etl-orchestrator/internal/driver/mysql"
	_ "github.com/johndauphine/etl-orchestrator/internal/driver/postgres"
	_ "github.com/johndauphine/etl-orchestrator/internal/driver/redis"
)

var version = "dev"

func main() {
	app := &cli.App{
		Name:    "etl",
		Usage:   "Define connections and tasks, then run them",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to configuration file (defaults apply when omitted)",
				EnvVars: []string{"ETL_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "data-dir",
				Usage: "Directory for the sqlite metadata store",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Value: "text",
				Usage: "Log format: text or json",
			},
			&cli.StringFlag{
				Name:  "verbosity",
				Value: "info",
				Usage: "Log verbosity level (debug, info, warn, error)",
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Print results as JSON on stdout (logs go to stderr)",
			},
		},
		Before: func(c *cli.Context) error {
			level, err := logging.ParseLevel(c.String("verbosity"))
			if err != nil {
				return err
			}
			logging.SetLevel(level)

			if c.String("log-format") == "json" {
				logging.SetFormat("json")
			}

			// Keep stdout clean for machine-readable output
			if c.Bool("json") {
				logging.SetOutput(os.Stderr)
			}
			return nil
		},
		Commands: []*cli.Command{
			connectionCommand(),
			taskCommand(),
			sqlCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		code := exitcodes.FromError(err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		logging.Debug("Exiting with code %d (%s)", code, exitcodes.Description(code))
		os.Exit(code)
	}
}
