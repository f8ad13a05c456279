// Command infrahubctl is a CLI for working with an Infrahub server: managing
// branches, loading object and menu files, inspecting diffs, and running
// stored queries.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v2"

	infrahub "github.com/opsmill/infrahub-sdk-go"
)

// version is set at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	app := &cli.App{
		Name:    "infrahubctl",
		Usage:   "interact with an Infrahub server",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "address",
				Aliases: []string{"a"},
				Usage:   "base URL of the server",
				EnvVars: []string{"INFRAHUB_ADDRESS"},
			},
			&cli.StringFlag{
				Name:    "api-token",
				Usage:   "API token used to authenticate",
				EnvVars: []string{"INFRAHUB_API_TOKEN"},
			},
			&cli.StringFlag{
				Name:    "branch",
				Aliases: []string{"b"},
				Usage:   "branch to operate on",
				EnvVars: []string{"INFRAHUB_DEFAULT_BRANCH"},
			},
			&cli.BoolFlag{
				Name:  "insecure",
				Usage: "skip server certificate verification",
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "enable debug logging",
			},
		},
		Commands: []*cli.Command{
			branchCommand(),
			objectCommand(),
			menuCommand(),
			diffCommand(),
			queryCommand(),
			versionCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("Error: ")+err.Error())
		os.Exit(1)
	}
}

// versionCommand prints build version information.
func versionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "print version information",
		Action: func(c *cli.Context) error {
			fmt.Printf("%s %s\n", titleStyle.Render("infrahubctl"), version)
			return nil
		},
	}
}

// newClient builds a client from the environment with flag overrides applied
// on top.
func newClient(c *cli.Context) (*infrahub.Client, error) {
	cfg, err := infrahub.ConfigFromEnv()
	if err != nil {
		return nil, err
	}

	if v := c.String("address"); v != "" {
		cfg.Address = v
	}
	if v := c.String("api-token"); v != "" {
		cfg.APIToken = v
	}
	if v := c.String("branch"); v != "" {
		cfg.DefaultBranch = v
	}
	if c.Bool("insecure") {
		cfg.TLSInsecure = true
	}

	return infrahub.NewClient(
		infrahub.WithConfig(cfg),
		infrahub.WithLogger(newLogger(c.Bool("debug"))),
		infrahub.WithTracker("infrahubctl"),
	)
}

// newLogger returns a stderr logger. Command output goes to stdout, so logs
// never mix with renderable results.
func newLogger(debug bool) *slog.Logger {
	level := slog.LevelWarn
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}
