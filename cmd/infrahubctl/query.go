package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	infrahub "github.com/opsmill/infrahub-sdk-go"
)

func queryCommand() *cli.Command {
	return &cli.Command{
		Name:      "query",
		Usage:     "run a query stored on the server and print its result",
		ArgsUsage: "<name>",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:    "var",
				Aliases: []string{"v"},
				Usage:   "query variable as name=value, repeatable",
			},
			&cli.StringFlag{
				Name:  "at",
				Usage: "read the graph at this point in time",
			},
			&cli.BoolFlag{
				Name:  "update-group",
				Usage: "record the query's results in its group",
			},
			&cli.StringSliceFlag{
				Name:  "subscriber",
				Usage: "subscriber id added to the group update, repeatable",
			},
		},
		Action: func(c *cli.Context) error {
			name := c.Args().First()
			if name == "" {
				return errors.New("a query name is required")
			}

			variables, err := parseVariables(c.StringSlice("var"))
			if err != nil {
				return err
			}

			opts := &infrahub.NamedQueryOptions{
				Branch:      c.String("branch"),
				UpdateGroup: c.Bool("update-group"),
				Subscribers: c.StringSlice("subscriber"),
				Tracker:     "query-" + strings.ToLower(name),
			}
			if at := c.String("at"); at != "" {
				ts, err := infrahub.NewTimestamp(at)
				if err != nil {
					return err
				}
				opts.At = ts
			}

			client, err := newClient(c)
			if err != nil {
				return err
			}

			data, err := client.RunNamedQuery(c.Context, name, variables, opts)
			if err != nil {
				return err
			}

			encoder := json.NewEncoder(os.Stdout)
			encoder.SetIndent("", "  ")
			return encoder.Encode(data)
		},
	}
}

// parseVariables turns repeated name=value flags into a variables map.
func parseVariables(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}

	variables := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid variable %q, expected name=value", pair)
		}
		variables[name] = value
	}
	return variables, nil
}
