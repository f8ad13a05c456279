package main

import (
	"errors"
	"fmt"

	"github.com/urfave/cli/v2"

	infrahub "github.com/opsmill/infrahub-sdk-go"
)

func branchCommand() *cli.Command {
	return &cli.Command{
		Name:  "branch",
		Usage: "manage branches",
		Subcommands: []*cli.Command{
			branchListCommand(),
			branchCreateCommand(),
			branchDeleteCommand(),
			branchMergeCommand(),
			branchRebaseCommand(),
		},
	}
}

func branchListCommand() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "list all branches",
		Action: func(c *cli.Context) error {
			client, err := newClient(c)
			if err != nil {
				return err
			}

			branches, err := client.Branches().All(c.Context)
			if err != nil {
				return err
			}

			rows := make([][]string, 0, len(branches))
			for _, b := range branches {
				name := b.Name
				if b.IsDefault {
					name = name + " " + mutedStyle.Render("(default)")
				}
				rows = append(rows, []string{
					name,
					b.Description,
					b.OriginBranch,
					yesNo(b.SyncWithGit),
					yesNo(b.HasSchemaChanges),
				})
			}
			fmt.Print(renderTable(
				[]string{"NAME", "DESCRIPTION", "ORIGIN", "SYNC WITH GIT", "SCHEMA CHANGES"},
				rows,
			))
			return nil
		},
	}
}

func branchCreateCommand() *cli.Command {
	return &cli.Command{
		Name:      "create",
		Usage:     "create a branch",
		ArgsUsage: "<name>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "description",
				Aliases: []string{"d"},
				Usage:   "branch description",
			},
			&cli.BoolFlag{
				Name:  "sync-with-git",
				Usage: "keep the branch in sync with git repositories",
			},
			&cli.BoolFlag{
				Name:  "background",
				Usage: "create the branch without waiting for completion",
			},
		},
		Action: func(c *cli.Context) error {
			name := c.Args().First()
			if name == "" {
				return errors.New("a branch name is required")
			}

			client, err := newClient(c)
			if err != nil {
				return err
			}

			branch, err := client.Branches().Create(c.Context, infrahub.BranchCreateParams{
				Name:                name,
				Description:         c.String("description"),
				SyncWithGit:         c.Bool("sync-with-git"),
				BackgroundExecution: c.Bool("background"),
			})
			if err != nil {
				return err
			}

			fmt.Println(successStyle.Render("Branch created: ") + branch.Name)
			return nil
		},
	}
}

func branchDeleteCommand() *cli.Command {
	return branchActionCommand("delete", "delete a branch",
		func(c *cli.Context, client *infrahub.Client, name string) error {
			return client.Branches().Delete(c.Context, name)
		})
}

func branchMergeCommand() *cli.Command {
	return branchActionCommand("merge", "merge a branch into the default branch",
		func(c *cli.Context, client *infrahub.Client, name string) error {
			return client.Branches().Merge(c.Context, name)
		})
}

func branchRebaseCommand() *cli.Command {
	return branchActionCommand("rebase", "rebase a branch onto the default branch",
		func(c *cli.Context, client *infrahub.Client, name string) error {
			return client.Branches().Rebase(c.Context, name)
		})
}

// branchActionCommand builds a subcommand that runs one lifecycle action on
// a named branch.
func branchActionCommand(name, usage string, run func(*cli.Context, *infrahub.Client, string) error) *cli.Command {
	return &cli.Command{
		Name:      name,
		Usage:     usage,
		ArgsUsage: "<name>",
		Action: func(c *cli.Context) error {
			branch := c.Args().First()
			if branch == "" {
				return errors.New("a branch name is required")
			}

			client, err := newClient(c)
			if err != nil {
				return err
			}
			if err := run(c, client, branch); err != nil {
				return err
			}

			fmt.Println(successStyle.Render(fmt.Sprintf("Branch %sd: ", name)) + branch)
			return nil
		},
	}
}
