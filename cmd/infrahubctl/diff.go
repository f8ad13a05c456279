package main

import (
	"errors"
	"fmt"

	"github.com/urfave/cli/v2"

	infrahub "github.com/opsmill/infrahub-sdk-go"
)

func diffCommand() *cli.Command {
	return &cli.Command{
		Name:      "diff",
		Usage:     "show the changes a branch carries",
		ArgsUsage: "<branch>",
		Action: func(c *cli.Context) error {
			branch := c.Args().First()
			if branch == "" {
				branch = c.String("branch")
			}
			if branch == "" {
				return errors.New("a branch name is required")
			}

			client, err := newClient(c)
			if err != nil {
				return err
			}

			diffs, err := client.GetDiffSummary(c.Context, branch)
			if err != nil {
				return err
			}
			if len(diffs) == 0 {
				fmt.Println(mutedStyle.Render("No changes on " + branch))
				return nil
			}

			for _, diff := range diffs {
				printNodeDiff(diff)
			}
			return nil
		},
	}
}

func printNodeDiff(diff infrahub.NodeDiff) {
	label := diff.DisplayLabel
	if label == "" {
		label = diff.ID
	}
	fmt.Printf("%s %s %s\n", actionStyle(diff.Action).Render(diff.Action), diff.Kind, label)

	for _, element := range diff.Elements {
		summary := fmt.Sprintf("+%d ~%d -%d",
			element.Summary.Added, element.Summary.Updated, element.Summary.Removed)
		fmt.Printf("    %s %s %s\n",
			actionStyle(element.Action).Render(element.Action),
			element.Name,
			mutedStyle.Render(summary))

		for _, peer := range element.Peers {
			fmt.Printf("        %s %s\n", peer.Kind, mutedStyle.Render(peer.ID))
		}
	}
}
