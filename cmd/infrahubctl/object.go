package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/opsmill/infrahub-sdk-go/objectfile"
)

func objectCommand() *cli.Command {
	return &cli.Command{
		Name:  "object",
		Usage: "manage objects defined in files",
		Subcommands: []*cli.Command{
			loadCommand("load", "create objects from object files", objectfile.KindObject),
		},
	}
}

func menuCommand() *cli.Command {
	return &cli.Command{
		Name:  "menu",
		Usage: "manage menu definitions",
		Subcommands: []*cli.Command{
			loadCommand("load", "create menu entries from menu files", objectfile.KindMenu),
		},
	}
}

// loadCommand builds a subcommand that applies every document of the wanted
// kind found in the given files or directories.
func loadCommand(name, usage string, want objectfile.FileKind) *cli.Command {
	return &cli.Command{
		Name:      name,
		Usage:     usage,
		ArgsUsage: "<path>...",
		Action: func(c *cli.Context) error {
			if c.Args().Len() == 0 {
				return errors.New("at least one file or directory is required")
			}

			files, err := collectFiles(c.Args().Slice(), want)
			if err != nil {
				return err
			}
			if len(files) == 0 {
				return fmt.Errorf("no %s documents found", want)
			}

			client, err := newClient(c)
			if err != nil {
				return err
			}

			loader := objectfile.NewLoader(client,
				objectfile.WithBranch(c.String("branch")),
				objectfile.WithLogger(newLogger(c.Bool("debug"))),
			)

			nodes, err := loader.ApplyAll(c.Context, files)
			for _, node := range nodes {
				label := node.DisplayLabel()
				if label == "" {
					label = node.ID()
				}
				fmt.Printf("%s %s %s\n", successStyle.Render("created"), node.Kind(), label)
			}
			if err != nil {
				return err
			}

			fmt.Println(titleStyle.Render(fmt.Sprintf("%d nodes created", len(nodes))))
			return nil
		},
	}
}

// collectFiles loads the documents at the given paths, walking directories,
// and keeps those of the wanted kind.
func collectFiles(paths []string, want objectfile.FileKind) ([]objectfile.File, error) {
	var files []objectfile.File
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, err
		}

		var loaded []objectfile.File
		if info.IsDir() {
			loaded, err = objectfile.LoadDirectory(path)
		} else {
			loaded, err = objectfile.Load(path)
		}
		if err != nil {
			return nil, err
		}

		for _, f := range loaded {
			if f.Kind != want {
				fmt.Fprintln(os.Stderr, warnStyle.Render(
					fmt.Sprintf("skipping %s document in %s", f.Kind, f.Path)))
				continue
			}
			files = append(files, f)
		}
	}
	return files, nil
}
