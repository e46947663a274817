package main

import (
	"fmt"
	"io"
	"os"

	"github.com/go-errors/errors"
	"github.com/spf13/cobra"

	"github.com/andrewstucki/icontools/cluster"
)

const helpString = `Compare two collections of clusters.

Each file holds a list of label sets, either pickled or as JSON/YAML. The
first two files given are compared set by set.`

func newCommand() *cobra.Command {
	var (
		lists   []string
		matches bool
	)
	cmd := &cobra.Command{
		Use:           "listcompare [-l FILE]... [FILE]...",
		Short:         "Compare two collections of clusters",
		Long:          helpString,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.OutOrStdout(), append(lists, args...), matches)
		},
	}
	cmd.Flags().StringArrayVarP(&lists, "lists", "l", nil, "label set file to compare (repeatable)")
	cmd.Flags().BoolVar(&matches, "matches", false, "print every matched intersection")
	return cmd
}

func run(out io.Writer, paths []string, matches bool) error {
	collections, err := cluster.LoadAll(paths)
	if err != nil {
		return err
	}
	report := cluster.Compare(collections[0], collections[1])
	if matches {
		if err := report.WriteMatches(out); err != nil {
			return err
		}
		fmt.Fprintln(out)
	}
	return report.WriteSummary(out)
}

func main() {
	if err := newCommand().Execute(); err != nil {
		if errors.Is(err, cluster.ErrInsufficientInput) {
			fmt.Println("Required at least 2 lists")
			os.Exit(1)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
