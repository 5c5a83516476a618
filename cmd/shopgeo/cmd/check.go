package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newCheckCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Load the dataset and report collection sizes and dangling references",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := bootstrap(opts)
			if err != nil {
				return err
			}
			defer func() { _ = a.logger.Sync() }()

			if err := a.loadDataset(cmd.Context()); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, kind := range a.dataset.Kinds() {
				fmt.Fprintf(out, "%-12s %d\n", kind, a.dataset.Len(kind))
			}

			dangling := a.reportIntegrity()
			for _, d := range dangling {
				fmt.Fprintf(out, "dangling: %s\n", d)
			}
			if len(dangling) > 0 {
				return fmt.Errorf("%d dangling references", len(dangling))
			}
			fmt.Fprintln(out, "ok")
			return nil
		},
	}
}
