package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"pawpal-relay/internal/config"
	"pawpal-relay/internal/features"
)

func newFeaturesCmd(resolve func() (config.Client, error)) *cobra.Command {
	var showPrompt bool

	cmd := &cobra.Command{
		Use:   "features",
		Short: "List the suggestion features",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolve()
			if err != nil {
				return err
			}
			catalog, err := features.Load(cfg.FeaturesFile)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if showPrompt {
				for _, f := range catalog.List() {
					fmt.Fprintf(out, "== %s ==\n%s\n\n", f.Key, f.SystemPrompt())
				}
				return nil
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "KEY\tINPUT\tCOUNT\tDESCRIPTION")
			for _, f := range catalog.List() {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", f.Key, f.Input, f.Count, f.Description)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().BoolVar(&showPrompt, "prompts", false, "print each feature's system prompt")
	return cmd
}
