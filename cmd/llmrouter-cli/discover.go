package main

import (
	"fmt"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	llmrouter "github.com/ferro-labs/llm-router"
)

func newDiscoverCmd() *cobra.Command {
	var failOnError bool
	cmd := &cobra.Command{
		Use:   "discover <config-file>",
		Short: "Run one discovery cycle and print the routing table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadValidConfig(args[0])
			if err != nil {
				return err
			}
			gw, err := llmrouter.New(*cfg)
			if err != nil {
				return err
			}
			defer func() { _ = gw.Close() }()

			res := gw.Refresh(cmd.Context())

			out := cmd.OutOrStdout()
			routes := gw.Cache().Routes()
			models := make([]string, 0, len(routes))
			for m := range routes {
				models = append(models, m)
			}
			sort.Strings(models)

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "MODEL\tBACKEND")
			for _, m := range models {
				fmt.Fprintf(tw, "%s\t%s\n", m, routes[m])
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(out, "\n%d models, %d tags in %s\n", res.Models, res.Tags, res.Duration.Round(time.Millisecond))

			if len(res.Errors) > 0 {
				fmt.Fprintf(out, "\n%d backend errors:\n", len(res.Errors))
				for _, e := range res.Errors {
					fmt.Fprintf(out, "  %s\n", e)
				}
				if failOnError {
					return fmt.Errorf("%d backends failed discovery", len(res.Errors))
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&failOnError, "strict", false, "exit non-zero if any backend fails")
	return cmd
}
