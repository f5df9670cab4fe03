package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ferro-labs/llm-router/internal/requestlog"
)

func newLogsCmd() *cobra.Command {
	var (
		driver string
		dsn    string
		q      requestlog.Query
		prune  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "List forwarded requests from the request log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := requestlog.Open(driver, dsn)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			if prune > 0 {
				n, err := store.Prune(ctx, time.Now().Add(-prune))
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "pruned %d entries older than %s\n", n, prune)
				return nil
			}

			res, err := store.List(ctx, q)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TIME\tTRACE\tMODEL\tBACKEND\tURL\tENDPOINT\tSTATUS\tMS\tERROR")
			for _, e := range res.Data {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
					e.CreatedAt.Format(time.RFC3339), e.TraceID, e.Model, e.Backend,
					e.BackendURL, e.Endpoint, e.StatusCode, e.DurationMS, e.ErrorMessage)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(out, "\nshowing %d of %d\n", len(res.Data), res.Total)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&driver, "driver", requestlog.DriverSQLite, "request log driver: sqlite or postgres")
	f.StringVar(&dsn, "dsn", "", "request log DSN (sqlite defaults to "+requestlog.DefaultSQLitePath+")")
	f.IntVar(&q.Limit, "limit", 20, "maximum entries to show")
	f.IntVar(&q.Offset, "offset", 0, "entries to skip")
	f.StringVar(&q.Model, "model", "", "only show this model")
	f.StringVar(&q.Backend, "backend", "", "only show this backend (name or URL)")
	f.DurationVar(&prune, "prune", 0, "delete entries older than this age instead of listing")
	return cmd
}
