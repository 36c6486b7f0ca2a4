package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/almanac/internal/history"
)

func newHistoryCmd() *cobra.Command {
	var (
		configPath string
		limit      int
		from, to   string
	)

	cmd := &cobra.Command{
		Use:   "history <org> [entry-id]",
		Short: "Show the change history of an organization",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := history.ListOptions{Limit: limit}
			var err error
			if opts.From, err = parseDate(from); err != nil {
				return err
			}
			if opts.To, err = parseDate(to); err != nil {
				return err
			}
			if !opts.To.IsZero() {
				opts.To = opts.To.AddDate(0, 0, 1).Add(-time.Nanosecond)
			}

			ctx := context.Background()
			a, err := openApp(ctx, configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			if len(args) == 2 {
				e, err := history.GetEntry(ctx, a.st, args[0], args[1])
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%s  %s by %s at %s\n", e.ID, e.Type, e.ChangedBy, formatTime(&e.ChangedAt))
				if e.Comment != "" {
					fmt.Fprintf(out, "  %s\n", e.Comment)
				}
				printChanges(out, e.Changes)
				return nil
			}

			list, err := history.List(ctx, a.st, args[0], opts)
			if err != nil {
				return err
			}
			if len(list) == 0 {
				fmt.Fprintln(out, "No history found.")
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTYPE\tSOURCE\tCHANGES\tBY\tAT")
			for _, e := range list {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
					e.ID, e.Type, e.Source, e.ChangeCount, e.ChangedBy, formatTime(&e.ChangedAt))
			}
			w.Flush()
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum entries to show")
	cmd.Flags().StringVar(&from, "from", "", "earliest date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&to, "to", "", "latest date, inclusive (YYYY-MM-DD)")
	return cmd
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.ParseInLocation(time.DateOnly, s, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, expected YYYY-MM-DD", s)
	}
	return t, nil
}
