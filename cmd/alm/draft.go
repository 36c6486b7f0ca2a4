package main

import (
	"context"
	"fmt"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/almanac/internal/draft"
	"github.com/zulandar/almanac/internal/variable"
)

func newDraftCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "draft",
		Aliases: []string{"drafts"},
		Short:   "Review and publish drafts",
	}

	cmd.AddCommand(newDraftListCmd())
	cmd.AddCommand(newDraftShowCmd())
	cmd.AddCommand(newDraftApproveCmd())
	cmd.AddCommand(newDraftRejectCmd())
	cmd.AddCommand(newDraftDeleteCmd())
	cmd.AddCommand(newDraftStatsCmd())
	return cmd
}

func newDraftListCmd() *cobra.Command {
	var (
		configPath string
		orgID      string
		status     string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List drafts",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := openApp(ctx, configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			list, err := draft.List(ctx, a.st, orgID, status)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(list) == 0 {
				fmt.Fprintln(out, "No drafts found.")
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ORG\tSERVICE\tSTATUS\tFILLED\tMISSING\tUPDATED")
			for _, d := range list {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n",
					d.OrgID, d.Service, d.Status, d.FilledCount, d.MissingCount, d.UpdatedAt.Local().Format(time.DateTime))
			}
			w.Flush()
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVar(&orgID, "org", "", "filter by organization")
	cmd.Flags().StringVar(&status, "status", "", "filter by status (draft, pending_review, approved, rejected)")
	return cmd
}

func newDraftShowCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "show <org> <service>",
		Short: "Show a draft against the published values",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := openApp(ctx, configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			d, err := draft.Get(ctx, a.st, args[0], args[1])
			if err != nil {
				return err
			}
			current, err := variable.Load(ctx, a.st, d.OrgID)
			if err != nil {
				return err
			}
			cmp := draft.Compare(d, current)

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Draft %s (%s)\n", d.ID, d.Status)
			fmt.Fprintf(out, "  %d added, %d modified, %d missing\n", cmp.AddedCount, cmp.ModifiedCount, len(d.MissingVariables))
			if pa := d.Metadata.PendingApproval; pa != nil {
				fmt.Fprintf(out, "  approval by %s in progress since %s\n", pa.Actor, formatTime(&pa.StartedAt))
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "VARIABLE\tCHANGE\tPUBLISHED\tDRAFT")
			for _, e := range cmp.Entries {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.VariableName, e.Change, truncate(deref(e.OldValue), 40), truncate(e.NewValue, 40))
			}
			for _, name := range d.MissingVariables {
				fmt.Fprintf(w, "%s\tmissing\t-\t-\n", name)
			}
			w.Flush()

			for _, s := range d.Suggestions {
				fmt.Fprintf(out, "Suggestion for %s (%s): %s\n", s.VariableName, s.Status, s.Reason)
			}
			for _, e := range d.Errors {
				fmt.Fprintf(out, "Error %s: %s\n", e.Code, e.Message)
			}
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func newDraftApproveCmd() *cobra.Command {
	var configPath, actor string

	cmd := &cobra.Command{
		Use:   "approve <org> <service>",
		Short: "Publish a draft's values",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := openApp(ctx, configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.svc.Approve(ctx, args[0], args[1], actor)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Approved %s: %d change(s), history entry %s\n", res.Draft.ID, len(res.Changes), res.HistoryEntryID)
			changes := res.Changes
			sort.Slice(changes, func(i, j int) bool { return changes[i].VariableName < changes[j].VariableName })
			for _, c := range changes {
				fmt.Fprintf(out, "  %s: %s -> %s\n", c.VariableName, deref(c.OldValue), deref(c.NewValue))
			}
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	addActorFlag(cmd, &actor)
	return cmd
}

func newDraftRejectCmd() *cobra.Command {
	var configPath, actor, reason string

	cmd := &cobra.Command{
		Use:   "reject <org> <service>",
		Short: "Reject a draft",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := openApp(ctx, configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			d, err := a.svc.Reject(ctx, args[0], args[1], actor, reason)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Rejected %s\n", d.ID)
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	addActorFlag(cmd, &actor)
	cmd.Flags().StringVarP(&reason, "reason", "r", "", "why the draft is rejected")
	return cmd
}

func newDraftDeleteCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "delete <org> <service>",
		Short: "Delete a draft",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := openApp(ctx, configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.svc.DeleteDraft(ctx, args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", draft.ID(args[0], args[1]))
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func newDraftStatsCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Count drafts by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := openApp(ctx, configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			stats, err := draft.GetStats(ctx, a.st)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Total: %d\n", stats.Total)
			statuses := make([]string, 0, len(stats.ByStatus))
			for s := range stats.ByStatus {
				statuses = append(statuses, s)
			}
			sort.Strings(statuses)
			for _, s := range statuses {
				fmt.Fprintf(out, "  %-15s %d\n", s, stats.ByStatus[s])
			}
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}
