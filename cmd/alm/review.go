package main

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/zulandar/almanac/internal/review"
)

func newReviewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "review",
		Aliases: []string{"reviews"},
		Short:   "Resolve pages flagged by the source check",
	}

	cmd.AddCommand(newReviewListCmd())
	cmd.AddCommand(newReviewActionCmd("start", "Claim a flagged page for review"))
	cmd.AddCommand(newReviewActionCmd("approve", "Confirm a flagged page is still correct"))
	cmd.AddCommand(newReviewActionCmd("dismiss", "Dismiss a flagged page without changes"))
	return cmd
}

func newReviewListCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "list [org]",
		Short: "List pages awaiting review",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := openApp(ctx, configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			var pages []review.PendingPage
			if len(args) == 1 {
				pages, err = review.Pending(ctx, a.st, args[0])
			} else {
				pages, err = review.PendingAll(ctx, a.st)
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(pages) == 0 {
				fmt.Fprintln(out, "No pages awaiting review.")
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ORG\tPAGE\tSTATUS\tVARIABLES\tDETECTED")
			for _, p := range pages {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", p.OrgID, p.Page, p.Status,
					truncate(strings.Join(p.ChangedVariables, ","), 40), formatTime(&p.DetectedAt))
			}
			w.Flush()
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func newReviewActionCmd(action, short string) *cobra.Command {
	var configPath, actor string

	cmd := &cobra.Command{
		Use:   action + " <org> <page>",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := openApp(ctx, configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			org, page := args[0], args[1]
			if !strings.HasPrefix(page, "/") {
				page = "/" + page
			}
			switch action {
			case "start":
				_, err = a.svc.StartPageReview(ctx, org, page, actor)
			case "approve":
				_, err = a.svc.ApprovePageReview(ctx, org, page, actor)
			case "dismiss":
				_, err = a.svc.DismissPageReview(ctx, org, page, actor)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Review %s: %s %s\n", action, org, page)
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	addActorFlag(cmd, &actor)
	return cmd
}
