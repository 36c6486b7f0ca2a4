package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newBatchCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Run one scheduled fetch over the stalest organizations",
		Long: `Fetches the organizations that were never fetched or whose last fetch is
older than batch.stale_after, up to batch.max_orgs_per_run of them, and posts
one summary notification.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatch(cmd, configPath)
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func runBatch(cmd *cobra.Command, configPath string) error {
	ctx, stop := interruptible()
	defer stop()

	a, err := openApp(ctx, configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.svc.RunBatch(ctx)
	if res == nil {
		return err
	}
	out := cmd.OutOrStdout()
	if err != nil {
		fmt.Fprintf(out, "Stopped after %d organization(s): %d service(s) updated, %d error(s)\n",
			res.Processed, res.ServicesUpdated, res.Errors)
		return err
	}
	if res.Processed == 0 {
		fmt.Fprintln(out, "No organizations are due.")
		return nil
	}
	fmt.Fprintf(out, "Processed %d organization(s) in %s: %d service(s) updated, %d error(s)\n",
		res.Processed, res.Duration.Round(time.Millisecond), res.ServicesUpdated, res.Errors)
	for _, o := range res.Orgs {
		fmt.Fprintf(out, "  %s\n", o)
	}
	return nil
}

func newCheckSourcesCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "check-sources [org]",
		Short: "Fingerprint variable sources and flag pages for review",
		Long: `Without an argument, runs one scheduled source check over the organizations
due for it. With an organization, checks just that one and prints the
variables whose source page changed.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				return runCheckOrg(cmd, configPath, args[0])
			}
			return runSourceCheck(cmd, configPath)
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func runSourceCheck(cmd *cobra.Command, configPath string) error {
	ctx, stop := interruptible()
	defer stop()

	a, err := openApp(ctx, configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	sum, err := a.svc.RunSourceCheck(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Checked %d organization(s): %d baseline(s) taken, %d variable(s) changed, %d page(s) flagged, %d error(s)\n",
		len(sum.Orgs), sum.Initialized, sum.ChangedVariables, sum.AffectedPages, sum.Errors)
	return nil
}

func runCheckOrg(cmd *cobra.Command, configPath, orgID string) error {
	ctx, stop := interruptible()
	defer stop()

	a, err := openApp(ctx, configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.svc.CheckSources(ctx, orgID)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Baselines: %d taken, %d failed\n", res.Init.Success, res.Init.Errors)
	fmt.Fprintf(out, "Checked %d variable(s): %d changed, %d error(s)\n",
		res.Result.TotalVariables, len(res.Result.Changed), len(res.Result.Errors))
	for _, c := range res.Result.Changed {
		fmt.Fprintf(out, "  %s  %s  pages: %v\n", c.VariableName, c.SourceURL, c.AffectedPages)
	}
	for _, e := range res.Result.Errors {
		fmt.Fprintf(out, "  error: %s  %s: %s\n", e.VariableName, e.SourceURL, e.Error)
	}
	return nil
}
