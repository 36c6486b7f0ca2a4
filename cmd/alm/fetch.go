package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/almanac/internal/job"
	"github.com/zulandar/almanac/internal/models"
	"github.com/zulandar/almanac/internal/pipeline"
)

// interruptible returns a context cancelled on SIGINT or SIGTERM, so an
// interrupted fetch is paused rather than killed.
func interruptible() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func newFetchCmd() *cobra.Command {
	var (
		configPath string
		services   []string
		skipLive   bool
	)

	cmd := &cobra.Command{
		Use:   "fetch <org>",
		Short: "Extract variables for an organization into drafts",
		Long: `Runs a fetch job over the organization's services, one service at a time,
writing a draft per service. Interrupting the command pauses the job; run
"alm resume" to finish it.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFetch(cmd, configPath, args[0], services, skipLive)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringSliceVarP(&services, "service", "s", nil, "services to fetch (default all)")
	cmd.Flags().BoolVar(&skipLive, "skip-live", false, "leave services with an open draft untouched")
	return cmd
}

func runFetch(cmd *cobra.Command, configPath, orgID string, services []string, skipLive bool) error {
	ctx, stop := interruptible()
	defer stop()

	a, err := openApp(ctx, configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	j, err := a.svc.Fetch(ctx, orgID, services, pipeline.RunOptions{SkipLiveDrafts: skipLive})
	if j != nil {
		printJob(cmd.OutOrStdout(), j)
	}
	return err
}

func newResumeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "resume <org>",
		Short: "Resume the paused or failed fetch job of an organization",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResume(cmd, configPath, args[0])
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func runResume(cmd *cobra.Command, configPath, orgID string) error {
	ctx, stop := interruptible()
	defer stop()

	a, err := openApp(ctx, configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	j, err := a.svc.Resume(ctx, orgID, pipeline.RunOptions{})
	if j != nil {
		printJob(cmd.OutOrStdout(), j)
	}
	return err
}

func newJobCmd() *cobra.Command {
	var (
		configPath string
		all        bool
	)

	cmd := &cobra.Command{
		Use:   "job <org>",
		Short: "Show the latest fetch job of an organization",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJob(cmd, configPath, args[0], all)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().BoolVarP(&all, "all", "a", false, "list every job instead")
	return cmd
}

func runJob(cmd *cobra.Command, configPath, orgID string, all bool) error {
	ctx := context.Background()
	a, err := openApp(ctx, configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	if !all {
		j, err := a.svc.LatestJob(ctx, orgID)
		if err != nil {
			return err
		}
		printJob(out, j)
		return nil
	}

	jobs, err := job.List(ctx, a.st, orgID)
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		fmt.Fprintln(out, "No jobs found.")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tSTARTED\tDONE\tFAILED\tVARIABLES")
	for _, j := range jobs {
		s := job.Summarize(j)
		fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%d\t%d\n",
			j.ID, j.Status, j.StartedAt.Format(time.DateTime), s.Completed, s.Total, s.Failed, job.TotalVariables(j))
	}
	w.Flush()
	return nil
}

func printJob(out io.Writer, j *models.FetchJob) {
	s := job.Summarize(j)
	fmt.Fprintf(out, "Job %s for %s: %s (%d/%d services completed, %d failed)\n",
		j.ID, j.OrgID, j.Status, s.Completed, s.Total, s.Failed)

	ids := make([]string, 0, len(j.Services))
	for id := range j.Services {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SERVICE\tSTATUS\tVARIABLES\tERROR")
	for _, id := range ids {
		svc := j.Services[id]
		count := "-"
		if svc.VariablesCount != nil {
			count = fmt.Sprintf("%d", *svc.VariablesCount)
		}
		errMsg := svc.Error
		if errMsg == "" {
			errMsg = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", id, svc.Status, count, truncate(errMsg, 60))
	}
	w.Flush()
	if j.Status != models.JobRunning && job.CanResume(j) {
		fmt.Fprintf(out, "Resume with: alm resume %s\n", j.OrgID)
	}
}
