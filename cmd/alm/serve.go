package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/zulandar/almanac/internal/scheduler"
	"github.com/zulandar/almanac/internal/server"
	"go.uber.org/zap"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		port       int
		noCron     bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the scheduled jobs",
		Long: `Starts the admin API. Unless --no-cron is given, the batch fetch and the
source check also run on the schedules in the config file. Approvals left
half-finished by a previous process are completed before serving.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath, port, noCron)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().IntVarP(&port, "port", "p", 0, "port to listen on (default from config)")
	cmd.Flags().BoolVar(&noCron, "no-cron", false, "do not run scheduled jobs in this process")
	return cmd
}

func runServe(cmd *cobra.Command, configPath string, port int, noCron bool) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := openApp(ctx, configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		fmt.Fprintf(cmd.OutOrStdout(), "\nReceived %s, shutting down...\n", sig)
		cancel()
	}()

	recovered, err := a.svc.RecoverApprovals(ctx)
	if err != nil {
		a.log.Warn("recover approvals", zap.Error(err))
	} else if recovered > 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "Completed %d interrupted approval(s)\n", recovered)
	}

	var sched *scheduler.Scheduler
	if !noCron {
		sched = scheduler.New(a.log)
		if err := scheduler.Register(sched, a.svc); err != nil {
			return err
		}
		sched.Start()
		defer sched.Stop()
	}

	if port == 0 {
		port = a.cfg.Server.Port
	}
	return server.Start(ctx, server.Opts{
		Service:    a.svc,
		Scheduler:  sched,
		Port:       port,
		CronSecret: a.cfg.Server.CronSecret,
		Logger:     a.log,
		Out:        cmd.OutOrStdout(),
	})
}
