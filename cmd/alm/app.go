package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/zulandar/almanac/internal/config"
	"github.com/zulandar/almanac/internal/extract"
	"github.com/zulandar/almanac/internal/fingerprint"
	"github.com/zulandar/almanac/internal/invalidate"
	"github.com/zulandar/almanac/internal/logging"
	"github.com/zulandar/almanac/internal/notify"
	"github.com/zulandar/almanac/internal/notify/discord"
	"github.com/zulandar/almanac/internal/notify/slack"
	"github.com/zulandar/almanac/internal/pipeline"
	"github.com/zulandar/almanac/internal/review"
	"github.com/zulandar/almanac/internal/store"
	"go.uber.org/zap"
)

// app is everything a command needs to operate on the record store.
type app struct {
	cfg      *config.Config
	st       store.Store
	svc      *pipeline.Service
	log      *zap.Logger
	closeFns []func() error
	webhook  *invalidate.Webhook
}

// Close waits for in-flight invalidations and releases the store.
func (a *app) Close() error {
	if a.webhook != nil {
		a.webhook.Wait()
	}
	var errs []error
	for _, fn := range a.closeFns {
		errs = append(errs, fn())
	}
	_ = a.log.Sync()
	return errors.Join(errs...)
}

func addConfigFlag(cmd *cobra.Command, configPath *string) {
	cmd.Flags().StringVarP(configPath, "config", "c", defaultConfigPath, "path to Almanac config file")
}

func addActorFlag(cmd *cobra.Command, actor *string) {
	def := os.Getenv("USER")
	if def == "" {
		def = "cli"
	}
	cmd.Flags().StringVar(actor, "actor", def, "name recorded as the author of the change")
}

// openApp loads the config, opens the store and wires the pipeline with
// every collaborator the config enables.
func openApp(ctx context.Context, configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	log, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return nil, err
	}
	st, closeStore, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Store.Driver, err)
	}
	a := &app{cfg: cfg, st: st, log: log, closeFns: []func() error{closeStore}}

	sinks, err := chatSinks(cfg.Notify)
	if err != nil {
		a.Close()
		return nil, err
	}
	notifier := notify.NewNotifier(st, log, sinks...)

	opts := pipeline.Opts{
		Store:    st,
		Config:   cfg,
		Notifier: notifier,
		Logger:   log,
	}
	if cfg.Extraction.Endpoint != "" {
		opts.Extractor = extract.NewHTTPClient(cfg.Extraction.Endpoint,
			extract.WithAPIKey(cfg.Extraction.APIKey),
			extract.WithTimeout(cfg.Extraction.Timeout))
	}
	if cfg.Invalidation.WebhookURL != "" {
		a.webhook = invalidate.NewWebhook(cfg.Invalidation.WebhookURL, cfg.Invalidation.Secret, cfg.Invalidation.Timeout, log)
		opts.Invalidator = a.webhook
	}
	checker, err := newChecker(cfg, st, notifier, log)
	if err != nil {
		a.Close()
		return nil, err
	}
	opts.Checker = checker

	a.svc = pipeline.New(opts)
	return a, nil
}

func chatSinks(cfg config.NotifyConfig) ([]notify.Sink, error) {
	var sinks []notify.Sink
	if cfg.Slack.Enabled() {
		s, err := slack.New(slack.Opts{BotToken: cfg.Slack.BotToken, ChannelID: cfg.Slack.ChannelID})
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, s)
	}
	if cfg.Discord.Enabled() {
		s, err := discord.New(discord.Opts{BotToken: cfg.Discord.BotToken, ChannelID: cfg.Discord.ChannelID})
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, s)
	}
	return sinks, nil
}

func newChecker(cfg *config.Config, st store.Store, notifier *notify.Notifier, log *zap.Logger) (*review.Checker, error) {
	sc := cfg.SourceCheck
	pages, err := review.LoadPageMap(sc.PageMap, sc.TemplatesDir)
	if err != nil {
		return nil, err
	}
	return review.NewChecker(review.CheckerOpts{
		Store: st,
		Fetcher: fingerprint.NewHTTPFetcher(
			fingerprint.WithTimeout(sc.FetchTimeout),
			fingerprint.WithDelay(sc.FetchDelay),
		),
		Pages:       pages,
		Notifier:    notifier,
		Concurrency: sc.Concurrency,
		Logger:      log,
	}), nil
}
