// Command chatctl is a terminal front end for the chat widget. It keeps
// conversations in a local store and talks to the same webhook as the web
// widget.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/innovaquest/webchat/internal/config"
	"github.com/innovaquest/webchat/internal/session"
	"github.com/innovaquest/webchat/internal/storage"
	"github.com/innovaquest/webchat/internal/storage/backend"
	"github.com/innovaquest/webchat/internal/webhook"
	"github.com/innovaquest/webchat/pkg/logger"
)

type options struct {
	driver     string
	dsn        string
	boltPath   string
	scope      string
	webhookURL string
	route      string
	verbose    bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := config.Load()
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:          "chatctl",
		Short:        "Chat with the website assistant from a terminal",
		SilenceUsage: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.driver, "driver", backend.DriverBolt, "storage driver (bolt, sqlite, postgres, mysql, nats, memory)")
	flags.StringVar(&opts.dsn, "dsn", cfg.StorageDSN, "storage DSN for sql drivers")
	flags.StringVar(&opts.boltPath, "db", cfg.BoltPath, "bolt database file")
	flags.StringVar(&opts.scope, "scope", "local", "storage scope the conversations are kept under")
	flags.StringVar(&opts.webhookURL, "webhook", "", "webhook URL (defaults to the widget config)")
	flags.StringVar(&opts.route, "route", "", "webhook route (defaults to the widget config)")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "log to stderr")

	rootCmd.AddCommand(
		newListCmd(cfg, opts),
		newTranscriptCmd(cfg, opts),
		newChatCmd(cfg, opts),
	)
	return rootCmd
}

// openManager builds a hydrated session manager over the configured store.
// The returned function releases the store.
func openManager(ctx context.Context, cfg *config.Config, opts *options, extra ...session.Option) (*session.Manager, func(), error) {
	log := logger.NewNop()
	if opts.verbose {
		l, err := logger.NewDevelopment()
		if err == nil {
			log = l
		}
	}
	if cfg.WidgetFileErr != nil {
		log.Warn("widget config file ignored, using defaults", zap.Error(cfg.WidgetFileErr))
	}

	storeCfg := *cfg
	storeCfg.StorageDriver = opts.driver
	storeCfg.StorageDSN = opts.dsn
	storeCfg.BoltPath = opts.boltPath

	kv, closeStore, err := backend.Open(ctx, &storeCfg, log)
	if err != nil {
		return nil, nil, err
	}

	store, err := storage.NewScopedConversationStore(kv, opts.scope)
	if err != nil {
		closeStore()
		return nil, nil, err
	}

	widget := cfg.Widget
	if opts.webhookURL != "" {
		widget.Webhook.URL = opts.webhookURL
	}
	if opts.route != "" {
		widget.Webhook.Route = opts.route
	}

	transport := webhook.NewClient(widget.Webhook, webhook.WithLogger(log))
	managerOpts := append([]session.Option{
		session.WithLogger(log),
		session.WithResumeLatest(cfg.ResumeLatest),
		session.WithAllowedTypes(cfg.AllowedTypes),
		session.WithMaxFileSize(cfg.MaxUploadBytes),
	}, extra...)

	m := session.New(widget, store, transport, managerOpts...)
	if err := m.Init(ctx); err != nil {
		closeStore()
		return nil, nil, fmt.Errorf("failed to load conversations: %w", err)
	}
	return m, closeStore, nil
}
