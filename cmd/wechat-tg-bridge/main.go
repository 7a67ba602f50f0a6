// Copyright 2024-2026 Aiku AI

// Command wechat-tg-bridge relays a WeChat account, reached through a
// OneBot 12 gateway, into the Telegram chat of a single operator.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/aiku/wechat-tg-bridge/pkg/connector"
	"github.com/aiku/wechat-tg-bridge/pkg/connector/stickercache"
	"github.com/aiku/wechat-tg-bridge/pkg/onebot"
	"github.com/aiku/wechat-tg-bridge/pkg/settings"
	"github.com/aiku/wechat-tg-bridge/pkg/store"
	"github.com/aiku/wechat-tg-bridge/pkg/telegram"
)

// These are filled at build time with -ldflags.
var (
	Tag       = "unknown"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var (
	configPath string
	noUpdate   bool
)

var rootCmd = &cobra.Command{
	Use:           "wechat-tg-bridge",
	Short:         "A WeChat to Telegram bridge for a single operator",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the config file")
	rootCmd.Flags().BoolVarP(&noUpdate, "no-update", "n", false, "don't write upgraded keys back to the config file")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "generate-config",
		Short: "Print the example config",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprint(cmd.OutOrStdout(), connector.ExampleConfig)
		},
	})
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "wechat-tg-bridge %s (commit %s, built %s)\n", Tag, Commit, BuildTime)
		},
	})
}

func run(ctx context.Context) error {
	cfg, err := connector.LoadConfig(configPath, !noUpdate)
	if err != nil {
		return err
	}
	logp, err := cfg.NewLogger()
	if err != nil {
		return err
	}
	log := *logp
	log.Info().Str("version", Tag).Str("commit", Commit).Msg("Starting bridge")

	for _, p := range []string{cfg.Storage.Database, cfg.Storage.Settings} {
		if err = os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return fmt.Errorf("failed to create data dir: %w", err)
		}
	}
	opts, err := settings.Open(cfg.Storage.Settings, log)
	if err != nil {
		return fmt.Errorf("failed to open settings: %w", err)
	}
	db, err := store.NewSQLiteStore(cfg.Storage.Database)
	if err != nil {
		return err
	}
	defer db.Close()
	stickers, err := stickercache.New(cfg.Storage.StickerCache, nil, log.With().Str("component", "stickers").Logger())
	if err != nil {
		return err
	}

	botConfig := telegram.BotConfig{
		Token:             cfg.Telegram.BotToken,
		APIURL:            cfg.Telegram.APIURL,
		Proxy:             cfg.Telegram.Proxy,
		MessagesPerSecond: cfg.Telegram.MessagesPerSecond,
	}
	botLog := log.With().Str("component", "telegram").Logger()
	bot, err := telegram.NewBot(botConfig, botLog)
	if err != nil {
		return err
	}
	var large connector.LargeFileTransport
	if cfg.Telegram.LargeFileAPIURL != "" {
		botConfig.APIURL = cfg.Telegram.LargeFileAPIURL
		largeBot, err := telegram.NewBot(botConfig, botLog.With().Bool("large_files", true).Logger())
		if err != nil {
			return err
		}
		large = largeBot
	}

	source := onebot.NewClient(onebot.Config{
		URL:               cfg.OneBot.URL,
		AccessToken:       cfg.OneBot.AccessToken,
		ReconnectInterval: time.Duration(cfg.OneBot.ReconnectInterval) * time.Second,
		RequestTimeout:    time.Duration(cfg.OneBot.RequestTimeout) * time.Second,
	}, log.With().Str("component", "onebot").Logger())

	bridge, err := connector.NewBridge(connector.Params{
		Config:     cfg,
		Source:     source,
		Control:    bot,
		LargeFiles: large,
		Settings:   opts,
		Binds:      db,
		Stickers:   stickers,
		Log:        log.With().Str("component", "bridge").Logger(),
	})
	if err != nil {
		return err
	}

	router := telegram.NewRouter(bot, bridge, db, cfg.Telegram.ChatID, botLog)
	if err = router.RestoreOwner(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to restore operator")
	}
	if err = bridge.Start(ctx); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return source.Run(ctx, bridge.QueueSourceEvent)
	})
	g.Go(func() error {
		return router.Run(ctx)
	})
	err = g.Wait()
	bridge.Wait()
	if errors.Is(err, context.Canceled) {
		log.Info().Msg("Bridge stopped")
		return nil
	}
	return err
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log := zerolog.New(os.Stderr).With().Timestamp().Logger()
		log.Fatal().Err(err).Msg("Bridge failed")
	}
}
