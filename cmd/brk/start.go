package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/zulandar/breakdown/internal/bot"
	"github.com/zulandar/breakdown/internal/chat"
	discordadapter "github.com/zulandar/breakdown/internal/chat/discord"
	slackadapter "github.com/zulandar/breakdown/internal/chat/slack"
	"github.com/zulandar/breakdown/internal/config"
	"github.com/zulandar/breakdown/internal/dashboard"
	"github.com/zulandar/breakdown/internal/db"
	"github.com/zulandar/breakdown/internal/metrics"
	"github.com/zulandar/breakdown/internal/mirror"
	"github.com/zulandar/breakdown/internal/mirror/google"
)

func newStartCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the breakdown bot",
		Long:  "Connects to the configured chat platform and serves the /report and /fix flows until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Breakdown config file")
	return cmd
}

func runStart(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()

	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		return err
	}

	adapter, err := createAdapter(cfg)
	if err != nil {
		return err
	}

	// Handle OS signals for graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	archive, sheet, err := createMirrors(ctx, cfg.Google, adapter)
	if err != nil {
		return err
	}

	m := metrics.New()

	if cfg.Dashboard.Enabled {
		go func() {
			if err := dashboard.Start(ctx, dashboard.StartOpts{
				DB:   gormDB,
				Port: cfg.Dashboard.Port,
				Out:  out,
			}); err != nil {
				log.Printf("brk: dashboard: %v", err)
			}
		}()
	}

	daemon, err := bot.NewDaemon(bot.DaemonOpts{
		DB:      gormDB,
		Config:  cfg,
		Adapter: adapter,
		Archive: archive,
		Sheet:   sheet,
		Metrics: m,
		Out:     out,
	})
	if err != nil {
		return err
	}
	return daemon.Run(ctx)
}

// createAdapter builds a platform adapter from the config.
func createAdapter(cfg *config.Config) (chat.Adapter, error) {
	switch cfg.Chat.Platform {
	case config.PlatformSlack:
		return slackadapter.New(slackadapter.AdapterOpts{
			AppToken: cfg.Chat.Slack.AppToken,
			BotToken: cfg.Chat.Slack.BotToken,
		})
	case config.PlatformDiscord:
		return discordadapter.New(discordadapter.AdapterOpts{
			BotToken: cfg.Chat.Discord.BotToken,
		})
	default:
		return nil, fmt.Errorf("brk: unsupported platform %q", cfg.Chat.Platform)
	}
}

// createMirrors builds the Drive photo archive and the Sheets mirror. Both
// are nil when Google is not configured. Photos are downloaded through the
// adapter, so an adapter that cannot fetch photos gets no archive.
func createMirrors(ctx context.Context, g config.GoogleConfig, adapter chat.Adapter) (mirror.PhotoArchive, mirror.Sheet, error) {
	if !g.Enabled() {
		return nil, nil, nil
	}

	sheet, err := google.NewSheet(ctx, google.SheetOpts{
		CredentialsFile: g.CredentialsFile,
		SpreadsheetID:   g.SpreadsheetID,
		SheetName:       g.SheetName,
	})
	if err != nil {
		return nil, nil, err
	}

	fetcher, ok := adapter.(chat.PhotoFetcher)
	if !ok {
		log.Printf("brk: %T cannot fetch photos; drive archive disabled", adapter)
		return nil, sheet, nil
	}
	archive, err := google.NewDriveArchive(ctx, google.DriveOpts{
		CredentialsFile: g.CredentialsFile,
		FolderID:        g.DriveFolderID,
		Fetcher:         fetcher,
	})
	if err != nil {
		return nil, nil, err
	}
	return archive, sheet, nil
}
