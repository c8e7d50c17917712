package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"edu-tracker/internal/api"
	"edu-tracker/internal/auth"
	"edu-tracker/internal/bot"
	"edu-tracker/internal/config"
	"edu-tracker/internal/service"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var envFile string

	root := &cobra.Command{
		Use:           "edutracker",
		Short:         "Study tracker bot for parents and children",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&envFile, "env", ".env", "dotenv file to load if present")

	root.AddCommand(newServeCmd(&envFile))
	root.AddCommand(newExportCmd(&envFile))
	root.AddCommand(newImportCmd(&envFile))
	root.AddCommand(newPurgeCmd(&envFile))
	return root
}

func loadApp(ctx context.Context, envFile string) (*app, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return newApp(ctx, cfg)
}

func newServeCmd(envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the Telegram bot, the HTTP API and scheduled jobs",
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, *envFile)
		},
	}
}

func serve(ctx context.Context, envFile string) error {
	a, err := loadApp(ctx, envFile)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.cfg.RequireTelegram(); err != nil {
		return err
	}

	guard, err := auth.NewGuard(a.cfg.ParentPIN, a.cfg.JWTSecret, auth.DefaultTokenTTL)
	if err != nil {
		return fmt.Errorf("auth: %w", err)
	}

	telegramBot, err := bot.New(a.cfg.TelegramToken, bot.Deps{
		Users:    a.users,
		Tasks:    a.tasks,
		Courses:  a.courses,
		Rewards:  a.rewards,
		Badges:   a.badges,
		Reports:  a.reports,
		Backup:   a.backup,
		Sessions: a.sessions,
		Sync:     a.sync,
		Events:   a.events,
		PIN:      guard,
	})
	if err != nil {
		return fmt.Errorf("bot: %w", err)
	}

	scheduler := service.NewSchedulerService(ctx, time.Local)
	if _, err := scheduler.ScheduleDaily("briefing", a.cfg.BriefingTime, telegramBot.SendBriefings); err != nil {
		return fmt.Errorf("schedule briefing: %w", err)
	}
	if a.cfg.ReportInterval > 0 {
		if _, err := scheduler.ScheduleInterval("summary", a.cfg.ReportInterval, telegramBot.SendSummaries); err != nil {
			return fmt.Errorf("schedule summaries: %w", err)
		}
	}
	purge := func(ctx context.Context) error {
		_, err := a.sessions.PurgeOrphans(ctx)
		return err
	}
	if _, err := scheduler.ScheduleInterval("purge-snapshots", a.cfg.PurgeInterval, purge); err != nil {
		return fmt.Errorf("schedule purge: %w", err)
	}
	scheduler.RunNow("purge-snapshots", purge)
	scheduler.Start()
	defer scheduler.Stop()

	if guard.TokensEnabled() {
		srv := &http.Server{
			Addr: a.cfg.HTTPAddr,
			Handler: api.NewServer(api.Deps{
				Auth:     guard,
				Tasks:    a.tasks,
				Courses:  a.courses,
				Rewards:  a.rewards,
				Badges:   a.badges,
				Reports:  a.reports,
				Backup:   a.backup,
				Sessions: a.sessions,
				Sync:     a.sync,
			}).Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			log.Printf("[info] API listening on %s", a.cfg.HTTPAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("[warn] API server: %v", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	} else {
		log.Println("[warn] JWT_SECRET is empty, HTTP API disabled")
	}

	log.Println("Edu tracker bot started.")
	if err := telegramBot.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("bot stopped with error: %w", err)
	}
	log.Println("Shutdown complete.")
	return nil
}

func newExportCmd(envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "export <file>",
		Short: "Write a JSON backup of all data",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := loadApp(ctx, *envFile)
			if err != nil {
				return err
			}
			defer a.Close()

			raw, err := a.backup.ExportJSON(ctx)
			if err != nil {
				return err
			}
			if err := os.WriteFile(args[0], raw, 0o600); err != nil {
				return fmt.Errorf("write backup: %w", err)
			}
			a.sync.Push(ctx)
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "exported %d bytes to %s\n", len(raw), args[0])
			return nil
		},
	}
}

func newImportCmd(envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Replace all data with a JSON backup",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read backup: %w", err)
			}
			a, err := loadApp(ctx, *envFile)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.backup.Import(ctx, raw); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "imported %s\n", args[0])
			return nil
		},
	}
}

func newPurgeCmd(envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "purge-snapshots",
		Short: "Drop timer snapshots of deleted or completed tasks",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := loadApp(ctx, *envFile)
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.sessions.PurgeOrphans(ctx)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "purged %d snapshots\n", n)
			return nil
		},
	}
}
