package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"autopinner/internal/config"
	"autopinner/internal/integrations/wordpress"
	"autopinner/internal/store"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func initDBCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init-db",
		Short: "Create the database schema and default settings, then exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, closer, err := loadConfig(cmd, nil)
			if err != nil {
				return err
			}
			defer closer.Close()

			config.LoadSettings(cfg.SettingsPath, logger)
			st, err := openStore(cmd.Context(), cfg, logger, nil)
			if err != nil {
				return err
			}
			defer st.Close()

			fmt.Fprintf(cmd.OutOrStdout(), "database ready (%s), settings at %s\n", cfg.Database.Driver, cfg.SettingsPath)
			return nil
		},
	}
}

func runTaskCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run-task <name>",
		Short: "Run one task immediately and report its outcome",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cmd, nil)
			if err != nil {
				return err
			}
			a.dispatcher.Start(context.WithoutCancel(ctx))
			defer func() {
				closeCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownGrace)
				defer cancel()
				a.close(closeCtx)
			}()

			result, err := a.worker.RunNow(ctx, args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if !result.Success {
				fmt.Fprintf(out, "%s failed after %d attempt(s) in %s\n", result.Task, result.Attempts, result.Runtime.Round(time.Millisecond))
				return result.Err
			}
			fmt.Fprintf(out, "%s succeeded after %d attempt(s) in %s\n", result.Task, result.Attempts, result.Runtime.Round(time.Millisecond))
			return nil
		},
	}
}

// verifyCmd checks every configured dependency and reports each result.
func verifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Check the database and every configured integration",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()

			a, err := newApp(ctx, cmd, nil)
			if err != nil {
				return err
			}
			defer a.close(ctx)

			out := cmd.OutOrStdout()
			var failed []string
			check := func(name string, err error) {
				if err != nil {
					failed = append(failed, name)
					fmt.Fprintf(out, "FAIL  %-40s %v\n", name, err)
					return
				}
				fmt.Fprintf(out, "ok    %s\n", name)
			}

			check("database", a.store.Ping(ctx))
			if open, inUse, err := a.store.PoolStats(); err == nil {
				fmt.Fprintf(out, "      pool: %s open, %s in use\n", humanize.Comma(int64(open)), humanize.Comma(int64(inUse)))
			}
			if counts, err := a.store.CountPinsByStatus(ctx); err == nil {
				for _, status := range []string{store.PinStatusPending, store.PinStatusPublished, store.PinStatusShared, store.PinStatusFailed} {
					fmt.Fprintf(out, "      pins %s: %s\n", status, humanize.Comma(counts[status]))
				}
			}

			for _, site := range a.settings.WordPressSites() {
				client, err := wordpress.New(wordpress.Config{
					URL:      site.URL,
					Username: site.Username,
					Password: site.Password,
				}, a.logger)
				if err == nil {
					err = client.Ping(ctx)
					client.Close()
				}
				check("wordpress "+site.URL, err)
			}

			if a.pinterest != nil {
				boards, err := a.pinterest.ListBoards(ctx)
				check("pinterest", err)
				if err == nil {
					fmt.Fprintf(out, "      %d board(s)\n", len(boards))
				}
			} else {
				fmt.Fprintln(out, "skip  pinterest (no access token)")
			}

			if a.settings.ContentGeneration().APIKey == "" {
				check("content generation", errors.New("api key not set"))
			} else {
				check("content generation", nil)
			}

			if a.redis != nil {
				check("redis events", a.redis.Ping(ctx))
			}

			if len(failed) > 0 {
				return fmt.Errorf("%d check(s) failed", len(failed))
			}
			return nil
		},
	}
}
