package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/dhcgn/imap-unsubscribe/browser"
	"github.com/dhcgn/imap-unsubscribe/cmd"
	"github.com/dhcgn/imap-unsubscribe/config"
	"github.com/dhcgn/imap-unsubscribe/filter"
	"github.com/dhcgn/imap-unsubscribe/model"
	"github.com/dhcgn/imap-unsubscribe/progress"
	"github.com/dhcgn/imap-unsubscribe/runner"
	"github.com/dhcgn/imap-unsubscribe/state"
	"github.com/dhcgn/imap-unsubscribe/stats"
	"github.com/dhcgn/imap-unsubscribe/unsubscribe"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "imap-unsubscribe",
		Short:        "Find unsubscribe links in a mailbox and follow them",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cmd)
			if err != nil {
				return err
			}

			logger, cleanup, err := setupLogger(cfg)
			if err != nil {
				return err
			}
			defer func() {
				_ = cleanup()
			}()

			slog.SetDefault(logger)
			logger.Info("starting imap-unsubscribe", "host", cfg.IMAPHost, "mailbox", cfg.Mailbox, "mbox", cfg.MboxPath, "results", cfg.ResultsPath)

			// Run failures are logged, never turned into a non-zero exit.
			if err := run(cmd.Context(), cfg, logger); err != nil {
				logger.Error("run failed", "err", err)
			}
			return nil
		},
	}

	if err := config.RegisterFlags(rootCmd); err != nil {
		fmt.Fprintf(os.Stderr, "failed to register CLI flags: %v\n", err)
		os.Exit(1)
	}
	rootCmd.AddCommand(cmd.NewScanCmd(setupLogger))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()

	if ctx == nil {
		ctx = context.Background()
	}

	f, err := filter.New(filter.Options{
		IncludeSender:  cfg.IncludeSender,
		IncludeSubject: cfg.IncludeSubject,
		ExcludeSender:  cfg.ExcludeSender,
		ExcludeSubject: cfg.ExcludeSubject,
	})
	if err != nil {
		return fmt.Errorf("filter.New: %w", err)
	}

	var tracker state.Tracker = state.NewMemoryTracker()
	if cfg.Resume {
		fileTracker, err := state.NewFileTracker(cfg.StateDir)
		if err != nil {
			return fmt.Errorf("state tracker: %w", err)
		}
		logger.Info("resuming from state file", "path", fileTracker.Path(), "processed", fileTracker.Snapshot().Processed)
		tracker = fileTracker
	}
	defer func() {
		if err := tracker.Close(); err != nil {
			logger.Warn("close state tracker failed", "err", err)
		}
	}()

	stream := stats.NewStream()
	reporter := stats.NewReporter(stream, logger)

	var bar *progress.Bar
	stream.Subscribe(func(evt stats.Event) {
		if bar != nil {
			bar.Update(evt)
		}
	})

	r, err := runner.New(cfg, runner.Deps{
		Open:     runner.OpenSource(cfg, logger),
		Executor: newExecutor(cfg, logger),
		Filter:   f,
		Tracker:  tracker,
		Stream:   stream,
		BeforeExecute: func(candidates []model.Candidate) {
			bar = progress.New(len(candidates), cfg.Progress)
		},
	}, logger)
	if err != nil {
		return fmt.Errorf("runner.New: %w", err)
	}

	err = r.Run(ctx)
	if bar != nil {
		bar.Stop(reporter.Summary())
	}
	reporter.Report()
	return err
}

func newExecutor(cfg config.Config, logger *slog.Logger) *unsubscribe.Executor {
	strategies := []unsubscribe.Strategy{
		unsubscribe.NewHTTPStrategy(cfg.HTTPTimeout, logger),
	}

	if !cfg.NoBrowser {
		chrome := browser.NewChrome(browser.Options{
			Headless:        cfg.Headless,
			ExecPath:        cfg.ChromePath,
			NavigateTimeout: cfg.NavigateTimeout,
		}, logger)
		strategies = append(strategies, unsubscribe.NewBrowserStrategy(chrome, unsubscribe.BrowserOptions{
			WaitTimeout: cfg.WaitTimeout,
			SettleDelay: cfg.SettleDelay,
		}, logger))
	}

	return unsubscribe.NewExecutor(logger, strategies...)
}

func setupLogger(cfg config.Config) (*slog.Logger, func() error, error) {
	level := new(slog.LevelVar)
	level.Set(slog.LevelInfo)

	switch cfg.LogLevel {
	case "debug":
		level.Set(slog.LevelDebug)
	case "info":
		level.Set(slog.LevelInfo)
	case "warn":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	}

	opts := &slog.HandlerOptions{Level: level}
	cleanup := func() error { return nil }

	if cfg.LogDir != "" {
		if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
			return nil, cleanup, err
		}

		logFilePath := filepath.Join(cfg.LogDir, fmt.Sprintf("imap-unsubscribe-%s.log", time.Now().Format("20060102T150405")))
		file, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, cleanup, err
		}

		handler := slog.NewTextHandler(io.MultiWriter(os.Stdout, file), opts)
		cleanup = func() error {
			return file.Close()
		}
		return slog.New(handler), cleanup, nil
	}

	handler := slog.NewTextHandler(os.Stdout, opts)
	return slog.New(handler), cleanup, nil
}
