package cmd

import (
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dhcgn/imap-unsubscribe/config"
	"github.com/dhcgn/imap-unsubscribe/filter"
	"github.com/dhcgn/imap-unsubscribe/model"
	"github.com/dhcgn/imap-unsubscribe/results"
	"github.com/dhcgn/imap-unsubscribe/runner"
	"github.com/dhcgn/imap-unsubscribe/stats"
)

// LoggerFunc builds the process logger from the loaded configuration.
type LoggerFunc func(cfg config.Config) (*slog.Logger, func() error, error)

var reportColumns = []string{"Sender", "Host", "Method"}

// NewScanCmd returns the scan subcommand. It collects the unsubscribe
// candidates of the mailbox without executing them.
func NewScanCmd(newLogger LoggerFunc) *cobra.Command {
	var (
		urlsPath  string
		reportDir string
		topN      int
	)

	scanCmd := &cobra.Command{
		Use:   "scan",
		Short: "List unsubscribe links without following them",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cmd)
			if err != nil {
				return err
			}

			logger, cleanup, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer func() {
				_ = cleanup()
			}()

			candidates, err := collect(cmd.Context(), cfg, logger)
			if err != nil {
				logger.Error("scan failed", "err", err)
				return nil
			}

			if err := results.WriteURLs(urlsPath, candidates); err != nil {
				return fmt.Errorf("write urls: %w", err)
			}
			fmt.Printf("Found %d unsubscribe links, saved to %s\n\n", len(candidates), urlsPath)

			counter := countCandidates(candidates)
			for _, column := range reportColumns {
				fmt.Printf("Top %d %s:\n", topN, column)
				stats.PrettyPrintTop(counter[column], topN)
				fmt.Println()
			}

			if reportDir == "" {
				return nil
			}
			if err := saveCSVReports(counter, reportColumns, reportDir, 1000); err != nil {
				return fmt.Errorf("error saving CSV reports: %w", err)
			}
			fmt.Printf("Reports saved to directory: %s\n", reportDir)
			return nil
		},
	}

	scanCmd.Flags().StringVar(&urlsPath, "urls", "unsubscribe_urls.txt", "Output file for the collected unsubscribe URLs")
	scanCmd.Flags().StringVarP(&reportDir, "output", "o", "", "Output directory for CSV reports (disabled when empty)")
	scanCmd.Flags().IntVarP(&topN, "top", "t", 10, "Number of top items to display in statistics")
	return scanCmd
}

func collect(ctx context.Context, cfg config.Config, logger *slog.Logger) ([]model.Candidate, error) {
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
		return nil, fmt.Errorf("create filter: %w", err)
	}

	open := runner.OpenSource(cfg, logger)
	r, err := runner.New(cfg, runner.Deps{
		Open:   open,
		Filter: f,
	}, logger)
	if err != nil {
		return nil, err
	}

	src, err := open(ctx)
	if err != nil {
		return nil, fmt.Errorf("open mailbox: %w", err)
	}
	defer func() {
		if err := src.Close(); err != nil {
			logger.Warn("close mailbox failed", "err", err)
		}
	}()

	return r.Collect(ctx, src), nil
}

func countCandidates(candidates []model.Candidate) map[string]map[string]int {
	counter := make(map[string]map[string]int, len(reportColumns))
	for _, column := range reportColumns {
		counter[column] = make(map[string]int)
	}

	for _, c := range candidates {
		counter["Sender"][c.Sender]++
		counter["Method"][string(c.Method)]++
		if u, err := url.Parse(c.URL); err == nil && u.Host != "" {
			counter["Host"][strings.ToLower(u.Host)]++
		}
	}
	return counter
}

func saveCSVReports(counter map[string]map[string]int, columns []string, dir string, limit int) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	for _, column := range columns {
		filename := fmt.Sprintf("report_%s.csv", normalizeColumnName(column))
		file, err := os.Create(filepath.Join(dir, filename))
		if err != nil {
			return err
		}

		writer := csv.NewWriter(file)
		if err := writer.Write([]string{"Value", "Count"}); err != nil {
			file.Close()
			return err
		}

		for _, p := range stats.Top(counter[column], limit) {
			if err := writer.Write([]string{p.Key, strconv.Itoa(p.Value)}); err != nil {
				file.Close()
				return err
			}
		}

		writer.Flush()
		file.Close()

		if err := writer.Error(); err != nil {
			return err
		}
	}

	return nil
}

func normalizeColumnName(name string) string {
	name = strings.ToLower(name)
	name = strings.ReplaceAll(name, "-", "_")
	name = strings.ReplaceAll(name, " ", "_")
	return name
}
