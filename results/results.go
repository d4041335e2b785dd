package results

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dhcgn/imap-unsubscribe/model"
)

// FormatOutcome renders one outcome as "<Success|Failed> - <sender> - <subject>".
func FormatOutcome(o model.Outcome) string {
	status := "Failed"
	if o.Success {
		status = "Success"
	}
	return fmt.Sprintf("%s - %s - %s", status, o.Sender, o.Subject)
}

// WriteOutcomes replaces the file at path with one line per outcome.
func WriteOutcomes(path string, outcomes []model.Outcome) error {
	lines := make([]string, 0, len(outcomes))
	for _, o := range outcomes {
		lines = append(lines, FormatOutcome(o))
	}
	return writeLines(path, lines)
}

// WriteURLs replaces the file at path with the candidate URLs, one per line.
func WriteURLs(path string, candidates []model.Candidate) error {
	lines := make([]string, 0, len(candidates))
	for _, c := range candidates {
		lines = append(lines, c.URL)
	}
	return writeLines(path, lines)
}

func writeLines(path string, lines []string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create results directory: %w", err)
		}
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create results file: %w", err)
	}

	writer := bufio.NewWriter(file)
	for _, line := range lines {
		if _, err := writer.WriteString(line); err != nil {
			_ = file.Close()
			return fmt.Errorf("write result: %w", err)
		}
		if err := writer.WriteByte('\n'); err != nil {
			_ = file.Close()
			return fmt.Errorf("write newline: %w", err)
		}
	}

	if err := writer.Flush(); err != nil {
		_ = file.Close()
		return fmt.Errorf("flush results file: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("close results file: %w", err)
	}
	return nil
}
