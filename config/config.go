package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	ErrMissingUser     = errors.New("IMAP user must be provided via --imap-user or EMAIL env var")
	ErrMissingPassword = errors.New("IMAP password must be provided via --imap-pass or PASSWORD env var")
)

// Config captures all command-line options required for an unsubscribe run.
type Config struct {
	IMAPHost           string
	IMAPPort           int
	IMAPUser           string
	IMAPPass           string
	UseTLS             bool
	InsecureSkipVerify bool
	Mailbox            string
	SearchTerm         string
	MboxPath           string

	ResultsPath     string
	HTTPTimeout     time.Duration
	WaitTimeout     time.Duration
	NavigateTimeout time.Duration
	SettleDelay     time.Duration
	Headless        bool
	ChromePath      string
	NoBrowser       bool
	ListUnsubscribe bool

	StateDir string
	Resume   bool
	Progress bool
	LogLevel string
	LogDir   string

	IncludeSender  []string
	IncludeSubject []string
	ExcludeSender  []string
	ExcludeSubject []string
}

// UsesIMAP reports whether messages are read from an IMAP server rather
// than a local mbox file.
func (c Config) UsesIMAP() bool {
	return c.MboxPath == ""
}

// RegisterFlags attaches all CLI flags to the provided command.
func RegisterFlags(cmd *cobra.Command) error {
	defaultStateDir, err := defaultStateDir()
	if err != nil {
		return err
	}

	flags := cmd.PersistentFlags()
	flags.String("imap-host", "imap.gmail.com", "IMAP server hostname")
	flags.Int("imap-port", 993, "IMAP server port")
	flags.String("imap-user", "", "IMAP username (falls back to EMAIL env var)")
	flags.String("imap-pass", "", "IMAP password (falls back to PASSWORD env var)")
	flags.Bool("use-tls", true, "Use TLS for the IMAP connection")
	flags.Bool("insecure-skip-verify", false, "Skip TLS certificate verification (not recommended)")
	flags.String("mailbox", "INBOX", "Mailbox to search")
	flags.String("search-term", "unsubscribe", "Body text the server-side search must contain")
	flags.String("mbox", "", "Read messages from a local .mbox file instead of IMAP")
	flags.String("results", "unsubscribe_results.txt", "File the outcomes are written to")
	flags.Duration("http-timeout", 10*time.Second, "Timeout of the direct HTTP unsubscribe request")
	flags.Duration("wait-timeout", 10*time.Second, "Timeout of each unsubscribe element search in the browser")
	flags.Duration("navigate-timeout", 30*time.Second, "Timeout of the browser page load")
	flags.Duration("settle-delay", 2*time.Second, "Pause after clicking an unsubscribe element")
	flags.Bool("headless", true, "Run the browser in headless mode")
	flags.String("chrome-path", "", "Path to the Chrome/Chromium executable (default: auto-detect)")
	flags.Bool("no-browser", false, "Only try the direct HTTP request, never start a browser")
	flags.Bool("list-unsubscribe", false, "Also use HTTP links from the List-Unsubscribe header")
	flags.String("state-dir", defaultStateDir, "Directory for resume state files")
	flags.Bool("resume", false, "Skip messages that were processed by an earlier run")
	flags.Bool("progress", false, "Show a progress bar while executing candidates")
	flags.String("log-level", "info", "Logging level: debug, info, warn, error")
	flags.String("log-dir", "", "Directory for log files (default: stdout only)")
	flags.StringArray("include-sender", nil, "Regex allow-list applied to the sender (mutually exclusive with exclude flags)")
	flags.StringArray("include-subject", nil, "Regex allow-list applied to the subject (mutually exclusive with exclude flags)")
	flags.StringArray("exclude-sender", nil, "Regex block-list applied to the sender (mutually exclusive with include flags)")
	flags.StringArray("exclude-subject", nil, "Regex block-list applied to the subject (mutually exclusive with include flags)")

	return nil
}

// LoadConfig converts the parsed Cobra flags into a Config struct with validation.
// A .env file in the working directory is loaded first; a missing file is ignored.
func LoadConfig(cmd *cobra.Command) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	flags := cmd.Flags()
	var (
		cfg Config
		err error
	)

	read := func(name string, dst any) {
		if err != nil {
			return
		}
		switch v := dst.(type) {
		case *string:
			*v, err = flags.GetString(name)
		case *int:
			*v, err = flags.GetInt(name)
		case *bool:
			*v, err = flags.GetBool(name)
		case *time.Duration:
			*v, err = flags.GetDuration(name)
		case *[]string:
			*v, err = flags.GetStringArray(name)
		default:
			err = fmt.Errorf("flag %s: unsupported destination %T", name, dst)
		}
	}

	read("imap-host", &cfg.IMAPHost)
	read("imap-port", &cfg.IMAPPort)
	read("imap-user", &cfg.IMAPUser)
	read("imap-pass", &cfg.IMAPPass)
	read("use-tls", &cfg.UseTLS)
	read("insecure-skip-verify", &cfg.InsecureSkipVerify)
	read("mailbox", &cfg.Mailbox)
	read("search-term", &cfg.SearchTerm)
	read("mbox", &cfg.MboxPath)
	read("results", &cfg.ResultsPath)
	read("http-timeout", &cfg.HTTPTimeout)
	read("wait-timeout", &cfg.WaitTimeout)
	read("navigate-timeout", &cfg.NavigateTimeout)
	read("settle-delay", &cfg.SettleDelay)
	read("headless", &cfg.Headless)
	read("chrome-path", &cfg.ChromePath)
	read("no-browser", &cfg.NoBrowser)
	read("list-unsubscribe", &cfg.ListUnsubscribe)
	read("state-dir", &cfg.StateDir)
	read("resume", &cfg.Resume)
	read("progress", &cfg.Progress)
	read("log-level", &cfg.LogLevel)
	read("log-dir", &cfg.LogDir)
	read("include-sender", &cfg.IncludeSender)
	read("include-subject", &cfg.IncludeSubject)
	read("exclude-sender", &cfg.ExcludeSender)
	read("exclude-subject", &cfg.ExcludeSubject)
	if err != nil {
		return Config{}, err
	}

	if cfg.IMAPUser == "" {
		cfg.IMAPUser = os.Getenv("EMAIL")
	}
	if cfg.IMAPPass == "" {
		cfg.IMAPPass = os.Getenv("PASSWORD")
	}

	if cfg.StateDir == "" {
		cfg.StateDir, err = defaultStateDir()
		if err != nil {
			return Config{}, err
		}
	}
	cfg.StateDir = filepath.Clean(cfg.StateDir)

	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate checks a Config once at startup, before any network activity.
func Validate(cfg Config) error {
	if cfg.UsesIMAP() {
		if cfg.IMAPUser == "" {
			return ErrMissingUser
		}
		if cfg.IMAPPass == "" {
			return ErrMissingPassword
		}
		if cfg.IMAPHost == "" {
			return fmt.Errorf("--imap-host is required")
		}
		if cfg.IMAPPort <= 0 || cfg.IMAPPort > 65535 {
			return fmt.Errorf("--imap-port must be between 1 and 65535")
		}
	}
	if strings.TrimSpace(cfg.SearchTerm) == "" {
		return fmt.Errorf("--search-term must not be empty")
	}
	if cfg.ResultsPath == "" {
		return fmt.Errorf("--results is required")
	}
	if cfg.HTTPTimeout <= 0 {
		return fmt.Errorf("--http-timeout must be positive")
	}
	if cfg.WaitTimeout <= 0 {
		return fmt.Errorf("--wait-timeout must be positive")
	}
	if cfg.NavigateTimeout <= 0 {
		return fmt.Errorf("--navigate-timeout must be positive")
	}
	if cfg.SettleDelay < 0 {
		return fmt.Errorf("--settle-delay must not be negative")
	}

	includeActive := len(cfg.IncludeSender) > 0 || len(cfg.IncludeSubject) > 0
	excludeActive := len(cfg.ExcludeSender) > 0 || len(cfg.ExcludeSubject) > 0
	if includeActive && excludeActive {
		return fmt.Errorf("include and exclude flags are mutually exclusive")
	}

	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid --log-level: %s", cfg.LogLevel)
	}

	return nil
}

func defaultStateDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".imap-unsubscribe", "state"), nil
}
