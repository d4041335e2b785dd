package runner

import (
	"context"
	"log/slog"

	"github.com/dhcgn/imap-unsubscribe/config"
	"github.com/dhcgn/imap-unsubscribe/imap"
	"github.com/dhcgn/imap-unsubscribe/mbox"
)

// OpenSource returns the opener for the mailbox named by cfg: the mbox file
// when --mbox is set, the IMAP mailbox otherwise.
func OpenSource(cfg config.Config, logger *slog.Logger) OpenFunc {
	if !cfg.UsesIMAP() {
		return func(ctx context.Context) (Source, error) {
			return mbox.Open(ctx, mbox.Options{Path: cfg.MboxPath, SearchTerm: cfg.SearchTerm}, logger)
		}
	}

	return func(ctx context.Context) (Source, error) {
		return imap.Open(ctx, imap.Options{
			Host:               cfg.IMAPHost,
			Port:               cfg.IMAPPort,
			Username:           cfg.IMAPUser,
			Password:           cfg.IMAPPass,
			UseTLS:             cfg.UseTLS,
			InsecureSkipVerify: cfg.InsecureSkipVerify,
			Mailbox:            cfg.Mailbox,
			SearchTerm:         cfg.SearchTerm,
		}, logger)
	}
}
