package unsubscribe

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/dhcgn/imap-unsubscribe/model"
)

const userAgent = "imap-unsubscribe/1.0"

// HTTPStrategy issues a plain GET request to the candidate URL. Only an
// exact 200 status counts as success.
type HTTPStrategy struct {
	client *http.Client
	logger *slog.Logger
}

func NewHTTPStrategy(timeout time.Duration, logger *slog.Logger) *HTTPStrategy {
	return &HTTPStrategy{
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

func (h *HTTPStrategy) Name() string {
	return "http"
}

func (h *HTTPStrategy) Attempt(ctx context.Context, c model.Candidate) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL, nil)
	if err != nil {
		h.logError(c, err)
		return false
	}
	// Some unsubscribe endpoints reject requests without a user agent.
	req.Header.Set("User-Agent", userAgent)

	resp, err := h.client.Do(req)
	if err != nil {
		h.logError(c, err)
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))

	if h.logger != nil {
		h.logger.Debug("unsubscribe request completed", "url", c.URL, "status", resp.StatusCode)
	}
	return resp.StatusCode == http.StatusOK
}

func (h *HTTPStrategy) logError(c model.Candidate, err error) {
	if h.logger != nil {
		h.logger.Error("request error", "url", c.URL, "err", err)
	}
}
