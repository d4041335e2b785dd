package mbox

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/mail"
	"os"
	"strconv"
	"strings"
	"time"

	mboxlib "github.com/emersion/go-mbox"

	"github.com/dhcgn/imap-unsubscribe/model"
	"github.com/dhcgn/imap-unsubscribe/parts"
)

var ErrMessageNotFound = errors.New("mbox message not found")

type Options struct {
	Path       string
	SearchTerm string
}

// Source serves messages from a local mbox file. It mirrors the IMAP source
// so a mailbox export can be scanned without network access.
type Source struct {
	path     string
	term     string
	logger   *slog.Logger
	messages [][]byte
}

// Open reads every message of the mbox file into memory.
func Open(ctx context.Context, opts Options, logger *slog.Logger) (*Source, error) {
	path := strings.TrimSpace(opts.Path)
	if path == "" {
		return nil, fmt.Errorf("mbox path is empty")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open mbox: %w", err)
	}
	defer file.Close()

	term := opts.SearchTerm
	if term == "" {
		term = "unsubscribe"
	}

	src := &Source{path: path, term: term, logger: logger}
	reader := mboxlib.NewReader(file)
	for idx := 0; ; idx++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		msgReader, err := reader.NextMessage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("message %d: %w", idx, err)
		}

		raw, err := io.ReadAll(msgReader)
		if err != nil {
			return nil, fmt.Errorf("message %d read: %w", idx, err)
		}
		src.messages = append(src.messages, raw)
	}

	if logger != nil {
		logger.Debug("mbox loaded", "path", path, "messages", len(src.messages))
	}
	return src, nil
}

// Search returns the indexes of the messages whose decoded text contains
// the search term, ignoring case. Like an IMAP BODY search, headers are not
// matched.
func (s *Source) Search(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	needle := strings.ToLower(s.term)
	var ids []string
	for idx, raw := range s.messages {
		if bodyContains(raw, needle) {
			ids = append(ids, strconv.Itoa(idx))
		}
	}

	if s.logger != nil {
		s.logger.Info("mbox search completed", "path", s.path, "term", s.term, "matches", len(ids))
	}
	return ids, nil
}

// bodyContains matches the decoded text parts. A message that cannot be
// decoded is matched on its raw body instead.
func bodyContains(raw []byte, needle string) bool {
	if msg, err := parts.Parse(raw); err == nil {
		decoded := true
		for text, err := range msg.TextBodies() {
			if err != nil {
				decoded = false
				break
			}
			if strings.Contains(strings.ToLower(text), needle) {
				return true
			}
		}
		if decoded {
			return false
		}
	}

	_, body := splitRawMessage(raw)
	return bytes.Contains(bytes.ToLower(body), []byte(needle))
}

// Fetch returns the raw message at the given index.
func (s *Source) Fetch(ctx context.Context, id string) (model.Message, error) {
	if err := ctx.Err(); err != nil {
		return model.Message{}, err
	}

	idx, err := strconv.Atoi(id)
	if err != nil {
		return model.Message{}, fmt.Errorf("invalid mbox index %q: %w", id, err)
	}
	if idx < 0 || idx >= len(s.messages) {
		return model.Message{}, fmt.Errorf("mbox index %d: %w", idx, ErrMessageNotFound)
	}

	raw := s.messages[idx]
	sum := sha256.Sum256(raw)
	return model.Message{
		ID:         id,
		Hash:       base64.StdEncoding.EncodeToString(sum[:]),
		ReceivedAt: receivedAt(raw),
		Raw:        raw,
	}, nil
}

// Close releases the loaded messages.
func (s *Source) Close() error {
	s.messages = nil
	return nil
}

func receivedAt(raw []byte) time.Time {
	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return time.Time{}
	}
	date := msg.Header.Get("Date")
	if date == "" {
		return time.Time{}
	}
	t, err := mail.ParseDate(date)
	if err != nil {
		return time.Time{}
	}
	return t
}

func splitRawMessage(raw []byte) (header, body []byte) {
	if len(raw) == 0 {
		return nil, nil
	}

	if idx := bytes.Index(raw, []byte("\r\n\r\n")); idx >= 0 {
		return raw[:idx], raw[idx+4:]
	}
	if idx := bytes.Index(raw, []byte("\n\n")); idx >= 0 {
		return raw[:idx], raw[idx+2:]
	}

	return raw, nil
}

// CountMessages counts the total number of messages in an mbox file.
func CountMessages(path string) (int, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open mbox: %w", err)
	}
	defer file.Close()

	reader := mboxlib.NewReader(file)
	count := 0
	for {
		msgReader, err := reader.NextMessage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return count, nil
			}
			return 0, err
		}

		if _, err := io.Copy(io.Discard, msgReader); err != nil {
			// a truncated message still counts
			count++
			continue
		}
		count++
	}
}
