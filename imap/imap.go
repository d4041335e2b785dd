package imap

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"

	imapv2 "github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/dhcgn/imap-unsubscribe/model"
)

var ErrMessageNotFound = errors.New("message not found")

type Options struct {
	Host               string
	Port               int
	Username           string
	Password           string
	UseTLS             bool
	InsecureSkipVerify bool
	Mailbox            string
	SearchTerm         string
}

// AuthError reports a failed login.
type AuthError struct {
	Username string
	Err      error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("imap login failed for %s: %v", e.Username, e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// Source reads messages from one selected IMAP mailbox. It holds a single
// authenticated connection until Close.
type Source struct {
	opts   Options
	client *imapclient.Client
	logger *slog.Logger
}

// Open dials the server, logs in and selects the mailbox read-only.
func Open(ctx context.Context, opts Options, logger *slog.Logger) (*Source, error) {
	if opts.Host == "" {
		return nil, fmt.Errorf("imap host is empty")
	}
	if opts.Port <= 0 {
		return nil, fmt.Errorf("imap port must be positive")
	}

	address := net.JoinHostPort(opts.Host, strconv.Itoa(opts.Port))
	options := &imapclient.Options{}
	if opts.UseTLS {
		options.TLSConfig = &tls.Config{
			ServerName:         opts.Host,
			InsecureSkipVerify: opts.InsecureSkipVerify,
		}
	}

	var (
		client *imapclient.Client
		err    error
	)
	if opts.UseTLS {
		client, err = imapclient.DialTLS(address, options)
	} else {
		client, err = imapclient.DialInsecure(address, options)
	}
	if err != nil {
		return nil, fmt.Errorf("dial imap %s: %w", address, err)
	}

	stopClose := context.AfterFunc(ctx, func() {
		_ = client.Close()
	})
	defer stopClose()

	if err := client.Login(opts.Username, opts.Password).Wait(); err != nil {
		_ = client.Close()
		return nil, &AuthError{Username: opts.Username, Err: err}
	}

	s := &Source{opts: opts, client: client, logger: logger}

	mailbox := s.mailbox()
	if _, err := client.Select(mailbox, &imapv2.SelectOptions{ReadOnly: true}).Wait(); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("select mailbox %s: %w", mailbox, err)
	}

	if logger != nil {
		logger.Debug("imap connection established", "address", address, "user", opts.Username, "mailbox", mailbox, "tls", opts.UseTLS)
	}

	return s, nil
}

func (s *Source) mailbox() string {
	if s.opts.Mailbox == "" {
		return "INBOX"
	}
	return s.opts.Mailbox
}

func (s *Source) searchTerm() string {
	if s.opts.SearchTerm == "" {
		return "unsubscribe"
	}
	return s.opts.SearchTerm
}

func buildSearchCriteria(term string) *imapv2.SearchCriteria {
	return &imapv2.SearchCriteria{
		Body: []string{term},
	}
}

// Search returns the UIDs of the messages whose body contains the search
// term, in server order.
func (s *Source) Search(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := s.client.UIDSearch(buildSearchCriteria(s.searchTerm()), nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("search mailbox %s: %w", s.mailbox(), err)
	}

	uids := data.AllUIDs()
	ids := make([]string, 0, len(uids))
	for _, uid := range uids {
		ids = append(ids, strconv.FormatUint(uint64(uid), 10))
	}

	if s.logger != nil {
		s.logger.Info("imap search completed", "mailbox", s.mailbox(), "term", s.searchTerm(), "matches", len(ids))
	}
	return ids, nil
}

// Fetch returns the full raw message with the given UID without setting the
// \Seen flag.
func (s *Source) Fetch(ctx context.Context, id string) (model.Message, error) {
	if err := ctx.Err(); err != nil {
		return model.Message{}, err
	}

	uid, err := strconv.ParseUint(id, 10, 32)
	if err != nil {
		return model.Message{}, fmt.Errorf("invalid uid %q: %w", id, err)
	}

	bodySection := &imapv2.FetchItemBodySection{Peek: true}
	fetchOpts := &imapv2.FetchOptions{
		UID:          true,
		InternalDate: true,
		BodySection:  []*imapv2.FetchItemBodySection{bodySection},
	}

	cmd := s.client.Fetch(imapv2.UIDSetNum(imapv2.UID(uid)), fetchOpts)
	defer cmd.Close()

	msg := cmd.Next()
	if msg == nil {
		if err := cmd.Close(); err != nil {
			return model.Message{}, fmt.Errorf("fetch uid %d: %w", uid, err)
		}
		return model.Message{}, fmt.Errorf("fetch uid %d: %w", uid, ErrMessageNotFound)
	}

	buf, err := msg.Collect()
	if err != nil {
		return model.Message{}, fmt.Errorf("collect uid %d: %w", uid, err)
	}
	if err := cmd.Close(); err != nil {
		return model.Message{}, fmt.Errorf("fetch uid %d: %w", uid, err)
	}

	raw := buf.FindBodySection(bodySection)
	if raw == nil {
		return model.Message{}, fmt.Errorf("fetch uid %d: empty body", uid)
	}

	sum := sha256.Sum256(raw)
	return model.Message{
		ID:         id,
		Hash:       base64.StdEncoding.EncodeToString(sum[:]),
		ReceivedAt: buf.InternalDate,
		Raw:        raw,
	}, nil
}

// Close logs out and closes the connection.
func (s *Source) Close() error {
	if s.client == nil {
		return nil
	}
	client := s.client
	s.client = nil

	if err := client.Logout().Wait(); err != nil && s.logger != nil {
		s.logger.Warn("imap logout failed", "err", err)
	}
	if err := client.Close(); err != nil {
		if s.logger != nil {
			s.logger.Debug("imap close failed", "err", err)
		}
	}
	return nil
}
