package imap

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	imapv2 "github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-imap/v2/imapserver"
	"github.com/emersion/go-imap/v2/imapserver/imapmemserver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testUser = "user@example.com"
	testPass = "secret"
)

var testMessages = []string{
	"From: Shop <deals@shop.test>\r\nSubject: Weekly deals\r\nContent-Type: text/html\r\n\r\n<a href=\"http://shop.test/unsubscribe\">Unsubscribe</a>\r\n",
	"From: friend@example.com\r\nSubject: Lunch?\r\nContent-Type: text/plain\r\n\r\nSee you at noon.\r\n",
	"From: News <n@news.test>\r\nSubject: Digest\r\nContent-Type: text/plain\r\n\r\nTo unsubscribe reply STOP.\r\n",
}

func startServer(t *testing.T) (string, int) {
	t.Helper()

	memServer := imapmemserver.New()
	user := imapmemserver.NewUser(testUser, testPass)
	require.NoError(t, user.Create("INBOX", nil))
	memServer.AddUser(user)

	server := imapserver.New(&imapserver.Options{
		NewSession: func(*imapserver.Conn) (imapserver.Session, *imapserver.GreetingData, error) {
			return memServer.NewSession(), nil, nil
		},
		Caps: imapv2.CapSet{
			imapv2.CapIMAP4rev1: {},
		},
		InsecureAuth: true,
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() {
		_ = server.Serve(ln)
	}()
	t.Cleanup(func() {
		_ = server.Close()
	})

	host, portText, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portText)
	require.NoError(t, err)

	seed(t, ln.Addr().String())
	return host, port
}

func seed(t *testing.T, addr string) {
	t.Helper()

	client, err := imapclient.DialInsecure(addr, nil)
	require.NoError(t, err)
	defer client.Close()
	require.NoError(t, client.Login(testUser, testPass).Wait())

	for _, raw := range testMessages {
		cmd := client.Append("INBOX", int64(len(raw)), nil)
		_, err := cmd.Write([]byte(raw))
		require.NoError(t, err)
		require.NoError(t, cmd.Close())
		_, err = cmd.Wait()
		require.NoError(t, err)
	}
	require.NoError(t, client.Logout().Wait())
}

func testOptions(host string, port int) Options {
	return Options{
		Host:       host,
		Port:       port,
		Username:   testUser,
		Password:   testPass,
		Mailbox:    "INBOX",
		SearchTerm: "unsubscribe",
	}
}

func TestSource_SearchAndFetch(t *testing.T) {
	host, port := startServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	src, err := Open(ctx, testOptions(host, port), nil)
	require.NoError(t, err)
	defer src.Close()

	ids, err := src.Search(ctx)
	require.NoError(t, err)
	require.Len(t, ids, 2)

	first, err := src.Fetch(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, ids[0], first.ID)
	assert.NotEmpty(t, first.Hash)
	assert.True(t, strings.Contains(string(first.Raw), "Subject: Weekly deals"))

	second, err := src.Fetch(ctx, ids[1])
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(second.Raw), "Subject: Digest"))
	assert.NotEqual(t, first.Hash, second.Hash)
}

func TestSource_FetchErrors(t *testing.T) {
	host, port := startServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	src, err := Open(ctx, testOptions(host, port), nil)
	require.NoError(t, err)
	defer src.Close()

	_, err = src.Fetch(ctx, "not-a-uid")
	assert.Error(t, err)

	_, err = src.Fetch(ctx, "9999")
	assert.Error(t, err)
}

func TestOpen_LoginFailure(t *testing.T) {
	host, port := startServer(t)
	opts := testOptions(host, port)
	opts.Password = "wrong"

	_, err := Open(context.Background(), opts, nil)
	var authErr *AuthError
	require.True(t, errors.As(err, &authErr), "expected AuthError, got %v", err)
	assert.Equal(t, testUser, authErr.Username)
}

func TestOpen_InvalidOptions(t *testing.T) {
	_, err := Open(context.Background(), Options{Port: 993}, nil)
	assert.Error(t, err)

	_, err = Open(context.Background(), Options{Host: "localhost"}, nil)
	assert.Error(t, err)
}

func TestSource_CloseIsIdempotent(t *testing.T) {
	host, port := startServer(t)

	src, err := Open(context.Background(), testOptions(host, port), nil)
	require.NoError(t, err)
	assert.NoError(t, src.Close())
	assert.NoError(t, src.Close())
}

func TestBuildSearchCriteria(t *testing.T) {
	criteria := buildSearchCriteria("unsubscribe")
	require.NotNil(t, criteria)
	assert.Equal(t, []string{"unsubscribe"}, criteria.Body)
	assert.Empty(t, criteria.Header)
}

func TestSource_CloseLogsFailuresAsFailures(t *testing.T) {
	host, port := startServer(t)

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	src, err := Open(context.Background(), testOptions(host, port), logger)
	require.NoError(t, err)
	require.NoError(t, src.Close())

	for _, line := range strings.Split(buf.String(), "\n") {
		if strings.Contains(line, "imap close") || strings.Contains(line, "connection closed") {
			assert.Contains(t, line, "imap close failed")
		}
	}
}
