package mbox

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const testMbox = `From deals@shop.test Mon Jan  6 10:00:00 2025
From: Shop <deals@shop.test>
Subject: Weekly deals
Date: Mon, 06 Jan 2025 10:00:00 +0000
Content-Type: text/html

<a href="http://shop.test/u">UNSUBSCRIBE</a>

From friend@example.com Mon Jan  6 11:00:00 2025
From: friend@example.com
Subject: Lunch?
Content-Type: text/plain

See you at noon.

From n@news.test Mon Jan  6 12:00:00 2025
From: News <n@news.test>
Subject: unsubscribe in subject only
Content-Type: text/plain

Nothing to see.

From n@news.test Mon Jan  6 13:00:00 2025
From: News <n@news.test>
Subject: Digest
Content-Type: text/plain

To unsubscribe reply STOP.

From promo@shop.test Mon Jan  6 14:00:00 2025
From: Promo <promo@shop.test>
Subject: Encoded
Content-Type: text/html; charset=utf-8
Content-Transfer-Encoding: base64

PGEgaHJlZj0iaHR0cDovL25ld3MudGVzdC91Ij5VbnN1YnNjcmliZTwvYT4=
`

func writeMbox(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.mbox")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write mbox: %v", err)
	}
	return path
}

func TestSource_SearchMatchesDecodedBodyOnly(t *testing.T) {
	src, err := Open(context.Background(), Options{Path: writeMbox(t, testMbox)}, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer src.Close()

	ids, err := src.Search(context.Background())
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if strings.Join(ids, ",") != "0,3,4" {
		t.Fatalf("expected ids 0,3,4, got %v", ids)
	}
}

func TestSource_Fetch(t *testing.T) {
	src, err := Open(context.Background(), Options{Path: writeMbox(t, testMbox)}, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer src.Close()

	msg, err := src.Fetch(context.Background(), "0")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if msg.ID != "0" {
		t.Errorf("expected id 0, got %q", msg.ID)
	}
	if !strings.Contains(string(msg.Raw), "Subject: Weekly deals") {
		t.Errorf("unexpected raw message: %q", msg.Raw)
	}
	if msg.Hash == "" {
		t.Error("expected hash")
	}
	if msg.ReceivedAt.IsZero() || msg.ReceivedAt.Year() != 2025 {
		t.Errorf("unexpected date %v", msg.ReceivedAt)
	}

	other, err := src.Fetch(context.Background(), "1")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if other.Hash == msg.Hash {
		t.Error("different messages share a hash")
	}
	if !other.ReceivedAt.IsZero() {
		t.Errorf("expected zero date without Date header, got %v", other.ReceivedAt)
	}

	if _, err := src.Fetch(context.Background(), "9"); !errors.Is(err, ErrMessageNotFound) {
		t.Errorf("expected ErrMessageNotFound, got %v", err)
	}
	if _, err := src.Fetch(context.Background(), "x"); err == nil {
		t.Error("expected error for invalid index")
	}
}

func TestSource_CustomSearchTerm(t *testing.T) {
	src, err := Open(context.Background(), Options{Path: writeMbox(t, testMbox), SearchTerm: "Noon"}, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer src.Close()

	ids, err := src.Search(context.Background())
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(ids) != 1 || ids[0] != "1" {
		t.Fatalf("expected [1], got %v", ids)
	}
}

func TestOpen_Errors(t *testing.T) {
	if _, err := Open(context.Background(), Options{}, nil); err == nil {
		t.Error("expected error for empty path")
	}
	if _, err := Open(context.Background(), Options{Path: filepath.Join(t.TempDir(), "missing.mbox")}, nil); err == nil {
		t.Error("expected error for missing file")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Open(ctx, Options{Path: writeMbox(t, testMbox)}, nil); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestCountMessages(t *testing.T) {
	count, err := CountMessages(writeMbox(t, testMbox))
	if err != nil {
		t.Fatalf("CountMessages: %v", err)
	}
	if count != 5 {
		t.Fatalf("expected 5 messages, got %d", count)
	}
}

func TestBodyContains_Base64HTML(t *testing.T) {
	raw := []byte("Content-Type: text/html\r\nContent-Transfer-Encoding: base64\r\n\r\nPGEgaHJlZj0iaHR0cDovL25ld3MudGVzdC91Ij5VbnN1YnNjcmliZTwvYT4=\r\n")
	if !bodyContains(raw, "unsubscribe") {
		t.Error("expected decoded base64 body to match")
	}
	if bodyContains(raw, "vw5zdwjzy3jpymu") {
		t.Error("raw base64 text must not be searched when the body decodes")
	}
}

func TestBodyContains_UndecodableFallsBackToRaw(t *testing.T) {
	raw := []byte("Content-Type: text/html\r\nContent-Transfer-Encoding: base64\r\n\r\n@@@@ unsubscribe @@@@\r\n")
	if !bodyContains(raw, "unsubscribe") {
		t.Error("expected raw body match for an undecodable message")
	}
}
