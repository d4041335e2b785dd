package parts

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"

	// Register charset decoders (windows-1252, iso-8859-*, koi8-r, etc.)
	_ "github.com/emersion/go-message/charset"
)

const (
	htmlMediaType  = "text/html"
	plainMediaType = "text/plain"
)

// Message is a parsed view over one raw RFC 5322 message.
type Message struct {
	Subject         string
	Sender          string
	ListUnsubscribe string

	raw       []byte
	truncated bool
}

// Parse reads the header of raw. The body is not decoded until HTMLBodies
// is iterated.
func Parse(raw []byte) (*Message, error) {
	// An unknown charset or transfer encoding still yields a readable entity.
	entity, err := message.Read(bytes.NewReader(raw))
	if entity == nil {
		return nil, fmt.Errorf("read message header: %w", err)
	}

	header := mail.Header{Header: entity.Header}

	subject, err := header.Subject()
	if err != nil {
		subject = header.Get("Subject")
	}
	sender, err := header.Text("From")
	if err != nil {
		sender = header.Get("From")
	}

	return &Message{
		Subject:         strings.TrimSpace(subject),
		Sender:          strings.TrimSpace(sender),
		ListUnsubscribe: header.Get("List-Unsubscribe"),
		raw:             raw,
	}, nil
}

// HTMLBodies yields the decoded payload of every text/html part in document
// order. Multipart trees are walked depth first over an explicit stack of
// readers. Parts of any other media type are skipped. Iteration stops after
// the first error is yielded.
func (m *Message) HTMLBodies() iter.Seq2[string, error] {
	return m.walk(func(mediaType string) bool {
		return mediaType == htmlMediaType
	})
}

// TextBodies yields the decoded payload of every text/plain and text/html
// part in document order. A part without a Content-Type counts as
// text/plain.
func (m *Message) TextBodies() iter.Seq2[string, error] {
	return m.walk(func(mediaType string) bool {
		return mediaType == plainMediaType || mediaType == htmlMediaType
	})
}

// Truncated reports whether the last walk ended at a multipart body that
// was missing its closing boundary. The parts read up to that point were
// still yielded.
func (m *Message) Truncated() bool {
	return m.truncated
}

func (m *Message) walk(match func(mediaType string) bool) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		m.truncated = false

		root, err := message.Read(bytes.NewReader(m.raw))
		if root == nil {
			yield("", fmt.Errorf("read message: %w", err))
			return
		}

		mr := root.MultipartReader()
		if mr == nil {
			body, ok, err := readLeaf(root, match)
			if err != nil {
				yield("", err)
				return
			}
			if ok {
				yield(body, nil)
			}
			return
		}

		stack := []message.MultipartReader{mr}
		for len(stack) > 0 {
			top := stack[len(stack)-1]

			part, err := top.NextPart()
			if errors.Is(err, io.EOF) {
				stack = stack[:len(stack)-1]
				continue
			}
			if part == nil {
				yield("", fmt.Errorf("next part: %w", err))
				return
			}

			if nested := part.MultipartReader(); nested != nil {
				stack = append(stack, nested)
				continue
			}

			body, ok, err := readLeaf(part, match)
			if errors.Is(err, io.ErrUnexpectedEOF) {
				// The stream ended inside this part. Every enclosing
				// reader shares it, so nothing follows.
				m.truncated = true
				if ok {
					yield(body, nil)
				}
				return
			}
			if err != nil {
				yield("", err)
				return
			}
			if !ok {
				continue
			}
			if !yield(body, nil) {
				return
			}
		}
	}
}

// readLeaf returns the decoded payload of e when its media type matches.
// Other parts are drained so a truncated stream is noticed on them too. On
// io.ErrUnexpectedEOF the bytes read so far are returned with the error.
func readLeaf(e *message.Entity, match func(mediaType string) bool) (string, bool, error) {
	mediaType := plainMediaType
	if e.Header.Get("Content-Type") != "" {
		t, _, err := e.Header.ContentType()
		if err != nil {
			t = ""
		}
		mediaType = strings.ToLower(t)
	}

	if !match(mediaType) {
		if _, err := io.Copy(io.Discard, e.Body); errors.Is(err, io.ErrUnexpectedEOF) {
			return "", false, err
		}
		return "", false, nil
	}

	body, err := io.ReadAll(e.Body)
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return string(body), true, err
	}
	if err != nil {
		return "", true, fmt.Errorf("decode %s part: %w", mediaType, err)
	}
	return string(body), true, nil
}
