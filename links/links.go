package links

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/dhcgn/imap-unsubscribe/model"
)

// TriggerPhrases are matched case-insensitively against anchor text and href.
var TriggerPhrases = []string{"unsubscribe", "opt-out", "opt out"}

// Extract returns the unsubscribe candidates found in one HTML payload, in
// document order. A payload without matching anchors yields no candidates
// and no error.
func Extract(html, subject, sender string) ([]model.Candidate, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	var candidates []model.Candidate
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" {
			return
		}

		method, ok := classify(s.Text(), href)
		if !ok {
			return
		}

		candidates = append(candidates, model.Candidate{
			URL:     href,
			Subject: subject,
			Sender:  sender,
			Method:  method,
		})
	})

	return candidates, nil
}

// classify prefers a text match over an href match.
func classify(text, href string) (model.Method, bool) {
	switch {
	case containsTrigger(text):
		return model.MethodLinkText, true
	case containsTrigger(href):
		return model.MethodHrefKeyword, true
	default:
		return "", false
	}
}

func containsTrigger(s string) bool {
	s = strings.ToLower(s)
	for _, phrase := range TriggerPhrases {
		if strings.Contains(s, phrase) {
			return true
		}
	}
	return false
}

// ListUnsubscribe returns a candidate for every HTTP(S) URL of an RFC 2369
// List-Unsubscribe header value such as
// "<mailto:u@example.com>, <https://example.com/u?x=1>". mailto entries are
// ignored because they cannot be executed by a request or a browser.
func ListUnsubscribe(header, subject, sender string) []model.Candidate {
	var candidates []model.Candidate
	for _, part := range strings.Split(header, "<") {
		end := strings.Index(part, ">")
		if end == -1 {
			continue
		}

		url := strings.TrimSpace(part[:end])
		lower := strings.ToLower(url)
		if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
			continue
		}

		candidates = append(candidates, model.Candidate{
			URL:     url,
			Subject: subject,
			Sender:  sender,
			Method:  model.MethodListUnsubscribe,
		})
	}
	return candidates
}
