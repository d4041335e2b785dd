package model

import "time"

// Message is a single raw mail item as returned by a mailbox source.
type Message struct {
	ID         string
	Hash       string
	ReceivedAt time.Time
	Raw        []byte
}

// Method records how a candidate was discovered.
type Method string

const (
	MethodLinkText        Method = "link-text-match"
	MethodHrefKeyword     Method = "href-keyword-match"
	MethodListUnsubscribe Method = "list-unsubscribe-header"
)

// Candidate is a discovered, not yet executed unsubscribe action.
type Candidate struct {
	URL     string
	Subject string
	Sender  string
	Method  Method
}

// Outcome is the result of attempting one Candidate.
type Outcome struct {
	Sender   string
	Subject  string
	URL      string
	Success  bool
	Strategy string
}

// NewOutcome returns the outcome for c. strategy names the tier that
// succeeded and is empty on failure.
func NewOutcome(c Candidate, success bool, strategy string) Outcome {
	return Outcome{
		Sender:   c.Sender,
		Subject:  c.Subject,
		URL:      c.URL,
		Success:  success,
		Strategy: strategy,
	}
}
