package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dhcgn/imap-unsubscribe/config"
	"github.com/dhcgn/imap-unsubscribe/filter"
	"github.com/dhcgn/imap-unsubscribe/links"
	"github.com/dhcgn/imap-unsubscribe/model"
	"github.com/dhcgn/imap-unsubscribe/parts"
	"github.com/dhcgn/imap-unsubscribe/results"
	"github.com/dhcgn/imap-unsubscribe/state"
	"github.com/dhcgn/imap-unsubscribe/stats"
	"github.com/dhcgn/imap-unsubscribe/unsubscribe"
)

var (
	ErrNoSource   = errors.New("no mailbox source configured")
	ErrNoExecutor = errors.New("no unsubscribe executor configured")
)

// Source is a searchable mailbox. Both the IMAP and the mbox source
// implement it.
type Source interface {
	Search(ctx context.Context) ([]string, error)
	Fetch(ctx context.Context, id string) (model.Message, error)
	Close() error
}

type OpenFunc func(ctx context.Context) (Source, error)

type Deps struct {
	Open     OpenFunc
	Executor *unsubscribe.Executor
	Filter   *filter.Filter
	Tracker  state.Tracker
	Stream   *stats.Stream

	// BeforeExecute is called once with the full candidate list before the
	// first candidate is executed.
	BeforeExecute func(candidates []model.Candidate)
}

type Runner struct {
	cfg    config.Config
	deps   Deps
	logger *slog.Logger
}

// messageCandidates groups the candidates found in one message so the
// tracker can be updated after execution.
type messageCandidates struct {
	msg        model.Message
	sender     string
	candidates []model.Candidate
}

func New(cfg config.Config, deps Deps, logger *slog.Logger) (*Runner, error) {
	if deps.Open == nil {
		return nil, ErrNoSource
	}
	if deps.Tracker == nil {
		deps.Tracker = state.NewMemoryTracker()
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Runner{cfg: cfg, deps: deps, logger: logger}, nil
}

// Run scans the mailbox, executes every candidate in discovery order and
// writes the outcomes to the results file. The mailbox is closed before the
// first candidate is executed.
func (r *Runner) Run(ctx context.Context) error {
	start := time.Now()

	if r.deps.Executor == nil {
		return ErrNoExecutor
	}

	src, err := r.deps.Open(ctx)
	if err != nil {
		return fmt.Errorf("open mailbox: %w", err)
	}

	closed := false
	closeSource := func() {
		if closed {
			return
		}
		closed = true
		if err := src.Close(); err != nil {
			r.logger.Warn("close mailbox failed", "err", err)
		}
	}
	defer closeSource()

	batches := r.collect(ctx, src)
	closeSource()

	candidates := flatten(batches)
	r.logger.Info("candidates collected", "messages", len(batches), "candidates", len(candidates))

	if r.deps.BeforeExecute != nil {
		r.deps.BeforeExecute(candidates)
	}
	outcomes := r.Execute(ctx, candidates)
	r.markProcessed(batches, outcomes)

	if err := results.WriteOutcomes(r.cfg.ResultsPath, outcomes); err != nil {
		return fmt.Errorf("write results: %w", err)
	}

	r.logger.Info("run completed", "results", r.cfg.ResultsPath, "outcomes", len(outcomes), "duration", time.Since(start))
	return nil
}

// Collect searches src and returns the candidates of every matching message,
// ordered by message, then HTML part, then anchor.
func (r *Runner) Collect(ctx context.Context, src Source) []model.Candidate {
	return flatten(r.collect(ctx, src))
}

func (r *Runner) collect(ctx context.Context, src Source) []messageCandidates {
	ids, err := src.Search(ctx)
	if err != nil {
		r.logger.Error("mailbox search failed", "err", err)
		r.emit(stats.Event{Stage: stats.StageMailbox, Type: stats.EventTypeError, Err: err})
		return nil
	}

	batches := make([]messageCandidates, 0, len(ids))
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			r.logger.Warn("scan interrupted", "err", err)
			break
		}

		batch, ok := r.collectMessage(ctx, src, id)
		if ok {
			batches = append(batches, batch)
		}
	}
	return batches
}

func (r *Runner) collectMessage(ctx context.Context, src Source, id string) (messageCandidates, bool) {
	msg, err := src.Fetch(ctx, id)
	if err != nil {
		r.messageError(id, fmt.Errorf("fetch message: %w", err))
		return messageCandidates{}, false
	}
	r.emit(stats.Event{Stage: stats.StageMailbox, Type: stats.EventTypeScanned, MessageID: id})

	if r.cfg.Resume && r.deps.Tracker.AlreadyProcessed(msg.Hash) {
		r.logger.Debug("message already processed", "id", id)
		r.emit(stats.Event{Stage: stats.StageMailbox, Type: stats.EventTypeDuplicate, MessageID: id})
		return messageCandidates{}, false
	}

	parsed, err := parts.Parse(msg.Raw)
	if err != nil {
		r.messageError(id, err)
		return messageCandidates{}, false
	}

	if !r.deps.Filter.Allows(parsed.Sender, parsed.Subject) {
		r.logger.Debug("message filtered", "id", id, "sender", parsed.Sender, "subject", parsed.Subject)
		r.emit(stats.Event{Stage: stats.StageMailbox, Type: stats.EventTypeFiltered, MessageID: id})
		return messageCandidates{}, false
	}

	var candidates []model.Candidate
	for html, err := range parsed.HTMLBodies() {
		if err != nil {
			r.messageError(id, fmt.Errorf("decode html part: %w", err))
			return messageCandidates{}, false
		}
		found, err := links.Extract(html, parsed.Subject, parsed.Sender)
		if err != nil {
			r.messageError(id, err)
			return messageCandidates{}, false
		}
		candidates = append(candidates, found...)
	}
	if parsed.Truncated() {
		r.logger.Warn("message is missing its closing MIME boundary", "id", id, "sender", parsed.Sender)
	}

	if r.cfg.ListUnsubscribe && parsed.ListUnsubscribe != "" {
		candidates = append(candidates, links.ListUnsubscribe(parsed.ListUnsubscribe, parsed.Subject, parsed.Sender)...)
	}

	for _, c := range candidates {
		r.emit(stats.Event{Stage: stats.StageExtract, Type: stats.EventTypeCandidate, MessageID: id, URL: c.URL, Detail: c.Sender})
	}
	r.logger.Debug("message scanned", "id", id, "sender", parsed.Sender, "candidates", len(candidates))

	return messageCandidates{msg: msg, sender: parsed.Sender, candidates: candidates}, true
}

func (r *Runner) messageError(id string, err error) {
	r.logger.Error("skipping message", "id", id, "err", err)
	r.emit(stats.Event{Stage: stats.StageExtract, Type: stats.EventTypeError, MessageID: id, Err: err})
}

// Execute runs every candidate in order and returns exactly one outcome per
// candidate. Without an executor every candidate fails.
func (r *Runner) Execute(ctx context.Context, candidates []model.Candidate) []model.Outcome {
	if r.deps.Executor == nil {
		r.deps.Executor = unsubscribe.NewExecutor(r.logger)
	}
	return r.deps.Executor.ExecuteAll(ctx, candidates, func(o model.Outcome) {
		evtType := stats.EventTypeFailed
		if o.Success {
			evtType = stats.EventTypeSucceeded
		}
		r.emit(stats.Event{Stage: stats.StageExecute, Type: evtType, URL: o.URL, Detail: o.Sender})
	})
}

func (r *Runner) markProcessed(batches []messageCandidates, outcomes []model.Outcome) {
	offset := 0
	for _, b := range batches {
		succeeded := 0
		for i := range b.candidates {
			if offset+i < len(outcomes) && outcomes[offset+i].Success {
				succeeded++
			}
		}
		offset += len(b.candidates)

		rec := state.Record{
			Hash:        b.msg.Hash,
			MessageID:   b.msg.ID,
			Sender:      b.sender,
			Candidates:  len(b.candidates),
			Succeeded:   succeeded,
			ProcessedAt: time.Now().UTC(),
		}
		if err := r.deps.Tracker.MarkProcessed(rec); err != nil {
			r.logger.Warn("mark processed failed", "id", b.msg.ID, "err", err)
		}
	}
}

func (r *Runner) emit(evt stats.Event) {
	r.deps.Stream.Emit(evt)
}

func flatten(batches []messageCandidates) []model.Candidate {
	var candidates []model.Candidate
	for _, b := range batches {
		candidates = append(candidates, b.candidates...)
	}
	return candidates
}
