package unsubscribe

import (
	"context"
	"log/slog"

	"github.com/dhcgn/imap-unsubscribe/model"
)

// Strategy is one way of executing a candidate. Attempt never returns an
// error: every failure is reported as false.
type Strategy interface {
	Name() string
	Attempt(ctx context.Context, c model.Candidate) bool
}

// Executor tries its strategies in order until one reports success.
type Executor struct {
	strategies []Strategy
	logger     *slog.Logger
}

func NewExecutor(logger *slog.Logger, strategies ...Strategy) *Executor {
	return &Executor{strategies: strategies, logger: logger}
}

// Execute produces exactly one outcome for c. Later strategies only run when
// every earlier one failed.
func (e *Executor) Execute(ctx context.Context, c model.Candidate) model.Outcome {
	if e.logger != nil {
		e.logger.Info("processing unsubscribe", "sender", c.Sender, "subject", c.Subject, "url", c.URL, "method", c.Method)
	}

	for _, s := range e.strategies {
		if s.Attempt(ctx, c) {
			if e.logger != nil {
				e.logger.Info("unsubscribe succeeded", "sender", c.Sender, "strategy", s.Name())
			}
			return model.NewOutcome(c, true, s.Name())
		}
		if e.logger != nil {
			e.logger.Debug("unsubscribe strategy failed", "url", c.URL, "strategy", s.Name())
		}
	}

	if e.logger != nil {
		e.logger.Warn("unsubscribe failed", "sender", c.Sender, "subject", c.Subject, "url", c.URL)
	}
	return model.NewOutcome(c, false, "")
}

// ExecuteAll runs the candidates sequentially and returns one outcome per
// candidate in the same order. onOutcome, when set, is called after each one.
func (e *Executor) ExecuteAll(ctx context.Context, candidates []model.Candidate, onOutcome func(model.Outcome)) []model.Outcome {
	outcomes := make([]model.Outcome, 0, len(candidates))
	for _, c := range candidates {
		outcome := e.Execute(ctx, c)
		outcomes = append(outcomes, outcome)
		if onOutcome != nil {
			onOutcome(outcome)
		}
	}
	return outcomes
}
