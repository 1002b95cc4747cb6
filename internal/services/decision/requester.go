// Package decision requests one batch of trading decisions from the
// reasoning service and turns the reply into validated decisions.
package decision

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/autotrade/internal/clients"
	"github.com/vadiminshakov/autotrade/internal/domain"
	"github.com/vadiminshakov/autotrade/internal/services/promptbuilder"
	"github.com/vadiminshakov/autotrade/pkg/retrier"
	"go.uber.org/zap"
)

const (
	DefaultAttempts = 5
	DefaultDelay    = 5 * time.Second
)

// Reasoner reasoning service capability.
type Reasoner interface {
	Complete(ctx context.Context, messages []promptbuilder.Message) (clients.Completion, error)
}

// Batch decisions of one request, in instrument order.
type Batch struct {
	Decisions []domain.Decision
	Model     string
	Attempts  int
}

// Get returns the decision for instrument id.
func (b Batch) Get(id string) (domain.Decision, bool) {
	for _, d := range b.Decisions {
		if d.Instrument == id {
			return d, true
		}
	}
	return domain.Decision{}, false
}

// Requester sends one request per batch and retries malformed replies with
// a fixed delay.
type Requester struct {
	reasoner Reasoner
	builder  *promptbuilder.PromptBuilder
	attempts int
	delay    time.Duration
	logger   *zap.Logger
}

// NewRequester creates a requester making up to attempts calls, delay apart.
func NewRequester(reasoner Reasoner, builder *promptbuilder.PromptBuilder, attempts int, delay time.Duration, logger *zap.Logger) *Requester {
	if logger == nil {
		logger = zap.NewNop()
	}
	if attempts <= 0 {
		attempts = DefaultAttempts
	}
	if delay < 0 {
		delay = DefaultDelay
	}
	return &Requester{
		reasoner: reasoner,
		builder:  builder,
		attempts: attempts,
		delay:    delay,
		logger:   logger,
	}
}

// Request asks for a decision for every instrument. Network failures and
// schema mismatches are retried; once attempts run out the error wraps
// domain.ErrDecisionAborted.
func (r *Requester) Request(ctx context.Context, instruments []domain.Instrument, pc promptbuilder.Context) (Batch, error) {
	parser, err := NewParser(instruments)
	if err != nil {
		return Batch{}, err
	}

	messages, err := r.builder.Build(pc)
	if err != nil {
		return Batch{}, errors.Wrap(err, "failed to build prompt")
	}

	rt := retrier.Fixed(r.attempts, r.delay)
	retrier.WithOnRetry(func(attempt int, err error) {
		r.logger.Warn("decision reply rejected, retrying",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", r.attempts),
			zap.Duration("delay", r.delay),
			zap.Error(err))
	})(rt)

	attempts := 0
	batch, err := retrier.DoWithData(rt, ctx, func(ctx context.Context) (Batch, error) {
		attempts++

		completion, err := r.reasoner.Complete(ctx, messages)
		if err != nil {
			if errors.Is(err, domain.ErrTransient) {
				return Batch{}, err
			}
			return Batch{}, retrier.Permanent(err)
		}

		decisions, err := parser.Parse(completion.Content)
		if err != nil {
			r.logger.Debug("malformed decision reply", zap.String("reply", completion.Content))
			return Batch{}, err
		}

		return Batch{Decisions: decisions, Model: completion.Model}, nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return Batch{}, errors.Wrap(ctx.Err(), "decision request cancelled")
		}
		return Batch{}, errors.Wrapf(domain.ErrDecisionAborted, "after %d attempts: %v", attempts, err)
	}

	batch.Attempts = attempts
	for _, d := range batch.Decisions {
		r.logger.Info("decision received",
			zap.String("instrument", d.Instrument),
			zap.String("action", string(d.Action)),
			zap.String("intensity", d.Intensity.String()),
			zap.String("rationale", d.Rationale))
	}

	return batch, nil
}
