package numbering

import (
	"context"
	"fmt"
	"time"
	_ "time/tzdata"

	"github.com/smallbiznis/kantoor/internal/clock"
	"github.com/smallbiznis/kantoor/internal/config"
	"github.com/smallbiznis/kantoor/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const DefaultMaxAttempts = 8

type Params struct {
	fx.In

	Clock   clock.Clock
	Holder  *config.NumberingHolder
	Log     *zap.Logger
	Metrics *metrics.Metrics `optional:"true"`
}

// Allocator renders candidate numbers for the current local calendar day
// and drives the bounded create loop.
type Allocator struct {
	clock   clock.Clock
	holder  *config.NumberingHolder
	log     *zap.Logger
	metrics *metrics.Metrics
}

func New(p Params) (*Allocator, error) {
	if _, err := loadLocation(p.Holder.Get().Timezone); err != nil {
		return nil, err
	}
	return &Allocator{
		clock:   p.Clock,
		holder:  p.Holder,
		log:     p.Log.Named("numbering.allocator"),
		metrics: p.Metrics,
	}, nil
}

// Now returns the current instant in the numbering location.
func (a *Allocator) Now() time.Time {
	loc, err := loadLocation(a.holder.Get().Timezone)
	if err != nil {
		loc = time.UTC
	}
	return a.clock.Now().In(loc)
}

// Today returns the [start, end) bounds of the current local day.
func (a *Allocator) Today() (time.Time, time.Time) {
	now := a.Now()
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	return start, start.AddDate(0, 0, 1)
}

// Next renders the number for the document created after todayCount
// documents of the same kind.
func (a *Allocator) Next(prefix string, todayCount int) (Candidate, error) {
	return NewCandidate(prefix, a.Now(), todayCount+1)
}

// Prefix returns the configured prefix for a document kind.
func (a *Allocator) Prefix(kind string) string {
	cfg := a.holder.Get()
	switch kind {
	case "factuur":
		return cfg.FactuurPrefix
	default:
		return cfg.OffertePrefix
	}
}

// MaxAttempts returns the configured retry budget.
func (a *Allocator) MaxAttempts() int {
	if attempts := a.holder.Get().MaxAttempts; attempts > 0 {
		return attempts
	}
	return DefaultMaxAttempts
}

// Strategy returns the configured allocation strategy.
func (a *Allocator) Strategy() string {
	return a.holder.Get().Strategy
}

// RetryParams feeds Retry.
type RetryParams struct {
	Kind        string
	Prefix      string
	TodayCount  int
	MaxAttempts int
}

// CreateFunc persists a document under the given candidate number.
type CreateFunc func(ctx context.Context, candidate Candidate) error

// Retry calls create with candidates TodayCount+1, TodayCount+2, ... until
// one succeeds. Only uniqueness violations are retried; any other error is
// returned as is. When the budget runs out it returns
// ErrNumberAllocationExhausted.
func (a *Allocator) Retry(ctx context.Context, params RetryParams, create CreateFunc) (Candidate, error) {
	maxAttempts := params.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = a.MaxAttempts()
	}
	if maxAttempts < 0 {
		return Candidate{}, ErrInvalidBudget
	}

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return Candidate{}, err
		}

		candidate, err := a.Next(params.Prefix, params.TodayCount+attempt)
		if err != nil {
			return Candidate{}, err
		}

		err = create(ctx, candidate)
		if err == nil {
			a.metrics.IncNumberingAttempt(params.Kind, "created")
			return candidate, nil
		}
		if !IsUniqueViolation(err) {
			a.metrics.IncNumberingAttempt(params.Kind, "failed")
			return Candidate{}, err
		}

		a.metrics.IncNumberingAttempt(params.Kind, "collision")
		a.log.Debug("document number collision",
			zap.String("kind", params.Kind),
			zap.String("number", candidate.String()),
			zap.Int("attempt", attempt+1),
		)
	}

	a.metrics.IncNumberingAttempt(params.Kind, "exhausted")
	a.log.Warn("document number allocation exhausted",
		zap.String("kind", params.Kind),
		zap.String("prefix", params.Prefix),
		zap.Int("today_count", params.TodayCount),
		zap.Int("max_attempts", maxAttempts),
	)
	return Candidate{}, fmt.Errorf("%w after %d attempts", ErrNumberAllocationExhausted, maxAttempts)
}

func loadLocation(name string) (*time.Location, error) {
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("load numbering timezone %q: %w", name, err)
	}
	return loc, nil
}
