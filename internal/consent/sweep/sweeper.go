// Package sweep expires consents whose expiration has passed. Replicas
// coordinate through a Lease so one of them sweeps per interval.
package sweep

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// DefaultLeaseKey is shared by every replica of one deployment.
const DefaultLeaseKey = "carecore:consent:sweep"

// Expirer is satisfied by the consent service.
type Expirer interface {
	ExpireDue(ctx context.Context, now time.Time) (int, error)
}

type Sweeper struct {
	expirer  Expirer
	lease    Lease
	interval time.Duration
	ttl      time.Duration
	key      string
	logger   *slog.Logger
	metrics  *Metrics
	now      func() time.Time
}

type Option func(*Sweeper)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Sweeper) {
		s.logger = logger
	}
}

func WithMetrics(m *Metrics) Option {
	return func(s *Sweeper) {
		s.metrics = m
	}
}

func WithLeaseKey(key string) Option {
	return func(s *Sweeper) {
		s.key = key
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) {
		s.now = now
	}
}

// New builds a sweeper running every interval. The lease ttl must not exceed
// the interval, otherwise a holder would skip its own next run.
func New(expirer Expirer, lease Lease, interval, ttl time.Duration, opts ...Option) (*Sweeper, error) {
	switch {
	case expirer == nil:
		return nil, errors.New("expirer is required")
	case lease == nil:
		return nil, errors.New("lease is required")
	case interval <= 0:
		return nil, errors.New("sweep interval must be positive")
	case ttl <= 0 || ttl > interval:
		return nil, errors.New("lease ttl must be positive and no longer than the interval")
	}
	s := &Sweeper{
		expirer:  expirer,
		lease:    lease,
		interval: interval,
		ttl:      ttl,
		key:      DefaultLeaseKey,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// RunOnce sweeps when this replica wins the lease. swept is false when
// another holder owns the current interval.
func (s *Sweeper) RunOnce(ctx context.Context) (expired int, swept bool, err error) {
	ok, err := s.lease.Acquire(ctx, s.key, s.ttl)
	if err != nil {
		s.metrics.observe(outcomeFailed, 0)
		return 0, false, err
	}
	if !ok {
		s.metrics.observe(outcomeSkipped, 0)
		return 0, false, nil
	}

	expired, err = s.expirer.ExpireDue(ctx, s.now().UTC())
	if err != nil {
		s.metrics.observe(outcomeFailed, expired)
		return expired, true, err
	}
	s.metrics.observe(outcomeSwept, expired)
	return expired, true, nil
}

// Run sweeps on every tick until ctx is cancelled. Failures are logged and
// retried on the next tick.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.InfoContext(ctx, "consent sweeper started", "interval", s.interval, "lease_ttl", s.ttl)
	for {
		if _, _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
			s.logger.ErrorContext(ctx, "consent sweep failed", "error", err)
		}
		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "consent sweeper stopped")
			return nil
		case <-ticker.C:
		}
	}
}
