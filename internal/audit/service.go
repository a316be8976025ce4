// Package audit maintains one append-only, HMAC hash-chained log per
// organization and verifies its integrity.
package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"carecore/internal/audit/metrics"
	"carecore/pkg/domain"
	dErrors "carecore/pkg/domain-errors"
	"carecore/pkg/platform/sentinel"
)

const (
	defaultShards        = 16
	defaultQueueSize     = 1024
	defaultRetryAttempts = 5
	tracerName           = "carecore/internal/audit"
)

// Writer appends entries to org chains. Each org is routed to one shard
// worker, and every commit is a conditional write against the tip, so
// replicas sharing a store stay correct.
type Writer struct {
	store     Store
	secrets   SecretProvider
	publisher Publisher
	logger    *slog.Logger
	metrics   *metrics.Metrics
	tracer    trace.Tracer
	now       func() time.Time

	shardCount int
	queueSize  int
	attempts   int

	shards []*shard
	wg     sync.WaitGroup
	cancel context.CancelFunc

	mu     sync.RWMutex
	closed bool
}

type Option func(*Writer)

func WithLogger(logger *slog.Logger) Option {
	return func(w *Writer) {
		w.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(w *Writer) {
		w.metrics = m
	}
}

// WithPublisher mirrors committed entries, e.g. to Kafka.
func WithPublisher(p Publisher) Option {
	return func(w *Writer) {
		w.publisher = p
	}
}

func WithShards(n int) Option {
	return func(w *Writer) {
		if n > 0 {
			w.shardCount = n
		}
	}
}

func WithQueueSize(n int) Option {
	return func(w *Writer) {
		if n > 0 {
			w.queueSize = n
		}
	}
}

// WithRetryAttempts bounds how often a commit is retried after the tip moved.
func WithRetryAttempts(n int) Option {
	return func(w *Writer) {
		if n > 0 {
			w.attempts = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(w *Writer) {
		w.now = now
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(w *Writer) {
		w.tracer = t
	}
}

// NewWriter starts the shard workers. Call Close to drain them.
func NewWriter(store Store, secrets SecretProvider, opts ...Option) (*Writer, error) {
	if store == nil {
		return nil, errors.New("audit store is required")
	}
	if secrets == nil {
		return nil, errors.New("audit secret provider is required")
	}
	w := &Writer{
		store:      store,
		secrets:    secrets,
		logger:     slog.Default(),
		tracer:     otel.Tracer(tracerName),
		now:        time.Now,
		shardCount: defaultShards,
		queueSize:  defaultQueueSize,
		attempts:   defaultRetryAttempts,
	}
	for _, opt := range opts {
		opt(w)
	}

	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.shards = make([]*shard, w.shardCount)
	for i := range w.shards {
		w.shards[i] = &shard{queue: make(chan job, w.queueSize)}
		w.wg.Add(1)
		go w.runShard(ctx, i, w.shards[i])
	}
	return w, nil
}

func (w *Writer) shardOf(orgID domain.OrgID) (int, *shard) {
	i := shardFor(orgID.String(), len(w.shards))
	return i, w.shards[i]
}

// Append commits entry through its org's shard and returns the new tip.
func (w *Writer) Append(ctx context.Context, entry Entry) (string, error) {
	if err := validateEntry(entry); err != nil {
		return "", err
	}
	done := make(chan result, 1)

	w.mu.RLock()
	if w.closed {
		w.mu.RUnlock()
		return "", dErrors.New(dErrors.CodeInternal, "audit writer is closed")
	}
	_, s := w.shardOf(entry.OrgID)
	select {
	case s.queue <- job{entry: entry, done: done}:
		w.mu.RUnlock()
	case <-ctx.Done():
		w.mu.RUnlock()
		return "", dErrors.Wrap(ctx.Err(), dErrors.CodeTimeout, "audit append cancelled")
	}

	select {
	case r := <-done:
		if r.err != nil {
			return "", dErrors.Wrap(r.err, dErrors.CodeInternal, "audit append failed")
		}
		return r.hash, nil
	case <-ctx.Done():
		return "", dErrors.Wrap(ctx.Err(), dErrors.CodeTimeout, "audit append cancelled")
	}
}

// Enqueue hands entry to its shard without waiting. It never blocks: a full
// queue drops the entry, logs it and counts it. It returns whether the entry
// was accepted.
func (w *Writer) Enqueue(ctx context.Context, entry Entry) bool {
	if err := validateEntry(entry); err != nil {
		w.metrics.IncDropped()
		w.logger.ErrorContext(ctx, "CRITICAL: invalid audit entry dropped", "action", entry.Action, "error", err)
		return false
	}

	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		w.metrics.IncDropped()
		w.logger.ErrorContext(ctx, "CRITICAL: audit entry dropped, writer closed",
			"org_id", entry.OrgID.String(), "action", entry.Action)
		return false
	}
	index, s := w.shardOf(entry.OrgID)
	select {
	case s.queue <- job{entry: entry}:
		w.metrics.SetQueueDepth(index, len(s.queue))
		return true
	default:
		w.metrics.IncDropped()
		w.logger.ErrorContext(ctx, "CRITICAL: audit queue full, entry dropped",
			"org_id", entry.OrgID.String(),
			"action", entry.Action,
			"resource_id", entry.ResourceID,
			"shard", index,
		)
		return false
	}
}

// RecordDecryptionFailure matches the encryption failure hook and records
// the event on the org's chain.
func (w *Writer) RecordDecryptionFailure(ctx context.Context, orgID domain.OrgID, cause error) {
	if orgID.IsNil() {
		return
	}
	w.Enqueue(ctx, Entry{
		OrgID:        orgID,
		ActorType:    ActorTypeSystem,
		Action:       ActionDecryptionFailed,
		ResourceType: "encrypted_field",
		Sensitivity:  "part2",
		Description:  fmt.Sprintf("field decryption failed: %v", cause),
	})
}

func validateEntry(e Entry) error {
	switch {
	case e.OrgID.IsNil():
		return dErrors.New(dErrors.CodeInvalidInput, "audit entry requires an org id")
	case e.Action == "":
		return dErrors.New(dErrors.CodeInvalidInput, "audit entry requires an action")
	}
	return nil
}

// commit reads the tip, links and hashes the entry, and writes it only if
// the tip is unchanged. A moved tip is re-read and the commit retried.
func (w *Writer) commit(ctx context.Context, entry Entry) (string, error) {
	start := time.Now()
	ctx, span := w.tracer.Start(ctx, "audit.commit", trace.WithAttributes(
		attribute.String("audit.action", entry.Action),
	))
	defer span.End()
	defer func() { w.metrics.ObserveAppend(time.Since(start)) }()

	secret, err := w.secrets.AuditSecret(ctx, entry.OrgID)
	if err != nil {
		w.metrics.IncFailure("secret")
		span.RecordError(err)
		span.SetStatus(codes.Error, "secret unavailable")
		return "", fmt.Errorf("load audit secret: %w", err)
	}

	if entry.ID.IsNil() {
		entry.ID = domain.NewAuditEntryID()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = w.now()
	}
	if entry.ActorType == "" {
		entry.ActorType = ActorTypeAnonymous
	}
	entry.CreatedAt = CanonicalTime(entry.CreatedAt)
	createdAt := entry.CreatedAt

	for attempt := 1; attempt <= w.attempts; attempt++ {
		tip, err := w.store.Tip(ctx, entry.OrgID)
		if err != nil {
			w.metrics.IncFailure("tip")
			span.RecordError(err)
			span.SetStatus(codes.Error, "tip read failed")
			return "", fmt.Errorf("read chain tip: %w", err)
		}

		entry.PreviousHash = ""
		entry.CreatedAt = createdAt
		if tip != nil {
			entry.PreviousHash = tip.CurrentHash
			// Chain order and creation order must agree for range reads.
			if entry.CreatedAt.Before(tip.CreatedAt) {
				entry.CreatedAt = tip.CreatedAt
			}
		}
		entry.CurrentHash = ComputeHash(secret, entry)

		err = w.store.AppendIfTip(ctx, entry, entry.PreviousHash)
		if errors.Is(err, sentinel.ErrConflict) {
			w.metrics.IncTipConflict()
			span.AddEvent("tip moved", trace.WithAttributes(attribute.Int("attempt", attempt)))
			continue
		}
		if err != nil {
			w.metrics.IncFailure("append")
			span.RecordError(err)
			span.SetStatus(codes.Error, "append failed")
			return "", fmt.Errorf("append audit entry: %w", err)
		}

		w.metrics.IncAppended()
		w.publish(ctx, entry)
		return entry.CurrentHash, nil
	}

	w.metrics.IncFailure("retries_exhausted")
	span.SetStatus(codes.Error, "retries exhausted")
	return "", fmt.Errorf("append audit entry after %d attempts: %w", w.attempts, sentinel.ErrConflict)
}

func (w *Writer) publish(ctx context.Context, entry Entry) {
	if w.publisher == nil {
		return
	}
	if err := w.publisher.Publish(ctx, entry); err != nil {
		w.metrics.IncPublishFailure()
		w.logger.ErrorContext(ctx, "audit mirror publish failed",
			"org_id", entry.OrgID.String(),
			"entry_id", entry.ID.String(),
			"error", err,
		)
	}
}

// VerifyChain checks every entry of the org created within [from, to],
// anchored on the entry just before from.
func (w *Writer) VerifyChain(ctx context.Context, orgID domain.OrgID, from, to time.Time) (VerifyResult, error) {
	if orgID.IsNil() {
		return VerifyResult{}, dErrors.New(dErrors.CodeInvalidInput, "org id is required")
	}
	if to.Before(from) {
		return VerifyResult{}, dErrors.New(dErrors.CodeInvalidInput, "range end precedes range start")
	}
	ctx, span := w.tracer.Start(ctx, "audit.VerifyChain")
	defer span.End()

	secret, err := w.secrets.AuditSecret(ctx, orgID)
	if err != nil {
		return VerifyResult{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load audit secret")
	}
	from, to = CanonicalTime(from), CanonicalTime(to)
	anchor, err := w.store.Anchor(ctx, orgID, from)
	if err != nil {
		return VerifyResult{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load chain anchor")
	}
	entries, err := w.store.ListRange(ctx, orgID, from, to)
	if err != nil {
		return VerifyResult{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load chain entries")
	}

	res := Verify(secret, anchor, entries)
	w.metrics.IncVerification(res.Valid)
	span.SetAttributes(attribute.Bool("audit.chain_valid", res.Valid), attribute.Int("audit.checked", res.Checked))
	if !res.Valid {
		w.logger.ErrorContext(ctx, "SECURITY: audit chain broken",
			"org_id", orgID.String(),
			"broken_at", res.BrokenAtID.String(),
			"reason", res.Reason,
		)
	}
	return res, nil
}

// Close stops accepting entries and drains the queues. Entries still queued
// when ctx ends are abandoned.
func (w *Writer) Close(ctx context.Context) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	for _, s := range w.shards {
		close(s.queue)
	}
	w.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(drained)
	}()

	var err error
	select {
	case <-drained:
	case <-ctx.Done():
		err = fmt.Errorf("audit writer drain: %w", ctx.Err())
	}
	w.cancel()
	if w.publisher != nil {
		if perr := w.publisher.Close(); perr != nil && err == nil {
			err = perr
		}
	}
	return err
}
