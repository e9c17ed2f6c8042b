package stores

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/recallio/recall-go/core"
)

// TimedStore wraps a Store with a per-call timeout and latency logging.
// The timeout is always strictly smaller than any overall retrieval
// deadline, so one slow store can never eat the whole budget.
type TimedStore struct {
	inner   Store
	timeout time.Duration
	logger  *zap.Logger
}

// WithTimeout decorates store so every call is bounded by timeout.
func WithTimeout(store Store, timeout time.Duration, logger *zap.Logger) *TimedStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TimedStore{
		inner:   store,
		timeout: timeout,
		logger:  logger.Named(store.Name()),
	}
}

func (t *TimedStore) Name() string { return t.inner.Name() }

func (t *TimedStore) Search(ctx context.Context, q Query) ([]core.SearchResult, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	start := time.Now()
	results, err := t.inner.Search(ctx, q)
	t.observe("search", start, err)

	if err != nil && errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("%s search: %w", t.inner.Name(), core.ErrTimeout)
	}
	return results, err
}

func (t *TimedStore) Upsert(ctx context.Context, mem core.Memory) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	start := time.Now()
	err := t.inner.Upsert(ctx, mem)
	t.observe("upsert", start, err)

	if err != nil && errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s upsert: %w", t.inner.Name(), core.ErrTimeout)
	}
	return err
}

func (t *TimedStore) Get(ctx context.Context, userID, memoryID string) (core.Memory, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	start := time.Now()
	mem, err := t.inner.Get(ctx, userID, memoryID)
	t.observe("get", start, err)
	return mem, err
}

func (t *TimedStore) Delete(ctx context.Context, userID, memoryID string) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	start := time.Now()
	err := t.inner.Delete(ctx, userID, memoryID)
	t.observe("delete", start, err)
	return err
}

func (t *TimedStore) Close() error { return t.inner.Close() }

func (t *TimedStore) observe(op string, start time.Time, err error) {
	fields := []zap.Field{
		zap.String("op", op),
		zap.Duration("elapsed", time.Since(start)),
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
		t.logger.Debug("store call failed", fields...)
		return
	}
	t.logger.Debug("store call", fields...)
}
