package stores

import (
	"context"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/recallio/recall-go/core"
)

// BreakerConfig configures the circuit breaker around a store's search path.
type BreakerConfig struct {
	// ConsecutiveFailures trips the breaker once reached within Interval.
	ConsecutiveFailures uint32

	// Interval is the sliding window over which failure counts reset.
	Interval time.Duration

	// Cooldown is how long the open circuit rejects calls before probing.
	Cooldown time.Duration

	// MaxProbeRequests limits calls allowed through in half-open state.
	MaxProbeRequests uint32
}

// DefaultBreakerConfig matches the graph store's failure profile: trip fast,
// stay out of the way for a while, probe cautiously.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		ConsecutiveFailures: 3,
		Interval:            30 * time.Second,
		Cooldown:            20 * time.Second,
		MaxProbeRequests:    1,
	}
}

// BreakerStore guards a store's Search path with a circuit breaker. After
// repeated consecutive failures the store is short-circuited for a cooldown
// period so the router stops paying its timeout cost on every request.
// Writes bypass the breaker: the write pipeline has its own retry policy
// and best-effort semantics.
type BreakerStore struct {
	inner  Store
	cb     *gobreaker.CircuitBreaker
	logger *zap.Logger
}

// WithBreaker decorates store with a search-path circuit breaker.
func WithBreaker(store Store, cfg BreakerConfig, logger *zap.Logger) *BreakerStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	log := logger.Named(store.Name())

	if cfg.ConsecutiveFailures == 0 {
		cfg = DefaultBreakerConfig()
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        store.Name(),
		MaxRequests: cfg.MaxProbeRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state change",
				zap.String("store", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	return &BreakerStore{inner: store, cb: cb, logger: log}
}

func (b *BreakerStore) Name() string { return b.inner.Name() }

func (b *BreakerStore) Search(ctx context.Context, q Query) ([]core.SearchResult, error) {
	out, err := b.cb.Execute(func() (any, error) {
		return b.inner.Search(ctx, q)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, fmt.Errorf("%s short-circuited: %w", b.inner.Name(), err)
		}
		return nil, err
	}
	results, _ := out.([]core.SearchResult)
	return results, nil
}

func (b *BreakerStore) Upsert(ctx context.Context, mem core.Memory) error {
	return b.inner.Upsert(ctx, mem)
}

func (b *BreakerStore) Get(ctx context.Context, userID, memoryID string) (core.Memory, error) {
	return b.inner.Get(ctx, userID, memoryID)
}

func (b *BreakerStore) Delete(ctx context.Context, userID, memoryID string) error {
	return b.inner.Delete(ctx, userID, memoryID)
}

func (b *BreakerStore) Close() error { return b.inner.Close() }

// State exposes the breaker state for health reporting and tests.
func (b *BreakerStore) State() gobreaker.State {
	return b.cb.State()
}
