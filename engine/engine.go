// Package engine composes the planner, router, triage classifier, and write
// pipeline into the dual-path orchestrator. The fast path answers within the
// strategy's latency budget; the background path triages, persists, and
// refreshes the narrative without ever blocking a caller.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/recallio/recall-go/core"
	"github.com/recallio/recall-go/narrative"
	"github.com/recallio/recall-go/pipeline"
	"github.com/recallio/recall-go/reason"
	"github.com/recallio/recall-go/router"
	"github.com/recallio/recall-go/strategy"
	"github.com/recallio/recall-go/triage"
)

const (
	// DefaultWorkers is the background pool size.
	DefaultWorkers = 4

	// DefaultQueueSize bounds pending background jobs. A full queue drops
	// new jobs rather than blocking the fast path.
	DefaultQueueSize = 64

	// DefaultBackgroundTimeout bounds one background job end to end.
	DefaultBackgroundTimeout = 30 * time.Second
)

// StrategyCachedNarrative is reported when a warm narrative served the
// request without any retrieval.
const StrategyCachedNarrative = "cached_narrative"

// Engine is the orchestrator.
type Engine struct {
	planner  *strategy.Planner
	router   *router.Router
	triage   *triage.Classifier
	pipeline *pipeline.Pipeline
	cache    *narrative.Cache
	reasoner reason.Reasoner
	logger   *zap.Logger

	workers   int
	queueSize int
	bgTimeout time.Duration

	jobs      chan job
	wg        sync.WaitGroup
	closeOnce sync.Once
	dropped   atomic.Int64
}

// job is one unit of detached background work.
type job struct {
	state      core.ConversationState
	message    string
	synthesize bool
}

// Option configures the engine.
type Option func(*Engine)

// WithReasoner enables reasoner-backed narrative synthesis. Without it the
// background path falls back to a plain extractive narrative.
func WithReasoner(r reason.Reasoner) Option {
	return func(e *Engine) {
		e.reasoner = r
	}
}

// WithWorkers sets the background pool size.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithQueueSize sets the background queue bound.
func WithQueueSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.queueSize = n
		}
	}
}

// WithBackgroundTimeout bounds each background job.
func WithBackgroundTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.bgTimeout = d
		}
	}
}

// New creates the orchestrator and starts its background workers. Call
// Close to drain them.
func New(planner *strategy.Planner, r *router.Router, tc *triage.Classifier,
	p *pipeline.Pipeline, cache *narrative.Cache, logger *zap.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}

	e := &Engine{
		planner:   planner,
		router:    r,
		triage:    tc,
		pipeline:  p,
		cache:     cache,
		logger:    logger.Named("engine"),
		workers:   DefaultWorkers,
		queueSize: DefaultQueueSize,
		bgTimeout: DefaultBackgroundTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}

	e.jobs = make(chan job, e.queueSize)
	for i := 0; i < e.workers; i++ {
		e.wg.Add(1)
		go e.worker()
	}
	return e
}

// ProcessMessage is the single entry point. It plans a retrieval strategy
// for the message, executes the fast path within the strategy's deadline,
// and hands the message to the background path for triage and persistence.
//
// The returned context text may be empty; that is a valid "no relevant
// context" outcome, not an error. Only malformed input errors.
func (e *Engine) ProcessMessage(ctx context.Context, userID, message string,
	isNewConversation, needsContext bool) (core.ContextResult, error) {

	if strings.TrimSpace(userID) == "" {
		return core.ContextResult{}, fmt.Errorf("user ID required: %w", core.ErrValidation)
	}
	if strings.TrimSpace(message) == "" {
		return core.ContextResult{}, fmt.Errorf("message required: %w", core.ErrValidation)
	}

	state := core.ConversationState{
		UserID:            userID,
		IsNewConversation: isNewConversation,
		NeedsContext:      needsContext,
	}

	decision, err := e.planner.Plan(ctx, state, message)
	if err != nil {
		return core.ContextResult{}, err
	}

	result := e.fastPath(ctx, decision)

	// The background path runs on every message: triage is orthogonal to
	// whether context was needed. A cold-start deep pass additionally
	// schedules narrative synthesis.
	e.enqueue(job{
		state:      state,
		message:    message,
		synthesize: isNewConversation && decision.Depth == core.DepthDeep,
	})

	return result, nil
}

// fastPath turns a strategy decision into a context result. Store failures
// have already been degraded by the router; this never errors.
func (e *Engine) fastPath(ctx context.Context, d core.StrategyDecision) core.ContextResult {
	if d.Depth == core.DepthNone {
		if d.Narrative != "" {
			return core.ContextResult{
				ContextText:  d.Narrative,
				StrategyUsed: StrategyCachedNarrative,
			}
		}
		return core.ContextResult{StrategyUsed: core.DepthNone.String()}
	}

	start := time.Now()
	results, err := e.router.Execute(ctx, d)
	if err != nil {
		e.logger.Warn("fast path retrieval failed", zap.Error(err))
		return core.ContextResult{StrategyUsed: d.Depth.String()}
	}

	e.logger.Debug("fast path complete",
		zap.String("depth", d.Depth.String()),
		zap.String("routing", d.Routing.String()),
		zap.Int("results", len(results)),
		zap.Duration("elapsed", time.Since(start)))

	return core.ContextResult{
		ContextText:  formatContext(results),
		StrategyUsed: d.Depth.String(),
	}
}

// enqueue hands a job to the background pool, dropping it when the queue is
// full. The fast path never blocks on background capacity.
func (e *Engine) enqueue(j job) {
	select {
	case e.jobs <- j:
	default:
		e.dropped.Add(1)
		e.logger.Warn("background queue full, dropping job",
			zap.String("user_id", j.state.UserID))
	}
}

// Dropped reports how many background jobs were dropped under backpressure.
func (e *Engine) Dropped() int64 {
	return e.dropped.Load()
}

// Close stops accepting background work and waits for in-flight jobs.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		close(e.jobs)
	})
	e.wg.Wait()
}

func (e *Engine) worker() {
	defer e.wg.Done()
	for j := range e.jobs {
		e.process(j)
	}
}

// process runs one background job under its own deadline, detached from the
// originating request. Errors never propagate; nobody is waiting.
func (e *Engine) process(j job) {
	ctx, cancel := context.WithTimeout(context.Background(), e.bgTimeout)
	defer cancel()

	e.memorize(ctx, j)

	if j.synthesize {
		e.refreshNarrative(ctx, j.state, j.message)
	}
}

// memorize triages the message and persists it when worth remembering.
// Triage fails closed: any classifier failure means nothing is written.
func (e *Engine) memorize(ctx context.Context, j job) {
	decision, err := e.triage.Classify(ctx, j.message)
	if err != nil {
		e.logger.Debug("triage declined message",
			zap.String("user_id", j.state.UserID), zap.Error(err))
		return
	}
	if !decision.Remember {
		return
	}

	if _, err := e.pipeline.Accept(ctx, j.state.UserID, decision); err != nil {
		if errors.Is(err, core.ErrDuplicate) {
			e.logger.Debug("duplicate memory skipped",
				zap.String("user_id", j.state.UserID))
			return
		}
		e.logger.Warn("memory write failed",
			zap.String("user_id", j.state.UserID), zap.Error(err))
	}
}

// refreshNarrative runs a detached deep pass and stores a synthesized
// narrative for the user's next conversation start.
func (e *Engine) refreshNarrative(ctx context.Context, state core.ConversationState, message string) {
	if e.cache == nil {
		return
	}

	d, err := e.planner.Plan(ctx, state, message)
	if err != nil || d.Depth == core.DepthNone {
		// Another request warmed the cache in the meantime.
		return
	}

	results, err := e.router.Execute(ctx, d)
	if err != nil || len(results) == 0 {
		return
	}

	text := e.synthesize(ctx, results)
	if text == "" {
		return
	}
	e.cache.Put(state.UserID, text, 0)

	e.logger.Debug("narrative refreshed",
		zap.String("user_id", state.UserID),
		zap.Int("source_memories", len(results)))
}

// synthesize compresses retrieval results into a narrative. With a reasoner
// the compression is generative; without one it is extractive.
func (e *Engine) synthesize(ctx context.Context, results []core.SearchResult) string {
	const maxSource = 20
	if len(results) > maxSource {
		results = results[:maxSource]
	}

	if e.reasoner != nil {
		var sb strings.Builder
		for _, r := range results {
			sb.WriteString("- ")
			sb.WriteString(r.Content)
			sb.WriteString("\n")
		}
		answer, err := e.reasoner.Classify(ctx, synthesisPrompt(sb.String()))
		if err == nil && strings.TrimSpace(answer) != "" {
			return strings.TrimSpace(answer)
		}
		e.logger.Debug("narrative synthesis fell back to extractive form", zap.Error(err))
	}

	lines := make([]string, 0, len(results))
	for _, r := range results {
		lines = append(lines, "- "+r.Content)
	}
	return "Known about the user:\n" + strings.Join(lines, "\n")
}

func synthesisPrompt(memories string) string {
	return `Compress the following memories about a user into a short narrative
paragraph an assistant can read before a conversation starts. Keep every
concrete fact; drop repetition. Respond with the narrative only.

Memories:
` + memories
}

// formatContext renders ranked results as the context block handed to the
// caller.
func formatContext(results []core.SearchResult) string {
	if len(results) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("Relevant memories:\n")
	for _, r := range results {
		sb.WriteString("- ")
		sb.WriteString(r.Content)
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}
