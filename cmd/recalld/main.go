// Command recalld serves the context engine over HTTP. One endpoint:
// POST /v1/context takes a message plus conversation state and returns the
// synthesized context block.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/recallio/recall-go/classify"
	"github.com/recallio/recall-go/config"
	"github.com/recallio/recall-go/core"
	"github.com/recallio/recall-go/engine"
	"github.com/recallio/recall-go/narrative"
	"github.com/recallio/recall-go/pipeline"
	"github.com/recallio/recall-go/reason"
	"github.com/recallio/recall-go/router"
	"github.com/recallio/recall-go/stores"
	"github.com/recallio/recall-go/stores/graph"
	"github.com/recallio/recall-go/stores/relational"
	"github.com/recallio/recall-go/stores/vector"
	"github.com/recallio/recall-go/strategy"
	"github.com/recallio/recall-go/triage"
)

const userHeader = "X-Recall-User"

func main() {
	godotenv.Load()

	configPath := flag.String("config", "recall.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger, err := config.NewLogger(cfg.LogLevel)
	if err != nil {
		os.Stderr.WriteString("logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("recalld exited", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	reasoner := buildReasoner(logger)

	rel, err := relational.Open(filepath.Join(cfg.DataDir, "memories.db"))
	if err != nil {
		return err
	}
	defer rel.Close()

	gr, err := graph.Open(filepath.Join(cfg.DataDir, "graph.db"))
	if err != nil {
		return err
	}
	defer gr.Close()

	vec := vector.New(nil, logger)

	cache, err := narrative.New(narrative.Config{
		MaxEntries: cfg.Narrative.MaxEntries,
		TTL:        cfg.Narrative.TTL.Std(),
	})
	if err != nil {
		return err
	}
	defer cache.Close()

	// Decorate: every store gets a timeout, the graph additionally a breaker.
	timedVec := stores.WithTimeout(vec, cfg.StoreTimeouts.Vector.Std(), logger)
	timedRel := stores.WithTimeout(rel, cfg.StoreTimeouts.Relational.Std(), logger)
	guardedGraph := stores.WithBreaker(
		stores.WithTimeout(gr, cfg.StoreTimeouts.Graph.Std(), logger),
		stores.BreakerConfig{
			ConsecutiveFailures: cfg.Breaker.ConsecutiveFailures,
			Interval:            cfg.Breaker.Interval.Std(),
			Cooldown:            cfg.Breaker.Cooldown.Std(),
			MaxProbeRequests:    cfg.Breaker.MaxProbeRequests,
		}, logger)

	classifier := classify.New(logger, classify.WithReasoner(reasoner))
	planner := strategy.New(classifier, cache, logger,
		strategy.WithReasoner(reasoner),
		strategy.WithBudgets(strategy.Budgets{
			RelevantDeadline:      cfg.Budgets.RelevantDeadline.Std(),
			DeepDeadline:          cfg.Budgets.DeepDeadline.Std(),
			ComprehensiveDeadline: cfg.Budgets.ComprehensiveDeadline.Std(),
			RelevantLimit:         cfg.Budgets.RelevantLimit,
			DeepLimit:             cfg.Budgets.DeepLimit,
			ComprehensiveLimit:    cfg.Budgets.ComprehensiveLimit,
			ReasonerTimeout:       cfg.Budgets.ReasonerTimeout.Std(),
		}))

	rtr := router.New(timedVec, guardedGraph, timedRel, logger)
	tc := triage.New(reasoner, logger, triage.WithTimeout(cfg.TriageTimeout.Std()))
	pipe := pipeline.New(vec, gr, rel, logger,
		pipeline.WithLinker(gr),
		pipeline.WithInvalidator(cache),
		pipeline.WithDedupSize(cfg.DedupSize))

	eng := engine.New(planner, rtr, tc, pipe, cache, logger,
		engine.WithReasoner(reasoner),
		engine.WithWorkers(cfg.Background.Workers),
		engine.WithQueueSize(cfg.Background.QueueSize),
		engine.WithBackgroundTimeout(cfg.Background.Timeout.Std()))
	defer eng.Close()

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: newHandler(eng, logger),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("recalld listening", zap.String("addr", cfg.ListenAddr))
		errCh <- srv.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case <-stop:
		logger.Info("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	}
}

// buildReasoner picks the production reasoner when an API key is present,
// otherwise a stub so the process still runs for local development.
func buildReasoner(logger *zap.Logger) reason.Reasoner {
	if os.Getenv("ANTHROPIC_API_KEY") != "" {
		client := anthropic.NewClient()
		return reason.NewClaude(&client)
	}
	logger.Warn("ANTHROPIC_API_KEY not set, using stub reasoner")
	stub := reason.NewStub()
	stub.Default = `{"remember": false}`
	return stub
}

type contextRequest struct {
	Message           string `json:"message"`
	IsNewConversation bool   `json:"is_new_conversation"`
	NeedsContext      bool   `json:"needs_context"`
}

func newHandler(eng *engine.Engine, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Post("/v1/context", func(w http.ResponseWriter, req *http.Request) {
		userID := req.Header.Get(userHeader)
		if userID == "" {
			httpError(w, http.StatusUnauthorized, "missing "+userHeader+" header")
			return
		}

		var body contextRequest
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			httpError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}

		result, err := eng.ProcessMessage(req.Context(), userID,
			body.Message, body.IsNewConversation, body.NeedsContext)
		if err != nil {
			if errors.Is(err, core.ErrValidation) {
				httpError(w, http.StatusBadRequest, err.Error())
				return
			}
			logger.Error("process message failed", zap.Error(err))
			httpError(w, http.StatusInternalServerError, "internal error")
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(result)
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	return r
}

func httpError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
