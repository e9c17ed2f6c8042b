// Package classify routes incoming queries to the stores most likely to
// answer them. Classification is heuristic and synchronous; a reasoner can
// optionally be consulted for ambiguous queries under a strict timeout,
// falling back to the heuristic answer when it is slow or wrong.
package classify

import (
	"context"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/recallio/recall-go/core"
	"github.com/recallio/recall-go/reason"
)

// DefaultModelTimeout bounds the optional reasoner consult.
const DefaultModelTimeout = 800 * time.Millisecond

var (
	factualPat = regexp.MustCompile(`(?i)\b(what('?s| is)? my|my .{1,20}('s)? (name|number|address|birthday|email)|how (old|tall|much)|where (do|does|did) i)\b`)

	relationalPat = regexp.MustCompile(`(?i)\b(who|friend|family|brother|sister|partner|colleague|knows?|related|relationship|connected|between)\b`)

	temporalPat = regexp.MustCompile(`(?i)\b(when|yesterday|today|last (week|month|year|time)|ago|recently|lately|first time|before|after|since)\b`)

	complexPat = regexp.MustCompile(`(?i)\b(everything|all you know|summar(y|ize)|overview|explain .* and|compare)\b`)
)

// Classifier assigns a routing class to each query.
type Classifier struct {
	reasoner reason.Reasoner
	timeout  time.Duration
	logger   *zap.Logger
}

// Option configures the classifier.
type Option func(*Classifier)

// WithReasoner enables the model-assisted path for ambiguous queries.
func WithReasoner(r reason.Reasoner) Option {
	return func(c *Classifier) {
		c.reasoner = r
	}
}

// WithModelTimeout overrides the reasoner consult budget.
func WithModelTimeout(d time.Duration) Option {
	return func(c *Classifier) {
		c.timeout = d
	}
}

// New creates a classifier. Without options it is purely heuristic.
func New(logger *zap.Logger, opts ...Option) *Classifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Classifier{
		timeout: DefaultModelTimeout,
		logger:  logger.Named("classify"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Classify is the synchronous, no-I/O classification.
func (c *Classifier) Classify(query string) core.RoutingClass {
	cls, _ := heuristic(query)
	return cls
}

// ClassifyContext behaves like Classify but may consult the reasoner when
// the heuristics are unsure. A slow or unparseable model answer falls back
// to the heuristic class; the caller never waits past the consult budget.
func (c *Classifier) ClassifyContext(ctx context.Context, query string) core.RoutingClass {
	cls, confident := heuristic(query)
	if confident || c.reasoner == nil {
		return cls
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	answer, err := c.reasoner.Classify(ctx, routingPrompt(query))
	if err != nil {
		c.logger.Debug("model consult failed, using heuristic",
			zap.String("fallback", cls.String()), zap.Error(err))
		return cls
	}

	if parsed, ok := parseRoutingClass(answer); ok {
		return parsed
	}
	return cls
}

// heuristic reports a class and whether the patterns were decisive.
func heuristic(query string) (core.RoutingClass, bool) {
	wordCount := len(strings.Fields(query))

	switch {
	case complexPat.MatchString(query) || wordCount > 25:
		return core.RouteComplex, true
	case temporalPat.MatchString(query):
		return core.RouteTemporal, true
	case relationalPat.MatchString(query):
		return core.RouteRelational, true
	case factualPat.MatchString(query):
		return core.RouteFactual, true
	}

	// Short attribute-style questions lean factual even without a
	// pattern hit; everything else defaults to semantic similarity.
	if wordCount <= 4 && strings.HasSuffix(strings.TrimSpace(query), "?") {
		return core.RouteFactual, false
	}
	return core.RouteSemantic, false
}

func routingPrompt(query string) string {
	return "Classify this memory-retrieval query into exactly one of: " +
		"factual, semantic, relational, temporal, complex.\n" +
		"Reply with the single class name only.\n\nQuery: " + query
}

func parseRoutingClass(answer string) (core.RoutingClass, bool) {
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "factual":
		return core.RouteFactual, true
	case "semantic":
		return core.RouteSemantic, true
	case "relational":
		return core.RouteRelational, true
	case "temporal":
		return core.RouteTemporal, true
	case "complex":
		return core.RouteComplex, true
	}
	return 0, false
}

// StoresFor maps a routing class to the stores worth consulting. Factual
// lookups stay on the cheap exact store; relationship and time questions
// add the graph; complex queries consult everything.
func StoresFor(class core.RoutingClass) (vector, graph, relational bool) {
	switch class {
	case core.RouteFactual:
		return false, false, true
	case core.RouteSemantic:
		return true, false, false
	case core.RouteRelational, core.RouteTemporal:
		return true, true, false
	default:
		return true, true, true
	}
}
