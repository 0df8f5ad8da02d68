package sentiment

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/sync/errgroup"

	"github.com/seenimoa/marketpulse/internal/config"
	"github.com/seenimoa/marketpulse/internal/infra"
	"github.com/seenimoa/marketpulse/pkg/models"
)

// DefaultConfidenceFloor is the lowest confidence reported for a score.
const DefaultConfidenceFloor = 0.1

// Outcome is the combined result of one ensemble evaluation.
type Outcome struct {
	Scores     map[string]float64 // responding backends only
	Failures   map[string]error   // backends that were unavailable
	Composite  float64
	Confidence float64
	Label      models.Label
	Details    map[string]string // "<backend>.<key>" metadata
}

// Responded returns the number of backends that produced a score.
func (o *Outcome) Responded() int { return len(o.Scores) }

// Ensemble runs the configured backends concurrently and combines them.
// It is safe for concurrent use.
type Ensemble struct {
	backends []Backend // configured order
	weights  map[string]float64
	total    float64
	floor    float64
	timeout  time.Duration
	logger   arbor.ILogger
}

// EnsembleOption configures an Ensemble.
type EnsembleOption func(*Ensemble)

// WithWeights sets backend weights by name. Backends missing from w keep
// their default weight.
func WithWeights(w map[string]float64) EnsembleOption {
	return func(e *Ensemble) {
		for k, v := range w {
			e.weights[k] = v
		}
	}
}

// WithConfidenceFloor sets the minimum reported confidence.
func WithConfidenceFloor(f float64) EnsembleOption {
	return func(e *Ensemble) { e.floor = f }
}

// WithBackendTimeout bounds each backend call.
func WithBackendTimeout(d time.Duration) EnsembleOption {
	return func(e *Ensemble) { e.timeout = d }
}

// WithLogger sets the logger.
func WithLogger(l arbor.ILogger) EnsembleOption {
	return func(e *Ensemble) { e.logger = l }
}

// NewEnsemble creates an ensemble over backends, evaluated and summed in the
// given order. Backends whose weight is not positive are dropped.
func NewEnsemble(backends []Backend, opts ...EnsembleOption) *Ensemble {
	e := &Ensemble{
		weights: config.DefaultWeights(),
		floor:   DefaultConfidenceFloor,
		timeout: 20 * time.Second,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = infra.OrNop(e.logger)

	for _, b := range backends {
		w := e.weights[b.Name()]
		if w <= 0 || math.IsNaN(w) {
			e.logger.Warn().Str("backend", b.Name()).Float64("weight", w).Msg("Dropping backend without positive weight")
			continue
		}
		e.backends = append(e.backends, b)
		e.total += w
	}
	return e
}

// Backends returns the names of the active backends in evaluation order.
func (e *Ensemble) Backends() []string {
	names := make([]string, len(e.backends))
	for i, b := range e.backends {
		names[i] = b.Name()
	}
	return names
}

// Weight returns the weight of the named backend.
func (e *Ensemble) Weight(name string) float64 { return e.weights[name] }

type backendReply struct {
	result Result
	err    error
}

// Evaluate scores text with every backend. A backend that fails or exceeds
// its timeout is recorded in Outcome.Failures and left out of the composite.
// When none responds the error wraps ErrEnsembleExhausted.
func (e *Ensemble) Evaluate(ctx context.Context, text string, subject *Subject) (*Outcome, error) {
	if len(e.backends) == 0 {
		return nil, fmt.Errorf("%w: no backends configured", ErrEnsembleExhausted)
	}

	replies := make([]backendReply, len(e.backends))
	var g errgroup.Group
	for i, b := range e.backends {
		g.Go(func() error {
			bctx, cancel := context.WithTimeout(ctx, e.timeout)
			defer cancel()
			res, err := b.Score(bctx, text, subject)
			if err == nil && math.IsNaN(res.Score) {
				err = errors.New("backend returned NaN")
			}
			if err != nil {
				err = unavailable(b.Name(), err)
			}
			replies[i] = backendReply{result: res, err: err}
			return nil
		})
	}
	_ = g.Wait()

	out := &Outcome{
		Scores:   make(map[string]float64, len(e.backends)),
		Failures: make(map[string]error),
		Details:  make(map[string]string),
	}
	names := make([]string, 0, len(e.backends))
	for i, b := range e.backends {
		name := b.Name()
		r := replies[i]
		if r.err != nil {
			out.Failures[name] = r.err
			e.logger.Warn().Str("backend", name).Str("subject", subject.Describe()).Err(r.err).Msg("Sentiment backend unavailable")
			continue
		}
		out.Scores[name] = clamp(r.result.Score)
		names = append(names, name)
		for k, v := range r.result.Details {
			out.Details[name+"."+k] = v
		}
	}

	if len(out.Scores) == 0 {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrEnsembleExhausted, err)
		}
		return nil, fmt.Errorf("%w: %d backends failed", ErrEnsembleExhausted, len(out.Failures))
	}

	composite, responded := Combine(names, e.weights, out.Scores)
	out.Composite = composite
	out.Label = models.LabelFor(composite)
	out.Confidence = Confidence(orderedScores(names, out.Scores), responded, e.total, e.floor)
	return out, nil
}

// Combine returns the weighted mean of scores over the named backends,
// renormalized by the weight of those that responded, and that weight.
// Names are summed in the order given so identical inputs give identical
// results.
func Combine(names []string, weights, scores map[string]float64) (composite, respondedWeight float64) {
	sum := 0.0
	for _, name := range names {
		s, ok := scores[name]
		if !ok {
			continue
		}
		w := weights[name]
		sum += s * w
		respondedWeight += w
	}
	if respondedWeight <= 0 {
		return 0, 0
	}
	return clamp(sum / respondedWeight), respondedWeight
}

// Confidence combines backend agreement and coverage:
//
//	max(floor, (1 - min(variance, 1)) * respondedWeight/configuredWeight)
//
// capped at 1. Variance is the population variance of scores.
func Confidence(scores []float64, respondedWeight, configuredWeight, floor float64) float64 {
	if len(scores) == 0 || configuredWeight <= 0 {
		return math.Max(0, math.Min(floor, 1))
	}
	mean := 0.0
	for _, s := range scores {
		mean += s
	}
	mean /= float64(len(scores))
	variance := 0.0
	for _, s := range scores {
		variance += (s - mean) * (s - mean)
	}
	variance /= float64(len(scores))

	agreement := 1 - math.Min(variance, 1)
	coverage := math.Min(respondedWeight/configuredWeight, 1)
	return math.Max(0, math.Min(math.Max(floor, agreement*coverage), 1))
}

func orderedScores(names []string, scores map[string]float64) []float64 {
	out := make([]float64, 0, len(names))
	for _, n := range names {
		out = append(out, scores[n])
	}
	return out
}
