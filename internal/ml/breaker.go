package ml

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"irrigation-backend/internal/logger"
	"irrigation-backend/internal/models"
)

// State of the circuit breaker
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrOpen is returned while the breaker fast-fails. It wraps
// models.ErrPredictorUnavailable.
var ErrOpen = fmt.Errorf("%w: circuit breaker is open", models.ErrPredictorUnavailable)

// BreakerConfig tunes the breaker
type BreakerConfig struct {
	MaxFailures  int           // consecutive failures before opening
	ResetTimeout time.Duration // time spent open before a trial call
	CallTimeout  time.Duration // per-call deadline, 0 for none
}

// Guarded wraps a Predictor with a per-call timeout and a circuit breaker.
// While open every call fails fast; after ResetTimeout a single trial call is
// let through (half-open) and its outcome closes or re-opens the breaker.
type Guarded struct {
	inner Predictor
	cfg   BreakerConfig
	log   *logger.Logger
	now   func() time.Time

	mu          sync.Mutex
	state       State
	recentFails int
	openedAt    time.Time
}

// NewGuarded builds a guard around inner. A nil inner is always unavailable.
func NewGuarded(inner Predictor, cfg BreakerConfig, log *logger.Logger) *Guarded {
	if cfg.MaxFailures < 1 {
		cfg.MaxFailures = 1
	}
	if log == nil {
		log = logger.Nop()
	}
	g := &Guarded{
		inner: inner,
		cfg:   cfg,
		log:   log.Component("MLBreaker"),
		now:   time.Now,
		state: Closed,
	}
	g.log.Info("Breaker created", "maxFailures", cfg.MaxFailures, "resetTimeout", cfg.ResetTimeout.String())
	return g
}

// Predict runs the inner predictor under the breaker. Every failure returned
// wraps models.ErrPredictorUnavailable.
func (g *Guarded) Predict(ctx context.Context, f Features) (Prediction, error) {
	if g.inner == nil {
		return Prediction{}, models.ErrPredictorUnavailable
	}
	if !g.allow() {
		return Prediction{}, ErrOpen
	}

	p, err := g.call(ctx, f)
	if err != nil {
		g.onFailure(err)
		return Prediction{}, fmt.Errorf("%w: %v", models.ErrPredictorUnavailable, err)
	}
	g.onSuccess()
	return p, nil
}

// State reports the current breaker state
func (g *Guarded) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

func (g *Guarded) call(ctx context.Context, f Features) (p Prediction, err error) {
	if g.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.cfg.CallTimeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("predictor panic: %v", r)
		}
	}()

	p, err = g.inner.Predict(ctx, f)
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	if err == nil && (p.Confidence < 0 || p.Confidence > 1) {
		err = errors.New("predictor returned confidence outside [0, 1]")
	}
	return p, err
}

func (g *Guarded) allow() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	switch g.state {
	case Closed:
		return true
	case Open:
		if g.now().Sub(g.openedAt) < g.cfg.ResetTimeout {
			return false
		}
		g.state = HalfOpen
		g.log.Info("Breaker half-open, allowing trial call", "previousFailures", g.recentFails)
		return true
	default:
		// a trial call is already running
		return false
	}
}

func (g *Guarded) onSuccess() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != Closed {
		g.log.Info("Breaker closed", "from", g.state.String())
	}
	g.state = Closed
	g.recentFails = 0
}

func (g *Guarded) onFailure(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.recentFails++
	g.log.Warn("Predictor call failed", "failures", g.recentFails, "error", err)

	if g.state == HalfOpen || g.recentFails >= g.cfg.MaxFailures {
		g.state = Open
		g.openedAt = g.now()
		g.log.Error("Breaker opened", "failures", g.recentFails)
	}
}
