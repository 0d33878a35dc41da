// Package scheduler coalesces concurrent prediction requests. Requests with
// the same fingerprint share one computation; distinct fingerprints collect
// in a window that flushes when full or when its timer fires.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"irrigation-backend/internal/cache"
	"irrigation-backend/internal/hybrid"
	"irrigation-backend/internal/logger"
	"irrigation-backend/internal/models"
)

// ErrClosed is returned by Predict after Close
var ErrClosed = errors.New("scheduler closed")

// Flush triggers
const (
	TriggerSize      = "size"
	TriggerTimer     = "timer"
	TriggerClose     = "close"
	TriggerImmediate = "immediate" // PredictNow
)

// Decider computes one decision; *hybrid.Selector is the production one
type Decider interface {
	Decide(ctx context.Context, in hybrid.Input) (models.Decision, error)
}

// Observer receives scheduler events, typically for metrics
type Observer interface {
	CacheLookup(hit bool)
	Flushed(trigger string, size int)
	Computed(source models.Source, took time.Duration)
	BatchFailed()
	Pending(n int)
}

type Config struct {
	MaxBatchSize   int
	FlushInterval  time.Duration
	MaxConcurrency int
	CacheTTL       time.Duration
	ComputeTimeout time.Duration // bound on one flush; 0 means 30s
	MaxLux         float64
	HistoryMin     int // fingerprint history class threshold
}

func DefaultConfig() Config {
	return Config{
		MaxBatchSize:   10,
		FlushInterval:  time.Second,
		MaxConcurrency: 5,
		CacheTTL:       5 * time.Minute,
		ComputeTimeout: 30 * time.Second,
		MaxLux:         models.DefaultMaxLux,
		HistoryMin:     cache.DefaultHistoryMin,
	}
}

// Stats is the observability snapshot
type Stats struct {
	Hits             uint64  `json:"hits"`
	Misses           uint64  `json:"misses"`
	Sets             uint64  `json:"sets"`
	HitRate          float64 `json:"hit_rate"`
	PendingBatchSize int     `json:"pending_batch_size"`
	InFlight         int     `json:"in_flight"`
	Waiting          int64   `json:"waiting"`
	Computations     uint64  `json:"computations"`
	Batches          uint64  `json:"batches"`
	FailedBatches    uint64  `json:"failed_batches"`
	CacheEntries     int     `json:"cache_entries"`
}

// Health is the HealthCheck result
type Health struct {
	Healthy       bool          `json:"healthy"`
	Status        string        `json:"status"`
	LastLatencyMs float64       `json:"last_latency_ms"`
	ProbeSource   models.Source `json:"probe_source,omitempty"`
	Error         string        `json:"error,omitempty"`
}

// call is one unique fingerprint computation and its shared result
type call struct {
	fp       cache.Fingerprint
	in       hybrid.Input
	epoch    uint64
	gen      uint64
	done     chan struct{}
	decision models.Decision
	err      error
}

// window collects calls between flushes
type window struct {
	id       uuid.UUID
	calls    map[string]*call
	order    []string
	openedAt time.Time
	timer    *time.Timer
}

// Scheduler owns the cache, the pending window and the in-flight map. One
// instance serves the whole process.
type Scheduler struct {
	cfg     Config
	decider Decider
	cache   cache.Cache
	fp      cache.Fingerprinter
	log     *logger.Logger
	obs     Observer

	mu       sync.Mutex
	window   *window
	inflight map[string]*call
	epochs   map[int]uint64
	gen      uint64 // bumped by InvalidateAll
	closed   bool
	flushes  sync.WaitGroup

	waiting       atomic.Int64
	computations  atomic.Uint64
	batches       atomic.Uint64
	failedBatches atomic.Uint64
	lastLatencyNs atomic.Int64
}

// New builds a scheduler. A nil observer disables event reporting.
func New(cfg Config, decider Decider, c cache.Cache, obs Observer, log *logger.Logger) *Scheduler {
	def := DefaultConfig()
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = def.MaxBatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = def.MaxConcurrency
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = def.CacheTTL
	}
	if cfg.ComputeTimeout <= 0 {
		cfg.ComputeTimeout = def.ComputeTimeout
	}
	if cfg.MaxLux <= 0 {
		cfg.MaxLux = def.MaxLux
	}
	if cfg.HistoryMin <= 0 {
		cfg.HistoryMin = def.HistoryMin
	}
	if obs == nil {
		obs = nopObserver{}
	}
	if log == nil {
		log = logger.Nop()
	}

	return &Scheduler{
		cfg:      cfg,
		decider:  decider,
		cache:    c,
		fp:       cache.Fingerprinter{HistoryMin: cfg.HistoryMin},
		log:      log.Component("Scheduler"),
		obs:      obs,
		inflight: make(map[string]*call),
		epochs:   make(map[int]uint64),
	}
}

// Predict validates the input, then answers from the cache or waits for the
// shared computation of its fingerprint. ctx only bounds this caller's wait;
// the computation itself keeps running for the other waiters.
func (s *Scheduler) Predict(ctx context.Context, in hybrid.Input) (models.Decision, error) {
	if err := s.validate(in); err != nil {
		return models.Decision{}, err
	}

	f := s.fp.Of(in)
	if d, ok := s.cache.Get(ctx, f); ok {
		s.obs.CacheLookup(true)
		return d, nil
	}
	s.obs.CacheLookup(false)

	c, err := s.enqueue(f, in)
	if err != nil {
		return models.Decision{}, err
	}
	return s.wait(ctx, c)
}

// PredictNow is Predict for urgent requests: it still answers from the cache
// and joins a running computation, but never waits for the window timer. A
// pending window holding the same fingerprint is flushed at once; otherwise
// the request is computed on its own.
func (s *Scheduler) PredictNow(ctx context.Context, in hybrid.Input) (models.Decision, error) {
	if err := s.validate(in); err != nil {
		return models.Decision{}, err
	}

	f := s.fp.Of(in)
	if d, ok := s.cache.Get(ctx, f); ok {
		s.obs.CacheLookup(true)
		return d, nil
	}
	s.obs.CacheLookup(false)

	c, err := s.enqueueNow(f, in)
	if err != nil {
		return models.Decision{}, err
	}
	return s.wait(ctx, c)
}

// wait blocks until c is computed or ctx ends. Every caller gets its own
// copy of the shared decision.
func (s *Scheduler) wait(ctx context.Context, c *call) (models.Decision, error) {
	s.waiting.Add(1)
	defer s.waiting.Add(-1)

	select {
	case <-c.done:
		if c.err != nil {
			return models.Decision{}, c.err
		}
		return c.decision.Clone(), nil
	case <-ctx.Done():
		return models.Decision{}, ctx.Err()
	}
}

// enqueue joins an in-flight or pending call for f, or adds a new one
func (s *Scheduler) enqueue(f cache.Fingerprint, in hybrid.Input) (*call, error) {
	key := f.Key()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	if c, ok := s.inflight[key]; ok {
		s.mu.Unlock()
		return c, nil
	}
	if s.window != nil {
		if c, ok := s.window.calls[key]; ok {
			s.mu.Unlock()
			return c, nil
		}
	}

	if s.window == nil {
		s.openWindowLocked()
	}
	c := s.newCallLocked(f, in)
	w := s.window
	w.calls[key] = c
	w.order = append(w.order, key)
	s.obs.Pending(len(w.calls))

	var full *window
	if len(w.calls) >= s.cfg.MaxBatchSize {
		full = s.detachLocked()
		s.flushes.Add(1)
	}
	s.mu.Unlock()

	if full != nil {
		go s.flush(full, TriggerSize)
	}
	return c, nil
}

// enqueueNow joins an in-flight call for f, flushes the pending window if it
// already holds f, or starts a single-call flush
func (s *Scheduler) enqueueNow(f cache.Fingerprint, in hybrid.Input) (*call, error) {
	key := f.Key()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	if c, ok := s.inflight[key]; ok {
		s.mu.Unlock()
		return c, nil
	}
	if s.window != nil {
		if c, ok := s.window.calls[key]; ok {
			w := s.detachLocked()
			s.flushes.Add(1)
			s.mu.Unlock()
			go s.flush(w, TriggerImmediate)
			return c, nil
		}
	}

	c := s.newCallLocked(f, in)
	w := &window{
		id:       uuid.New(),
		calls:    map[string]*call{key: c},
		order:    []string{key},
		openedAt: time.Now(),
	}
	s.inflight[key] = c
	s.flushes.Add(1)
	s.mu.Unlock()

	go s.flush(w, TriggerImmediate)
	return c, nil
}

func (s *Scheduler) newCallLocked(f cache.Fingerprint, in hybrid.Input) *call {
	return &call{fp: f, in: in, epoch: s.epochs[f.PlantID], gen: s.gen, done: make(chan struct{})}
}

// staleLocked reports whether the plant (or the whole cache) was invalidated
// after c was created
func (s *Scheduler) staleLocked(c *call) bool {
	return s.epochs[c.fp.PlantID] != c.epoch || s.gen != c.gen
}

func (s *Scheduler) openWindowLocked() {
	w := &window{
		id:       uuid.New(),
		calls:    make(map[string]*call),
		openedAt: time.Now(),
	}
	id := w.id
	w.timer = time.AfterFunc(s.cfg.FlushInterval, func() { s.onTimer(id) })
	s.window = w
}

func (s *Scheduler) onTimer(id uuid.UUID) {
	s.mu.Lock()
	if s.window == nil || s.window.id != id {
		// already flushed by size or Close
		s.mu.Unlock()
		return
	}
	w := s.detachLocked()
	s.flushes.Add(1)
	s.mu.Unlock()

	s.flush(w, TriggerTimer)
}

// detachLocked closes the current window and moves its calls in flight
func (s *Scheduler) detachLocked() *window {
	w := s.window
	s.window = nil
	w.timer.Stop()
	for key, c := range w.calls {
		s.inflight[key] = c
	}
	s.obs.Pending(0)
	return w
}

// flush computes every call of w once. Any failure fails the whole window
// and nothing from it is cached. Results are cached before the in-flight
// entries are released.
func (s *Scheduler) flush(w *window, trigger string) {
	defer s.flushes.Done()
	s.batches.Add(1)
	s.obs.Flushed(trigger, len(w.calls))
	start := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ComputeTimeout)
	defer cancel()

	err := s.compute(ctx, w)
	if err != nil {
		s.failedBatches.Add(1)
		s.obs.BatchFailed()
		s.log.Error("Batch computation failed", "batchId", w.id.String(), "size", len(w.calls), "error", err)
		batchErr := &models.BatchComputationError{BatchID: w.id.String(), Err: err}
		for _, c := range w.calls {
			c.err = batchErr
		}
	} else {
		s.cacheResults(ctx, w)
	}

	s.mu.Lock()
	for key, c := range w.calls {
		if s.inflight[key] == c {
			delete(s.inflight, key)
		}
	}
	s.mu.Unlock()

	for _, c := range w.calls {
		close(c.done)
	}

	s.log.Debug("Batch flushed",
		"batchId", w.id.String(),
		"trigger", trigger,
		"size", len(w.calls),
		"waitedMs", start.Sub(w.openedAt).Milliseconds(),
		"tookMs", time.Since(start).Milliseconds(),
	)
}

// cacheResults stores every call of w whose plant was not invalidated while
// computing. An invalidation can still land between the check and the Put,
// so the check is repeated afterwards and such plants are purged again.
func (s *Scheduler) cacheResults(ctx context.Context, w *window) {
	s.mu.Lock()
	fresh := make([]*call, 0, len(w.order))
	for _, key := range w.order {
		if c := w.calls[key]; !s.staleLocked(c) {
			fresh = append(fresh, c)
		}
	}
	s.mu.Unlock()

	for _, c := range fresh {
		s.cache.Put(ctx, c.fp, c.decision, s.cfg.CacheTTL)
	}

	purge := make(map[int]struct{})
	s.mu.Lock()
	for _, c := range fresh {
		if s.staleLocked(c) {
			purge[c.fp.PlantID] = struct{}{}
		}
	}
	s.mu.Unlock()

	for plantID := range purge {
		n := s.cache.InvalidatePlant(ctx, plantID)
		s.log.Debug("Purged results cached across an invalidation", "plantId", plantID, "removed", n)
	}
}

// compute groups calls by plant type and runs the decider for each call,
// at most MaxConcurrency at a time
func (s *Scheduler) compute(ctx context.Context, w *window) error {
	groups := make(map[string][]*call)
	for _, key := range w.order {
		c := w.calls[key]
		groups[c.fp.PlantType] = append(groups[c.fp.PlantType], c)
	}
	types := make([]string, 0, len(groups))
	for t := range groups {
		types = append(types, t)
	}
	sort.Strings(types)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.MaxConcurrency)
	for _, plantType := range types {
		for _, c := range groups[plantType] {
			c := c
			g.Go(func() (err error) {
				defer func() {
					if r := recover(); r != nil {
						err = fmt.Errorf("panic computing %s: %v", c.fp.Key(), r)
					}
				}()

				s.computations.Add(1)
				t0 := time.Now()
				d, err := s.decider.Decide(gctx, c.in)
				if err != nil {
					return fmt.Errorf("compute %s: %w", c.fp.Key(), err)
				}
				c.decision = d
				s.obs.Computed(d.Source, time.Since(t0))
				return nil
			})
		}
	}
	return g.Wait()
}

// Invalidate drops every cached decision of plantID. Computations already
// running for the plant still answer their waiters but are not cached.
func (s *Scheduler) Invalidate(ctx context.Context, plantID int) int {
	s.mu.Lock()
	s.epochs[plantID]++
	s.mu.Unlock()

	n := s.cache.InvalidatePlant(ctx, plantID)
	s.log.Info("Invalidated plant cache", "plantId", plantID, "removed", n)
	return n
}

// InvalidateAll drops every cached decision. Running computations are
// delivered but not cached.
func (s *Scheduler) InvalidateAll(ctx context.Context) int {
	s.mu.Lock()
	s.gen++
	s.mu.Unlock()

	n := s.cache.InvalidateAll(ctx)
	s.log.Info("Invalidated whole cache", "removed", n)
	return n
}

func (s *Scheduler) Stats() Stats {
	cs := s.cache.Stats()

	s.mu.Lock()
	pending := 0
	if s.window != nil {
		pending = len(s.window.calls)
	}
	inflight := len(s.inflight)
	s.mu.Unlock()

	return Stats{
		Hits:             cs.Hits,
		Misses:           cs.Misses,
		Sets:             cs.Sets,
		HitRate:          cs.HitRate,
		PendingBatchSize: pending,
		InFlight:         inflight,
		Waiting:          s.waiting.Load(),
		Computations:     s.computations.Load(),
		Batches:          s.batches.Load(),
		FailedBatches:    s.failedBatches.Load(),
		CacheEntries:     s.cache.Len(),
	}
}

// HealthCheck runs a probe decision straight through the decider, bypassing
// the cache and the window
func (s *Scheduler) HealthCheck(ctx context.Context) Health {
	probe := hybrid.Input{
		Reading: models.SensorReading{
			Moisture:    45,
			Temperature: 22,
			Humidity:    60,
			Light:       500,
			Timestamp:   time.Now(),
		},
	}

	start := time.Now()
	d, err := s.decider.Decide(ctx, probe)
	took := time.Since(start)
	s.lastLatencyNs.Store(int64(took))

	h := Health{LastLatencyMs: math.Round(float64(took.Microseconds())) / 1000}
	switch {
	case err != nil:
		h.Status = "error"
		h.Error = err.Error()
	case d.Source == models.SourceEmergency:
		h.Status = "degraded"
		h.ProbeSource = d.Source
	default:
		h.Healthy = true
		h.Status = "healthy"
		h.ProbeSource = d.Source
	}
	return h
}

// LastLatency is the duration of the most recent health probe
func (s *Scheduler) LastLatency() time.Duration {
	return time.Duration(s.lastLatencyNs.Load())
}

// Close flushes the pending window, waits for running flushes and rejects
// new requests
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	var w *window
	if s.window != nil {
		w = s.detachLocked()
		s.flushes.Add(1)
	}
	s.mu.Unlock()

	if w != nil {
		s.flush(w, TriggerClose)
	}
	s.flushes.Wait()
}

func (s *Scheduler) validate(in hybrid.Input) error {
	if err := models.ValidateReading(in.Reading, s.cfg.MaxLux); err != nil {
		return err
	}
	for i, h := range in.History {
		h.PlantID = in.Reading.PlantID
		if h.Timestamp.IsZero() {
			h.Timestamp = in.Reading.Timestamp
		}
		if err := models.ValidateReading(h, s.cfg.MaxLux); err != nil {
			return fmt.Errorf("history[%d]: %w", i, err)
		}
	}
	rain := in.RainProbability
	if math.IsNaN(rain) || rain < 0 || rain > 1 {
		return &models.ValidationError{Field: "rain_probability", Reason: "must be between 0 and 1", Value: rain}
	}
	return nil
}

type nopObserver struct{}

func (nopObserver) CacheLookup(bool)                      {}
func (nopObserver) Flushed(string, int)                   {}
func (nopObserver) Computed(models.Source, time.Duration) {}
func (nopObserver) BatchFailed()                          {}
func (nopObserver) Pending(int)                           {}
