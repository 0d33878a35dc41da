package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"irrigation-backend/internal/aggregator"
	"irrigation-backend/internal/database"
	"irrigation-backend/internal/hybrid"
	"irrigation-backend/internal/logger"
	"irrigation-backend/internal/models"
	"irrigation-backend/internal/profiles"
)

// Store is the persistence the service needs; *database.ClickHouseDB implements it
type Store interface {
	SaveReading(ctx context.Context, r models.SensorReading) error
	SaveDecisions(ctx context.Context, decisions ...models.Decision) error
	GetPlantType(ctx context.Context, plantID int) (string, error)
	RecentReadings(ctx context.Context, plantID, limit int) ([]models.SensorReading, error)
}

// Predictor is the slice of the scheduler the service calls
type Predictor interface {
	Predict(ctx context.Context, in hybrid.Input) (models.Decision, error)
	PredictNow(ctx context.Context, in hybrid.Input) (models.Decision, error)
	Invalidate(ctx context.Context, plantID int) int
}

// IrrigationService turns incoming readings into published decisions
type IrrigationService struct {
	store  Store
	sched  Predictor
	buffer *aggregator.HistoryBuffer
	sem    *semaphore.Weighted
	log    *logger.Logger

	requestTimeout time.Duration
	historySize    int
	urgentMoisture float64

	// Input channels from MQTT subscriber
	ReadingChan    chan models.SensorReading
	InvalidateChan chan int

	// Output channel to MQTT publisher
	DecisionChan chan models.Decision

	typesMu    sync.RWMutex
	plantTypes map[int]string

	wg sync.WaitGroup
}

// IrrigationServiceConfig holds configuration for the irrigation service
type IrrigationServiceConfig struct {
	HistorySize           int
	Thresholds            aggregator.ChangeThresholds
	RequestTimeout        time.Duration
	UrgentMoisture        float64 // readings below this skip the batch window
	MaxInflight           int64
	ReadingChannelSize    int
	InvalidateChannelSize int
	DecisionChannelSize   int
}

// DefaultIrrigationServiceConfig returns default configuration
func DefaultIrrigationServiceConfig() IrrigationServiceConfig {
	return IrrigationServiceConfig{
		HistorySize: 10,
		Thresholds: aggregator.ChangeThresholds{
			MoistureDelta:    2,
			TemperatureDelta: 1,
			MinInterval:      10 * time.Minute,
		},
		RequestTimeout:        5 * time.Second,
		UrgentMoisture:        20,
		MaxInflight:           64,
		ReadingChannelSize:    100,
		InvalidateChannelSize: 20,
		DecisionChannelSize:   50,
	}
}

// NewIrrigationService creates a new irrigation service
func NewIrrigationService(store Store, sched Predictor, config IrrigationServiceConfig, log *logger.Logger) *IrrigationService {
	def := DefaultIrrigationServiceConfig()
	if config.HistorySize <= 0 {
		config.HistorySize = def.HistorySize
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = def.RequestTimeout
	}
	if config.MaxInflight <= 0 {
		config.MaxInflight = def.MaxInflight
	}
	if config.ReadingChannelSize <= 0 {
		config.ReadingChannelSize = def.ReadingChannelSize
	}
	if config.InvalidateChannelSize <= 0 {
		config.InvalidateChannelSize = def.InvalidateChannelSize
	}
	if config.DecisionChannelSize <= 0 {
		config.DecisionChannelSize = def.DecisionChannelSize
	}

	return &IrrigationService{
		store:          store,
		sched:          sched,
		buffer:         aggregator.NewHistoryBuffer(config.HistorySize, config.Thresholds),
		sem:            semaphore.NewWeighted(config.MaxInflight),
		log:            log.Component("IrrigationService"),
		requestTimeout: config.RequestTimeout,
		historySize:    config.HistorySize,
		urgentMoisture: config.UrgentMoisture,
		ReadingChan:    make(chan models.SensorReading, config.ReadingChannelSize),
		InvalidateChan: make(chan int, config.InvalidateChannelSize),
		DecisionChan:   make(chan models.Decision, config.DecisionChannelSize),
		plantTypes:     make(map[int]string),
	}
}

// Start processes readings and invalidations until ctx is cancelled, then
// waits for running evaluations and closes DecisionChan
func (s *IrrigationService) Start(ctx context.Context) {
	s.log.Info("Starting", "historySize", s.historySize, "requestTimeout", s.requestTimeout)

	defer func() {
		s.wg.Wait()
		close(s.DecisionChan)
		s.log.Info("Shutdown complete")
	}()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("Shutting down...")
			return

		case reading, ok := <-s.ReadingChan:
			if !ok {
				s.log.Info("Reading channel closed, shutting down")
				return
			}
			s.processReading(ctx, reading)

		case plantID, ok := <-s.InvalidateChan:
			if !ok {
				s.InvalidateChan = nil
				continue
			}
			s.invalidate(ctx, plantID)
		}
	}
}

// processReading persists the reading, updates the history window and, when
// the reading changed enough, schedules an evaluation
func (s *IrrigationService) processReading(ctx context.Context, r models.SensorReading) {
	s.seedHistory(ctx, r.PlantID)

	if err := s.store.SaveReading(ctx, r); err != nil {
		s.log.Error("Error saving reading", "plantId", r.PlantID, "error", err)
	}

	history, evaluate := s.buffer.Add(r)
	if !evaluate {
		s.log.Debug("Reading unchanged, skipping evaluation", "plantId", r.PlantID, "moisture", r.Moisture)
		return
	}

	if err := s.sem.Acquire(ctx, 1); err != nil {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.sem.Release(1)
		s.evaluate(ctx, r, history)
	}()
}

// seedHistory loads the plant's stored window the first time it is seen
func (s *IrrigationService) seedHistory(ctx context.Context, plantID int) {
	if s.buffer.Seeded(plantID) {
		return
	}
	readings, err := s.store.RecentReadings(ctx, plantID, s.historySize)
	if err != nil {
		s.log.Warn("Could not load stored history", "plantId", plantID, "error", err)
		readings = nil
	}
	s.buffer.Seed(plantID, readings)
	s.log.Debug("Seeded history", "plantId", plantID, "readings", len(readings))
}

// evaluate asks the scheduler for a decision and hands it to the publisher
// and to storage
func (s *IrrigationService) evaluate(ctx context.Context, r models.SensorReading, history []models.SensorReading) {
	in := hybrid.Input{
		Reading:   r,
		History:   history,
		PlantType: s.plantType(ctx, r.PlantID),
	}

	reqCtx, cancel := context.WithTimeout(ctx, s.requestTimeout)
	defer cancel()

	predict := s.sched.Predict
	if r.Moisture < s.urgentMoisture {
		predict = s.sched.PredictNow
	}

	d, err := predict(reqCtx, in)
	if err != nil {
		var batchErr *models.BatchComputationError
		switch {
		case errors.As(err, &batchErr):
			s.log.Error("Batch computation failed", "plantId", r.PlantID, "batchId", batchErr.BatchID, "error", batchErr.Err)
		case models.IsValidationError(err):
			s.log.Warn("Reading rejected", "plantId", r.PlantID, "error", err)
		default:
			s.log.Warn("Prediction not available", "plantId", r.PlantID, "error", err)
		}
		return
	}

	s.log.Info("Decision",
		"plantId", d.PlantID,
		"plantType", d.PlantType,
		"shouldWater", d.ShouldWater,
		"amountMl", d.WaterAmountML,
		"confidence", d.Confidence,
		"source", d.Source,
	)

	select {
	case s.DecisionChan <- d:
	case <-time.After(1 * time.Second):
		s.log.Warn("Decision channel full, dropping decision", "plantId", d.PlantID)
	}

	if err := s.store.SaveDecisions(ctx, d); err != nil {
		s.log.Error("Error saving decision", "plantId", d.PlantID, "error", err)
	}
}

// plantType resolves a plant's species from the registry, remembering the
// answer. Unregistered plants use the default profile.
func (s *IrrigationService) plantType(ctx context.Context, plantID int) string {
	s.typesMu.RLock()
	t, ok := s.plantTypes[plantID]
	s.typesMu.RUnlock()
	if ok {
		return t
	}

	t, err := s.store.GetPlantType(ctx, plantID)
	switch {
	case errors.Is(err, database.ErrPlantNotFound):
		t = profiles.DefaultType
	case err != nil:
		// transient; don't remember the fallback
		s.log.Warn("Could not resolve plant type", "plantId", plantID, "error", err)
		return profiles.DefaultType
	}
	t = profiles.Normalize(t)

	s.typesMu.Lock()
	s.plantTypes[plantID] = t
	s.typesMu.Unlock()
	return t
}

// invalidate drops cached decisions and the remembered plant type, e.g.
// after the plant was re-potted or its registry entry changed
func (s *IrrigationService) invalidate(ctx context.Context, plantID int) {
	s.typesMu.Lock()
	delete(s.plantTypes, plantID)
	s.typesMu.Unlock()

	n := s.sched.Invalidate(ctx, plantID)
	s.log.Info("Plant invalidated", "plantId", plantID, "removed", n)
}
