package aggregator

import (
	"math"
	"sort"
	"sync"
	"time"

	"irrigation-backend/internal/models"
)

// ChangeThresholds decides when a new reading is worth a fresh decision
type ChangeThresholds struct {
	MoistureDelta    float64       // Percentage points
	TemperatureDelta float64       // Celsius
	MinInterval      time.Duration // re-evaluate at least this often even without change
}

// PlantState holds the recent readings of one plant, oldest first
type PlantState struct {
	PlantID       int
	readings      []models.SensorReading
	lastEvaluated time.Time
	seeded        bool
	mu            sync.RWMutex
}

// HistoryBuffer keeps a bounded rolling window of readings per plant. It is
// the source of the historical window passed to the scheduler.
type HistoryBuffer struct {
	plants     map[int]*PlantState
	size       int
	thresholds ChangeThresholds
	mu         sync.RWMutex
}

func NewHistoryBuffer(size int, thresholds ChangeThresholds) *HistoryBuffer {
	if size <= 0 {
		size = 10
	}
	return &HistoryBuffer{
		plants:     make(map[int]*PlantState),
		size:       size,
		thresholds: thresholds,
	}
}

func (b *HistoryBuffer) getOrCreatePlant(plantID int) *PlantState {
	b.mu.Lock()
	defer b.mu.Unlock()

	if p, exists := b.plants[plantID]; exists {
		return p
	}
	p := &PlantState{PlantID: plantID}
	b.plants[plantID] = p
	return p
}

// Seeded reports whether the plant's window was already loaded from storage
func (b *HistoryBuffer) Seeded(plantID int) bool {
	b.mu.RLock()
	p, ok := b.plants[plantID]
	b.mu.RUnlock()
	if !ok {
		return false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.seeded
}

// Seed prepends stored readings (any order) in front of what is buffered
func (b *HistoryBuffer) Seed(plantID int, readings []models.SensorReading) {
	p := b.getOrCreatePlant(plantID)

	sorted := make([]models.SensorReading, len(readings))
	copy(sorted, readings)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })

	p.mu.Lock()
	defer p.mu.Unlock()
	p.readings = b.trim(append(sorted, p.readings...))
	p.seeded = true
}

// Add appends r and returns the window as it was before r together with
// whether r changed enough (or enough time passed) to warrant a decision
func (b *HistoryBuffer) Add(r models.SensorReading) (history []models.SensorReading, evaluate bool) {
	p := b.getOrCreatePlant(r.PlantID)

	p.mu.Lock()
	defer p.mu.Unlock()

	history = make([]models.SensorReading, len(p.readings))
	copy(history, p.readings)

	evaluate = true
	if n := len(p.readings); n > 0 && !p.lastEvaluated.IsZero() {
		prev := p.readings[n-1]
		changed := math.Abs(r.Moisture-prev.Moisture) >= b.thresholds.MoistureDelta ||
			math.Abs(r.Temperature-prev.Temperature) >= b.thresholds.TemperatureDelta
		stale := r.Timestamp.Sub(p.lastEvaluated) >= b.thresholds.MinInterval
		evaluate = changed || stale
	}
	if evaluate {
		p.lastEvaluated = r.Timestamp
	}

	p.readings = b.trim(append(p.readings, r))
	return history, evaluate
}

// History returns a copy of the plant's window, oldest first
func (b *HistoryBuffer) History(plantID int) []models.SensorReading {
	b.mu.RLock()
	p, ok := b.plants[plantID]
	b.mu.RUnlock()
	if !ok {
		return nil
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]models.SensorReading, len(p.readings))
	copy(out, p.readings)
	return out
}

// Forget drops a plant's window
func (b *HistoryBuffer) Forget(plantID int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.plants, plantID)
}

// Plants returns all buffered plant IDs, sorted
func (b *HistoryBuffer) Plants() []int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	ids := make([]int, 0, len(b.plants))
	for id := range b.plants {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

func (b *HistoryBuffer) trim(rs []models.SensorReading) []models.SensorReading {
	if len(rs) <= b.size {
		return rs
	}
	out := make([]models.SensorReading, b.size)
	copy(out, rs[len(rs)-b.size:])
	return out
}
