package cache

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"irrigation-backend/internal/models"
	"irrigation-backend/internal/rules"
)

var ctx = context.Background()

func input(plantID int, m, t, h, l float64) rules.Input {
	return rules.Input{
		Reading:   models.SensorReading{PlantID: plantID, Moisture: m, Temperature: t, Humidity: h, Light: l, Timestamp: time.Date(2024, 6, 1, 9, 15, 0, 0, time.UTC)},
		PlantType: "tomato",
	}
}

func decision(plantID int, water bool) models.Decision {
	return models.Decision{PlantID: plantID, ShouldWater: water, WaterAmountML: 100, Confidence: 0.8,
		Source: models.SourceRule, Detail: models.RuleDetail{Reason: "ml-skipped"}, Reasoning: []string{"r"}}
}

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func newTestMemory(max int) (*Memory, *clock) {
	c := &clock{now: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)}
	m := NewMemory(max)
	m.now = c.Now
	return m, c
}

func TestFingerprintBucketStability(t *testing.T) {
	a := NewFingerprint(input(1, 45.2, 22.4, 60.1, 503))
	b := NewFingerprint(input(1, 44.8, 21.6, 59.7, 498))
	assert.Equal(t, a, b)

	c := NewFingerprint(input(1, 46.6, 22.4, 60.1, 503))
	assert.NotEqual(t, a.Digest, c.Digest)

	other := NewFingerprint(input(2, 45.2, 22.4, 60.1, 503))
	assert.Equal(t, a.Digest, other.Digest)
	assert.NotEqual(t, a.Key(), other.Key())
}

func TestFingerprintKeyFormat(t *testing.T) {
	in := input(12, 45, 22, 60, 500)
	in.PlantType = " Tomato "
	f := NewFingerprint(in)

	assert.True(t, strings.HasPrefix(f.Key(), "prediction:12:tomato:"))
	assert.True(t, strings.HasPrefix(f.Key(), PlantPrefix(12)))
	assert.Len(t, f.Digest, 32)
}

func TestFingerprintCoversContext(t *testing.T) {
	base := input(1, 45, 22, 60, 500)
	f := NewFingerprint(base)

	laterHour := base
	laterHour.Reading.Timestamp = base.Reading.Timestamp.Add(3 * time.Hour)
	assert.NotEqual(t, f, NewFingerprint(laterHour))

	rainy := base
	rainy.RainProbability = 0.8
	assert.NotEqual(t, f, NewFingerprint(rainy))

	drying := base
	for _, m := range []float64{70, 68, 66, 50, 48, 46} {
		r := base.Reading
		r.Moisture = m
		drying.History = append(drying.History, r)
	}
	assert.NotEqual(t, f, NewFingerprint(drying))

	otherType := base
	otherType.PlantType = "lettuce"
	assert.NotEqual(t, f, NewFingerprint(otherType))
}

func TestMemoryCoherenceAndExpiry(t *testing.T) {
	m, c := newTestMemory(0)
	f := NewFingerprint(input(1, 45, 22, 60, 500))
	d := decision(1, true)

	_, ok := m.Get(ctx, f)
	assert.False(t, ok)

	m.Put(ctx, f, d, time.Minute)
	got, ok := m.Get(ctx, f)
	require.True(t, ok)
	assert.Equal(t, d, got)

	c.now = c.now.Add(59 * time.Second)
	_, ok = m.Get(ctx, f)
	assert.True(t, ok)

	c.now = c.now.Add(time.Second)
	_, ok = m.Get(ctx, f)
	assert.False(t, ok, "entry expires at exactly ttl")
	assert.Zero(t, m.Len(), "expired entry is removed lazily")

	s := m.Stats()
	assert.Equal(t, uint64(2), s.Hits)
	assert.Equal(t, uint64(2), s.Misses)
	assert.Equal(t, uint64(1), s.Sets)
	assert.Equal(t, uint64(1), s.Evictions)
	assert.InDelta(t, 0.5, s.HitRate, 1e-9)
}

func TestMemoryLastWriteWins(t *testing.T) {
	m, _ := newTestMemory(0)
	f := NewFingerprint(input(1, 45, 22, 60, 500))

	m.Put(ctx, f, decision(1, true), time.Minute)
	m.Put(ctx, f, decision(1, false), time.Minute)

	got, ok := m.Get(ctx, f)
	require.True(t, ok)
	assert.False(t, got.ShouldWater)
	assert.Equal(t, 1, m.Len())
}

func TestMemoryInvalidationIsolation(t *testing.T) {
	m, _ := newTestMemory(0)
	var plant1, plant2 []Fingerprint
	for i := 0; i < 3; i++ {
		f1 := NewFingerprint(input(1, float64(30+i*5), 22, 60, 500))
		f2 := NewFingerprint(input(2, float64(30+i*5), 22, 60, 500))
		m.Put(ctx, f1, decision(1, true), time.Minute)
		m.Put(ctx, f2, decision(2, true), time.Minute)
		plant1 = append(plant1, f1)
		plant2 = append(plant2, f2)
	}

	assert.Equal(t, 3, m.InvalidatePlant(ctx, 1))
	for _, f := range plant1 {
		_, ok := m.Get(ctx, f)
		assert.False(t, ok)
	}
	for _, f := range plant2 {
		_, ok := m.Get(ctx, f)
		assert.True(t, ok)
	}
	assert.Zero(t, m.InvalidatePlant(ctx, 1))
	assert.Equal(t, uint64(3), m.Stats().Deletes)
}

func TestMemoryMaxEntriesEvictsSoonestExpiry(t *testing.T) {
	m, _ := newTestMemory(2)
	f1 := NewFingerprint(input(1, 10, 22, 60, 500))
	f2 := NewFingerprint(input(1, 20, 22, 60, 500))
	f3 := NewFingerprint(input(1, 30, 22, 60, 500))

	m.Put(ctx, f1, decision(1, true), time.Minute)
	m.Put(ctx, f2, decision(1, true), 10*time.Minute)
	m.Put(ctx, f3, decision(1, true), 10*time.Minute)

	assert.Equal(t, 2, m.Len())
	_, ok := m.Get(ctx, f1)
	assert.False(t, ok)
	assert.Equal(t, uint64(1), m.Stats().Evictions)
}

func TestMemorySweep(t *testing.T) {
	m, c := newTestMemory(0)
	m.Put(ctx, NewFingerprint(input(1, 10, 22, 60, 500)), decision(1, true), time.Minute)
	m.Put(ctx, NewFingerprint(input(1, 20, 22, 60, 500)), decision(1, true), time.Hour)

	c.now = c.now.Add(2 * time.Minute)
	assert.Equal(t, 1, m.Sweep())
	assert.Equal(t, 1, m.Len())
	assert.Equal(t, 1, m.InvalidatePlant(ctx, 1), "sweep keeps the plant index in sync")
}

func TestMemoryConcurrentAccess(t *testing.T) {
	m := NewMemory(0)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				f := NewFingerprint(input(g%3+1, float64(i%50), 22, 60, 500))
				m.Put(ctx, f, decision(f.PlantID, i%2 == 0), time.Minute)
				m.Get(ctx, f)
				if i%50 == 0 {
					m.InvalidatePlant(ctx, g%3+1)
				}
			}
		}(g)
	}
	wg.Wait()
	s := m.Stats()
	assert.Equal(t, uint64(1600), s.Sets)
	assert.Equal(t, uint64(1600), s.Hits+s.Misses)
}

func TestDecisionCodec(t *testing.T) {
	d := decision(5, true).WithDetail(models.WeightedDetail{Winner: models.SideML, RuleWeight: 0.7, MLWeight: 0.8})
	d.ComputedAt = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

	raw, err := encodeDecision(d)
	require.NoError(t, err)
	out, err := decodeDecision(raw)
	require.NoError(t, err)
	assert.Equal(t, d, out)

	_, err = decodeDecision([]byte(fmt.Sprintf(`{"source":%q,"detail":{"reason":"x"}}`, "bogus")))
	assert.Error(t, err)
}

func TestMemoryCopiesReasoning(t *testing.T) {
	m, _ := newTestMemory(0)
	f := NewFingerprint(input(1, 45, 22, 60, 500))

	d := decision(1, true)
	m.Put(ctx, f, d, time.Minute)
	d.Reasoning[0] = "changed after put"

	got, ok := m.Get(ctx, f)
	require.True(t, ok)
	got.Reasoning[0] = "changed by a reader"

	again, ok := m.Get(ctx, f)
	require.True(t, ok)
	assert.Equal(t, []string{"r"}, again.Reasoning)
}

func TestMemoryInvalidateAll(t *testing.T) {
	m, _ := newTestMemory(0)
	for id := 1; id <= 3; id++ {
		m.Put(ctx, NewFingerprint(input(id, 45, 22, 60, 500)), decision(id, true), time.Minute)
	}

	assert.Equal(t, 3, m.InvalidateAll(ctx))
	assert.Zero(t, m.Len())
	assert.Zero(t, m.InvalidatePlant(ctx, 2), "plant index is reset too")
	assert.Equal(t, uint64(3), m.Stats().Deletes)
}
