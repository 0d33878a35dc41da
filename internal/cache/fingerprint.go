package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"

	"irrigation-backend/internal/profiles"
	"irrigation-backend/internal/rules"
)

const keyPrefix = "prediction"

// DefaultHistoryMin splits histories into "short" and "rich" fingerprint classes
const DefaultHistoryMin = 5

// Fingerprint identifies a bucket of equivalent decision inputs
type Fingerprint struct {
	PlantID   int
	PlantType string
	Digest    string
}

// Key is the cache key: prediction:<plantId>:<plantType>:<digest>
func (f Fingerprint) Key() string {
	return keyPrefix + ":" + strconv.Itoa(f.PlantID) + ":" + f.PlantType + ":" + f.Digest
}

func (f Fingerprint) String() string { return f.Key() }

// PlantPrefix is the key prefix shared by every fingerprint of a plant
func PlantPrefix(plantID int) string {
	return keyPrefix + ":" + strconv.Itoa(plantID) + ":"
}

// Fingerprinter buckets decision inputs. Moisture, humidity and temperature
// are rounded to 1 unit, light to 10 lux and rain probability to 0.1. The
// reading's hour and the rounded history trend are part of the key because
// the rule engine reads both.
type Fingerprinter struct {
	HistoryMin int
}

// NewFingerprint uses DefaultHistoryMin
func NewFingerprint(in rules.Input) Fingerprint {
	return Fingerprinter{HistoryMin: DefaultHistoryMin}.Of(in)
}

func (fp Fingerprinter) Of(in rules.Input) Fingerprint {
	r := in.Reading
	trends := rules.ComputeTrends(in.History)
	historyMin := fp.HistoryMin
	if historyMin <= 0 {
		historyMin = DefaultHistoryMin
	}

	var b strings.Builder
	fmt.Fprintf(&b, "m=%d|t=%d|h=%d|l=%d|rain=%d|hour=%d",
		bucket(r.Moisture, 1), bucket(r.Temperature, 1), bucket(r.Humidity, 1),
		bucket(r.Light, 10), bucket(in.RainProbability, 0.1), r.Timestamp.Hour())
	fmt.Fprintf(&b, "|decl=%d|rise=%d|rich=%t",
		bucket(trends.MoistureDecline, 1), bucket(trends.TemperatureRise, 1), len(in.History) >= historyMin)

	sum := sha256.Sum256([]byte(b.String()))
	return Fingerprint{
		PlantID:   r.PlantID,
		PlantType: profiles.Normalize(in.PlantType),
		Digest:    hex.EncodeToString(sum[:16]),
	}
}

func bucket(v, size float64) int64 {
	return int64(math.Round(v / size))
}
