package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"irrigation-backend/internal/logger"
	"irrigation-backend/internal/models"
)

// ErrPlantNotFound is returned when the registry has no row for a plant
var ErrPlantNotFound = errors.New("plant not registered")

// Options holds connection settings
type Options struct {
	Addr     string
	Database string
	Username string
	Password string
}

type ClickHouseDB struct {
	conn driver.Conn
	log  *logger.Logger
}

// NewClickHouseDB creates a new ClickHouse database connection
func NewClickHouseDB(ctx context.Context, opts Options, log *logger.Logger) (*ClickHouseDB, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{opts.Addr},
		Auth: clickhouse.Auth{
			Database: opts.Database,
			Username: opts.Username,
			Password: opts.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout: 5 * time.Second,
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})

	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	db := &ClickHouseDB{conn: conn, log: log.Component("ClickHouse")}
	db.log.Info("Connected to ClickHouse", "addr", opts.Addr)

	// Initialize schema
	if err := db.InitSchema(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return db, nil
}

// InitSchema creates the necessary tables if they don't exist
func (db *ClickHouseDB) InitSchema(ctx context.Context) error {
	for _, tableSQL := range AllTables() {
		if err := db.conn.Exec(ctx, tableSQL); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	db.log.Info("Database schema initialized successfully")
	return nil
}

// SaveReading saves a validated sensor reading
func (db *ClickHouseDB) SaveReading(ctx context.Context, r models.SensorReading) error {
	query := `
		INSERT INTO sensor_readings (timestamp, plant_id, moisture, temperature, humidity, light)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	err := db.conn.Exec(ctx, query,
		r.Timestamp,
		uint32(r.PlantID),
		r.Moisture,
		r.Temperature,
		r.Humidity,
		r.Light,
	)
	if err != nil {
		return fmt.Errorf("failed to insert sensor reading: %w", err)
	}
	return nil
}

// SaveDecisions writes decisions in one batch
func (db *ClickHouseDB) SaveDecisions(ctx context.Context, decisions ...models.Decision) error {
	if len(decisions) == 0 {
		return nil
	}

	batch, err := db.conn.PrepareBatch(ctx, `
		INSERT INTO irrigation_decisions (timestamp, plant_id, plant_type, should_water, water_amount_ml,
			confidence, source, score, stress, water_demand, reasoning, detail)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare decision batch: %w", err)
	}

	for _, d := range decisions {
		row, err := toDecisionRow(d)
		if err != nil {
			_ = batch.Abort()
			return err
		}
		if err := batch.Append(row.values()...); err != nil {
			_ = batch.Abort()
			return fmt.Errorf("failed to append decision: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to insert decisions: %w", err)
	}
	return nil
}

// UpsertPlant inserts or updates a plant in the registry
func (db *ClickHouseDB) UpsertPlant(ctx context.Context, p models.Plant) error {
	query := `
		INSERT INTO plant_registry (plant_id, plant_type, name, location, registered_at, last_seen, is_active)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	err := db.conn.Exec(ctx, query,
		uint32(p.PlantID),
		p.PlantType,
		p.Name,
		p.Location,
		p.RegisteredAt,
		p.LastSeen,
		p.IsActive,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert plant: %w", err)
	}
	return nil
}

// GetPlantType returns the registered type of a plant
func (db *ClickHouseDB) GetPlantType(ctx context.Context, plantID int) (string, error) {
	query := `
		SELECT plant_type
		FROM plant_registry FINAL
		WHERE plant_id = ?
		LIMIT 1
	`

	var plantType string
	row := db.conn.QueryRow(ctx, query, uint32(plantID))
	if err := row.Scan(&plantType); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrPlantNotFound
		}
		return "", fmt.Errorf("failed to query plant type: %w", err)
	}
	return plantType, nil
}

// RecentReadings returns up to limit of the newest readings of a plant, oldest first
func (db *ClickHouseDB) RecentReadings(ctx context.Context, plantID, limit int) ([]models.SensorReading, error) {
	query := `
		SELECT timestamp, moisture, temperature, humidity, light
		FROM sensor_readings
		WHERE plant_id = ?
		ORDER BY timestamp DESC
		LIMIT ?
	`

	rows, err := db.conn.Query(ctx, query, uint32(plantID), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent readings: %w", err)
	}
	defer rows.Close()

	var readings []models.SensorReading
	for rows.Next() {
		r := models.SensorReading{PlantID: plantID}
		if err := rows.Scan(&r.Timestamp, &r.Moisture, &r.Temperature, &r.Humidity, &r.Light); err != nil {
			return nil, fmt.Errorf("failed to scan reading: %w", err)
		}
		readings = append(readings, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate readings: %w", err)
	}

	reverse(readings)
	return readings, nil
}

// Close closes the ClickHouse connection
func (db *ClickHouseDB) Close() error {
	if db.conn != nil {
		if err := db.conn.Close(); err != nil {
			return fmt.Errorf("failed to close ClickHouse connection: %w", err)
		}
		db.log.Info("ClickHouse connection closed")
	}
	return nil
}

// decisionRow is the column layout of irrigation_decisions
type decisionRow struct {
	Timestamp     time.Time
	PlantID       uint32
	PlantType     string
	ShouldWater   bool
	WaterAmountML uint32
	Confidence    float64
	Source        string
	Score         float64
	Stress        float64
	WaterDemand   float64
	Reasoning     []string
	Detail        string
}

func toDecisionRow(d models.Decision) (decisionRow, error) {
	detail := "{}"
	if d.Detail != nil {
		raw, err := json.Marshal(d.Detail)
		if err != nil {
			return decisionRow{}, fmt.Errorf("failed to encode decision detail: %w", err)
		}
		detail = string(raw)
	}
	reasoning := d.Reasoning
	if reasoning == nil {
		reasoning = []string{}
	}
	ts := d.ComputedAt
	if ts.IsZero() {
		ts = time.Now()
	}

	return decisionRow{
		Timestamp:     ts,
		PlantID:       uint32(d.PlantID),
		PlantType:     d.PlantType,
		ShouldWater:   d.ShouldWater,
		WaterAmountML: uint32(d.WaterAmountML),
		Confidence:    d.Confidence,
		Source:        string(d.Source),
		Score:         d.Score,
		Stress:        d.Stress,
		WaterDemand:   d.WaterDemand,
		Reasoning:     reasoning,
		Detail:        detail,
	}, nil
}

func (r decisionRow) values() []any {
	return []any{
		r.Timestamp, r.PlantID, r.PlantType, r.ShouldWater, r.WaterAmountML,
		r.Confidence, r.Source, r.Score, r.Stress, r.WaterDemand, r.Reasoning, r.Detail,
	}
}

func reverse(rs []models.SensorReading) {
	for i, j := 0, len(rs)-1; i < j; i, j = i+1, j-1 {
		rs[i], rs[j] = rs[j], rs[i]
	}
}
