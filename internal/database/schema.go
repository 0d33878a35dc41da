package database

// SQL schemas for all ClickHouse tables

const (
	// SensorReadingsTableSQL creates the sensor_readings table
	SensorReadingsTableSQL = `
		CREATE TABLE IF NOT EXISTS sensor_readings (
			timestamp DateTime64(3),
			plant_id UInt32,
			moisture Float64,
			temperature Float64,
			humidity Float64,
			light Float64
		) ENGINE = MergeTree()
		ORDER BY (plant_id, timestamp)
		PARTITION BY toYYYYMM(timestamp)
	`

	// IrrigationDecisionsTableSQL creates the irrigation_decisions table
	IrrigationDecisionsTableSQL = `
		CREATE TABLE IF NOT EXISTS irrigation_decisions (
			timestamp DateTime64(3),
			plant_id UInt32,
			plant_type LowCardinality(String),
			should_water Bool,
			water_amount_ml UInt32,
			confidence Float64,
			source LowCardinality(String),
			score Float64,
			stress Float64,
			water_demand Float64,
			reasoning Array(String),
			detail String
		) ENGINE = MergeTree()
		ORDER BY (plant_id, timestamp)
		PARTITION BY toYYYYMM(timestamp)
	`

	// PlantRegistryTableSQL creates the plant_registry table
	PlantRegistryTableSQL = `
		CREATE TABLE IF NOT EXISTS plant_registry (
			plant_id UInt32,
			plant_type String,
			name String,
			location String,
			registered_at DateTime64(3),
			last_seen DateTime64(3),
			is_active Bool
		) ENGINE = ReplacingMergeTree(last_seen)
		ORDER BY plant_id
	`
)

// AllTables returns all table creation SQL statements
func AllTables() []string {
	return []string{
		SensorReadingsTableSQL,
		IrrigationDecisionsTableSQL,
		PlantRegistryTableSQL,
	}
}
