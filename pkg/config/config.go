package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Logging
	LogMode string

	// MQTT Configuration
	MQTTBroker   string
	MQTTClientID string
	MQTTUsername string
	MQTTPassword string

	// MQTT topics
	MQTTTopicSensors    string
	MQTTTopicInvalidate string
	MQTTTopicDecision   string

	// ClickHouse Configuration
	ClickHouseAddr string
	ClickHouseDB   string
	ClickHouseUser string
	ClickHousePass string

	// HTTP
	HTTPAddr string

	// Cache Configuration
	CacheBackend         string // memory | redis
	CacheTTL             time.Duration
	CacheMaxEntries      int
	CacheJanitorInterval time.Duration
	RedisAddr            string
	RedisPassword        string
	RedisDB              int

	// Batch scheduler
	BatchMaxSize      int
	BatchFlushWindow  time.Duration
	BatchConcurrency  int
	RequestTimeout    time.Duration
	MaxInflight       int64
	HistoryWindowSize int

	// Reading change detection
	ChangeMoistureDelta    float64
	ChangeTemperatureDelta float64
	EvaluateInterval       time.Duration

	// Hybrid selection policy
	SelectorMode          string // hybrid | rules | ml-first
	MLFallbackThreshold   float64
	CriticalMoisture      float64
	MLWeightCap           float64
	BorderlineHistoryMin  int
	BorderlineMoistureMin float64
	BorderlineMoistureMax float64
	BorderlineTempMin     float64
	BorderlineTempMax     float64

	// ML Model Configuration
	MLEnabled           bool
	ModelPath           string
	MLTimeout           time.Duration
	MLBreakerFailures   int
	MLBreakerResetAfter time.Duration

	// Reference data
	ProfilesPath string
	MaxLux       float64
}

func Load() *Config {
	// Load .env file if it exists
	_ = godotenv.Load()

	return &Config{
		LogMode: getEnv("LOG_MODE", "dev"),

		// MQTT Configuration
		MQTTBroker:   getEnv("MQTT_BROKER", "tcp://localhost:1883"),
		MQTTClientID: getEnv("MQTT_CLIENT_ID", "irrigation-backend"),
		MQTTUsername: getEnv("MQTT_USERNAME", ""),
		MQTTPassword: getEnv("MQTT_PASSWORD", ""),

		MQTTTopicSensors:    getEnv("MQTT_TOPIC_SENSORS", "garden/+/sensors"),
		MQTTTopicInvalidate: getEnv("MQTT_TOPIC_INVALIDATE", "garden/+/invalidate"),
		MQTTTopicDecision:   getEnv("MQTT_TOPIC_DECISION", "garden/{plant_id}/decision"),

		// ClickHouse Configuration
		ClickHouseAddr: getEnv("CLICKHOUSE_ADDR", "localhost:9000"),
		ClickHouseDB:   getEnv("CLICKHOUSE_DB", "garden"),
		ClickHouseUser: getEnv("CLICKHOUSE_USER", "default"),
		ClickHousePass: getEnv("CLICKHOUSE_PASS", ""),

		HTTPAddr: getEnv("HTTP_ADDR", ":8080"),

		// Cache Configuration
		CacheBackend:         getEnv("CACHE_BACKEND", "memory"),
		CacheTTL:             getEnvDuration("CACHE_TTL", 5*time.Minute),
		CacheMaxEntries:      getEnvInt("CACHE_MAX_ENTRIES", 10000),
		CacheJanitorInterval: getEnvDuration("CACHE_JANITOR_INTERVAL", time.Minute),
		RedisAddr:            getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:        getEnv("REDIS_PASSWORD", ""),
		RedisDB:              getEnvInt("REDIS_DB", 0),

		// Batch scheduler
		BatchMaxSize:      getEnvInt("BATCH_MAX_SIZE", 10),
		BatchFlushWindow:  getEnvDuration("BATCH_FLUSH_WINDOW", time.Second),
		BatchConcurrency:  getEnvInt("BATCH_CONCURRENCY", 5),
		RequestTimeout:    getEnvDuration("REQUEST_TIMEOUT", 5*time.Second),
		MaxInflight:       int64(getEnvInt("MAX_INFLIGHT", 64)),
		HistoryWindowSize: getEnvInt("HISTORY_WINDOW_SIZE", 10),

		ChangeMoistureDelta:    getEnvFloat("CHANGE_MOISTURE_DELTA", 2),
		ChangeTemperatureDelta: getEnvFloat("CHANGE_TEMPERATURE_DELTA", 1),
		EvaluateInterval:       getEnvDuration("EVALUATE_INTERVAL", 10*time.Minute),

		// Hybrid selection policy
		SelectorMode:          getEnv("SELECTOR_MODE", "hybrid"),
		MLFallbackThreshold:   getEnvFloat("ML_FALLBACK_THRESHOLD", 0.6),
		CriticalMoisture:      getEnvFloat("CRITICAL_MOISTURE", 20),
		MLWeightCap:           getEnvFloat("ML_WEIGHT_CAP", 0.8),
		BorderlineHistoryMin:  getEnvInt("BORDERLINE_HISTORY_MIN", 5),
		BorderlineMoistureMin: getEnvFloat("BORDERLINE_MOISTURE_MIN", 40),
		BorderlineMoistureMax: getEnvFloat("BORDERLINE_MOISTURE_MAX", 60),
		BorderlineTempMin:     getEnvFloat("BORDERLINE_TEMP_MIN", 20),
		BorderlineTempMax:     getEnvFloat("BORDERLINE_TEMP_MAX", 30),

		// ML Model Configuration
		MLEnabled:           getEnvBool("ML_ENABLED", true),
		ModelPath:           getEnv("MODEL_PATH", "./model/watering_model.json"),
		MLTimeout:           getEnvDuration("ML_TIMEOUT", 500*time.Millisecond),
		MLBreakerFailures:   getEnvInt("ML_BREAKER_FAILURES", 3),
		MLBreakerResetAfter: getEnvDuration("ML_BREAKER_RESET", 30*time.Second),

		ProfilesPath: getEnv("PROFILES_PATH", ""),
		MaxLux:       getEnvFloat("MAX_LUX", 5000),
	}
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	intValue, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("Warning: failed to parse %s as int, using default: %v", key, err)
		return defaultValue
	}
	return intValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	floatValue, err := strconv.ParseFloat(value, 64)
	if err != nil {
		log.Printf("Warning: failed to parse %s as float, using default: %v", key, err)
		return defaultValue
	}
	return floatValue
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	boolValue, err := strconv.ParseBool(value)
	if err != nil {
		log.Printf("Warning: failed to parse %s as bool, using default: %v", key, err)
		return defaultValue
	}
	return boolValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	d, err := time.ParseDuration(value)
	if err != nil {
		log.Printf("Warning: failed to parse %s as duration, using default: %v", key, err)
		return defaultValue
	}
	return d
}
