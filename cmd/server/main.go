package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"irrigation-backend/internal/aggregator"
	"irrigation-backend/internal/cache"
	"irrigation-backend/internal/database"
	"irrigation-backend/internal/httpapi"
	"irrigation-backend/internal/hybrid"
	"irrigation-backend/internal/logger"
	"irrigation-backend/internal/metrics"
	"irrigation-backend/internal/ml"
	"irrigation-backend/internal/mqtt"
	"irrigation-backend/internal/profiles"
	"irrigation-backend/internal/rules"
	"irrigation-backend/internal/scheduler"
	"irrigation-backend/internal/services"
	"irrigation-backend/pkg/config"
)

func main() {
	// Load configuration
	cfg := config.Load()

	log, err := logger.New(cfg.LogMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting irrigation decision backend...")

	// Create context for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// === Decision pipeline ===
	table := profiles.Builtin()
	if cfg.ProfilesPath != "" {
		table, err = profiles.LoadFile(cfg.ProfilesPath)
		if err != nil {
			log.Fatal("Failed to load plant profiles", "path", cfg.ProfilesPath, "error", err)
		}
	}
	log.Info("Plant profiles loaded", "types", table.Types())

	engine := rules.NewEngine(table)
	predictor := loadPredictor(cfg, log)

	mode, err := hybrid.ParseMode(cfg.SelectorMode)
	if err != nil {
		log.Fatal("Invalid selector mode", "error", err)
	}
	selector := hybrid.NewSelector(engine, predictor, hybrid.Config{
		Mode:              mode,
		FallbackThreshold: cfg.MLFallbackThreshold,
		CriticalMoisture:  cfg.CriticalMoisture,
		MLWeightCap:       cfg.MLWeightCap,
		Borderline: hybrid.BorderlinePolicy{
			HistoryMin:  cfg.BorderlineHistoryMin,
			MoistureMin: cfg.BorderlineMoistureMin,
			MoistureMax: cfg.BorderlineMoistureMax,
			TempMin:     cfg.BorderlineTempMin,
			TempMax:     cfg.BorderlineTempMax,
		},
	}, log)

	m := metrics.New()

	decisionCache, closeCache := buildCache(ctx, cfg, log)
	defer closeCache()

	sched := scheduler.New(scheduler.Config{
		MaxBatchSize:   cfg.BatchMaxSize,
		FlushInterval:  cfg.BatchFlushWindow,
		MaxConcurrency: cfg.BatchConcurrency,
		CacheTTL:       cfg.CacheTTL,
		MaxLux:         cfg.MaxLux,
		HistoryMin:     cfg.BorderlineHistoryMin,
	}, selector, decisionCache, m, log)

	health := sched.HealthCheck(ctx)
	log.Info("Startup probe", "status", health.Status, "source", health.ProbeSource, "latencyMs", health.LastLatencyMs)

	// === Initialize ClickHouse database ===
	db, err := database.NewClickHouseDB(ctx, database.Options{
		Addr:     cfg.ClickHouseAddr,
		Database: cfg.ClickHouseDB,
		Username: cfg.ClickHouseUser,
		Password: cfg.ClickHousePass,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize ClickHouse", "error", err)
	}
	defer db.Close()

	if err := db.InitSchema(ctx); err != nil {
		log.Fatal("Failed to initialize schema", "error", err)
	}

	// === Irrigation service ===
	service := services.NewIrrigationService(db, sched, services.IrrigationServiceConfig{
		HistorySize: cfg.HistoryWindowSize,
		Thresholds: aggregator.ChangeThresholds{
			MoistureDelta:    cfg.ChangeMoistureDelta,
			TemperatureDelta: cfg.ChangeTemperatureDelta,
			MinInterval:      cfg.EvaluateInterval,
		},
		RequestTimeout: cfg.RequestTimeout,
		UrgentMoisture: cfg.CriticalMoisture,
		MaxInflight:    cfg.MaxInflight,
	}, log)

	// === Initialize MQTT Client ===
	mqttClient, err := mqtt.NewClient(mqtt.ClientConfig{
		Broker:   cfg.MQTTBroker,
		ClientID: cfg.MQTTClientID,
		Username: cfg.MQTTUsername,
		Password: cfg.MQTTPassword,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize MQTT client", "error", err)
	}

	// The subscriber writes straight into the service's input channels
	subscriber := mqtt.NewSubscriber(
		mqttClient.GetNativeClient(),
		mqtt.SubscriberConfig{
			SensorsTopic:    cfg.MQTTTopicSensors,
			InvalidateTopic: cfg.MQTTTopicInvalidate,
			MaxLux:          cfg.MaxLux,
		},
		service.ReadingChan,
		service.InvalidateChan,
		m,
		log,
	)
	if err := subscriber.SubscribeAll(); err != nil {
		log.Fatal("Failed to subscribe to MQTT topics", "error", err)
	}

	publisher := mqtt.NewPublisher(
		mqttClient.GetNativeClient(),
		mqtt.PublisherConfig{DecisionTopic: cfg.MQTTTopicDecision, Retain: true},
		service.DecisionChan,
		m,
		log,
	)

	serviceDone := make(chan struct{})
	publisherDone := make(chan struct{})
	go func() {
		service.Start(ctx)
		close(serviceDone)
	}()
	go func() {
		// Drains DecisionChan until the service closes it
		publisher.Start(context.Background())
		close(publisherDone)
	}()

	// === HTTP ===
	server := httpapi.New(httpapi.Options{
		Addr:           cfg.HTTPAddr,
		RequestTimeout: cfg.RequestTimeout,
	}, sched, m, log)

	httpDone := make(chan error, 1)
	go func() { httpDone <- server.Run(ctx) }()

	log.Info("Irrigation backend is running",
		"selectorMode", mode,
		"cacheBackend", cfg.CacheBackend,
		"sensorsTopic", cfg.MQTTTopicSensors,
		"decisionTopic", cfg.MQTTTopicDecision,
		"httpAddr", cfg.HTTPAddr,
	)

	// === Wait for shutdown ===
	select {
	case <-ctx.Done():
		log.Info("Shutdown signal received, stopping services...")
	case err := <-httpDone:
		if err != nil {
			log.Error("HTTP server failed", "error", err)
		}
		cancel()
	}

	// The service stops reading, finishes its evaluations and closes
	// DecisionChan; the publisher drains it before the connection goes away
	<-serviceDone
	select {
	case <-publisherDone:
	case <-time.After(5 * time.Second):
		log.Warn("Publisher did not drain in time")
	}
	mqttClient.Close()
	sched.Close()

	log.Info("Shutdown complete")
}

// loadPredictor returns the guarded ML predictor, or nil when ML is disabled
// or no model could be loaded
func loadPredictor(cfg *config.Config, log *logger.Logger) ml.Predictor {
	if !cfg.MLEnabled {
		log.Info("ML predictor disabled, using rule engine only")
		return nil
	}

	if _, err := os.Stat(cfg.ModelPath); errors.Is(err, os.ErrNotExist) {
		log.Warn("Model file not found, writing sample model", "path", cfg.ModelPath)
		if err := ml.CreateSampleModel(cfg.ModelPath, log); err != nil {
			log.Error("Failed to create sample model", "error", err)
			return nil
		}
	}

	model, err := ml.LoadLinearModel(cfg.ModelPath, log)
	if err != nil {
		log.Error("Failed to load model, ML predictions unavailable", "error", err)
		return nil
	}

	return ml.NewGuarded(model, ml.BreakerConfig{
		MaxFailures:  cfg.MLBreakerFailures,
		ResetTimeout: cfg.MLBreakerResetAfter,
		CallTimeout:  cfg.MLTimeout,
	}, log)
}

// buildCache picks the configured cache backend. A Redis that cannot be
// reached falls back to the in-process cache.
func buildCache(ctx context.Context, cfg *config.Config, log *logger.Logger) (cache.Cache, func()) {
	if cfg.CacheBackend == "redis" {
		rc, err := cache.NewRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, log)
		if err == nil {
			return rc, func() { _ = rc.Close() }
		}
		log.Error("Redis unavailable, falling back to memory cache", "addr", cfg.RedisAddr, "error", err)
	}

	mem := cache.NewMemory(cfg.CacheMaxEntries)
	go mem.RunJanitor(ctx, cfg.CacheJanitorInterval)
	return mem, func() {}
}
