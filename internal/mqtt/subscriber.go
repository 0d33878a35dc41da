package mqtt

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"irrigation-backend/internal/logger"
	"irrigation-backend/internal/models"
)

// Recorder counts handled messages; *metrics.Metrics implements it
type Recorder interface {
	MQTTMessage(kind, outcome string)
}

// Subscriber handles MQTT subscriptions and writes messages to channels
type Subscriber struct {
	client mqtt.Client
	log    *logger.Logger
	rec    Recorder
	maxLux float64
	now    func() time.Time

	// Output channels (written by subscriber, read by services)
	ReadingChan    chan models.SensorReading
	InvalidateChan chan int

	// Topic patterns
	sensorsTopic    string
	invalidateTopic string
}

// SubscriberConfig holds configuration for MQTT subscriber
type SubscriberConfig struct {
	SensorsTopic    string // e.g., "garden/+/sensors"
	InvalidateTopic string // e.g., "garden/+/invalidate"
	MaxLux          float64
}

// NewSubscriber creates a new MQTT subscriber with channels
func NewSubscriber(
	client mqtt.Client,
	config SubscriberConfig,
	readingChan chan models.SensorReading,
	invalidateChan chan int,
	rec Recorder,
	log *logger.Logger,
) *Subscriber {
	if rec == nil {
		rec = nopRecorder{}
	}
	return &Subscriber{
		client:          client,
		log:             log.Component("MQTT Subscriber"),
		rec:             rec,
		maxLux:          config.MaxLux,
		now:             time.Now,
		ReadingChan:     readingChan,
		InvalidateChan:  invalidateChan,
		sensorsTopic:    config.SensorsTopic,
		invalidateTopic: config.InvalidateTopic,
	}
}

// SubscribeAll subscribes to all configured topics
func (s *Subscriber) SubscribeAll() error {
	if s.sensorsTopic != "" {
		if err := s.subscribeToTopic(s.sensorsTopic, s.handleReading); err != nil {
			return fmt.Errorf("failed to subscribe to sensors topic: %w", err)
		}
		s.log.Info("Subscribed to sensors topic", "topic", s.sensorsTopic)
	}

	if s.invalidateTopic != "" {
		if err := s.subscribeToTopic(s.invalidateTopic, s.handleInvalidate); err != nil {
			return fmt.Errorf("failed to subscribe to invalidate topic: %w", err)
		}
		s.log.Info("Subscribed to invalidate topic", "topic", s.invalidateTopic)
	}

	return nil
}

// subscribeToTopic is a helper function to subscribe to a topic with a handler
func (s *Subscriber) subscribeToTopic(topic string, handler mqtt.MessageHandler) error {
	token := s.client.Subscribe(topic, 1, handler)
	if token.Wait() && token.Error() != nil {
		return token.Error()
	}
	return nil
}

// handleReading parses garden/{plant_id}/sensors JSON payloads, validates
// them and writes the reading to ReadingChan
func (s *Subscriber) handleReading(_ mqtt.Client, msg mqtt.Message) {
	plantID, err := extractPlantID(msg.Topic())
	if err != nil {
		s.log.Warn("Could not extract plant ID", "topic", msg.Topic(), "error", err)
		s.rec.MQTTMessage("reading", "bad_topic")
		return
	}

	var payload models.SensorPayload
	if err := json.Unmarshal(msg.Payload(), &payload); err != nil {
		s.log.Warn("Error unmarshaling sensor payload", "plantId", plantID, "error", err)
		s.rec.MQTTMessage("reading", "malformed")
		return
	}

	reading, err := payload.ToReading(plantID, s.now())
	if err == nil {
		err = models.ValidateReading(reading, s.maxLux)
	}
	if err != nil {
		s.log.Warn("Rejected sensor reading", "plantId", plantID, "error", err)
		s.rec.MQTTMessage("reading", "invalid")
		return
	}

	s.log.Debug("Received reading",
		"plantId", plantID,
		"moisture", reading.Moisture,
		"temperature", reading.Temperature,
		"humidity", reading.Humidity,
		"light", reading.Light,
	)

	// Write to channel (non-blocking with timeout)
	select {
	case s.ReadingChan <- reading:
		s.rec.MQTTMessage("reading", "ok")
	case <-time.After(1 * time.Second):
		s.log.Warn("Reading channel full, dropping message", "plantId", plantID)
		s.rec.MQTTMessage("reading", "dropped")
	}
}

// handleInvalidate forwards garden/{plant_id}/invalidate to InvalidateChan;
// the payload is ignored
func (s *Subscriber) handleInvalidate(_ mqtt.Client, msg mqtt.Message) {
	plantID, err := extractPlantID(msg.Topic())
	if err != nil {
		s.log.Warn("Could not extract plant ID", "topic", msg.Topic(), "error", err)
		s.rec.MQTTMessage("invalidate", "bad_topic")
		return
	}

	select {
	case s.InvalidateChan <- plantID:
		s.rec.MQTTMessage("invalidate", "ok")
	case <-time.After(1 * time.Second):
		s.log.Warn("Invalidate channel full, dropping message", "plantId", plantID)
		s.rec.MQTTMessage("invalidate", "dropped")
	}
}

// extractPlantID extracts the plant ID from an MQTT topic
// Example: "garden/12/sensors" -> 12
func extractPlantID(topic string) (int, error) {
	parts := strings.Split(topic, "/")
	if len(parts) < 2 {
		return 0, fmt.Errorf("topic %q has no plant segment", topic)
	}
	id, err := strconv.Atoi(parts[1])
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("topic %q: plant id must be a positive integer", topic)
	}
	return id, nil
}

type nopRecorder struct{}

func (nopRecorder) MQTTMessage(string, string) {}
