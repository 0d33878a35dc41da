package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"irrigation-backend/internal/logger"
	"irrigation-backend/internal/models"
)

// Publisher handles MQTT publishing from channels
type Publisher struct {
	client mqtt.Client
	log    *logger.Logger
	rec    Recorder

	// Input channel (read by publisher, written by the irrigation service)
	DecisionChan chan models.Decision

	// Topic pattern
	decisionTopic string // e.g., "garden/{plant_id}/decision"
	retain        bool
}

// PublisherConfig holds configuration for MQTT publisher
type PublisherConfig struct {
	DecisionTopic string // e.g., "garden/{plant_id}/decision"
	Retain        bool   // keep the last decision on the broker for late subscribers
}

// NewPublisher creates a new MQTT publisher with channels
func NewPublisher(
	client mqtt.Client,
	config PublisherConfig,
	decisionChan chan models.Decision,
	rec Recorder,
	log *logger.Logger,
) *Publisher {
	if rec == nil {
		rec = nopRecorder{}
	}
	return &Publisher{
		client:        client,
		log:           log.Component("MQTT Publisher"),
		rec:           rec,
		DecisionChan:  decisionChan,
		decisionTopic: config.DecisionTopic,
		retain:        config.Retain,
	}
}

// Start begins publishing decisions from the channel
// Runs until context is cancelled or channel is closed
func (p *Publisher) Start(ctx context.Context) {
	p.log.Info("Starting")

	for {
		select {
		case <-ctx.Done():
			p.log.Info("Context cancelled, shutting down")
			return

		case d, ok := <-p.DecisionChan:
			if !ok {
				p.log.Info("Decision channel closed, shutting down")
				return
			}

			if err := p.publishDecision(d); err != nil {
				p.log.Error("Error publishing decision", "plantId", d.PlantID, "error", err)
				p.rec.MQTTMessage("decision", "error")
				continue
			}
			p.rec.MQTTMessage("decision", "ok")
		}
	}
}

// publishDecision publishes one decision to the plant's decision topic
func (p *Publisher) publishDecision(d models.Decision) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to marshal decision: %w", err)
	}

	topic := formatTopic(p.decisionTopic, d.PlantID)

	token := p.client.Publish(topic, 1, p.retain, payload)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to publish decision: %w", token.Error())
	}

	p.log.Debug("Published decision", "plantId", d.PlantID, "topic", topic, "shouldWater", d.ShouldWater, "source", d.Source)
	return nil
}

// formatTopic replaces the {plant_id} placeholder with the actual plant ID
func formatTopic(topicPattern string, plantID int) string {
	return strings.ReplaceAll(topicPattern, "{plant_id}", strconv.Itoa(plantID))
}
