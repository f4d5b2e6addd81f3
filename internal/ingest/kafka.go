// Package ingest owns the engine's Kafka producers: ride-outcome events on
// their way to the reliability log, and fare/delta decisions on their way to
// the external dispatch and lifecycle systems.
package ingest

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/fare-engine/internal/models"
)

const publishTimeout = 2 * time.Second

// OutcomeProducer publishes ride-outcome events keyed by driver so one
// driver's history stays ordered within a partition.
type OutcomeProducer struct {
	writer *kafka.Writer
}

func NewOutcomeProducer(brokers []string, topic string) *OutcomeProducer {
	w := kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: topic, Balancer: &kafka.LeastBytes{}})
	return &OutcomeProducer{writer: w}
}

func (p *OutcomeProducer) PublishOutcome(ctx context.Context, ev models.OutcomeEvent) error {
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(ev.DriverID), Value: b})
}

func (p *OutcomeProducer) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}

// DecisionProducer publishes fare commits, accepted edits, and delta
// decisions, keyed by ride.
type DecisionProducer struct {
	writer *kafka.Writer
}

func NewDecisionProducer(brokers []string, topic string) *DecisionProducer {
	w := kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: topic, Balancer: &kafka.LeastBytes{}})
	return &DecisionProducer{writer: w}
}

func (p *DecisionProducer) publish(ctx context.Context, rideID string, ev models.EngineEvent) error {
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(rideID), Value: b})
}

// PublishDecision satisfies the delta engine's publisher hook.
func (p *DecisionProducer) PublishDecision(ctx context.Context, d models.DeltaDecision) error {
	return p.publish(ctx, d.RideID, models.EngineEvent{Type: models.EngineEventDeltaDecision, RideID: d.RideID, Payload: d})
}

// PublishFare announces a committed or edited fare agreement.
func (p *DecisionProducer) PublishFare(ctx context.Context, eventType string, f *models.RideFare) error {
	return p.publish(ctx, f.RideID, models.EngineEvent{Type: eventType, RideID: f.RideID, Payload: f})
}

func (p *DecisionProducer) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
