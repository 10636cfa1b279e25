package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"listing-sync-service/internal/models"
)

// Publisher publishes sync results and invariant-violation audit events.
// Messages are keyed by SKU with a hash balancer so per-SKU ordering is
// preserved within the results topic.
type Publisher struct {
	resultsWriter *kafka.Writer
}

// NewPublisher creates a new Kafka publisher for the results topic
func NewPublisher(brokers []string, resultsTopic string) *Publisher {
	resultsWriter := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  resultsTopic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		Async:                  false,
		AllowAutoTopicCreation: true,

		BatchTimeout: 10 * time.Millisecond,
		BatchSize:    1,
		MaxAttempts:  3,
		WriteTimeout: 10 * time.Second,
	}

	return &Publisher{resultsWriter: resultsWriter}
}

// PublishResult publishes a job outcome for UI and alerting consumers
func (p *Publisher) PublishResult(ctx context.Context, event *models.SyncResultEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal result event: %w", err)
	}

	message := kafka.Message{
		Key:   []byte(event.SKU),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte("sync.result")},
			{Key: "outcome", Value: []byte(event.Outcome)},
		},
	}

	if err := p.resultsWriter.WriteMessages(ctx, message); err != nil {
		log.Error().Err(err).
			Str("job_id", event.JobID.String()).
			Str("sku", event.SKU).
			Str("outcome", event.Outcome).
			Msg("Failed to publish sync result")
		return fmt.Errorf("failed to publish sync result: %w", err)
	}

	log.Debug().
		Str("job_id", event.JobID.String()).
		Str("sku", event.SKU).
		Str("outcome", event.Outcome).
		Msg("Published sync result")

	return nil
}

// PublishInvariantViolation publishes an audit record for a clamped graded
// quantity. The violation was already corrected in place; this is the trail.
func (p *Publisher) PublishInvariantViolation(ctx context.Context, event *models.InvariantViolationEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal invariant violation: %w", err)
	}

	message := kafka.Message{
		Key:   []byte(event.SKU),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte("sync.invariant_violation")},
		},
	}

	if err := p.resultsWriter.WriteMessages(ctx, message); err != nil {
		log.Error().Err(err).
			Str("sku", event.SKU).
			Msg("Failed to publish invariant violation")
		return fmt.Errorf("failed to publish invariant violation: %w", err)
	}

	return nil
}

// Close closes the Kafka writer
func (p *Publisher) Close() error {
	if err := p.resultsWriter.Close(); err != nil {
		return fmt.Errorf("failed to close results writer: %w", err)
	}
	return nil
}
