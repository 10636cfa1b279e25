package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"listing-sync-service/internal/interfaces"
	"listing-sync-service/internal/models"
)

// Consumer reads point-of-sale sale events. Each sale marks the unit sold in
// the store of record and enqueues delisting work, which is how physical
// sales propagate to the marketplaces.
type Consumer struct {
	salesReader *kafka.Reader
}

// NewConsumer creates a new Kafka consumer for the sales topic
func NewConsumer(brokers []string, consumerGroup, salesTopic string) *Consumer {
	salesReader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: brokers,
		Topic:   salesTopic,
		GroupID: consumerGroup,

		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 5 * time.Second,
		StartOffset:    kafka.LastOffset,
		MaxWait:        1 * time.Second,

		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			log.Error().Msgf("Kafka sales reader error: "+msg, args...)
		}),
	})

	return &Consumer{salesReader: salesReader}
}

// ConsumeSales reads sale events until the context is cancelled. Malformed
// messages are committed and skipped; handler failures leave the message
// uncommitted so it redelivers.
func (c *Consumer) ConsumeSales(ctx context.Context, handler interfaces.SaleHandler) error {
	log.Info().Msg("Starting to consume sale events")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Stopping sale event consumption")
			return ctx.Err()
		default:
			message, err := c.salesReader.FetchMessage(ctx)
			if err != nil {
				if err == context.Canceled {
					return nil
				}
				log.Error().Err(err).Msg("Failed to fetch sale message")
				time.Sleep(time.Second)
				continue
			}

			var event models.SaleEvent
			if err := json.Unmarshal(message.Value, &event); err != nil {
				log.Error().Err(err).
					Str("topic", message.Topic).
					Int("partition", message.Partition).
					Int64("offset", message.Offset).
					Msg("Failed to unmarshal sale event")

				if commitErr := c.salesReader.CommitMessages(ctx, message); commitErr != nil {
					log.Error().Err(commitErr).Msg("Failed to commit invalid message")
				}
				continue
			}

			if err := c.handleWithRetry(ctx, handler, &event, 3); err != nil {
				log.Error().Err(err).
					Str("event_id", event.EventID).
					Str("sku", event.SKU).
					Msg("Failed to process sale event, leaving uncommitted")
				continue
			}

			if err := c.salesReader.CommitMessages(ctx, message); err != nil {
				log.Error().Err(err).
					Str("event_id", event.EventID).
					Msg("Failed to commit sale message")
			}
		}
	}
}

// handleWithRetry retries transient handler failures before giving the
// message back to Kafka for redelivery
func (c *Consumer) handleWithRetry(ctx context.Context, handler interfaces.SaleHandler, event *models.SaleEvent, attempts int) error {
	var lastErr error
	for i := 0; i < attempts; i++ {
		if err := handler.HandleSale(ctx, event); err != nil {
			lastErr = err
			log.Warn().Err(err).
				Str("event_id", event.EventID).
				Int("attempt", i+1).
				Msg("Sale handler failed, retrying")
			time.Sleep(time.Duration(i+1) * time.Second)
			continue
		}
		return nil
	}
	return lastErr
}

// Close closes the Kafka reader
func (c *Consumer) Close() error {
	return c.salesReader.Close()
}
