package interfaces

import (
	"context"

	"listing-sync-service/internal/models"
)

// ResultPublisher defines the contract for publishing sync outcomes
type ResultPublisher interface {
	PublishResult(ctx context.Context, event *models.SyncResultEvent) error
	PublishInvariantViolation(ctx context.Context, event *models.InvariantViolationEvent) error
	Close() error
}

// SaleConsumer defines the contract for consuming point-of-sale events
type SaleConsumer interface {
	ConsumeSales(ctx context.Context, handler SaleHandler) error
	Close() error
}

// SaleHandler processes one sale event from the point-of-sale stream
type SaleHandler interface {
	HandleSale(ctx context.Context, event *models.SaleEvent) error
}
