package interfaces

import (
	"context"

	"listing-sync-service/internal/models"
)

// MarketplaceAdapter is the integration-specific client for one external
// sales channel. Implementations are executed through the rate-limited
// client and gated by the circuit breaker.
type MarketplaceAdapter interface {
	CreateListing(ctx context.Context, token, sku string, payload *models.CreateListingPayload, quantity int) (listingID string, err error)
	UpdateListing(ctx context.Context, token string, payload *models.UpdateListingPayload, quantity int) error
	DeleteListing(ctx context.Context, token, listingID string) error
}

// TokenProvider acquires an API session for one marketplace account.
// Acquisition failures surface as AuthFailureError and short-circuit the
// account's remaining jobs in a batch.
type TokenProvider interface {
	GetToken(ctx context.Context, accountRef, env string) (string, error)
}

// StockLevelAPI is the marketplace's inventory-level surface for one
// (inventory_item, location) pair: a read plus the two write primitives the
// safe writer builds on. AdjustAvailable applies a delta rather than an
// absolute value so concurrent writers cannot silently lose updates.
type StockLevelAPI interface {
	GetLevel(ctx context.Context, inventoryItemID, locationID int64) (*models.StockLevel, error)
	AdjustAvailable(ctx context.Context, inventoryItemID, locationID int64, delta int) error
	SetAvailable(ctx context.Context, inventoryItemID, locationID int64, available int) error
}

// ContentBuilder renders a unit into marketplace listing content. Pure
// function boundary; the engine consumes its output verbatim.
type ContentBuilder interface {
	Build(unit *models.InventoryUnit, payload *models.CreateListingPayload) *models.CreateListingPayload
}
