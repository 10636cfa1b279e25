package marketplace

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"listing-sync-service/internal/httpclient"
	"listing-sync-service/internal/models"
)

// InventoryClient is the marketplace's inventory-level surface for
// (inventory_item, location) pairs. It exposes the adjust-by-delta primitive
// the safe writer depends on alongside the absolute set.
type InventoryClient struct {
	baseURL string
	token   string
	http    *httpclient.RateLimitedClient
}

// NewInventoryClient creates an inventory-level client bound to one token
func NewInventoryClient(baseURL, token string, rlc *httpclient.RateLimitedClient) *InventoryClient {
	return &InventoryClient{baseURL: baseURL, token: token, http: rlc}
}

type levelResponse struct {
	Available int       `json:"available"`
	UpdatedAt time.Time `json:"updated_at"`
}

type adjustRequest struct {
	AvailableAdjustment int `json:"available_adjustment"`
}

type setRequest struct {
	Available int `json:"available"`
}

// GetLevel fetches the current available quantity for the pair. A 404 maps
// to (nil, nil): no level tracked.
func (c *InventoryClient) GetLevel(ctx context.Context, inventoryItemID, locationID int64) (*models.StockLevel, error) {
	path := fmt.Sprintf("/inventory/v1/items/%d/locations/%d/level", inventoryItemID, locationID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		var httpErr *models.HTTPError
		if errors.As(err, &httpErr) && httpErr.Status == http.StatusNotFound {
			return nil, nil
		}
		return nil, err
	}
	defer resp.Body.Close()

	var parsed levelResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode level response: %w", err)
	}

	return &models.StockLevel{Available: parsed.Available, UpdatedAt: parsed.UpdatedAt}, nil
}

// AdjustAvailable applies a relative delta to the available quantity. The
// marketplace resolves concurrent deltas server-side, so this is the
// primitive that avoids lost updates.
func (c *InventoryClient) AdjustAvailable(ctx context.Context, inventoryItemID, locationID int64, delta int) error {
	path := fmt.Sprintf("/inventory/v1/items/%d/locations/%d/adjust", inventoryItemID, locationID)
	return c.post(ctx, path, adjustRequest{AvailableAdjustment: delta})
}

// SetAvailable writes an absolute available quantity. Reconciliation never
// calls this without a prior read and optimistic check; the blind path
// exists only for legacy non-concurrent callers.
func (c *InventoryClient) SetAvailable(ctx context.Context, inventoryItemID, locationID int64, available int) error {
	path := fmt.Sprintf("/inventory/v1/items/%d/locations/%d/level", inventoryItemID, locationID)
	return c.post(ctx, path, setRequest{Available: available})
}

func (c *InventoryClient) post(ctx context.Context, path string, body interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		return err
	}
	resp.Body.Close()

	return nil
}
