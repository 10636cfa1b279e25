package marketplace

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"

	"listing-sync-service/internal/httpclient"
	"listing-sync-service/internal/models"
)

// Client is the marketplace listing adapter. All calls go through the
// rate-limited client; circuit gating happens in the processor before the
// call is made.
type Client struct {
	baseURL string
	http    *httpclient.RateLimitedClient
}

// NewClient creates a marketplace adapter over the given rate-limited client
func NewClient(baseURL string, rlc *httpclient.RateLimitedClient) *Client {
	return &Client{baseURL: baseURL, http: rlc}
}

type createListingRequest struct {
	SKU         string   `json:"sku"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Price       float64  `json:"price"`
	Quantity    int      `json:"quantity"`
	ConditionID string   `json:"condition_id,omitempty"`
	CategoryRef string   `json:"category_ref,omitempty"`
	ImageURLs   []string `json:"image_urls,omitempty"`
}

type createListingResponse struct {
	ListingID string `json:"listing_id"`
}

type updateListingRequest struct {
	Title    *string  `json:"title,omitempty"`
	Price    *float64 `json:"price,omitempty"`
	Quantity int      `json:"quantity"`
}

// CreateListing publishes a new listing and returns the marketplace's
// identifier for it
func (c *Client) CreateListing(ctx context.Context, token, sku string, payload *models.CreateListingPayload, quantity int) (string, error) {
	body := createListingRequest{
		SKU:         sku,
		Title:       payload.Title,
		Description: payload.Description,
		Price:       payload.Price,
		Quantity:    quantity,
		ConditionID: payload.ConditionID,
		CategoryRef: payload.CategoryRef,
		ImageURLs:   payload.ImageURLs,
	}

	var result createListingResponse
	if err := c.doJSON(ctx, token, http.MethodPost, "/sell/listing/v1/listings", body, &result); err != nil {
		return "", err
	}

	log.Info().
		Str("sku", sku).
		Str("listing_id", result.ListingID).
		Int("quantity", quantity).
		Msg("Created marketplace listing")

	return result.ListingID, nil
}

// UpdateListing patches an existing listing. Quantity always comes from the
// caller's derived effective value, never from the stored listing.
func (c *Client) UpdateListing(ctx context.Context, token string, payload *models.UpdateListingPayload, quantity int) error {
	body := updateListingRequest{
		Title:    payload.Title,
		Price:    payload.Price,
		Quantity: quantity,
	}

	path := fmt.Sprintf("/sell/listing/v1/listings/%s", payload.ListingID)
	if err := c.doJSON(ctx, token, http.MethodPut, path, body, nil); err != nil {
		return err
	}

	log.Info().
		Str("listing_id", payload.ListingID).
		Int("quantity", quantity).
		Msg("Updated marketplace listing")

	return nil
}

// DeleteListing ends a listing
func (c *Client) DeleteListing(ctx context.Context, token, listingID string) error {
	path := fmt.Sprintf("/sell/listing/v1/listings/%s", listingID)
	if err := c.doJSON(ctx, token, http.MethodDelete, path, nil, nil); err != nil {
		return err
	}

	log.Info().Str("listing_id", listingID).Msg("Deleted marketplace listing")
	return nil
}

// doJSON builds, sends and decodes one authenticated call
func (c *Client) doJSON(ctx context.Context, token, method, path string, body, out interface{}) error {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}
