package marketplace

import (
	"fmt"
	"strings"

	"listing-sync-service/internal/models"
)

// maxTitleLength is the marketplace's hard cap on listing titles
const maxTitleLength = 80

// ListingContentBuilder renders a unit into final listing content. Graded
// units get their grading attribution prefixed to the title so buyers see
// the certification without opening the listing.
type ListingContentBuilder struct{}

// NewListingContentBuilder creates a content builder
func NewListingContentBuilder() *ListingContentBuilder {
	return &ListingContentBuilder{}
}

// Build returns a copy of the payload with unit-derived content applied.
// The input payload is never mutated.
func (b *ListingContentBuilder) Build(unit *models.InventoryUnit, payload *models.CreateListingPayload) *models.CreateListingPayload {
	out := *payload

	if unit.IsGraded() && unit.GradingCompany != nil && unit.Grade != nil {
		prefix := fmt.Sprintf("%s %s", strings.ToUpper(*unit.GradingCompany), *unit.Grade)
		if !strings.HasPrefix(out.Title, prefix) {
			out.Title = prefix + " " + out.Title
		}
	}

	if len(out.Title) > maxTitleLength {
		out.Title = strings.TrimSpace(out.Title[:maxTitleLength])
	}

	if out.Description == "" {
		out.Description = out.Title
	}
	if unit.IsGraded() && unit.CertNumber != nil {
		cert := fmt.Sprintf("Certification number: %s", *unit.CertNumber)
		if !strings.Contains(out.Description, cert) {
			out.Description = out.Description + "\n\n" + cert
		}
	}

	return &out
}
