// Package address defines the structured-address capability consumed by
// the questionnaire.
//
// The provider behind it (a places-lookup service) is outside this
// repository's scope; the core only depends on the structured tuple and
// keeps working with manual entry when no provider is configured.
package address

import (
	"context"
	"errors"

	"intake/pkg/schema"
)

// ErrNotConfigured is returned by the Unconfigured variant.
var ErrNotConfigured = errors.New("address capability not configured")

// Place is the structured tuple a provider supplies for a selected place.
type Place struct {
	StreetNumber      string `json:"street_number"`
	Route             string `json:"route"`
	Locality          string `json:"locality"`
	ProvinceShortCode string `json:"province_short_code"`
	PostalCode        string `json:"postal_code"`
}

// Provider is the address capability contract.
type Provider interface {
	// Lookup resolves a provider-specific place reference into a Place.
	Lookup(ctx context.Context, placeRef string) (Place, error)
}

// Unconfigured is the explicit absent-capability variant, used when no
// API key is present. Manual address entry remains available.
type Unconfigured struct{}

// Lookup always fails with ErrNotConfigured.
func (Unconfigured) Lookup(context.Context, string) (Place, error) {
	return Place{}, ErrNotConfigured
}

// Fields projects a place onto the property-data step's address fields.
// The caller persists the result through the form state manager.
func Fields(place Place) map[string]any {
	return map[string]any{
		"indirizzo": place.Route,
		"civico":    place.StreetNumber,
		"citta":     place.Locality,
		"provincia": place.ProvinceShortCode,
		"cap":       place.PostalCode,
	}
}

// StepIndex is the step the projected fields belong to.
const StepIndex = schema.StepPropertyData
