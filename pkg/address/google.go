package address

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"intake/pkg/logx"
)

const detailsURL = "https://maps.googleapis.com/maps/api/place/details/json"

// Google resolves place references through the Places Details API.
type Google struct {
	apiKey string
	client *http.Client
	logger *logx.Logger
}

// NewGoogle returns a provider authenticated with apiKey.
func NewGoogle(apiKey string) *Google {
	return &Google{
		apiKey: apiKey,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logx.NewLogger("address"),
	}
}

type detailsResponse struct {
	Status string `json:"status"`
	Result struct {
		AddressComponents []struct {
			LongName  string   `json:"long_name"`
			ShortName string   `json:"short_name"`
			Types     []string `json:"types"`
		} `json:"address_components"`
	} `json:"result"`
}

// Lookup fetches the place's address components and maps them onto the
// structured tuple. Missing components stay empty; the visitor completes
// them manually.
func (g *Google) Lookup(ctx context.Context, placeRef string) (Place, error) {
	query := url.Values{}
	query.Set("place_id", placeRef)
	query.Set("fields", "address_components")
	query.Set("key", g.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, detailsURL+"?"+query.Encode(), nil)
	if err != nil {
		return Place{}, fmt.Errorf("failed to build details request: %w", err)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return Place{}, fmt.Errorf("details request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return Place{}, fmt.Errorf("details request returned status %d", resp.StatusCode)
	}

	var details detailsResponse
	if err := json.NewDecoder(resp.Body).Decode(&details); err != nil {
		return Place{}, fmt.Errorf("failed to parse details response: %w", err)
	}
	if details.Status != "OK" {
		return Place{}, fmt.Errorf("details lookup rejected: %s", details.Status)
	}

	var place Place
	for _, component := range details.Result.AddressComponents {
		for _, kind := range component.Types {
			switch kind {
			case "street_number":
				place.StreetNumber = component.LongName
			case "route":
				place.Route = component.LongName
			case "locality":
				place.Locality = component.LongName
			case "administrative_area_level_2":
				place.ProvinceShortCode = component.ShortName
			case "postal_code":
				place.PostalCode = component.LongName
			}
		}
	}

	g.logger.Debug("Resolved place %s", placeRef)
	return place, nil
}
