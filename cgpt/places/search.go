package places

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"unicode"

	internal "github.com/ZanzyTHEbar/coffee-gpt/cgpt"
	"github.com/ZanzyTHEbar/coffee-gpt/cgpt/schema"
)

const searchFieldMask = "places.displayName,places.formattedAddress,places.rating,places.googleMapsLinks,places.photos"

type circle struct {
	Center struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
	} `json:"center"`
	Radius float64 `json:"radius"`
}

func newCircle(loc schema.LatLng, radius int) map[string]circle {
	var c circle
	c.Center.Latitude = loc.Lat
	c.Center.Longitude = loc.Lng
	c.Radius = float64(radius)
	return map[string]circle{"circle": c}
}

type textSearchRequest struct {
	TextQuery    string            `json:"textQuery"`
	PageSize     int               `json:"pageSize"`
	LocationBias map[string]circle `json:"locationBias,omitempty"`
}

type nearbySearchRequest struct {
	IncludedTypes       []string          `json:"includedTypes"`
	MaxResultCount      int               `json:"maxResultCount"`
	LocationRestriction map[string]circle `json:"locationRestriction"`
}

type apiPlace struct {
	DisplayName *struct {
		Text string `json:"text"`
	} `json:"displayName"`
	FormattedAddress string   `json:"formattedAddress"`
	Rating           *float64 `json:"rating"`
	GoogleMapsLinks  *struct {
		PlaceURI string `json:"placeUri"`
	} `json:"googleMapsLinks"`
	GoogleMapsURI string `json:"googleMapsUri"`
	Photos        []struct {
		Name string `json:"name"`
	} `json:"photos"`
}

type searchResponse struct {
	Places []apiPlace `json:"places"`
}

func (p apiPlace) record() schema.PlaceRecord {
	rec := schema.PlaceRecord{
		Address: p.FormattedAddress,
		Rating:  p.Rating,
		MapLink: p.GoogleMapsURI,
	}
	if p.DisplayName != nil {
		rec.Name = p.DisplayName.Text
	}
	if p.GoogleMapsLinks != nil && p.GoogleMapsLinks.PlaceURI != "" {
		rec.MapLink = p.GoogleMapsLinks.PlaceURI
	}
	if len(p.Photos) > 0 {
		rec.PhotoRef = p.Photos[0].Name
	}
	return rec
}

// FindPlacesByText runs a text search, biased to a circle around loc when a
// location is known. radius <= 0 uses the client default.
func (c *Client) FindPlacesByText(ctx context.Context, query string, loc *schema.LatLng, radius int) ([]schema.PlaceRecord, error) {
	if strings.TrimSpace(query) == "" {
		return nil, internal.NewAdapterError(adapterName, internal.ErrMalformedResponse, nil, "Error: a search query is required")
	}
	if radius <= 0 {
		radius = c.radius
	}

	payload := textSearchRequest{TextQuery: query, PageSize: c.pageSize}
	if loc != nil && !loc.IsZero() {
		payload.LocationBias = newCircle(*loc, radius)
	}

	return c.search(ctx, c.placesBaseURL+"/places:searchText", payload)
}

// FindPlacesNearby lists places of the types implied by query inside a
// circle around (lat, lng).
func (c *Client) FindPlacesNearby(ctx context.Context, lat, lng float64, query string, radius int) ([]schema.PlaceRecord, error) {
	if radius <= 0 {
		radius = c.radius
	}
	payload := nearbySearchRequest{
		IncludedTypes:       TypesForQuery(query),
		MaxResultCount:      c.pageSize,
		LocationRestriction: newCircle(schema.LatLng{Lat: lat, Lng: lng}, radius),
	}
	return c.search(ctx, c.placesBaseURL+"/places:searchNearby", payload)
}

func (c *Client) search(ctx context.Context, url string, payload any) ([]schema.PlaceRecord, error) {
	status, body, err := c.do(ctx, http.MethodPost, url, payload, searchFieldMask)
	if err != nil {
		return nil, transportError(err, "Error: %v", err)
	}
	if status != http.StatusOK {
		return nil, internal.NewAdapterError(adapterName, kindForStatus(status), nil, "Error: %s", errorMessage(body))
	}

	var resp searchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, internal.NewAdapterError(adapterName, internal.ErrMalformedResponse, err, "Error: %s", errorMessage(body))
	}

	// An empty object is how the API reports zero matches.
	records := make([]schema.PlaceRecord, 0, len(resp.Places))
	for _, p := range resp.Places {
		records = append(records, p.record())
	}
	return records, nil
}

// typeKeywords maps query words onto Places (New) primary types.
var typeKeywords = []struct {
	word  string
	place string
}{
	{"bakery", "bakery"},
	{"bakeries", "bakery"},
	{"pastry", "bakery"},
	{"tea", "tea_house"},
	{"coffee shop", "coffee_shop"},
	{"roaster", "coffee_shop"},
	{"cafe", "cafe"},
	{"café", "cafe"},
}

// TypesForQuery picks includedTypes for a nearby search from the query text,
// defaulting to cafes and coffee shops.
func TypesForQuery(query string) []string {
	words := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool { return !unicode.IsLetter(r) })
	q := " " + strings.Join(words, " ")
	seen := make(map[string]bool)
	var types []string
	for _, kw := range typeKeywords {
		if strings.Contains(q, " "+kw.word) && !seen[kw.place] {
			seen[kw.place] = true
			types = append(types, kw.place)
		}
	}
	if len(types) == 0 {
		return []string{"cafe", "coffee_shop"}
	}
	return types
}
