package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	internal "github.com/ZanzyTHEbar/coffee-gpt/cgpt"
	"github.com/ZanzyTHEbar/coffee-gpt/cgpt/schema"
)

// Geocoder resolves a free-form place name to coordinates.
type Geocoder interface {
	GeocodePlace(ctx context.Context, name string) (schema.GeocodeResult, error)
}

// PlaceDetailer looks up one place by id.
type PlaceDetailer interface {
	GetPlaceDetail(ctx context.Context, placeID string) (schema.PlaceDetail, error)
}

// PlaceSearcher runs nearby and text place searches.
type PlaceSearcher interface {
	FindPlacesNearby(ctx context.Context, lat, lng float64, query string, radius int) ([]schema.PlaceRecord, error)
	FindPlacesByText(ctx context.Context, query string, loc *schema.LatLng, radius int) ([]schema.PlaceRecord, error)
}

// Tool names exposed to the model.
const (
	GeocodePlaceName     = "geocode_place"
	GetPlaceDetailName   = "get_place_detail"
	FindPlacesNearbyName = "find_places_nearby"
	FindPlacesByTextName = "find_places_by_text"
	WebSearchName        = "web_search"
)

// GeocodeSchema defines the JSON schema for geocode_place parameters.
const GeocodeSchema = `{
  "type": "object",
  "properties": {
    "place_name": {
      "type": "string",
      "description": "Name or address of the place to locate, e.g. 'Tiong Bahru Bakery, Singapore'"
    }
  },
  "required": ["place_name"]
}`

// PlaceDetailSchema defines the JSON schema for get_place_detail parameters.
const PlaceDetailSchema = `{
  "type": "object",
  "properties": {
    "place_id": {
      "type": "string",
      "description": "Google place id as returned by geocode_place"
    }
  },
  "required": ["place_id"]
}`

// NearbySchema defines the JSON schema for find_places_nearby parameters.
const NearbySchema = `{
  "type": "object",
  "properties": {
    "lat": {"type": "number", "minimum": -90, "maximum": 90},
    "lng": {"type": "number", "minimum": -180, "maximum": 180},
    "query": {
      "type": "string",
      "description": "What to look for, e.g. 'cafe' or 'bakery'"
    },
    "radius": {
      "type": "integer",
      "description": "Search radius in meters",
      "minimum": 1,
      "maximum": 50000,
      "default": 3000
    }
  },
  "required": ["lat", "lng"]
}`

// TextSearchSchema defines the JSON schema for find_places_by_text parameters.
const TextSearchSchema = `{
  "type": "object",
  "properties": {
    "query": {
      "type": "string",
      "description": "Free-text place query, e.g. 'specialty coffee in Tanjong Pagar'"
    },
    "lat": {"type": "number", "minimum": -90, "maximum": 90},
    "lng": {"type": "number", "minimum": -180, "maximum": 180},
    "radius": {
      "type": "integer",
      "minimum": 1,
      "maximum": 50000,
      "default": 3000
    }
  },
  "required": ["query"]
}`

// GeocodeTool implements geocode_place.
type GeocodeTool struct {
	geocoder Geocoder
}

// NewGeocodeTool creates a geocode_place tool.
func NewGeocodeTool(g Geocoder) *GeocodeTool {
	return &GeocodeTool{geocoder: g}
}

func (t *GeocodeTool) Name() string   { return GeocodePlaceName }
func (t *GeocodeTool) Schema() []byte { return []byte(GeocodeSchema) }
func (t *GeocodeTool) Description() string {
	return "Find the latitude, longitude and place id of a named place or address."
}

// Invoke returns a schema.GeocodeResult.
func (t *GeocodeTool) Invoke(ctx context.Context, args json.RawMessage) (any, error) {
	var params struct {
		PlaceName string `json:"place_name"`
		Name      string `json:"name"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	name := strings.TrimSpace(params.PlaceName)
	if name == "" {
		name = strings.TrimSpace(params.Name)
	}
	if name == "" {
		return nil, fmt.Errorf("place_name is required")
	}
	return t.geocoder.GeocodePlace(ctx, name)
}

// PlaceDetailTool implements get_place_detail.
type PlaceDetailTool struct {
	detailer PlaceDetailer
}

// NewPlaceDetailTool creates a get_place_detail tool.
func NewPlaceDetailTool(d PlaceDetailer) *PlaceDetailTool {
	return &PlaceDetailTool{detailer: d}
}

func (t *PlaceDetailTool) Name() string   { return GetPlaceDetailName }
func (t *PlaceDetailTool) Schema() []byte { return []byte(PlaceDetailSchema) }
func (t *PlaceDetailTool) Description() string {
	return "Get opening hours, phone number, price range, rating and service options for a place id."
}

// Invoke returns a schema.PlaceDetail.
func (t *PlaceDetailTool) Invoke(ctx context.Context, args json.RawMessage) (any, error) {
	var params struct {
		PlaceID string `json:"place_id"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	if strings.TrimSpace(params.PlaceID) == "" {
		return nil, fmt.Errorf("place_id is required")
	}
	return t.detailer.GetPlaceDetail(ctx, strings.TrimSpace(params.PlaceID))
}

// NearbyTool implements find_places_nearby.
type NearbyTool struct {
	searcher PlaceSearcher
}

// NewNearbyTool creates a find_places_nearby tool.
func NewNearbyTool(s PlaceSearcher) *NearbyTool {
	return &NearbyTool{searcher: s}
}

func (t *NearbyTool) Name() string   { return FindPlacesNearbyName }
func (t *NearbyTool) Schema() []byte { return []byte(NearbySchema) }
func (t *NearbyTool) Description() string {
	return "List cafes, coffee shops or bakeries around a latitude/longitude."
}

// Invoke returns a []schema.PlaceRecord.
func (t *NearbyTool) Invoke(ctx context.Context, args json.RawMessage) (any, error) {
	var params struct {
		Lat    *float64 `json:"lat"`
		Lng    *float64 `json:"lng"`
		Query  string   `json:"query"`
		Radius int      `json:"radius"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	if params.Lat == nil || params.Lng == nil {
		return nil, fmt.Errorf("lat and lng are required")
	}
	loc := schema.LatLng{Lat: *params.Lat, Lng: *params.Lng}
	if err := loc.Validate(); err != nil {
		return nil, err
	}
	return t.searcher.FindPlacesNearby(ctx, loc.Lat, loc.Lng, params.Query, clampRadius(params.Radius))
}

// TextSearchTool implements find_places_by_text.
type TextSearchTool struct {
	searcher PlaceSearcher
}

// NewTextSearchTool creates a find_places_by_text tool.
func NewTextSearchTool(s PlaceSearcher) *TextSearchTool {
	return &TextSearchTool{searcher: s}
}

func (t *TextSearchTool) Name() string   { return FindPlacesByTextName }
func (t *TextSearchTool) Schema() []byte { return []byte(TextSearchSchema) }
func (t *TextSearchTool) Description() string {
	return "Search places by free text, optionally biased towards a latitude/longitude."
}

// Invoke returns a []schema.PlaceRecord.
func (t *TextSearchTool) Invoke(ctx context.Context, args json.RawMessage) (any, error) {
	var params struct {
		Query  string   `json:"query"`
		Lat    *float64 `json:"lat"`
		Lng    *float64 `json:"lng"`
		Radius int      `json:"radius"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	if strings.TrimSpace(params.Query) == "" {
		return nil, fmt.Errorf("query is required")
	}
	var loc *schema.LatLng
	if params.Lat != nil && params.Lng != nil {
		loc = &schema.LatLng{Lat: *params.Lat, Lng: *params.Lng}
		if err := loc.Validate(); err != nil {
			return nil, err
		}
	}
	return t.searcher.FindPlacesByText(ctx, params.Query, loc, clampRadius(params.Radius))
}

func clampRadius(r int) int {
	switch {
	case r <= 0:
		return internal.DefaultRadiusMeters
	case r > 50000:
		return 50000
	default:
		return r
	}
}
