package schema

import (
	"fmt"
	"math"
)

// LatLng is a WGS84 coordinate. The zero value is the "unknown location" sentinel.
type LatLng struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lng float64 `json:"lng" yaml:"lng"`
}

// IsZero reports whether l is the (0,0) sentinel.
func (l LatLng) IsZero() bool { return l.Lat == 0 && l.Lng == 0 }

// Validate rejects coordinates outside the WGS84 range.
func (l LatLng) Validate() error {
	if math.IsNaN(l.Lat) || math.IsNaN(l.Lng) || l.Lat < -90 || l.Lat > 90 || l.Lng < -180 || l.Lng > 180 {
		return fmt.Errorf("invalid coordinates (%v, %v)", l.Lat, l.Lng)
	}
	return nil
}

// PlaceRecord is one place returned by a places search.
type PlaceRecord struct {
	Name     string   `json:"name"`
	Address  string   `json:"address,omitempty"`
	Rating   *float64 `json:"rating,omitempty"`
	MapLink  string   `json:"map_link,omitempty"`
	PhotoRef string   `json:"photo_ref,omitempty"` // opaque, resolved lazily
}

// SearchResultRecord is one web search hit: a summary plus its citation.
type SearchResultRecord struct {
	Text   string `json:"text"`
	Source string `json:"source"`
}

// GeocodeResult is the resolved location of a place name.
type GeocodeResult struct {
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	PlaceID string  `json:"placeId"`
}

// Location returns the result as a LatLng.
func (g GeocodeResult) Location() LatLng { return LatLng{Lat: g.Lat, Lng: g.Lng} }

// PlaceDetail is the detail view of a single place.
type PlaceDetail struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Address        string   `json:"address,omitempty"`
	Phone          string   `json:"phone,omitempty"`
	Rating         *float64 `json:"rating,omitempty"`
	OpenNow        *bool    `json:"open_now,omitempty"`
	WeekdayHours   []string `json:"weekday_hours,omitempty"`
	PriceRange     string   `json:"price_range,omitempty"`
	Delivery       *bool    `json:"delivery,omitempty"`
	DineIn         *bool    `json:"dine_in,omitempty"`
	OutdoorSeating *bool    `json:"outdoor_seating,omitempty"`
	ReviewSummary  string   `json:"review_summary,omitempty"`
}
