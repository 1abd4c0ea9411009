package chat

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/sourcegraph/conc/iter"

	internal "github.com/ZanzyTHEbar/coffee-gpt/cgpt"
	"github.com/ZanzyTHEbar/coffee-gpt/cgpt/schema"
)

const notAvailable = "N/A"

// PhotoResolver turns an opaque photo reference into an image URL or
// photos.NotFound.
type PhotoResolver interface {
	Resolve(ctx context.Context, ref string) string
}

// Normalizer converts adapter results into display fragments. Every method
// returns at least one fragment.
type Normalizer struct {
	photos      PhotoResolver
	concurrency int
}

// NewNormalizer creates a Normalizer. A nil resolver disables photos.
func NewNormalizer(resolver PhotoResolver, concurrency int) *Normalizer {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Normalizer{photos: resolver, concurrency: concurrency}
}

// Places renders one fragment per record in adapter order. Photos are
// resolved concurrently.
func (n *Normalizer) Places(ctx context.Context, records []schema.PlaceRecord) []DisplayFragment {
	if len(records) == 0 {
		return n.NoResults()
	}
	ranks := make([]int, len(records))
	for i := range ranks {
		ranks[i] = i
	}
	mapper := iter.Mapper[int, DisplayFragment]{MaxGoroutines: n.concurrency}
	return mapper.Map(ranks, func(i *int) DisplayFragment {
		rec := records[*i]
		return DisplayFragment{
			Text:     FormatPlace(*i+1, rec),
			PhotoURL: n.resolvePhoto(ctx, rec.PhotoRef),
		}
	})
}

func (n *Normalizer) resolvePhoto(ctx context.Context, ref string) string {
	if n.photos == nil || strings.TrimSpace(ref) == "" {
		return ""
	}
	return n.photos.Resolve(ctx, ref)
}

// SearchResults renders "{summary} {source}" per record, without photos.
func (n *Normalizer) SearchResults(records []schema.SearchResultRecord) []DisplayFragment {
	if len(records) == 0 {
		return n.NoResults()
	}
	frags := make([]DisplayFragment, 0, len(records))
	for _, r := range records {
		frags = append(frags, DisplayFragment{Text: strings.TrimSpace(r.Text + " " + r.Source)})
	}
	return frags
}

// Text wraps a plain answer.
func (n *Normalizer) Text(s string) []DisplayFragment {
	s = strings.TrimSpace(s)
	if s == "" {
		return n.NoResults()
	}
	return []DisplayFragment{{Text: s}}
}

// Geocode renders a geocoding result.
func (n *Normalizer) Geocode(g schema.GeocodeResult) []DisplayFragment {
	lat := strconv.FormatFloat(g.Lat, 'f', -1, 64)
	lng := strconv.FormatFloat(g.Lng, 'f', -1, 64)
	var sb strings.Builder
	fmt.Fprintf(&sb, "Location: %s, %s", lat, lng)
	fmt.Fprintf(&sb, "\n   - Place ID: %s", orNA(g.PlaceID))
	fmt.Fprintf(&sb, "\n   - Google Maps: %s", mapsSearchLink(lat+","+lng, g.PlaceID))
	return []DisplayFragment{{Text: sb.String()}}
}

// Detail renders a place-detail record.
func (n *Normalizer) Detail(d schema.PlaceDetail) []DisplayFragment {
	var sb strings.Builder
	sb.WriteString(orNA(d.Name))
	fmt.Fprintf(&sb, "\n   - Address: %s", orNA(d.Address))
	fmt.Fprintf(&sb, "\n   - Phone: %s", orNA(d.Phone))
	fmt.Fprintf(&sb, "\n   - Rating: %s", formatRating(d.Rating))
	if d.OpenNow != nil {
		fmt.Fprintf(&sb, "\n   - Open now: %s", yesNo(*d.OpenNow))
	}
	if len(d.WeekdayHours) > 0 {
		sb.WriteString("\n   - Hours:")
		for _, h := range d.WeekdayHours {
			sb.WriteString("\n      " + h)
		}
	}
	if d.PriceRange != "" {
		fmt.Fprintf(&sb, "\n   - Price range: %s", d.PriceRange)
	}
	for _, opt := range []struct {
		label string
		v     *bool
	}{
		{"Dine-in", d.DineIn},
		{"Delivery", d.Delivery},
		{"Outdoor seating", d.OutdoorSeating},
	} {
		if opt.v != nil {
			fmt.Fprintf(&sb, "\n   - %s: %s", opt.label, yesNo(*opt.v))
		}
	}
	if d.ReviewSummary != "" {
		fmt.Fprintf(&sb, "\n   - Reviews: %s", d.ReviewSummary)
	}
	return []DisplayFragment{{Text: sb.String()}}
}

// Error renders a failure as one fragment. Adapter errors keep their exact
// message.
func (n *Normalizer) Error(err error) []DisplayFragment {
	return []DisplayFragment{{Text: internal.UserMessage(err)}}
}

// NoResults is the fragment used for empty adapter results.
func (n *Normalizer) NoResults() []DisplayFragment {
	return []DisplayFragment{{Text: internal.NoResultsText}}
}

// Refusal is the fragment for questions outside the coffee domain.
func (n *Normalizer) Refusal() []DisplayFragment {
	return []DisplayFragment{{Text: internal.RefusalText}}
}

// FormatPlace renders one ranked place record.
func FormatPlace(rank int, r schema.PlaceRecord) string {
	return fmt.Sprintf("%d. %s\n   - Address: %s\n   - Rating: %s\n   - Google Maps: %s",
		rank, orNA(r.Name), orNA(r.Address), formatRating(r.Rating), orNA(r.MapLink))
}

func formatRating(r *float64) string {
	if r == nil {
		return notAvailable
	}
	return strconv.FormatFloat(*r, 'f', 1, 64)
}

func orNA(s string) string {
	if s = strings.TrimSpace(s); s == "" {
		return notAvailable
	}
	return s
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}

func mapsSearchLink(query, placeID string) string {
	v := url.Values{}
	v.Set("api", "1")
	v.Set("query", query)
	if placeID != "" {
		v.Set("query_place_id", placeID)
	}
	return "https://www.google.com/maps/search/?" + v.Encode()
}
