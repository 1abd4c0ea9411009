package places

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	internal "github.com/ZanzyTHEbar/coffee-gpt/cgpt"
	"github.com/ZanzyTHEbar/coffee-gpt/cgpt/schema"
)

const detailFieldMask = "id,displayName,name,formattedAddress,currentOpeningHours,nationalPhoneNumber,priceRange,rating,delivery,dineIn,reviewSummary,outdoorSeating"

type money struct {
	CurrencyCode string `json:"currencyCode"`
	Units        string `json:"units"`
}

type detailResponse struct {
	ID          string `json:"id"`
	DisplayName *struct {
		Text string `json:"text"`
	} `json:"displayName"`
	FormattedAddress    string   `json:"formattedAddress"`
	NationalPhoneNumber string   `json:"nationalPhoneNumber"`
	Rating              *float64 `json:"rating"`
	CurrentOpeningHours *struct {
		OpenNow             *bool    `json:"openNow"`
		WeekdayDescriptions []string `json:"weekdayDescriptions"`
	} `json:"currentOpeningHours"`
	PriceRange *struct {
		StartPrice *money `json:"startPrice"`
		EndPrice   *money `json:"endPrice"`
	} `json:"priceRange"`
	Delivery       *bool `json:"delivery"`
	DineIn         *bool `json:"dineIn"`
	OutdoorSeating *bool `json:"outdoorSeating"`
	ReviewSummary  *struct {
		Text *struct {
			Text string `json:"text"`
		} `json:"text"`
	} `json:"reviewSummary"`
}

// GetPlaceDetail fetches the detail view of one place.
func (c *Client) GetPlaceDetail(ctx context.Context, placeID string) (schema.PlaceDetail, error) {
	failed := func(kind, cause error) error {
		return internal.NewAdapterError(adapterName, kind, cause, "Error retrieving details for placeId '%s'", placeID)
	}
	placeID = strings.TrimPrefix(strings.TrimSpace(placeID), "places/")
	if placeID == "" || strings.ContainsAny(placeID, "/?#") {
		return schema.PlaceDetail{}, failed(internal.ErrNotFound, nil)
	}

	status, body, err := c.do(ctx, http.MethodGet, c.placesBaseURL+"/places/"+url.PathEscape(placeID), nil, detailFieldMask)
	if err != nil {
		return schema.PlaceDetail{}, failed(internal.ErrUpstreamUnavailable, err)
	}
	if status != http.StatusOK {
		return schema.PlaceDetail{}, failed(kindForStatus(status), fmt.Errorf("%s", errorMessage(body)))
	}

	var resp detailResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return schema.PlaceDetail{}, failed(internal.ErrMalformedResponse, err)
	}

	detail := schema.PlaceDetail{
		ID:             resp.ID,
		Address:        resp.FormattedAddress,
		Phone:          resp.NationalPhoneNumber,
		Rating:         resp.Rating,
		Delivery:       resp.Delivery,
		DineIn:         resp.DineIn,
		OutdoorSeating: resp.OutdoorSeating,
	}
	if detail.ID == "" {
		detail.ID = placeID
	}
	if resp.DisplayName != nil {
		detail.Name = resp.DisplayName.Text
	}
	if h := resp.CurrentOpeningHours; h != nil {
		detail.OpenNow = h.OpenNow
		detail.WeekdayHours = h.WeekdayDescriptions
	}
	if pr := resp.PriceRange; pr != nil {
		detail.PriceRange = formatPriceRange(pr.StartPrice, pr.EndPrice)
	}
	if rs := resp.ReviewSummary; rs != nil && rs.Text != nil {
		detail.ReviewSummary = rs.Text.Text
	}
	return detail, nil
}

func formatPriceRange(start, end *money) string {
	format := func(m *money) string {
		if m == nil || m.Units == "" {
			return ""
		}
		return strings.TrimSpace(m.CurrencyCode + " " + m.Units)
	}
	s, e := format(start), format(end)
	switch {
	case s != "" && e != "":
		return s + " - " + e
	case s != "":
		return "from " + s
	case e != "":
		return "up to " + e
	default:
		return ""
	}
}
