package places

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	internal "github.com/ZanzyTHEbar/coffee-gpt/cgpt"
	"github.com/ZanzyTHEbar/coffee-gpt/cgpt/schema"
)

type geocodeResponse struct {
	Status  string `json:"status"`
	Results []struct {
		PlaceID  string `json:"place_id"`
		Geometry struct {
			Location struct {
				Lat float64 `json:"lat"`
				Lng float64 `json:"lng"`
			} `json:"location"`
		} `json:"geometry"`
	} `json:"results"`
	ErrorMessage string `json:"error_message"`
}

// GeocodePlace resolves a place name to coordinates and a place id. Every
// failure carries the message "Could not find location for '<name>'.".
func (c *Client) GeocodePlace(ctx context.Context, name string) (schema.GeocodeResult, error) {
	notFound := func(kind, cause error) error {
		return internal.NewAdapterError(adapterName, kind, cause, "Could not find location for '%s'.", name)
	}
	if strings.TrimSpace(name) == "" {
		return schema.GeocodeResult{}, notFound(internal.ErrNotFound, nil)
	}

	q := url.Values{}
	q.Set("address", name)
	q.Set("key", c.apiKey)

	status, body, err := c.do(ctx, http.MethodGet, c.geocodeURL+"?"+q.Encode(), nil, "")
	if err != nil {
		return schema.GeocodeResult{}, notFound(internal.ErrUpstreamUnavailable, err)
	}
	if status != http.StatusOK {
		return schema.GeocodeResult{}, notFound(kindForStatus(status), nil)
	}

	var resp geocodeResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return schema.GeocodeResult{}, notFound(internal.ErrMalformedResponse, err)
	}
	if resp.Status != "OK" || len(resp.Results) == 0 {
		c.logger.Debug().Str("status", resp.Status).Str("error", resp.ErrorMessage).Msg("geocode returned no results")
		return schema.GeocodeResult{}, notFound(internal.ErrNotFound, nil)
	}

	first := resp.Results[0]
	return schema.GeocodeResult{
		Lat:     first.Geometry.Location.Lat,
		Lng:     first.Geometry.Location.Lng,
		PlaceID: first.PlaceID,
	}, nil
}
