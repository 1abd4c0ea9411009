package places

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	internal "github.com/ZanzyTHEbar/coffee-gpt/cgpt"
)

type photoMediaResponse struct {
	Name     string `json:"name"`
	PhotoURI string `json:"photoUri"`
}

// FetchPhotoURL resolves an opaque photo reference ("places/{id}/photos/{ref}")
// to a short-lived image URL.
func (c *Client) FetchPhotoURL(ctx context.Context, photoRef string) (string, error) {
	if !validPhotoRef(photoRef) {
		return "", internal.NewAdapterError(adapterName, internal.ErrNotFound, nil, "Error: invalid photo reference")
	}

	u := c.placesBaseURL + "/" + photoRef + "/media?maxWidthPx=" + strconv.Itoa(c.photoWidth) + "&skipHttpRedirect=true"
	status, body, err := c.do(ctx, http.MethodGet, u, nil, "")
	if err != nil {
		return "", transportError(err, "Error: %v", err)
	}
	if status != http.StatusOK {
		return "", internal.NewAdapterError(adapterName, kindForStatus(status), nil, "Error: %s", errorMessage(body))
	}

	var resp photoMediaResponse
	if err := json.Unmarshal(body, &resp); err != nil || resp.PhotoURI == "" {
		return "", internal.NewAdapterError(adapterName, internal.ErrMalformedResponse, err, "Error: photo response missing photoUri")
	}
	return resp.PhotoURI, nil
}

func validPhotoRef(ref string) bool {
	parts := strings.Split(ref, "/")
	if len(parts) != 4 || parts[0] != "places" || parts[2] != "photos" {
		return false
	}
	for _, p := range parts {
		if p == "" || p == "." || p == ".." || strings.ContainsAny(p, "?#") {
			return false
		}
	}
	return true
}
