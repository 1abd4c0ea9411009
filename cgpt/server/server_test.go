package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/coffee-gpt/cgpt/chat"
	"github.com/ZanzyTHEbar/coffee-gpt/cgpt/config"
	"github.com/ZanzyTHEbar/coffee-gpt/cgpt/generation/harness/adapters"
	ports "github.com/ZanzyTHEbar/coffee-gpt/cgpt/generation/harness/ports"
	"github.com/ZanzyTHEbar/coffee-gpt/cgpt/schema"
	"github.com/ZanzyTHEbar/coffee-gpt/cgpt/search"
)

type stubCaps struct {
	decision schema.Decision
	answer   string
}

func (s *stubCaps) Rephrase(_ context.Context, _, latest string) (string, error) { return latest, nil }
func (s *stubCaps) Route(context.Context, string) (schema.Decision, error)     { return s.decision, nil }
func (s *stubCaps) Answer(context.Context, string) (string, error)             { return s.answer, nil }
func (s *stubCaps) Starters(context.Context) ([]string, error) {
	return []string{"one?", "two?", "three?"}, nil
}
func (s *stubCaps) CallTools(context.Context, string, schema.LatLng, []ports.Tool) (chat.ToolRun, error) {
	return chat.ToolRun{}, nil
}

type stubPlaces struct {
	nearbyQuery string
	results     []schema.SearchResultRecord
}

func (p *stubPlaces) GeocodePlace(context.Context, string) (schema.GeocodeResult, error) {
	return schema.GeocodeResult{Lat: 1.28, Lng: 103.85, PlaceID: "p1"}, nil
}

func (p *stubPlaces) GetPlaceDetail(context.Context, string) (schema.PlaceDetail, error) {
	return schema.PlaceDetail{ID: "p1", Name: "Common Man"}, nil
}

func (p *stubPlaces) FindPlacesNearby(_ context.Context, _, _ float64, query string, _ int) ([]schema.PlaceRecord, error) {
	p.nearbyQuery = query
	return []schema.PlaceRecord{{Name: "<b>Nylon</b> Coffee", Address: "4 Everton Park"}}, nil
}

func (p *stubPlaces) FindPlacesByText(context.Context, string, *schema.LatLng, int) ([]schema.PlaceRecord, error) {
	return nil, nil
}

func (p *stubPlaces) WebSearch(context.Context, string) ([]schema.SearchResultRecord, error) {
	return p.results, nil
}

type testEnv struct {
	srv      *Server
	sessions *chat.Registry
	places   *stubPlaces
	caps     *stubCaps
}

func newTestEnv(t *testing.T, limiter ports.RateLimiter) *testEnv {
	t.Helper()
	caps := &stubCaps{decision: schema.DecisionNoTool, answer: "A flat white has less foam & more coffee."}
	places := &stubPlaces{}
	svc := chat.NewService(chat.Capabilities{Rephraser: caps, Router: caps, Answerer: caps, ToolCaller: caps}, places, places, nil)
	sessions := chat.NewRegistry(4)
	cfg := config.ServerConfig{RevealInterval: time.Millisecond, TurnTimeout: 5 * time.Second}
	return &testEnv{
		srv:      New(cfg, svc, sessions, limiter, zerolog.Nop()),
		sessions: sessions,
		places:   places,
		caps:     caps,
	}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) createSession(t *testing.T, body string) sessionResponse {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/v1/sessions", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp sessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestCreateSession(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.createSession(t, `{"lat": 1.35, "lng": 103.8}`)
	assert.NotEmpty(t, resp.ID)
	assert.Equal(t, []string{"one?", "two?", "three?"}, resp.Starters)

	sess, err := env.sessions.Get(resp.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.LatLng{Lat: 1.35, Lng: 103.8}, sess.Location())
}

func TestCreateSessionRejectsBadLocation(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(t, http.MethodPost, "/v1/sessions", `{"lat": 95, "lng": 0}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 0, env.sessions.Len())
}

func TestCreateSessionLimit(t *testing.T) {
	env := newTestEnv(t, nil)
	for range 4 {
		env.createSession(t, "")
	}
	rec := env.do(t, http.MethodPost, "/v1/sessions", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestPostMessage(t *testing.T) {
	env := newTestEnv(t, nil)
	id := env.createSession(t, "").ID

	rec := env.do(t, http.MethodPost, "/v1/sessions/"+id+"/messages", `{"text": "<i>latte</i> vs flat white?"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp messageResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "latte vs flat white?", resp.Prompt)
	require.Len(t, resp.Fragments, 1)
	assert.Equal(t, "A flat white has less foam & more coffee.", resp.Fragments[0].Text)

	sess, err := env.sessions.Get(id)
	require.NoError(t, err)
	assert.Equal(t, []string{"latte vs flat white?"}, sess.UserPrompts())
}

func TestPostMessageKeepsUntitledCitation(t *testing.T) {
	env := newTestEnv(t, nil)
	env.caps.decision = schema.DecisionWebSearch
	env.places.results = []schema.SearchResultRecord{{
		Text:   "Cold brew keeps growing.",
		Source: search.Citation("", "https://example.com/trends"),
	}}
	id := env.createSession(t, "").ID

	rec := env.do(t, http.MethodPost, "/v1/sessions/"+id+"/messages", `{"text": "coffee trends?"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp messageResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Fragments, 1)
	assert.Equal(t, "Cold brew keeps growing. [https://example.com/trends](https://example.com/trends)", resp.Fragments[0].Text)

	frags := env.srv.cleanFragments([]chat.DisplayFragment{{Text: "Cold brew keeps growing. " + search.Citation("", "https://example.com/trends")}})
	assert.Contains(t, frags[0].Text, "https://example.com/trends")
}

func TestPostMessageErrors(t *testing.T) {
	env := newTestEnv(t, nil)
	id := env.createSession(t, "").ID

	rec := env.do(t, http.MethodPost, "/v1/sessions/missing/messages", `{"text": "hi"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodPost, "/v1/sessions/"+id+"/messages", `{"text": ""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/v1/sessions/"+id+"/messages", `{"text": "<p> </p>"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPostMessageRateLimited(t *testing.T) {
	// One token, refilled far slower than the test runs; the release returns it.
	limiter := adapters.NewTokenBucket(1, time.Hour)
	env := newTestEnv(t, limiter)
	id := env.createSession(t, "").ID

	release, err := limiter.Acquire(context.Background(), id)
	require.NoError(t, err)

	rec := env.do(t, http.MethodPost, "/v1/sessions/"+id+"/messages", `{"text": "hi"}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	release()
	rec = env.do(t, http.MethodPost, "/v1/sessions/"+id+"/messages", `{"text": "hi"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSetLocation(t *testing.T) {
	env := newTestEnv(t, nil)
	id := env.createSession(t, "").ID

	rec := env.do(t, http.MethodPut, "/v1/sessions/"+id+"/location", `{"lat": 1.3, "lng": 103.9}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPut, "/v1/sessions/"+id+"/location", `{"lat": 1.3}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPut, "/v1/sessions/"+id+"/location", `{"lat": 1.3, "lng": 200}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	sess, err := env.sessions.Get(id)
	require.NoError(t, err)
	assert.Equal(t, schema.LatLng{Lat: 1.3, Lng: 103.9}, sess.Location())
}

func TestGetSessionSnapshot(t *testing.T) {
	env := newTestEnv(t, nil)
	env.caps.answer = "<b>Cortado</b> is small & strong."
	id := env.createSession(t, "").ID
	env.do(t, http.MethodPost, "/v1/sessions/"+id+"/messages", `{"text": "hello"}`)

	rec := env.do(t, http.MethodGet, "/v1/sessions/"+id, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var snap chat.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, id, snap.ID)
	require.Len(t, snap.Exchanges, 1)
	assert.Equal(t, "hello", snap.Exchanges[0].Prompt)
	require.Len(t, snap.Exchanges[0].Fragments, 1)
	assert.Equal(t, "Cortado is small & strong.", snap.Exchanges[0].Fragments[0].Text)
}

func TestStarters(t *testing.T) {
	env := newTestEnv(t, nil)
	id := env.createSession(t, "").ID

	rec := env.do(t, http.MethodGet, "/v1/sessions/"+id+"/starters", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"starters": ["one?", "two?", "three?"]}`, rec.Body.String())
}

func TestDeleteSession(t *testing.T) {
	env := newTestEnv(t, adapters.NewTokenBucket(1, time.Hour))
	id := env.createSession(t, "").ID

	rec := env.do(t, http.MethodDelete, "/v1/sessions/"+id, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 0, env.sessions.Len())

	rec = env.do(t, http.MethodDelete, "/v1/sessions/"+id, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// sseEvents parses "event:"/"data:" pairs from an SSE body.
func sseEvents(t *testing.T, body string) (names, data []string) {
	t.Helper()
	sc := bufio.NewScanner(strings.NewReader(body))
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "event:"):
			names = append(names, strings.TrimSpace(strings.TrimPrefix(line, "event:")))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	require.NoError(t, sc.Err())
	return names, data
}

func TestStreamRevealsNewestResponse(t *testing.T) {
	env := newTestEnv(t, nil)
	env.caps.answer = "Try a cortado"
	id := env.createSession(t, "").ID
	env.do(t, http.MethodPost, "/v1/sessions/"+id+"/messages", `{"text": "what should I order?"}`)

	rec := env.do(t, http.MethodGet, "/v1/sessions/"+id+"/stream", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/event-stream")

	names, data := sseEvents(t, rec.Body.String())
	assert.Equal(t, []string{"fragment", "word", "word", "word", "done"}, names)
	require.Len(t, data, 5)
	assert.Equal(t, []string{"Try", "a", "cortado"}, []string{
		strings.TrimSpace(data[1]), strings.TrimSpace(data[2]), strings.TrimSpace(data[3]),
	})

	sess, err := env.sessions.Get(id)
	require.NoError(t, err)
	assert.Empty(t, sess.NewResponses())

	rec = env.do(t, http.MethodGet, "/v1/sessions/"+id+"/stream", "")
	names, _ = sseEvents(t, rec.Body.String())
	assert.Equal(t, []string{"done"}, names)
}

func TestNearbyPlaces(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodGet, "/v1/places/nearby?lat=1.28&lng=103.85&q=espresso", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "espresso", env.places.nearbyQuery)

	var resp struct {
		Fragments []chat.DisplayFragment `json:"fragments"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Fragments, 1)
	assert.True(t, strings.HasPrefix(resp.Fragments[0].Text, "1. Nylon Coffee"), resp.Fragments[0].Text)

	rec = env.do(t, http.MethodGet, "/v1/places/nearby?lat=abc&lng=103.85", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	env.do(t, http.MethodGet, "/v1/places/nearby?lat=1.28&lng=103.85", "")
	assert.Equal(t, "coffee", env.places.nearbyQuery)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)
	env.do(t, http.MethodGet, "/healthz", "")

	rec := env.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "coffeegpt_http_requests_total")
}
