package chat

import (
	"context"
	"sync"

	ports "github.com/ZanzyTHEbar/coffee-gpt/cgpt/generation/harness/ports"
	"github.com/ZanzyTHEbar/coffee-gpt/cgpt/schema"

	"github.com/stretchr/testify/mock"
)

type mockCaps struct {
	mock.Mock
}

func (m *mockCaps) Rephrase(ctx context.Context, transcript, latest string) (string, error) {
	args := m.Called(ctx, transcript, latest)
	return args.String(0), args.Error(1)
}

func (m *mockCaps) Route(ctx context.Context, question string) (schema.Decision, error) {
	args := m.Called(ctx, question)
	return args.Get(0).(schema.Decision), args.Error(1)
}

func (m *mockCaps) Answer(ctx context.Context, question string) (string, error) {
	args := m.Called(ctx, question)
	return args.String(0), args.Error(1)
}

func (m *mockCaps) Starters(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	qs, _ := args.Get(0).([]string)
	return qs, args.Error(1)
}

func (m *mockCaps) CallTools(ctx context.Context, question string, loc schema.LatLng, tools []ports.Tool) (ToolRun, error) {
	args := m.Called(ctx, question, loc, tools)
	return args.Get(0).(ToolRun), args.Error(1)
}

type mockAdapters struct {
	mock.Mock
}

func (m *mockAdapters) GeocodePlace(ctx context.Context, name string) (schema.GeocodeResult, error) {
	args := m.Called(ctx, name)
	return args.Get(0).(schema.GeocodeResult), args.Error(1)
}

func (m *mockAdapters) GetPlaceDetail(ctx context.Context, placeID string) (schema.PlaceDetail, error) {
	args := m.Called(ctx, placeID)
	return args.Get(0).(schema.PlaceDetail), args.Error(1)
}

func (m *mockAdapters) FindPlacesNearby(ctx context.Context, lat, lng float64, query string, radius int) ([]schema.PlaceRecord, error) {
	args := m.Called(ctx, lat, lng, query, radius)
	records, _ := args.Get(0).([]schema.PlaceRecord)
	return records, args.Error(1)
}

func (m *mockAdapters) FindPlacesByText(ctx context.Context, query string, loc *schema.LatLng, radius int) ([]schema.PlaceRecord, error) {
	args := m.Called(ctx, query, loc, radius)
	records, _ := args.Get(0).([]schema.PlaceRecord)
	return records, args.Error(1)
}

func (m *mockAdapters) WebSearch(ctx context.Context, query string) ([]schema.SearchResultRecord, error) {
	args := m.Called(ctx, query)
	records, _ := args.Get(0).([]schema.SearchResultRecord)
	return records, args.Error(1)
}

type photoFunc func(ref string) string

func (f photoFunc) Resolve(_ context.Context, ref string) string { return f(ref) }

type recordingStore struct {
	mu        sync.Mutex
	turns     []ports.Turn
	artifacts []string
}

func (s *recordingStore) SaveTurn(_ context.Context, _ string, turn ports.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = append(s.turns, turn)
	return nil
}

func (s *recordingStore) LoadContext(_ context.Context, _ string, _ int) ([]ports.Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ports.Turn(nil), s.turns...), nil
}

func (s *recordingStore) AppendToolArtifact(_ context.Context, _, name string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.artifacts = append(s.artifacts, name+": "+string(payload))
	return nil
}

func rating(v float64) *float64 { return &v }
