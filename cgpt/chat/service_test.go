package chat

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	internal "github.com/ZanzyTHEbar/coffee-gpt/cgpt"
	"github.com/ZanzyTHEbar/coffee-gpt/cgpt/generation/harness"
	ports "github.com/ZanzyTHEbar/coffee-gpt/cgpt/generation/harness/ports"
	"github.com/ZanzyTHEbar/coffee-gpt/cgpt/photos"
	"github.com/ZanzyTHEbar/coffee-gpt/cgpt/schema"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// newTestService wires a Service without a rephraser or tool caller; tests
// that need them set the fields on caps.
func newTestService(caps *mockCaps, places *mockAdapters, opts ...ServiceOption) *Service {
	return NewService(
		Capabilities{Router: caps, Answerer: caps},
		places,
		places,
		NewNormalizer(nil, 2),
		opts...,
	)
}

func assertInvariants(t *testing.T, sess *Session) {
	t.Helper()
	responses := sess.AIResponses()
	require.Equal(t, len(sess.UserPrompts()), len(responses))
	for i, r := range responses {
		assert.NotEmpty(t, r, "response %d is empty", i)
	}
	assert.LessOrEqual(t, len(sess.NewResponses()), 1)
}

func TestTurn_ScenarioA_NoTool(t *testing.T) {
	caps := &mockCaps{}
	caps.On("Route", mock.Anything, "best espresso machines").Return(schema.DecisionNoTool, nil)
	caps.On("Answer", mock.Anything, "best espresso machines").Return("Look at the Breville Bambino or a Gaggia Classic.", nil)
	places := &mockAdapters{}
	svc := newTestService(caps, places)
	sess := NewSession("s1")

	frags, err := svc.Turn(context.Background(), sess, "best espresso machines")

	require.NoError(t, err)
	require.Len(t, frags, 1)
	assert.Equal(t, "Look at the Breville Bambino or a Gaggia Classic.", frags[0].Text)
	assert.Empty(t, frags[0].PhotoURL)
	assert.Empty(t, places.Calls)
	assertInvariants(t, sess)
	caps.AssertExpectations(t)
}

func TestTurn_ScenarioB_SearchByTextWithLocation(t *testing.T) {
	caps := &mockCaps{}
	caps.On("Route", mock.Anything, "cafes near me").Return(schema.DecisionSearchByText, nil)
	places := &mockAdapters{}
	records := []schema.PlaceRecord{
		{Name: "Common Man Coffee Roasters", Address: "22 Martin Rd, Singapore", Rating: rating(4.5), MapLink: "https://maps.google.com/?cid=1"},
		{Name: "Nylon Coffee Roasters", Address: "4 Everton Park, Singapore", Rating: rating(4.6), MapLink: "https://maps.google.com/?cid=2"},
	}
	places.On("FindPlacesByText", mock.Anything, "cafes near me", &schema.LatLng{Lat: 1.35, Lng: 103.8}, 3000).Return(records, nil)

	svc := newTestService(caps, places)
	sess := NewSession("s1")
	require.NoError(t, sess.SetLocation(schema.LatLng{Lat: 1.35, Lng: 103.8}))

	frags, err := svc.Turn(context.Background(), sess, "cafes near me")

	require.NoError(t, err)
	require.Len(t, frags, 2)
	assert.Equal(t, "1. Common Man Coffee Roasters\n   - Address: 22 Martin Rd, Singapore\n   - Rating: 4.5\n   - Google Maps: https://maps.google.com/?cid=1", frags[0].Text)
	assert.Equal(t, "2. Nylon Coffee Roasters\n   - Address: 4 Everton Park, Singapore\n   - Rating: 4.6\n   - Google Maps: https://maps.google.com/?cid=2", frags[1].Text)
	assertInvariants(t, sess)
	places.AssertExpectations(t)
}

func TestTurn_SearchByTextWithoutLocationHasNoBias(t *testing.T) {
	caps := &mockCaps{}
	caps.On("Route", mock.Anything, "cafes in Tiong Bahru").Return(schema.DecisionSearchByText, nil)
	places := &mockAdapters{}
	places.On("FindPlacesByText", mock.Anything, "cafes in Tiong Bahru", (*schema.LatLng)(nil), 3000).Return([]schema.PlaceRecord{}, nil)

	frags, err := newTestService(caps, places).Turn(context.Background(), NewSession("s1"), "cafes in Tiong Bahru")

	require.NoError(t, err)
	require.Len(t, frags, 1)
	assert.Equal(t, internal.NoResultsText, frags[0].Text)
	assert.Empty(t, frags[0].PhotoURL)
	places.AssertExpectations(t)
}

func TestTurn_ScenarioC_GeocodeFailure(t *testing.T) {
	caps := &mockCaps{}
	caps.On("Route", mock.Anything, "where is Atlantis Roastery").Return(schema.DecisionGeocode, nil)
	places := &mockAdapters{}
	places.On("GeocodePlace", mock.Anything, "where is Atlantis Roastery").
		Return(schema.GeocodeResult{}, internal.NewAdapterError("places", internal.ErrNotFound, nil, "Could not find location for '%s'.", "where is Atlantis Roastery"))

	sess := NewSession("s1")
	frags, err := newTestService(caps, places).Turn(context.Background(), sess, "where is Atlantis Roastery")

	require.NoError(t, err)
	require.Len(t, frags, 1)
	assert.Equal(t, "Could not find location for 'where is Atlantis Roastery'.", frags[0].Text)
	assert.False(t, frags[0].HasPhoto())
	assertInvariants(t, sess)
}

func TestTurn_GeocodeThroughToolLoop(t *testing.T) {
	caps := &mockCaps{}
	caps.On("Route", mock.Anything, "where is Tiong Bahru Bakery").Return(schema.DecisionGeocode, nil)
	adapterErr := internal.NewAdapterError("places", internal.ErrNotFound, nil, "Could not find location for 'Tiong Bahru Bakery'.")
	run := ToolRun{
		Text: "I could not find it.",
		Invocations: []harness.Invocation{
			{Call: ports.ToolCall{ID: "call_1_0", Name: "geocode_place"}, Err: adapterErr},
		},
		Turns: []ChatTurn{
			{Role: RoleAI, ToolCalls: []ToolInvocation{{ID: "call_1_0", Name: "geocode_place"}}},
			{Role: RoleTool, Content: adapterErr.Error(), ToolCallID: "call_1_0", Name: "geocode_place"},
		},
	}
	caps.On("CallTools", mock.Anything, "where is Tiong Bahru Bakery", schema.LatLng{}, mock.MatchedBy(func(ts []ports.Tool) bool {
		return len(ts) == 1 && ts[0].Name() == "geocode_place"
	})).Return(run, nil)
	places := &mockAdapters{}

	svc := NewService(Capabilities{Router: caps, Answerer: caps, ToolCaller: caps}, places, places, NewNormalizer(nil, 1))
	sess := NewSession("s1")
	frags, err := svc.Turn(context.Background(), sess, "where is Tiong Bahru Bakery")

	require.NoError(t, err)
	require.Len(t, frags, 1)
	assert.Equal(t, "Could not find location for 'Tiong Bahru Bakery'.", frags[0].Text)
	assert.Empty(t, places.Calls)

	history := sess.History()
	require.Len(t, history, 4)
	assert.Equal(t, RoleHuman, history[0].Role)
	assert.Equal(t, "call_1_0", history[1].ToolCalls[0].ID)
	assert.Equal(t, RoleTool, history[2].Role)
	assert.Equal(t, "call_1_0", history[2].ToolCallID)
	assert.Equal(t, RoleAI, history[3].Role)
}

func TestTurn_ScenarioD_WebSearch(t *testing.T) {
	caps := &mockCaps{}
	caps.On("Route", mock.Anything, "latest coffee trends 2025").Return(schema.DecisionWebSearch, nil)
	places := &mockAdapters{}
	places.On("WebSearch", mock.Anything, "latest coffee trends 2025").Return([]schema.SearchResultRecord{
		{Text: "Cold brew keeps growing.", Source: "[Trends](https://a.example)"},
		{Text: "Single origins are popular.", Source: "[Report](https://b.example)"},
		{Text: "Lighter roasts dominate.", Source: "[Roasting](https://c.example)"},
	}, nil)

	sess := NewSession("s1")
	frags, err := newTestService(caps, places).Turn(context.Background(), sess, "latest coffee trends 2025")

	require.NoError(t, err)
	require.Len(t, frags, 3)
	assert.Equal(t, "Cold brew keeps growing. [Trends](https://a.example)", frags[0].Text)
	assert.Equal(t, "Single origins are popular. [Report](https://b.example)", frags[1].Text)
	assert.Equal(t, "Lighter roasts dominate. [Roasting](https://c.example)", frags[2].Text)
	for _, f := range frags {
		assert.Empty(t, f.PhotoURL)
	}
	assertInvariants(t, sess)
}

func TestTurn_NotRelatedSkipsAdapters(t *testing.T) {
	caps := &mockCaps{}
	caps.On("Route", mock.Anything, "how do I fix my car?").Return(schema.DecisionNotRelated, nil)
	places := &mockAdapters{}

	sess := NewSession("s1")
	svc := NewService(Capabilities{Router: caps, Answerer: caps, ToolCaller: caps}, places, places, NewNormalizer(nil, 1))
	frags, err := svc.Turn(context.Background(), sess, "how do I fix my car?")

	require.NoError(t, err)
	require.Len(t, frags, 1)
	assert.Equal(t, "Sorry, I'm not an expert at that field.", frags[0].Text)
	assert.Empty(t, places.Calls)
	caps.AssertNotCalled(t, "Answer", mock.Anything, mock.Anything)
	caps.AssertNotCalled(t, "CallTools", mock.Anything, mock.Anything, mock.Anything, mock.Anything)

	history := sess.History()
	require.Len(t, history, 2)
	assert.Equal(t, internal.RefusalText, history[1].Content)
	assertInvariants(t, sess)
}

func TestTurn_RoutingFailureDegrades(t *testing.T) {
	caps := &mockCaps{}
	caps.On("Route", mock.Anything, "espresso?").Return(schema.Decision(""), harness.ErrInvalidOutput)
	places := &mockAdapters{}

	sess := NewSession("s1")
	frags, err := newTestService(caps, places).Turn(context.Background(), sess, "espresso?")

	require.NoError(t, err)
	require.Len(t, frags, 1)
	assert.Equal(t, internal.UserMessage(internal.ErrMalformedResponse), frags[0].Text)
	assert.Empty(t, places.Calls)
	assertInvariants(t, sess)
}

func TestTurn_AdapterUnavailable(t *testing.T) {
	caps := &mockCaps{}
	caps.On("Route", mock.Anything, "coffee news").Return(schema.DecisionWebSearch, nil)
	places := &mockAdapters{}
	places.On("WebSearch", mock.Anything, "coffee news").
		Return(nil, internal.NewAdapterError("web_search", internal.ErrUpstreamUnavailable, nil, "Error: Bad Gateway"))

	sess := NewSession("s1")
	frags, err := newTestService(caps, places).Turn(context.Background(), sess, "coffee news")

	require.NoError(t, err)
	require.Len(t, frags, 1)
	assert.Equal(t, "Error: Bad Gateway", frags[0].Text)
	assertInvariants(t, sess)
}

func TestTurn_RephraseFailureFallsBackToInput(t *testing.T) {
	caps := &mockCaps{}
	caps.On("Rephrase", mock.Anything, "Human: what is a cortado?", "what is a cortado?").Return("", errors.New("boom"))
	caps.On("Route", mock.Anything, "what is a cortado?").Return(schema.DecisionNoTool, nil)
	caps.On("Answer", mock.Anything, "what is a cortado?").Return("Espresso cut with a little warm milk.", nil)

	svc := NewService(caps.capabilities(), &mockAdapters{}, &mockAdapters{}, nil)
	frags, err := svc.Turn(context.Background(), NewSession("s1"), "what is a cortado?")

	require.NoError(t, err)
	assert.Equal(t, "Espresso cut with a little warm milk.", frags[0].Text)
	caps.AssertExpectations(t)
}

func TestTurn_RephraseUsesTranscript(t *testing.T) {
	caps := &mockCaps{}
	caps.On("Rephrase", mock.Anything, "Human: What is a flat white?", "What is a flat white?").Return("What is a flat white?", nil).Once()
	caps.On("Route", mock.Anything, "What is a flat white?").Return(schema.DecisionNoTool, nil).Once()
	caps.On("Answer", mock.Anything, "What is a flat white?").Return("Espresso with microfoam.", nil).Once()

	caps.On("Rephrase", mock.Anything, "Human: What is a flat white?\nAI: Espresso with microfoam.\nHuman: and a cortado?", "and a cortado?").
		Return("What is a cortado?", nil).Once()
	caps.On("Route", mock.Anything, "What is a cortado?").Return(schema.DecisionNoTool, nil).Once()
	caps.On("Answer", mock.Anything, "What is a cortado?").Return("Equal parts espresso and milk.", nil).Once()

	svc := NewService(caps.capabilities(), &mockAdapters{}, &mockAdapters{}, nil)
	sess := NewSession("s1")

	_, err := svc.Turn(context.Background(), sess, "What is a flat white?")
	require.NoError(t, err)
	frags, err := svc.Turn(context.Background(), sess, "and a cortado?")
	require.NoError(t, err)

	assert.Equal(t, "Equal parts espresso and milk.", frags[0].Text)
	assert.Equal(t, []string{"What is a flat white?", "and a cortado?"}, sess.UserPrompts())
	assertInvariants(t, sess)
	caps.AssertExpectations(t)
}

func TestTurn_TranscriptTail(t *testing.T) {
	caps := &mockCaps{}
	caps.On("Rephrase", mock.Anything, "Human: one", "one").Return("one", nil).Once()
	caps.On("Rephrase", mock.Anything, "AI: 1\nHuman: two", "two").Return("two", nil).Once()
	caps.On("Route", mock.Anything, mock.Anything).Return(schema.DecisionNoTool, nil)
	caps.On("Answer", mock.Anything, "one").Return("1", nil)
	caps.On("Answer", mock.Anything, "two").Return("2", nil)

	svc := NewService(caps.capabilities(), &mockAdapters{}, &mockAdapters{}, nil, WithTranscriptTail(1))
	sess := NewSession("s1")
	_, err := svc.Turn(context.Background(), sess, "one")
	require.NoError(t, err)
	_, err = svc.Turn(context.Background(), sess, "two")
	require.NoError(t, err)

	caps.AssertExpectations(t)
}

func TestTurn_CancellationLeavesSessionUntouched(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	caps := &mockCaps{}
	caps.On("Route", mock.Anything, "best grinder").Return(schema.DecisionNoTool, nil)
	caps.On("Answer", mock.Anything, "best grinder").Run(func(mock.Arguments) { cancel() }).Return("", context.Canceled)

	sess := NewSession("s1")
	frags, err := newTestService(caps, &mockAdapters{}).Turn(ctx, sess, "best grinder")

	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, frags)
	assert.Empty(t, sess.History())
	assert.Empty(t, sess.UserPrompts())
	assert.Empty(t, sess.AIResponses())
	assert.Empty(t, sess.NewResponses())
}

func TestTurn_EmptyMessage(t *testing.T) {
	caps := &mockCaps{}
	_, err := newTestService(caps, &mockAdapters{}).Turn(context.Background(), NewSession("s1"), "   ")

	assert.ErrorIs(t, err, ErrEmptyMessage)
	assert.Empty(t, caps.Calls)
}

func TestTurn_PlaceDetailThroughToolLoop(t *testing.T) {
	caps := &mockCaps{}
	question := "When does Nylon Coffee Roasters open?"
	caps.On("Route", mock.Anything, question).Return(schema.DecisionPlaceDetail, nil)
	open := true
	run := ToolRun{
		Text: "Nylon opens at 8am.",
		Invocations: []harness.Invocation{
			{Call: ports.ToolCall{ID: "call_1_0", Name: "geocode_place"}, Output: schema.GeocodeResult{PlaceID: "ChIJ1"}},
			{Call: ports.ToolCall{ID: "call_2_0", Name: "get_place_detail"}, Output: schema.PlaceDetail{
				ID: "ChIJ1", Name: "Nylon Coffee Roasters", Address: "4 Everton Park", Rating: rating(4.6),
				OpenNow: &open, WeekdayHours: []string{"Monday: 8:00 AM – 5:00 PM"},
			}},
		},
	}
	loc := schema.LatLng{Lat: 1.28, Lng: 103.84}
	caps.On("CallTools", mock.Anything, question, loc, mock.MatchedBy(func(ts []ports.Tool) bool {
		return len(ts) == 3
	})).Return(run, nil)
	places := &mockAdapters{}

	sess := NewSession("s1")
	require.NoError(t, sess.SetLocation(loc))
	svc := NewService(Capabilities{Router: caps, Answerer: caps, ToolCaller: caps}, places, places, nil)
	frags, err := svc.Turn(context.Background(), sess, question)

	require.NoError(t, err)
	require.Len(t, frags, 1)
	assert.Equal(t, "Nylon Coffee Roasters\n   - Address: 4 Everton Park\n   - Phone: N/A\n   - Rating: 4.6\n   - Open now: Yes\n   - Hours:\n      Monday: 8:00 AM – 5:00 PM", frags[0].Text)
	assert.Empty(t, places.Calls)
}

func TestTurn_PlaceDetailFallsBackToAdapters(t *testing.T) {
	caps := &mockCaps{}
	question := "Is Nylon open today?"
	caps.On("Route", mock.Anything, question).Return(schema.DecisionPlaceDetail, nil)
	caps.On("CallTools", mock.Anything, question, schema.LatLng{}, mock.Anything).Return(ToolRun{}, harness.ErrMaxIterations)
	places := &mockAdapters{}
	places.On("GeocodePlace", mock.Anything, question).Return(schema.GeocodeResult{Lat: 1.27, Lng: 103.83, PlaceID: "ChIJ1"}, nil)
	places.On("GetPlaceDetail", mock.Anything, "ChIJ1").Return(schema.PlaceDetail{Name: "Nylon"}, nil)

	svc := NewService(Capabilities{Router: caps, Answerer: caps, ToolCaller: caps}, places, places, nil)
	frags, err := svc.Turn(context.Background(), NewSession("s1"), question)

	require.NoError(t, err)
	require.Len(t, frags, 1)
	assert.Contains(t, frags[0].Text, "Nylon\n   - Address: N/A")
	places.AssertExpectations(t)
}

func TestTurn_PlaceDetailFallbackError(t *testing.T) {
	caps := &mockCaps{}
	question := "Hours for Atlantis Cafe?"
	caps.On("Route", mock.Anything, question).Return(schema.DecisionPlaceDetail, nil)
	places := &mockAdapters{}
	places.On("GeocodePlace", mock.Anything, question).Return(schema.GeocodeResult{PlaceID: "bad"}, nil)
	places.On("GetPlaceDetail", mock.Anything, "bad").
		Return(schema.PlaceDetail{}, internal.NewAdapterError("places", internal.ErrNotFound, nil, "Error retrieving details for placeId 'bad'"))

	frags, err := newTestService(caps, places).Turn(context.Background(), NewSession("s1"), question)

	require.NoError(t, err)
	require.Len(t, frags, 1)
	assert.Equal(t, "Error retrieving details for placeId 'bad'", frags[0].Text)
}

func TestTurn_PhotosResolved(t *testing.T) {
	caps := &mockCaps{}
	caps.On("Route", mock.Anything, "bakeries").Return(schema.DecisionSearchByText, nil)
	places := &mockAdapters{}
	places.On("FindPlacesByText", mock.Anything, "bakeries", (*schema.LatLng)(nil), 3000).Return([]schema.PlaceRecord{
		{Name: "A", PhotoRef: "places/a/photos/1"},
		{Name: "B", PhotoRef: "places/b/photos/1"},
		{Name: "C"},
	}, nil)
	resolver := photoFunc(func(ref string) string {
		if ref == "places/a/photos/1" {
			return "https://img/a"
		}
		return photos.NotFound
	})

	svc := NewService(Capabilities{Router: caps, Answerer: caps}, places, places, NewNormalizer(resolver, 4))
	frags, err := svc.Turn(context.Background(), NewSession("s1"), "bakeries")

	require.NoError(t, err)
	require.Len(t, frags, 3)
	assert.Equal(t, "https://img/a", frags[0].PhotoURL)
	assert.True(t, frags[0].HasPhoto())
	assert.Equal(t, photos.NotFound, frags[1].PhotoURL)
	assert.False(t, frags[1].HasPhoto())
	assert.Empty(t, frags[2].PhotoURL)
	assert.Equal(t, "3. C\n   - Address: N/A\n   - Rating: N/A\n   - Google Maps: N/A", frags[2].Text)
}

func TestTurn_NewResponsesSuffix(t *testing.T) {
	caps := &mockCaps{}
	caps.On("Route", mock.Anything, mock.Anything).Return(schema.DecisionNoTool, nil)
	caps.On("Answer", mock.Anything, "first").Return("one", nil)
	caps.On("Answer", mock.Anything, "second").Return("two", nil)

	svc := newTestService(caps, &mockAdapters{})
	sess := NewSession("s1")

	_, err := svc.Turn(context.Background(), sess, "first")
	require.NoError(t, err)
	_, err = svc.Turn(context.Background(), sess, "second")
	require.NoError(t, err)

	pending := sess.NewResponses()
	require.Len(t, pending, 1)
	assert.Equal(t, "two", pending[0][0].Text)

	drained := sess.DrainNew()
	assert.Len(t, drained, 1)
	assert.Empty(t, sess.NewResponses())
	assert.Len(t, sess.AIResponses(), 2)
}

func TestTurn_PersistsToStore(t *testing.T) {
	caps := &mockCaps{}
	caps.On("Route", mock.Anything, "where is Nylon").Return(schema.DecisionGeocode, nil)
	caps.On("CallTools", mock.Anything, "where is Nylon", schema.LatLng{}, mock.Anything).Return(ToolRun{
		Invocations: []harness.Invocation{
			{Call: ports.ToolCall{ID: "call_1_0", Name: "geocode_place"}, Output: schema.GeocodeResult{Lat: 1.27, Lng: 103.83, PlaceID: "ChIJ1"}},
		},
		Turns: []ChatTurn{
			{Role: RoleAI, ToolCalls: []ToolInvocation{{ID: "call_1_0", Name: "geocode_place"}}},
			{Role: RoleTool, Content: `{"lat":1.27}`, ToolCallID: "call_1_0", Name: "geocode_place"},
		},
	}, nil)
	store := &recordingStore{}

	svc := NewService(Capabilities{Router: caps, Answerer: caps, ToolCaller: caps}, &mockAdapters{}, &mockAdapters{}, nil, WithStore(store))
	frags, err := svc.Turn(context.Background(), NewSession("s1"), "where is Nylon")

	require.NoError(t, err)
	assert.Contains(t, frags[0].Text, "Location: 1.27, 103.83")

	require.Len(t, store.turns, 3)
	assert.Equal(t, "user", store.turns[0].Role)
	assert.Equal(t, "assistant", store.turns[1].Role)
	assert.Contains(t, store.turns[1].Content, "geocode_place")
	assert.Equal(t, "geocode", store.turns[2].Decision)
	assert.Equal(t, []string{`geocode_place: {"lat":1.27}`}, store.artifacts)
}

func TestTurn_PersistStopsOnUnencodableToolCalls(t *testing.T) {
	caps := &mockCaps{}
	caps.On("Route", mock.Anything, "where is Nylon").Return(schema.DecisionGeocode, nil)
	caps.On("CallTools", mock.Anything, "where is Nylon", schema.LatLng{}, mock.Anything).Return(ToolRun{
		Invocations: []harness.Invocation{
			{Call: ports.ToolCall{ID: "call_1_0", Name: "geocode_place"}, Output: schema.GeocodeResult{Lat: 1.27, Lng: 103.83, PlaceID: "ChIJ1"}},
		},
		Turns: []ChatTurn{
			{Role: RoleAI, ToolCalls: []ToolInvocation{{ID: "call_1_0", Name: "geocode_place", Args: json.RawMessage(`{"name":`)}}},
			{Role: RoleTool, Content: `{"lat":1.27}`, ToolCallID: "call_1_0", Name: "geocode_place"},
		},
	}, nil)
	store := &recordingStore{}

	svc := NewService(Capabilities{Router: caps, Answerer: caps, ToolCaller: caps}, &mockAdapters{}, &mockAdapters{}, nil, WithStore(store))
	sess := NewSession("s1")
	frags, err := svc.Turn(context.Background(), sess, "where is Nylon")

	require.NoError(t, err)
	assert.Contains(t, frags[0].Text, "Location: 1.27, 103.83")
	assert.Len(t, sess.UserPrompts(), 1)

	require.Len(t, store.turns, 1)
	assert.Equal(t, "user", store.turns[0].Role)
	assert.Empty(t, store.artifacts)
}

func TestStarters(t *testing.T) {
	caps := &mockCaps{}
	caps.On("Starters", mock.Anything).Return([]string{"a?", "b?", "c?"}, nil).Once()
	svc := newTestService(caps, &mockAdapters{})
	sess := NewSession("s1")

	assert.Equal(t, []string{"a?", "b?", "c?"}, svc.Starters(context.Background(), sess))
	// Cached on the session.
	assert.Equal(t, []string{"a?", "b?", "c?"}, svc.Starters(context.Background(), sess))
	caps.AssertNumberOfCalls(t, "Starters", 1)
}

func TestStarters_Fallback(t *testing.T) {
	caps := &mockCaps{}
	caps.On("Starters", mock.Anything).Return(nil, internal.ErrMalformedResponse)

	qs := newTestService(caps, &mockAdapters{}).Starters(context.Background(), NewSession("s1"))

	assert.Equal(t, FallbackStarters, qs)
	assert.Len(t, qs, 3)
}

func TestNearbyPlaces(t *testing.T) {
	places := &mockAdapters{}
	places.On("FindPlacesNearby", mock.Anything, 1.3, 103.8, "bakery", 1500).Return([]schema.PlaceRecord{{Name: "Tiong Bahru Bakery"}}, nil)

	svc := newTestService(&mockCaps{}, places, WithRadius(1500))
	frags := svc.NearbyPlaces(context.Background(), schema.LatLng{Lat: 1.3, Lng: 103.8}, "bakery")

	require.Len(t, frags, 1)
	assert.Equal(t, "1. Tiong Bahru Bakery\n   - Address: N/A\n   - Rating: N/A\n   - Google Maps: N/A", frags[0].Text)
}

func (m *mockCaps) capabilities() Capabilities {
	return Capabilities{Rephraser: m, Router: m, Answerer: m}
}
