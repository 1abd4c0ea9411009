package chat

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/rs/zerolog"

	internal "github.com/ZanzyTHEbar/coffee-gpt/cgpt"
	"github.com/ZanzyTHEbar/coffee-gpt/cgpt/generation/harness"
	ports "github.com/ZanzyTHEbar/coffee-gpt/cgpt/generation/harness/ports"
	"github.com/ZanzyTHEbar/coffee-gpt/cgpt/generation/harness/tools"
	"github.com/ZanzyTHEbar/coffee-gpt/cgpt/metrics"
	"github.com/ZanzyTHEbar/coffee-gpt/cgpt/schema"
)

// Places is the places adapter surface used by the orchestrator.
type Places interface {
	tools.Geocoder
	tools.PlaceDetailer
	tools.PlaceSearcher
}

// Service runs chat turns.
type Service struct {
	caps       Capabilities
	places     Places
	web        tools.WebSearcher
	normalizer *Normalizer
	store      ports.ConversationStore
	radius     int
	tail       int
	logger     zerolog.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithStore logs committed turns to a conversation store.
func WithStore(store ports.ConversationStore) ServiceOption {
	return func(s *Service) {
		if store != nil {
			s.store = store
		}
	}
}

// WithRadius sets the place-search radius in meters.
func WithRadius(m int) ServiceOption {
	return func(s *Service) {
		if m > 0 {
			s.radius = m
		}
	}
}

// WithTranscriptTail limits how many history turns reach the rephraser.
// Zero or less sends the whole history.
func WithTranscriptTail(n int) ServiceOption {
	return func(s *Service) { s.tail = n }
}

func WithLogger(l zerolog.Logger) ServiceOption {
	return func(s *Service) { s.logger = l }
}

// NewService wires the orchestrator.
func NewService(caps Capabilities, places Places, web tools.WebSearcher, normalizer *Normalizer, opts ...ServiceOption) *Service {
	if normalizer == nil {
		normalizer = NewNormalizer(nil, 1)
	}
	s := &Service{
		caps:       caps,
		places:     places,
		web:        web,
		normalizer: normalizer,
		store:      harness.NoOpStore(),
		radius:     internal.DefaultRadiusMeters,
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Normalizer returns the normalizer used for turn results.
func (s *Service) Normalizer() *Normalizer { return s.normalizer }

// Turn runs one user message through rephrase → route → adapter → normalize
// and commits the result to the session.
//
// Adapter and model failures become fragments; the only errors returned are
// an empty message and ctx cancellation, in which case the session is left
// untouched.
func (s *Service) Turn(ctx context.Context, sess *Session, userText string) ([]DisplayFragment, error) {
	userText = strings.TrimSpace(userText)
	if userText == "" {
		return nil, ErrEmptyMessage
	}

	sess.turnMu.Lock()
	defer sess.turnMu.Unlock()

	start := time.Now()
	log := s.logger.With().Str("session", sess.ID()).Logger()

	staged := []ChatTurn{{Role: RoleHuman, Content: userText}}
	question := s.rephrase(ctx, sess, staged[0], log)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	decision, err := s.caps.Router.Route(ctx, question)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}

	var (
		frags []DisplayFragment
		extra []ChatTurn
		label string
	)
	switch {
	case err != nil:
		log.Warn().Err(err).Msg("routing failed")
		frags = s.normalizer.Error(err)
		label = "error"
	case decision == schema.DecisionNotRelated:
		frags = s.normalizer.Refusal()
		label = decision.String()
	default:
		frags, extra = s.dispatch(ctx, decision, question, sess.Location(), log)
		label = decision.String()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(frags) == 0 {
		frags = s.normalizer.NoResults()
	}

	staged = append(staged, extra...)
	staged = append(staged, ChatTurn{Role: RoleAI, Content: JoinText(frags)})
	sess.commit(userText, staged, frags)

	metrics.TurnCount.WithLabelValues(label).Inc()
	metrics.TurnDuration.Observe(time.Since(start).Seconds())
	log.Info().
		Str("decision", label).
		Str("question", question).
		Int("fragments", len(frags)).
		Dur("duration", time.Since(start)).
		Msg("turn completed")

	s.persist(ctx, sess.ID(), label, staged, log)
	return frags, nil
}

func (s *Service) rephrase(ctx context.Context, sess *Session, latest ChatTurn, log zerolog.Logger) string {
	if s.caps.Rephraser == nil {
		return latest.Content
	}
	history := sess.History()
	if s.tail > 0 && len(history) > s.tail {
		history = history[len(history)-s.tail:]
	}
	transcript := Transcript(append(history, latest))

	q, err := s.caps.Rephraser.Rephrase(ctx, transcript, latest.Content)
	if err != nil {
		log.Debug().Err(err).Msg("rephrase failed, using input verbatim")
		return latest.Content
	}
	if q = strings.TrimSpace(q); q == "" {
		return latest.Content
	}
	return q
}

// dispatch invokes the single adapter path for decision.
func (s *Service) dispatch(ctx context.Context, decision schema.Decision, question string, loc schema.LatLng, log zerolog.Logger) ([]DisplayFragment, []ChatTurn) {
	switch decision {
	case schema.DecisionSearchByText:
		var bias *schema.LatLng
		if !loc.IsZero() {
			bias = &loc
		}
		records, err := s.places.FindPlacesByText(ctx, question, bias, s.radius)
		observe(tools.FindPlacesByTextName, err)
		if err != nil {
			return s.normalizer.Error(err), nil
		}
		return s.normalizer.Places(ctx, records), nil

	case schema.DecisionWebSearch:
		records, err := s.web.WebSearch(ctx, question)
		observe(tools.WebSearchName, err)
		if err != nil {
			return s.normalizer.Error(err), nil
		}
		return s.normalizer.SearchResults(records), nil

	case schema.DecisionGeocode:
		return s.geocode(ctx, question, loc, log)

	case schema.DecisionPlaceDetail:
		return s.placeDetail(ctx, question, loc, log)

	default:
		answer, err := s.caps.Answerer.Answer(ctx, question)
		if err != nil {
			log.Warn().Err(err).Msg("answer failed")
			return s.normalizer.Error(err), nil
		}
		return s.normalizer.Text(answer), nil
	}
}

func (s *Service) geocode(ctx context.Context, question string, loc schema.LatLng, log zerolog.Logger) ([]DisplayFragment, []ChatTurn) {
	run, ok := s.runTools(ctx, question, loc, log, tools.NewGeocodeTool(s.places))
	if ok {
		if inv, found := lastInvocation(run.Invocations, tools.GeocodePlaceName); found {
			if inv.Err != nil {
				return s.normalizer.Error(inv.Err), run.Turns
			}
			if g, isGeo := inv.Output.(schema.GeocodeResult); isGeo {
				return s.normalizer.Geocode(g), run.Turns
			}
		}
	}

	g, err := s.places.GeocodePlace(ctx, question)
	observe(tools.GeocodePlaceName, err)
	if err != nil {
		return s.normalizer.Error(err), run.Turns
	}
	return s.normalizer.Geocode(g), run.Turns
}

func (s *Service) placeDetail(ctx context.Context, question string, loc schema.LatLng, log zerolog.Logger) ([]DisplayFragment, []ChatTurn) {
	run, ok := s.runTools(ctx, question, loc, log,
		tools.NewGeocodeTool(s.places),
		tools.NewPlaceDetailTool(s.places),
		tools.NewNearbyTool(s.places),
	)
	if ok {
		if inv, found := lastInvocation(run.Invocations, tools.GetPlaceDetailName); found {
			if inv.Err != nil {
				return s.normalizer.Error(inv.Err), run.Turns
			}
			if d, isDetail := inv.Output.(schema.PlaceDetail); isDetail {
				return s.normalizer.Detail(d), run.Turns
			}
		}
		if inv, found := lastInvocation(run.Invocations, tools.FindPlacesNearbyName); found && inv.Err == nil {
			if records, isList := inv.Output.([]schema.PlaceRecord); isList {
				return s.normalizer.Places(ctx, records), run.Turns
			}
		}
	}

	g, err := s.places.GeocodePlace(ctx, question)
	observe(tools.GeocodePlaceName, err)
	if err != nil {
		return s.normalizer.Error(err), run.Turns
	}
	d, err := s.places.GetPlaceDetail(ctx, g.PlaceID)
	observe(tools.GetPlaceDetailName, err)
	if err != nil {
		return s.normalizer.Error(err), run.Turns
	}
	return s.normalizer.Detail(d), run.Turns
}

// runTools lets the model drive the given tools. ok is false when no tool
// loop ran; callers then fall back to calling the adapters directly.
func (s *Service) runTools(ctx context.Context, question string, loc schema.LatLng, log zerolog.Logger, ts ...ports.Tool) (ToolRun, bool) {
	if s.caps.ToolCaller == nil {
		return ToolRun{}, false
	}
	run, err := s.caps.ToolCaller.CallTools(ctx, question, loc, ts)
	if err != nil {
		if !isContextErr(err) {
			log.Warn().Err(err).Msg("tool loop failed, calling adapter directly")
		}
		return ToolRun{}, false
	}
	for _, inv := range run.Invocations {
		observe(inv.Call.Name, inv.Err)
	}
	return run, true
}

func (s *Service) persist(ctx context.Context, conversationID, decision string, turns []ChatTurn, log zerolog.Logger) {
	ctx = context.WithoutCancel(ctx)
	for _, t := range turns {
		var err error
		switch t.Role {
		case RoleTool:
			err = s.store.AppendToolArtifact(ctx, conversationID, t.Name, []byte(t.Content))
		case RoleHuman:
			err = s.store.SaveTurn(ctx, conversationID, ports.Turn{Role: "user", Content: t.Content, CreatedAt: time.Now()})
		case RoleAI:
			content := t.Content
			if len(t.ToolCalls) > 0 {
				calls, err := json.Marshal(t.ToolCalls)
				if err != nil {
					log.Warn().Err(err).Msg("failed to encode tool calls")
					return
				}
				content = string(calls)
			}
			err = s.store.SaveTurn(ctx, conversationID, ports.Turn{Role: "assistant", Content: content, Decision: decision, CreatedAt: time.Now()})
		}
		if err != nil {
			log.Warn().Err(err).Msg("failed to persist turn")
			return
		}
	}
}

// Starters generates the session's starter questions, falling back to a
// static set.
func (s *Service) Starters(ctx context.Context, sess *Session) []string {
	if qs := sess.Starters(); len(qs) > 0 {
		return qs
	}
	qs := FallbackStarters
	if s.caps.Answerer != nil {
		generated, err := s.caps.Answerer.Starters(ctx)
		if err == nil && len(generated) == 3 {
			qs = generated
		} else if err != nil {
			s.logger.Debug().Err(err).Msg("starter generation failed")
		}
	}
	sess.SetStarters(qs)
	return sess.Starters()
}

// NearbyPlaces searches around a location and normalizes the result.
func (s *Service) NearbyPlaces(ctx context.Context, loc schema.LatLng, query string) []DisplayFragment {
	records, err := s.places.FindPlacesNearby(ctx, loc.Lat, loc.Lng, query, s.radius)
	observe(tools.FindPlacesNearbyName, err)
	if err != nil {
		return s.normalizer.Error(err)
	}
	return s.normalizer.Places(ctx, records)
}

func observe(adapter string, err error) {
	outcome := metrics.OutcomeOK
	if err != nil {
		outcome = metrics.OutcomeError
	}
	metrics.AdapterCalls.WithLabelValues(adapter, outcome).Inc()
}
