// Package chat implements the conversational orchestrator: per-session
// history, the rephrase → route → adapter → normalize turn pipeline, and the
// display fragments handed to the presentation layer.
package chat

import (
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/ZanzyTHEbar/coffee-gpt/cgpt/photos"
	"github.com/ZanzyTHEbar/coffee-gpt/cgpt/schema"
)

// Role tags a ChatTurn.
type Role string

const (
	RoleHuman Role = "human"
	RoleAI    Role = "ai"
	RoleTool  Role = "tool"
)

// ToolInvocation is a tool call requested by an AI turn.
type ToolInvocation struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args,omitempty"`
}

// ChatTurn is one entry of the session history.
type ChatTurn struct {
	Role       Role             `json:"role"`
	Content    string           `json:"content"`
	ToolCalls  []ToolInvocation `json:"tool_calls,omitempty"`   // ai turns only
	ToolCallID string           `json:"tool_call_id,omitempty"` // tool turns only
	Name       string           `json:"name,omitempty"`         // tool turns only
}

// DisplayFragment is the smallest renderable unit of an AI response.
// PhotoURL is empty when the fragment has no image and photos.NotFound when
// resolution failed; both render as "no image".
type DisplayFragment struct {
	Text     string `json:"text"`
	PhotoURL string `json:"photo_url,omitempty"`
}

// HasPhoto reports whether the fragment carries a usable image URL.
func (f DisplayFragment) HasPhoto() bool {
	return !photos.IsNotFound(f.PhotoURL)
}

// JoinText concatenates fragment texts, separated by blank lines.
func JoinText(frags []DisplayFragment) string {
	parts := make([]string, 0, len(frags))
	for _, f := range frags {
		parts = append(parts, f.Text)
	}
	return strings.Join(parts, "\n\n")
}

var ErrEmptyMessage = errors.New("chat: message is empty")

// Session is one user conversation.
//
// Turns are serialized by turnMu; mu guards the state so readers can
// snapshot a session while a turn is in flight.
type Session struct {
	id        string
	createdAt time.Time

	turnMu sync.Mutex

	mu           sync.RWMutex
	history      []ChatTurn
	userPrompts  []string
	aiResponses  [][]DisplayFragment
	newResponses [][]DisplayFragment
	seq          uint64 // bumped on every commit
	location     schema.LatLng
	starters     []string
	lastActive   time.Time
}

// NewSession creates an empty session.
func NewSession(id string) *Session {
	now := time.Now()
	return &Session{id: id, createdAt: now, lastActive: now}
}

func (s *Session) ID() string           { return s.id }
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// LastActive is the time of the last committed turn or location update.
func (s *Session) LastActive() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActive
}

// Location returns the cached geolocation, (0,0) when unknown.
func (s *Session) Location() schema.LatLng {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.location
}

// SetLocation caches the user's geolocation for later turns.
func (s *Session) SetLocation(loc schema.LatLng) error {
	if err := loc.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.location = loc
	s.lastActive = time.Now()
	s.mu.Unlock()
	return nil
}

func (s *Session) Starters() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.starters...)
}

func (s *Session) SetStarters(qs []string) {
	s.mu.Lock()
	s.starters = append([]string(nil), qs...)
	s.mu.Unlock()
}

// History returns a copy of the chat turns.
func (s *Session) History() []ChatTurn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]ChatTurn(nil), s.history...)
}

func (s *Session) UserPrompts() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.userPrompts...)
}

func (s *Session) AIResponses() [][]DisplayFragment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyResponses(s.aiResponses)
}

// NewResponses returns the responses not yet rendered (zero or one).
func (s *Session) NewResponses() [][]DisplayFragment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyResponses(s.newResponses)
}

// DrainNew returns the pending responses and clears them. Called once per
// render pass.
func (s *Session) DrainNew() [][]DisplayFragment {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.newResponses
	s.newResponses = nil
	return out
}

// Pending returns the newest unrendered response with the commit sequence
// it belongs to. ok is false when nothing is pending.
func (s *Session) Pending() (frags []DisplayFragment, seq uint64, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.newResponses) == 0 {
		return nil, s.seq, false
	}
	last := s.newResponses[len(s.newResponses)-1]
	return append([]DisplayFragment(nil), last...), s.seq, true
}

// DrainPending clears the pending responses only if no turn committed since
// Pending returned seq. It reports how many responses were cleared.
func (s *Session) DrainPending(seq uint64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seq != seq {
		return 0
	}
	n := len(s.newResponses)
	s.newResponses = nil
	return n
}

// commit applies one finished turn. The new response replaces any
// undrained one so NewResponses stays a suffix of at most one element.
func (s *Session) commit(prompt string, turns []ChatTurn, frags []DisplayFragment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, turns...)
	s.userPrompts = append(s.userPrompts, prompt)
	s.aiResponses = append(s.aiResponses, frags)
	s.newResponses = [][]DisplayFragment{frags}
	s.seq++
	s.lastActive = time.Now()
}

// Exchange pairs a prompt with its response.
type Exchange struct {
	Prompt    string            `json:"prompt"`
	Fragments []DisplayFragment `json:"fragments"`
}

// Snapshot is a read-only copy of a session.
type Snapshot struct {
	ID        string        `json:"id"`
	CreatedAt time.Time     `json:"created_at"`
	Location  schema.LatLng `json:"location"`
	Starters  []string      `json:"starters"`
	Exchanges []Exchange    `json:"exchanges"`
}

func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{
		ID:        s.id,
		CreatedAt: s.createdAt,
		Location:  s.location,
		Starters:  append([]string(nil), s.starters...),
		Exchanges: make([]Exchange, len(s.userPrompts)),
	}
	for i, p := range s.userPrompts {
		snap.Exchanges[i] = Exchange{Prompt: p, Fragments: append([]DisplayFragment(nil), s.aiResponses[i]...)}
	}
	return snap
}

func copyResponses(in [][]DisplayFragment) [][]DisplayFragment {
	if in == nil {
		return nil
	}
	out := make([][]DisplayFragment, len(in))
	for i, r := range in {
		out[i] = append([]DisplayFragment(nil), r...)
	}
	return out
}

// Transcript flattens turns into role-prefixed lines.
func Transcript(turns []ChatTurn) string {
	var sb strings.Builder
	for _, t := range turns {
		content := strings.TrimSpace(t.Content)
		if content == "" {
			continue
		}
		switch t.Role {
		case RoleHuman:
			sb.WriteString("Human: ")
		case RoleAI:
			sb.WriteString("AI: ")
		case RoleTool:
			sb.WriteString("Tool")
			if t.Name != "" {
				sb.WriteString(" (" + t.Name + ")")
			}
			sb.WriteString(": ")
		}
		sb.WriteString(content)
		sb.WriteByte('\n')
	}
	return strings.TrimSuffix(sb.String(), "\n")
}
