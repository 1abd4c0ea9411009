package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	internal "github.com/ZanzyTHEbar/coffee-gpt/cgpt"
	"github.com/ZanzyTHEbar/coffee-gpt/cgpt/generation/harness"
	ports "github.com/ZanzyTHEbar/coffee-gpt/cgpt/generation/harness/ports"
	"github.com/ZanzyTHEbar/coffee-gpt/cgpt/schema"
)

// Rephraser rewrites a follow-up into a standalone question.
type Rephraser interface {
	Rephrase(ctx context.Context, transcript, latest string) (string, error)
}

// Router picks the single capability a question needs.
type Router interface {
	Route(ctx context.Context, question string) (schema.Decision, error)
}

// Answerer produces free-text answers and starter questions.
type Answerer interface {
	Answer(ctx context.Context, question string) (string, error)
	Starters(ctx context.Context) ([]string, error)
}

// ToolRun is the outcome of a bounded model tool loop.
type ToolRun struct {
	Text        string
	Invocations []harness.Invocation
	Turns       []ChatTurn // ai tool-call turns and tool-result turns, in order
}

// ToolCaller lets the model drive the given tools until it stops calling them.
type ToolCaller interface {
	CallTools(ctx context.Context, question string, loc schema.LatLng, tools []ports.Tool) (ToolRun, error)
}

// Capabilities groups the model-backed collaborators of a Service.
type Capabilities struct {
	Rephraser  Rephraser
	Router     Router
	Answerer   Answerer
	ToolCaller ToolCaller
}

// LLM implements every capability on top of the harness orchestrator.
type LLM struct {
	orch   *harness.HarnessOrchestrator
	policy harness.Policy
	logger zerolog.Logger
}

// NewLLM creates the model-backed capabilities. A nil policy uses the
// harness defaults.
func NewLLM(orch *harness.HarnessOrchestrator, policy *harness.Policy, logger zerolog.Logger) *LLM {
	if policy == nil {
		policy = harness.DefaultPolicy()
	}
	return &LLM{
		orch:   orch,
		policy: *policy,
		logger: logger.With().Str("component", "llm").Logger(),
	}
}

// Capabilities returns l in every role.
func (l *LLM) Capabilities() Capabilities {
	return Capabilities{Rephraser: l, Router: l, Answerer: l, ToolCaller: l}
}

func (l *LLM) ask(ctx context.Context, system, user string, mutate func(*harness.Request)) (*harness.Response, error) {
	policy := l.policy
	req := &harness.Request{
		Conversation: &harness.Conversation{
			Messages: []ports.PromptMessage{{Role: "user", Content: user}},
		},
		System: system,
		Policy: &policy,
	}
	if mutate != nil {
		mutate(req)
	}
	return l.orch.Orchestrate(ctx, req)
}

func (l *LLM) Rephrase(ctx context.Context, transcript, latest string) (string, error) {
	if strings.TrimSpace(transcript) == "" {
		return latest, nil
	}
	resp, err := l.ask(ctx, rephrasePrompt, rephraseInput(transcript, latest), nil)
	if err != nil {
		return "", err
	}
	q := strings.Trim(strings.TrimSpace(resp.Text), `"`)
	if q == "" {
		return "", fmt.Errorf("%w: empty rephrase", internal.ErrMalformedResponse)
	}
	return q, nil
}

func (l *LLM) Route(ctx context.Context, question string) (schema.Decision, error) {
	resp, err := l.ask(ctx, routingPrompt(), question, func(r *harness.Request) {
		r.ResponseSchema = schema.RoutingSchema
		r.ResponseSchemaName = "tool_routing"
		r.Options = &ports.Options{Temperature: 0.01}
	})
	if err != nil {
		return "", err
	}
	raw := resp.JSON
	if len(raw) == 0 {
		raw = []byte(resp.Text)
	}
	return schema.DecodeDecision(raw)
}

func (l *LLM) Answer(ctx context.Context, question string) (string, error) {
	resp, err := l.ask(ctx, SystemPrompt, question, nil)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Text), nil
}

func (l *LLM) Starters(ctx context.Context) ([]string, error) {
	resp, err := l.ask(ctx, SystemPrompt, starterPrompt, func(r *harness.Request) {
		r.ResponseSchema = schema.StarterQuestionsSchema
		r.ResponseSchemaName = "starter_questions"
		r.NoCache = true
		r.Options = &ports.Options{Temperature: 1.0}
	})
	if err != nil {
		return nil, err
	}
	return schema.DecodeStarterQuestions(resp.JSON)
}

func (l *LLM) CallTools(ctx context.Context, question string, loc schema.LatLng, tools []ports.Tool) (ToolRun, error) {
	resp, err := l.ask(ctx, SystemPrompt+"\n\n"+locationHint(loc), question, func(r *harness.Request) {
		r.Tools = tools
	})
	if err != nil {
		return ToolRun{}, err
	}
	return ToolRun{
		Text:        strings.TrimSpace(resp.Text),
		Invocations: resp.Invocations,
		Turns:       turnsFromMessages(resp.Messages),
	}, nil
}

func turnsFromMessages(msgs []ports.PromptMessage) []ChatTurn {
	turns := make([]ChatTurn, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case "assistant":
			t := ChatTurn{Role: RoleAI, Content: m.Content}
			for _, c := range m.ToolCalls {
				t.ToolCalls = append(t.ToolCalls, ToolInvocation{ID: c.ID, Name: c.Name, Args: c.Args})
			}
			turns = append(turns, t)
		case "tool":
			turns = append(turns, ChatTurn{Role: RoleTool, Content: m.Content, ToolCallID: m.ToolCallID, Name: m.Name})
		}
	}
	return turns
}

// lastInvocation returns the most recent invocation of the named tool.
func lastInvocation(invs []harness.Invocation, name string) (harness.Invocation, bool) {
	for i := len(invs) - 1; i >= 0; i-- {
		if invs[i].Call.Name == name {
			return invs[i], true
		}
	}
	return harness.Invocation{}, false
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
