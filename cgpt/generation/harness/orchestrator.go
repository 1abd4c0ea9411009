package harness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	internal "github.com/ZanzyTHEbar/coffee-gpt/cgpt"
	ports "github.com/ZanzyTHEbar/coffee-gpt/cgpt/generation/harness/ports"

	"github.com/OneOfOne/xxhash"
	"github.com/sourcegraph/conc/pool"
)

var (
	ErrMaxIterations = errors.New("harness: max iterations exceeded")
	ErrMaxToolDepth  = errors.New("harness: max tool depth exceeded")
	// ErrInvalidOutput wraps the malformed-response sentinel so callers can
	// classify schema failures with errors.Is.
	ErrInvalidOutput = fmt.Errorf("harness: output failed validation: %w", internal.ErrMalformedResponse)
)

// Conversation represents the current state of a conversation.
type Conversation struct {
	ID       string
	Messages []ports.PromptMessage
}

// Request configures the orchestration run.
type Request struct {
	Conversation *Conversation
	System       string
	Context      []string
	Snippets     []Snippet // packed into Context within the assembler budget
	Tools        []ports.Tool
	Policy       *Policy
	Options      *ports.Options // sampling overrides; zero fields keep the defaults

	// ResponseSchema, when set, requires the final text to be JSON matching it.
	ResponseSchema     []byte
	ResponseSchemaName string

	NoCache bool // skip the completion cache for this request
	Persist bool // save the final assistant turn to the conversation store
}

// Policy controls orchestration behavior.
type Policy struct {
	MaxToolDepth      int           // max rounds of tool execution
	MaxIterations     int           // hard cap on provider calls per request
	ToolTimeout       time.Duration // per-tool timeout
	ToolConcurrency   int           // tools executed in parallel per round
	RequireJSONOutput bool          // final text must contain JSON even without a schema
	Deterministic     bool          // fixed seed on the first call
	RetryCount        int           // provider call retries
	RetryBackoff      time.Duration // base delay between retries
}

// DefaultPolicy returns sensible defaults.
func DefaultPolicy() *Policy {
	return &Policy{
		MaxToolDepth:      3,
		MaxIterations:     5,
		ToolTimeout:       15 * time.Second,
		ToolConcurrency:   4,
		RequireJSONOutput: false,
		Deterministic:     false,
		RetryCount:        1,
		RetryBackoff:      200 * time.Millisecond,
	}
}

// Invocation records one executed tool call and its outcome.
type Invocation struct {
	Call   ports.ToolCall
	Output any
	Err    error
}

// Response is the final output of the orchestrator.
type Response struct {
	Text        string
	JSON        json.RawMessage       `json:",omitempty"`
	Invocations []Invocation          `json:"-"`
	Messages    []ports.PromptMessage `json:"-"` // assistant/tool messages produced by the loop
	Iterations  int
	Usage       *ports.Usage
}

// HarnessOrchestrator coordinates the full tool-calling loop.
type HarnessOrchestrator struct {
	provider   ports.Provider
	builder    *PromptBuilder
	assembler  *ContextAssembler
	store      ports.ConversationStore
	cache      ports.Cache
	limiter    ports.RateLimiter
	tracer     ports.Tracer
	parser     *OutputParser
	validator  *JSONValidator
	guardrails *Guardrails
	cacheTTL   int
	defaults   ports.Options
}

// OrchestratorOption customizes a HarnessOrchestrator.
type OrchestratorOption func(*HarnessOrchestrator)

// WithGuardrails validates tool calls and sanitizes final output.
func WithGuardrails(g *Guardrails) OrchestratorOption {
	return func(o *HarnessOrchestrator) { o.guardrails = g }
}

// WithCacheTTL sets the completion cache TTL in seconds.
func WithCacheTTL(seconds int) OrchestratorOption {
	return func(o *HarnessOrchestrator) { o.cacheTTL = seconds }
}

// WithDefaultOptions replaces the sampling defaults used for every call.
func WithDefaultOptions(opts ports.Options) OrchestratorOption {
	return func(o *HarnessOrchestrator) { o.defaults = opts }
}

// NewHarnessOrchestrator creates a new orchestrator with dependencies.
func NewHarnessOrchestrator(
	provider ports.Provider,
	builder *PromptBuilder,
	assembler *ContextAssembler,
	store ports.ConversationStore,
	cache ports.Cache,
	limiter ports.RateLimiter,
	tracer ports.Tracer,
	opts ...OrchestratorOption,
) *HarnessOrchestrator {
	o := &HarnessOrchestrator{
		provider:  provider,
		builder:   builder,
		assembler: assembler,
		store:     store,
		cache:     cache,
		limiter:   limiter,
		tracer:    tracer,
		parser:    NewOutputParser(),
		validator: NewJSONValidator(),
		cacheTTL:  3600,
		defaults: ports.Options{
			MaxNewTokens: 1024,
			Temperature:  0.7,
			TopP:         0.9,
		},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// SetProvider swaps the provider. Used when the provider is built after the
// rest of the harness has been wired.
func (o *HarnessOrchestrator) SetProvider(p ports.Provider) { o.provider = p }

// Orchestrate runs the full tool-calling loop to completion.
func (o *HarnessOrchestrator) Orchestrate(ctx context.Context, req *Request) (resp *Response, err error) {
	if req.Conversation == nil {
		return nil, errors.New("harness: conversation is required")
	}
	if o.provider == nil {
		return nil, errors.New("harness: no provider configured")
	}
	if req.Policy == nil {
		req.Policy = DefaultPolicy()
	}

	release, err := o.limiter.Acquire(ctx, "orchestrate")
	if err != nil {
		return nil, fmt.Errorf("rate limit exceeded: %w", err)
	}
	defer release()

	ctx, finish := o.tracer.StartSpan(ctx, "orchestrate", map[string]any{
		"conversation_id": req.Conversation.ID,
		"tool_count":      len(req.Tools),
		"structured":      len(req.ResponseSchema) > 0,
	})
	defer func() { finish(err) }()

	// Tool runs have side effects and carry live outputs; never serve them from cache.
	cacheable := !req.NoCache && len(req.Tools) == 0
	cacheKey := o.buildCacheKey(req)
	if cacheable {
		if cached, ok := o.cache.Get(ctx, cacheKey); ok {
			if hit, perr := o.parseCachedResponse(cached); perr == nil {
				o.tracer.Event(ctx, "cache_hit", map[string]any{"key": cacheKey})
				return hit, nil
			}
		}
	}

	result, err := o.runLoop(ctx, req, o.buildInitialPrompt(req))
	if err != nil {
		return nil, err
	}

	if cacheable {
		if resultBytes, merr := json.Marshal(result); merr == nil {
			if serr := o.cache.Set(ctx, cacheKey, resultBytes, o.cacheTTL); serr != nil {
				o.tracer.Event(ctx, "cache_error", map[string]any{"error": serr.Error()})
			}
		}
	}

	if req.Persist {
		if serr := o.store.SaveTurn(ctx, req.Conversation.ID, ports.Turn{
			Role:      "assistant",
			Content:   result.Text,
			CreatedAt: time.Now(),
		}); serr != nil {
			o.tracer.Event(ctx, "store_error", map[string]any{"error": serr.Error()})
		}
	}

	return result, nil
}

// StreamOrchestrate streams a single tool-free completion. Tool loops need the
// full completion to decide the next step, so requests with tools are rejected.
func (o *HarnessOrchestrator) StreamOrchestrate(ctx context.Context, req *Request) (<-chan ports.CompletionChunk, error) {
	if len(req.Tools) > 0 {
		return nil, errors.New("harness: streaming does not support tool calls")
	}
	if req.Conversation == nil {
		return nil, errors.New("harness: conversation is required")
	}
	if o.provider == nil {
		return nil, errors.New("harness: no provider configured")
	}
	if req.Policy == nil {
		req.Policy = DefaultPolicy()
	}

	release, err := o.limiter.Acquire(ctx, "orchestrate")
	if err != nil {
		return nil, fmt.Errorf("rate limit exceeded: %w", err)
	}

	ctx, finish := o.tracer.StartSpan(ctx, "stream_orchestrate", map[string]any{
		"conversation_id": req.Conversation.ID,
	})

	streamCh, err := o.provider.Stream(ctx, o.buildInitialPrompt(req), o.optionsFor(req, 1))
	if err != nil {
		release()
		finish(err)
		return nil, fmt.Errorf("provider stream failed: %w", err)
	}

	out := make(chan ports.CompletionChunk, 16)
	go func() {
		defer close(out)
		defer release()

		aggregator := newStreamingAggregator()
		for chunk := range streamCh {
			aggregator.addChunk(chunk)
			if o.guardrails != nil {
				chunk.DeltaText = o.guardrails.SanitizeOutput(chunk.DeltaText)
			}
			select {
			case out <- chunk:
			case <-ctx.Done():
				finish(ctx.Err())
				return
			}
		}

		completion := aggregator.finalize()
		finish(completion.err)
		if completion.err == nil && req.Persist {
			if serr := o.store.SaveTurn(ctx, req.Conversation.ID, ports.Turn{
				Role:      "assistant",
				Content:   completion.text,
				CreatedAt: time.Now(),
			}); serr != nil {
				o.tracer.Event(ctx, "store_error", map[string]any{"error": serr.Error()})
			}
		}
	}()

	return out, nil
}

// buildInitialPrompt builds the initial prompt for orchestration.
func (o *HarnessOrchestrator) buildInitialPrompt(req *Request) ports.PromptInput {
	contextSnippets := append([]string(nil), req.Context...)
	if len(req.Snippets) > 0 && o.assembler != nil {
		contextSnippets = append(contextSnippets, o.assembler.Pack(req.Snippets, nil)...)
	}
	req.Context = contextSnippets
	req.Snippets = nil

	return o.builder.Build(req.System, req.Conversation.Messages, req.Context, buildToolSpecs(req.Tools), map[string]string{
		"conversation_id": req.Conversation.ID,
		"tool_count":      fmt.Sprintf("%d", len(req.Tools)),
	})
}

// streamingAggregator accumulates streamed deltas into the final text.
type streamingAggregator struct {
	text  strings.Builder
	usage *ports.Usage
	err   error
}

type aggregatedCompletion struct {
	text  string
	usage *ports.Usage
	err   error
}

func newStreamingAggregator() *streamingAggregator {
	return &streamingAggregator{}
}

func (a *streamingAggregator) addChunk(chunk ports.CompletionChunk) {
	a.text.WriteString(chunk.DeltaText)
	if chunk.Usage != nil {
		a.usage = chunk.Usage
	}
	if chunk.Err != nil {
		a.err = chunk.Err
	}
}

func (a *streamingAggregator) finalize() aggregatedCompletion {
	return aggregatedCompletion{text: a.text.String(), usage: a.usage, err: a.err}
}

// runLoop executes the tool-calling loop until the model stops requesting tools.
func (o *HarnessOrchestrator) runLoop(ctx context.Context, req *Request, prompt ports.PromptInput) (*Response, error) {
	currentPrompt := prompt
	resp := &Response{}
	depth := 0

	for {
		resp.Iterations++
		if resp.Iterations > req.Policy.MaxIterations {
			return nil, fmt.Errorf("%w: %d", ErrMaxIterations, req.Policy.MaxIterations)
		}

		opts := o.optionsFor(req, resp.Iterations)

		callCtx, spanFinish := o.tracer.StartSpan(ctx, "provider_call", map[string]any{
			"iteration": resp.Iterations,
			"depth":     depth,
		})
		completion, err := o.complete(callCtx, req.Policy, currentPrompt, opts)
		spanFinish(err)
		if err != nil {
			return nil, fmt.Errorf("provider call failed: %w", err)
		}
		resp.Usage = addUsage(resp.Usage, completion.Usage)

		// Native tool calls win; text-only backends fall back to parsed calls.
		toolCalls := completion.ToolCalls
		if len(toolCalls) == 0 && len(req.Tools) > 0 {
			toolCalls = o.parser.ParseToolCalls(completion.Text, toolNames(req.Tools)...)
		}

		if len(toolCalls) == 0 {
			resp.Text = completion.Text
			if err := o.finalize(req, resp); err != nil {
				return nil, err
			}
			return resp, nil
		}

		if depth >= req.Policy.MaxToolDepth {
			return nil, fmt.Errorf("%w: %d", ErrMaxToolDepth, req.Policy.MaxToolDepth)
		}
		depth++

		toolCalls = assignCallIDs(toolCalls, resp.Iterations)
		invocations := o.executeTools(ctx, req, toolCalls)
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		resp.Invocations = append(resp.Invocations, invocations...)

		appended := make([]ports.PromptMessage, 0, len(invocations)+1)
		appended = append(appended, ports.PromptMessage{
			Role:      "assistant",
			Content:   completion.Text,
			ToolCalls: toolCalls,
		})
		for _, inv := range invocations {
			appended = append(appended, ports.PromptMessage{
				Role:       "tool",
				Content:    toolContent(inv),
				ToolCallID: inv.Call.ID,
				Name:       inv.Call.Name,
			})
		}
		req.Conversation.Messages = append(req.Conversation.Messages, appended...)
		resp.Messages = append(resp.Messages, appended...)

		currentPrompt = o.builder.Build(req.System, req.Conversation.Messages, req.Context, buildToolSpecs(req.Tools), nil)
	}
}

// complete calls the provider with per-call timeout and bounded retries.
func (o *HarnessOrchestrator) complete(ctx context.Context, policy *Policy, in ports.PromptInput, opts ports.Options) (ports.Completion, error) {
	var lastErr error
	for attempt := 0; attempt <= policy.RetryCount; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ports.Completion{}, ctx.Err()
			case <-time.After(policy.RetryBackoff * time.Duration(attempt)):
			}
		}

		callCtx, cancel := ctx, context.CancelFunc(func() {})
		if opts.TimeoutMs > 0 {
			callCtx, cancel = context.WithTimeout(ctx, time.Duration(opts.TimeoutMs)*time.Millisecond)
		}
		completion, err := o.provider.Complete(callCtx, in, opts)
		cancel()
		if err == nil {
			return completion, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return ports.Completion{}, ctx.Err()
		}
	}
	return ports.Completion{}, lastErr
}

// finalize sanitizes the final text and enforces structured-output requirements.
func (o *HarnessOrchestrator) finalize(req *Request, resp *Response) error {
	if o.guardrails != nil {
		resp.Text = o.guardrails.SanitizeOutput(resp.Text)
	}

	if len(req.ResponseSchema) == 0 && !req.Policy.RequireJSONOutput {
		return nil
	}

	raw, err := o.parser.ParseJSONOutput(resp.Text)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOutput, err)
	}
	if err := o.validator.Validate(raw, req.ResponseSchema); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOutput, err)
	}
	resp.JSON = raw
	return nil
}

// optionsFor merges request overrides into the orchestrator defaults.
func (o *HarnessOrchestrator) optionsFor(req *Request, iteration int) ports.Options {
	opts := o.defaults
	if r := req.Options; r != nil {
		if r.MaxNewTokens > 0 {
			opts.MaxNewTokens = r.MaxNewTokens
		}
		if r.Temperature > 0 {
			opts.Temperature = r.Temperature
		}
		if r.TopP > 0 {
			opts.TopP = r.TopP
		}
		if r.MinP > 0 {
			opts.MinP = r.MinP
		}
		if len(r.Stop) > 0 {
			opts.Stop = r.Stop
		}
		if r.ToolChoice != "" {
			opts.ToolChoice = r.ToolChoice
		}
		if r.TimeoutMs > 0 {
			opts.TimeoutMs = r.TimeoutMs
		}
		opts.Seed = r.Seed
	}
	opts.ResponseSchema = req.ResponseSchema
	opts.ResponseSchemaName = req.ResponseSchemaName
	if req.Policy.Deterministic && iteration == 1 {
		opts.Seed = 42
	}
	return opts
}

// executeTools runs one round of tool calls in parallel, bounded by the policy.
// Tool failures are recorded on the invocation and fed back to the model.
func (o *HarnessOrchestrator) executeTools(ctx context.Context, req *Request, calls []ports.ToolCall) []Invocation {
	toolMap := make(map[string]ports.Tool, len(req.Tools))
	for _, tool := range req.Tools {
		toolMap[tool.Name()] = tool
	}

	invocations := make([]Invocation, len(calls))
	p := pool.New().WithMaxGoroutines(max(1, req.Policy.ToolConcurrency))
	for i, call := range calls {
		p.Go(func() {
			invocations[i] = o.invokeTool(ctx, toolMap, call, req.Policy.ToolTimeout)
		})
	}
	p.Wait()

	return invocations
}

func (o *HarnessOrchestrator) invokeTool(ctx context.Context, toolMap map[string]ports.Tool, call ports.ToolCall, timeout time.Duration) Invocation {
	inv := Invocation{Call: call}

	if o.guardrails != nil {
		if err := o.guardrails.ValidateToolCall(call); err != nil {
			inv.Err = err
			return inv
		}
	}

	tool, ok := toolMap[call.Name]
	if !ok {
		inv.Err = fmt.Errorf("unknown tool: %s", call.Name)
		return inv
	}

	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	toolCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	inv.Output, inv.Err = tool.Invoke(toolCtx, call.Args)
	attrs := map[string]any{
		"tool":     call.Name,
		"call_id":  call.ID,
		"duration": time.Since(start).String(),
	}
	if inv.Err != nil {
		attrs["error"] = inv.Err.Error()
	}
	o.tracer.Event(ctx, "tool_call", attrs)

	return inv
}

// toolContent renders an invocation as the tool message shown to the model.
func toolContent(inv Invocation) string {
	if inv.Err != nil {
		return inv.Err.Error()
	}
	if str, ok := inv.Output.(string); ok {
		return str
	}
	jsonBytes, err := json.Marshal(inv.Output)
	if err != nil {
		return fmt.Sprintf("Error marshaling tool output: %v", err)
	}
	return string(jsonBytes)
}

// assignCallIDs fills in ids for providers that do not return them.
func assignCallIDs(calls []ports.ToolCall, iteration int) []ports.ToolCall {
	out := make([]ports.ToolCall, len(calls))
	for i, call := range calls {
		if call.ID == "" {
			call.ID = fmt.Sprintf("call_%d_%d", iteration, i)
		}
		if len(call.Args) == 0 {
			call.Args = json.RawMessage(`{}`)
		}
		out[i] = call
	}
	return out
}

func addUsage(total, next *ports.Usage) *ports.Usage {
	if next == nil {
		return total
	}
	if total == nil {
		u := *next
		return &u
	}
	total.PromptTokens += next.PromptTokens
	total.CompletionTokens += next.CompletionTokens
	total.TotalTokens += next.TotalTokens
	return total
}

// buildToolSpecs converts tools to provider-expected specs.
func buildToolSpecs(tools []ports.Tool) []ports.ToolSpec {
	if len(tools) == 0 {
		return nil
	}
	specs := make([]ports.ToolSpec, len(tools))
	for i, tool := range tools {
		spec := ports.ToolSpec{
			Name:       tool.Name(),
			JSONSchema: tool.Schema(),
		}
		if described, ok := tool.(ports.DescribedTool); ok {
			spec.Description = described.Description()
		}
		specs[i] = spec
	}
	return specs
}

// buildCacheKey hashes every input that can change the completion.
func (o *HarnessOrchestrator) buildCacheKey(req *Request) string {
	h := xxhash.New64()
	write := func(parts ...string) {
		for _, p := range parts {
			h.Write([]byte(p))
			h.Write([]byte{0})
		}
	}

	write(req.System)
	for _, m := range req.Conversation.Messages {
		write(m.Role, m.Content, m.ToolCallID)
	}
	write(req.Context...)
	for _, sn := range req.Snippets {
		write(sn.Text)
	}
	write(string(req.ResponseSchema), req.ResponseSchemaName)
	if req.Options != nil {
		write(fmt.Sprintf("%d|%.3f|%.3f|%d|%s", req.Options.MaxNewTokens, req.Options.Temperature, req.Options.TopP, req.Options.Seed, req.Options.ToolChoice))
	}

	return fmt.Sprintf("harness:%016x", h.Sum64())
}

// parseCachedResponse reconstructs a Response from cached bytes.
func (o *HarnessOrchestrator) parseCachedResponse(data []byte) (*Response, error) {
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse cached response: %w", err)
	}
	return &resp, nil
}
