package models

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	internal "github.com/ZanzyTHEbar/coffee-gpt/cgpt"
	ports "github.com/ZanzyTHEbar/coffee-gpt/cgpt/generation/harness/ports"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAIProvider_CompleteWithTools(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"model": "gpt-4o-mini",
			"choices": [{
				"index": 0,
				"finish_reason": "tool_calls",
				"message": {
					"role": "assistant",
					"content": "",
					"tool_calls": [{
						"id": "call_abc",
						"type": "function",
						"function": {"name": "geocode_place", "arguments": "{\"place_name\":\"Blue Bottle\"}"}
					}]
				}
			}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 7, "total_tokens": 19}
		}`))
	}))
	defer srv.Close()

	p, err := NewOpenAIProvider("sk-test", "gpt-4o-mini", zerolog.Nop(), WithOpenAIBaseURL(srv.URL+"/v1"))
	require.NoError(t, err)

	got, err := p.Complete(context.Background(), ports.PromptInput{
		System:   "You are a barista.",
		Context:  []string{"User is in Seattle"},
		Messages: []ports.PromptMessage{{Role: "user", Content: "Where is Blue Bottle?"}},
		Tools: []ports.ToolSpec{{
			Name:        "geocode_place",
			Description: "Geocode a place",
			JSONSchema:  []byte(`{"type":"object","properties":{"place_name":{"type":"string"}}}`),
		}},
	}, ports.Options{MaxNewTokens: 256, Temperature: 0.2})
	require.NoError(t, err)

	require.Len(t, got.ToolCalls, 1)
	assert.Equal(t, "call_abc", got.ToolCalls[0].ID)
	assert.Equal(t, "geocode_place", got.ToolCalls[0].Name)
	assert.JSONEq(t, `{"place_name":"Blue Bottle"}`, string(got.ToolCalls[0].Args))
	assert.Equal(t, &ports.Usage{PromptTokens: 12, CompletionTokens: 7, TotalTokens: 19}, got.Usage)

	assert.Equal(t, "gpt-4o-mini", body["model"])
	msgs := body["messages"].([]any)
	require.Len(t, msgs, 2)
	system := msgs[0].(map[string]any)
	assert.Equal(t, "system", system["role"])
	assert.Equal(t, "You are a barista.\n\nContext:\n- User is in Seattle", system["content"])

	tools := body["tools"].([]any)
	require.Len(t, tools, 1)
	fn := tools[0].(map[string]any)["function"].(map[string]any)
	assert.Equal(t, "geocode_place", fn["name"])
	assert.Equal(t, "object", fn["parameters"].(map[string]any)["type"])
}

func TestOpenAIProvider_ResponseSchemaAndToolHistory(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"index":0,"message":{"role":"assistant","content":"{\"decision\":\"search-by-text\"}"}}]}`))
	}))
	defer srv.Close()

	p, err := NewOpenAIProvider("sk-test", "gpt-4o-mini", zerolog.Nop(), WithOpenAIBaseURL(srv.URL+"/v1"))
	require.NoError(t, err)

	got, err := p.Complete(context.Background(), ports.PromptInput{
		Messages: []ports.PromptMessage{
			{Role: "user", Content: "Where?"},
			{Role: "assistant", ToolCalls: []ports.ToolCall{{ID: "call_1_0", Name: "geocode_place", Args: []byte(`{}`)}}},
			{Role: "tool", ToolCallID: "call_1_0", Name: "geocode_place", Content: "Location: 1, 2"},
		},
	}, ports.Options{ResponseSchema: []byte(`{"type":"object"}`), ResponseSchemaName: "tool_routing"})
	require.NoError(t, err)
	assert.Equal(t, `{"decision":"search-by-text"}`, got.Text)
	assert.Nil(t, got.Usage)

	format := body["response_format"].(map[string]any)
	assert.Equal(t, "json_schema", format["type"])
	assert.Equal(t, "tool_routing", format["json_schema"].(map[string]any)["name"])

	msgs := body["messages"].([]any)
	require.Len(t, msgs, 3)
	toolMsg := msgs[2].(map[string]any)
	assert.Equal(t, "tool", toolMsg["role"])
	assert.Equal(t, "call_1_0", toolMsg["tool_call_id"])
}

func TestOpenAIProvider_UpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":{"message":"overloaded","type":"server_error"}}`))
	}))
	defer srv.Close()

	p, err := NewOpenAIProvider("sk-test", "gpt-4o-mini", zerolog.Nop(), WithOpenAIBaseURL(srv.URL+"/v1"))
	require.NoError(t, err)

	_, err = p.Complete(context.Background(), userPrompt("hi"), ports.Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, internal.ErrUpstreamUnavailable)
}
