package openaicompat

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nulzo/model-gateway/internal/provider"
	"github.com/nulzo/model-gateway/internal/registry"
	"github.com/nulzo/model-gateway/pkg/api"
)

func TestBuildRequestRewritesModel(t *testing.T) {
	a := &Adapter{defaultBaseURL: "https://api.openai.com/v1"}

	wire, err := a.BuildRequest(provider.BuildInput{
		Binding: registry.ProviderBinding{
			Provider:        registry.OpenAI,
			ProviderModelID: "gpt-4o-2024-08-06",
		},
		Body: map[string]any{
			"model":    "gpt-4o",
			"messages": []any{map[string]any{"role": "user", "content": "hi"}},
		},
		Mapping: provider.MappingDefault,
	})
	require.NoError(t, err)

	assert.Equal(t, "POST", wire.Method)
	assert.Equal(t, "https://api.openai.com/v1/chat/completions", wire.URL)

	var body map[string]any
	require.NoError(t, json.Unmarshal(wire.Body, &body))
	assert.Equal(t, "gpt-4o-2024-08-06", body["model"])
	assert.Nil(t, body["stream"])
}

func TestBuildRequestBaseURLOverride(t *testing.T) {
	a := &Adapter{defaultBaseURL: "https://api.openai.com/v1"}

	wire, err := a.BuildRequest(provider.BuildInput{
		Binding: registry.ProviderBinding{
			Provider:        registry.Google,
			ProviderModelID: "gemini-2.0-flash",
			BaseURL:         "https://generativelanguage.googleapis.com/v1beta/openai/",
		},
		Body:    map[string]any{"model": "gemini-2.0-flash", "messages": []any{}},
		Mapping: provider.MappingDefault,
	})
	require.NoError(t, err)
	assert.Equal(t, "https://generativelanguage.googleapis.com/v1beta/openai/chat/completions", wire.URL)
}

func TestBuildRequestFiltersUnsupportedParams(t *testing.T) {
	a := &Adapter{defaultBaseURL: "https://api.openai.com/v1"}

	wire, err := a.BuildRequest(provider.BuildInput{
		Binding: registry.ProviderBinding{
			Provider:            registry.OpenAI,
			ProviderModelID:     "o3-mini",
			SupportedParameters: []string{"max_tokens", "tools", "tool_choice"},
		},
		Body: map[string]any{
			"model":       "o3-mini",
			"messages":    []any{},
			"temperature": 0.7,
			"top_p":       0.9,
			"max_tokens":  float64(512),
		},
		Mapping: provider.MappingDefault,
	})
	require.NoError(t, err)

	var body map[string]any
	require.NoError(t, json.Unmarshal(wire.Body, &body))
	assert.NotContains(t, body, "temperature")
	assert.NotContains(t, body, "top_p")
	assert.Equal(t, float64(512), body["max_tokens"])
	assert.Contains(t, body, "messages")
}

func TestBuildRequestNoMappingKeepsBodyVerbatim(t *testing.T) {
	a := &Adapter{defaultBaseURL: "https://api.openai.com/v1"}

	wire, err := a.BuildRequest(provider.BuildInput{
		Binding: registry.ProviderBinding{
			Provider:            registry.OpenAI,
			ProviderModelID:     "gpt-4o-2024-08-06",
			SupportedParameters: []string{"max_tokens"},
		},
		Body: map[string]any{
			"model":       "gpt-4o",
			"temperature": 0.2,
			"vendor_knob": true,
			"stream":      true,
		},
		Mapping: provider.MappingNone,
		Stream:  true,
	})
	require.NoError(t, err)

	var body map[string]any
	require.NoError(t, json.Unmarshal(wire.Body, &body))
	assert.Equal(t, "gpt-4o-2024-08-06", body["model"])
	assert.Equal(t, 0.2, body["temperature"])
	assert.Equal(t, true, body["vendor_knob"])
	assert.Equal(t, true, body["stream"])
}

func TestBuildRequestStreamInjectsUsageOption(t *testing.T) {
	a := &Adapter{defaultBaseURL: "https://api.openai.com/v1"}

	wire, err := a.BuildRequest(provider.BuildInput{
		Binding: registry.ProviderBinding{Provider: registry.OpenAI, ProviderModelID: "gpt-4o"},
		Body:    map[string]any{"model": "gpt-4o", "messages": []any{}},
		Mapping: provider.MappingDefault,
		Stream:  true,
	})
	require.NoError(t, err)

	var body map[string]any
	require.NoError(t, json.Unmarshal(wire.Body, &body))
	assert.Equal(t, true, body["stream"])
	assert.Equal(t, map[string]any{"include_usage": true}, body["stream_options"])
}

func TestParseResponse(t *testing.T) {
	a := &Adapter{}

	resp, err := a.ParseResponse([]byte(`{
		"id": "chatcmpl-123",
		"object": "chat.completion",
		"created": 1677652288,
		"model": "gpt-4o-2024-08-06",
		"choices": [{
			"index": 0,
			"message": {"role": "assistant", "content": "Hello there!"},
			"finish_reason": "stop"
		}],
		"usage": {"prompt_tokens": 9, "completion_tokens": 12, "total_tokens": 21}
	}`))
	require.NoError(t, err)

	assert.Equal(t, "chatcmpl-123", resp.ID)
	assert.Equal(t, "Hello there!", resp.Choices[0].Message.Content.Text)
	assert.Equal(t, "stop", resp.Choices[0].FinishReason)
	assert.Equal(t, 21, resp.Usage.TotalTokens)
}

func TestDecodeStream(t *testing.T) {
	a := &Adapter{}

	stream := strings.Join([]string{
		`data: {"id":"c1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"role":"assistant","content":"Hel"}}]}`,
		"",
		`data: {"id":"c1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"content":"lo"},"finish_reason":"stop"}]}`,
		"",
		`data: {"id":"c1","object":"chat.completion.chunk","choices":[],"usage":{"prompt_tokens":5,"completion_tokens":2,"total_tokens":7}}`,
		"",
		"data: [DONE]",
		"",
	}, "\n")

	out := make(chan api.StreamChunk, 8)
	err := a.DecodeStream(context.Background(), strings.NewReader(stream), out)
	require.NoError(t, err)
	close(out)

	var chunks []api.StreamChunk
	for c := range out {
		chunks = append(chunks, c)
	}
	require.Len(t, chunks, 3)
	assert.Equal(t, "Hel", chunks[0].Response.Choices[0].Delta.Content.Text)
	assert.Equal(t, "lo", chunks[1].Response.Choices[0].Delta.Content.Text)
	assert.Equal(t, "stop", chunks[1].Response.Choices[0].FinishReason)
	assert.Equal(t, 7, chunks[2].Response.Usage.TotalTokens)
}
