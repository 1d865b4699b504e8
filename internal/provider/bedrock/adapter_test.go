package bedrock

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws/protocol/eventstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nulzo/model-gateway/internal/credential"
	"github.com/nulzo/model-gateway/internal/provider"
	"github.com/nulzo/model-gateway/internal/registry"
	"github.com/nulzo/model-gateway/pkg/api"
)

func TestBuildRequestInvokeURL(t *testing.T) {
	a := &Adapter{}

	wire, err := a.BuildRequest(provider.BuildInput{
		Binding: registry.ProviderBinding{
			Provider:        registry.Bedrock,
			ProviderModelID: "anthropic.claude-3-5-sonnet-20241022-v2:0",
		},
		Body: map[string]any{
			"model":    "claude-3.5-sonnet",
			"messages": []any{map[string]any{"role": "user", "content": "hi"}},
		},
		Mapping:    provider.MappingDefault,
		Credential: credential.Credential{Region: "us-east-1"},
	})
	require.NoError(t, err)

	assert.Equal(t,
		"https://bedrock-runtime.us-east-1.amazonaws.com/model/anthropic.claude-3-5-sonnet-20241022-v2:0/invoke",
		wire.URL)

	var body map[string]any
	require.NoError(t, json.Unmarshal(wire.Body, &body))
	assert.Equal(t, "bedrock-2023-05-31", body["anthropic_version"])
	assert.NotContains(t, body, "model")
	assert.NotContains(t, body, "stream")
	assert.Contains(t, body, "messages")
}

func TestBuildRequestStreamEndpoint(t *testing.T) {
	a := &Adapter{}

	wire, err := a.BuildRequest(provider.BuildInput{
		Binding: registry.ProviderBinding{
			Provider:        registry.Bedrock,
			ProviderModelID: "anthropic.claude-3-5-haiku-20241022-v1:0",
		},
		Body:       map[string]any{"messages": []any{map[string]any{"role": "user", "content": "hi"}}},
		Mapping:    provider.MappingDefault,
		Stream:     true,
		Credential: credential.Credential{Region: "eu-west-1"},
	})
	require.NoError(t, err)

	assert.Contains(t, wire.URL, "bedrock-runtime.eu-west-1.amazonaws.com")
	assert.Contains(t, wire.URL, "/invoke-with-response-stream")
}

func TestBuildRequestMissingRegion(t *testing.T) {
	a := &Adapter{}

	_, err := a.BuildRequest(provider.BuildInput{
		Binding: registry.ProviderBinding{
			Provider:        registry.Bedrock,
			ProviderModelID: "anthropic.claude-3-5-sonnet-20241022-v2:0",
		},
		Body:    map[string]any{"messages": []any{}},
		Mapping: provider.MappingDefault,
	})
	assert.ErrorContains(t, err, "region")
}

func encodeChunk(t *testing.T, buf *bytes.Buffer, enc *eventstream.Encoder, eventJSON string) {
	t.Helper()
	payload, err := json.Marshal(map[string]any{"bytes": []byte(eventJSON)})
	require.NoError(t, err)

	msg := eventstream.Message{
		Headers: eventstream.Headers{
			{Name: ":message-type", Value: eventstream.StringValue("event")},
			{Name: ":event-type", Value: eventstream.StringValue("chunk")},
		},
		Payload: payload,
	}
	require.NoError(t, enc.Encode(buf, msg))
}

func TestDecodeStream(t *testing.T) {
	var buf bytes.Buffer
	enc := eventstream.NewEncoder()

	encodeChunk(t, &buf, enc, `{"type":"message_start","message":{"id":"msg_01","model":"claude-3-5-sonnet-20241022","usage":{"input_tokens":7}}}`)
	encodeChunk(t, &buf, enc, `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hi"}}`)
	encodeChunk(t, &buf, enc, `{"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":1}}`)
	encodeChunk(t, &buf, enc, `{"type":"message_stop"}`)

	a := &Adapter{}
	out := make(chan api.StreamChunk, 8)
	err := a.DecodeStream(context.Background(), &buf, out)
	require.NoError(t, err)
	close(out)

	var chunks []*api.ChatResponse
	for c := range out {
		chunks = append(chunks, c.Response)
	}
	require.Len(t, chunks, 3)
	assert.Equal(t, "assistant", chunks[0].Choices[0].Delta.Role)
	assert.Equal(t, "Hi", chunks[1].Choices[0].Delta.Content.Text)
	assert.Equal(t, "stop", chunks[2].Choices[0].FinishReason)
	assert.Equal(t, 8, chunks[2].Usage.TotalTokens)
}
