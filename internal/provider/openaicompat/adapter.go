// Package openaicompat implements the OpenAI chat-completions dialect. One
// adapter instance serves every provider that speaks the same wire shape;
// only the base URL differs between them.
package openaicompat

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/nulzo/model-gateway/internal/httpclient"
	"github.com/nulzo/model-gateway/internal/provider"
	"github.com/nulzo/model-gateway/internal/registry"
	"github.com/nulzo/model-gateway/pkg/api"
)

func init() {
	for p, baseURL := range defaultBaseURLs {
		provider.Register(p, &Adapter{defaultBaseURL: baseURL})
	}
}

// defaultBaseURLs covers every provider served by this dialect. A binding's
// base_url overrides the default, which is how Google AI Studio's
// OpenAI-compatibility endpoint is reached.
var defaultBaseURLs = map[registry.Provider]string{
	registry.OpenAI:    "https://api.openai.com/v1",
	registry.Google:    "https://generativelanguage.googleapis.com/v1beta/openai",
	registry.Groq:      "https://api.groq.com/openai/v1",
	registry.DeepSeek:  "https://api.deepseek.com/v1",
	registry.Mistral:   "https://api.mistral.ai/v1",
	registry.XAI:       "https://api.x.ai/v1",
	registry.Together:  "https://api.together.xyz/v1",
	registry.Fireworks: "https://api.fireworks.ai/inference/v1",
}

type Adapter struct {
	defaultBaseURL string
}

func (a *Adapter) BuildRequest(in provider.BuildInput) (*provider.WireRequest, error) {
	body := make(map[string]any, len(in.Body))
	for k, v := range in.Body {
		body[k] = v
	}
	body["model"] = in.Binding.ProviderModelID

	if in.Mapping == provider.MappingDefault {
		body = provider.FilterParameters(body, in.Binding)
		if in.Stream {
			body["stream"] = true
			// usage arrives in the final chunk only when asked for
			if _, ok := body["stream_options"]; !ok {
				body["stream_options"] = map[string]any{"include_usage": true}
			}
		} else {
			delete(body, "stream")
			delete(body, "stream_options")
		}
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	baseURL := in.Binding.BaseURL
	if baseURL == "" {
		baseURL = a.defaultBaseURL
	}
	url := fmt.Sprintf("%s/chat/completions", strings.TrimRight(baseURL, "/"))

	return &provider.WireRequest{
		Method: http.MethodPost,
		URL:    url,
		Header: http.Header{},
		Body:   raw,
	}, nil
}

func (a *Adapter) ParseResponse(body []byte) (*api.ChatResponse, error) {
	var resp api.ChatResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode upstream response: %w", err)
	}
	return &resp, nil
}

func (a *Adapter) DecodeStream(ctx context.Context, r io.Reader, out chan<- api.StreamChunk) error {
	return httpclient.ScanSSE(ctx, r, func(_, data string) error {
		if data == "[DONE]" {
			return io.EOF
		}

		var resp api.ChatResponse
		if err := json.Unmarshal([]byte(data), &resp); err != nil {
			// skip malformed keep-alive frames rather than killing the stream
			return nil
		}

		select {
		case out <- api.StreamChunk{Response: &resp}:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
}
