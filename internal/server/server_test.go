package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nulzo/model-gateway/internal/auth"
	"github.com/nulzo/model-gateway/internal/config"
	"github.com/nulzo/model-gateway/internal/credential"
	"github.com/nulzo/model-gateway/internal/gateway"
	"github.com/nulzo/model-gateway/internal/prompt"
	"github.com/nulzo/model-gateway/internal/registry"
	"github.com/nulzo/model-gateway/pkg/api"

	_ "github.com/nulzo/model-gateway/internal/provider/openaicompat"
)

const testAPIKey = "sk-gateway-test-key"

func newTestServer(t *testing.T, upstream *httptest.Server) *Server {
	t.Helper()

	reg, err := registry.New([]registry.ModelSpec{{
		LogicalID: "test-model",
		Candidates: []registry.ProviderBinding{{
			Provider:        registry.OpenAI,
			ProviderModelID: "test-model-v1",
			ContextLength:   128000,
			AuthScheme:      registry.AuthBearer,
			BaseURL:         upstream.URL,
		}},
	}}, nil, zap.NewNop())
	require.NoError(t, err)

	store, err := prompt.NewSQLStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	require.NoError(t, store.SeedVersion(context.Background(), "org-test", prompt.Version{
		ID:       "v1",
		PromptID: "greeting",
		Model:    "test-model",
		Body: map[string]any{
			"messages": []any{map[string]any{"role": "user", "content": "Hello {{name}}"}},
		},
		Production: true,
	}))

	pool := credential.NewPool([]credential.Credential{
		{Provider: registry.OpenAI, APIKey: "upstream-key"},
	})

	orch := gateway.NewOrchestrator(reg, pool, auth.NewDispatcher(), upstream.Client(), zap.NewNop())
	service := gateway.NewService(
		gateway.NewNormalizer(prompt.NewResolver(store, zap.NewNop())),
		orch,
	)

	cfg := &config.Config{}
	cfg.Server.Port = "0"
	cfg.Server.APIKeys = []config.APIKeyConfig{{Key: testAPIKey, OrgID: "org-test"}}

	return New(cfg, zap.NewNop(), service, reg)
}

func okUpstream(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1700000000,
			"model": "%s",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "ok"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 1, "completion_tokens": 1, "total_tokens": 2}
		}`, body["model"])
	}))
}

// closeNotifyRecorder adds http.CloseNotifier, which gin's c.Stream requires
// of the underlying writer; httptest.ResponseRecorder does not implement it.
type closeNotifyRecorder struct {
	*httptest.ResponseRecorder
}

func (c *closeNotifyRecorder) CloseNotify() <-chan bool { return make(chan bool) }

func doRequest(s *Server, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+testAPIKey)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(&closeNotifyRecorder{w}, req)
	return w
}

func TestChatCompletion(t *testing.T) {
	upstream := okUpstream(t)
	defer upstream.Close()
	s := newTestServer(t, upstream)

	w := doRequest(s, http.MethodPost, "/v1/chat/completions",
		`{"model": "test-model", "messages": [{"role": "user", "content": "hi"}]}`, nil)

	require.Equal(t, http.StatusOK, w.Code)
	var resp api.ChatResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Choices[0].Message.Content.Text)
	// model rewritten to the provider id on the wire
	assert.Equal(t, "test-model-v1", resp.Model)
}

func TestChatCompletionFromPrompt(t *testing.T) {
	upstream := okUpstream(t)
	defer upstream.Close()
	s := newTestServer(t, upstream)

	w := doRequest(s, http.MethodPost, "/v1/chat/completions",
		`{"prompt_id": "greeting", "inputs": {"name": "Ada"}}`, nil)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestChatCompletionErrorShapes(t *testing.T) {
	upstream := okUpstream(t)
	defer upstream.Close()
	s := newTestServer(t, upstream)

	tests := []struct {
		name    string
		body    string
		wantMsg string
	}{
		{"no model or prompt", `{"messages": []}`, "Invalid body or missing model"},
		{"version without prompt", `{"version_id": "v1"}`, "prompt_id is required"},
		{"unknown prompt", `{"prompt_id": "nope"}`, "Failed to fetch model from prompt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(s, http.MethodPost, "/v1/chat/completions", tt.body, nil)
			require.Equal(t, http.StatusBadRequest, w.Code)

			var body api.ErrorBody
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.wantMsg, body.Error)
		})
	}
}

func TestAuthRequired(t *testing.T) {
	upstream := okUpstream(t)
	defer upstream.Close()
	s := newTestServer(t, upstream)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(`{}`))
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req = httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(`{}`))
	req.Header.Set("Authorization", "Bearer wrong-key")
	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestListModels(t *testing.T) {
	upstream := okUpstream(t)
	defer upstream.Close()
	s := newTestServer(t, upstream)

	w := doRequest(s, http.MethodGet, "/v1/models", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Object string `json:"object"`
		Data   []struct {
			ID      string `json:"id"`
			OwnedBy string `json:"owned_by"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "list", resp.Object)
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "test-model", resp.Data[0].ID)
	assert.Equal(t, "openai", resp.Data[0].OwnedBy)
}

func TestHealth(t *testing.T) {
	upstream := okUpstream(t)
	defer upstream.Close()
	s := newTestServer(t, upstream)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestChatCompletionStreaming(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, line := range []string{
			`data: {"id":"c1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"content":"hi"}}]}`,
			"",
			"data: [DONE]",
			"",
		} {
			fmt.Fprintln(w, line)
		}
	}))
	defer upstream.Close()
	s := newTestServer(t, upstream)

	w := doRequest(s, http.MethodPost, "/v1/chat/completions",
		`{"model": "test-model", "stream": true, "messages": [{"role": "user", "content": "hi"}]}`, nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), `"content":"hi"`)
	assert.Contains(t, w.Body.String(), "data: [DONE]")
}
