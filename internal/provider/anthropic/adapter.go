// Package anthropic implements the Anthropic messages dialect. The body and
// response transforms are exported because the bedrock and vertex adapters
// speak the same dialect behind different URLs and auth.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nulzo/model-gateway/internal/httpclient"
	"github.com/nulzo/model-gateway/internal/provider"
	"github.com/nulzo/model-gateway/internal/registry"
	"github.com/nulzo/model-gateway/pkg/api"
)

func init() {
	provider.Register(registry.Anthropic, &Adapter{})
}

const (
	defaultBaseURL   = "https://api.anthropic.com/v1"
	apiVersion       = "2023-06-01"
	defaultMaxTokens = 4096
)

type Adapter struct{}

func (a *Adapter) BuildRequest(in provider.BuildInput) (*provider.WireRequest, error) {
	var body map[string]any
	var err error

	if in.Mapping == provider.MappingNone {
		body = make(map[string]any, len(in.Body))
		for k, v := range in.Body {
			body[k] = v
		}
		body["model"] = in.Binding.ProviderModelID
	} else {
		body, err = BuildBody(in.Body, in.Binding, in.Stream)
		if err != nil {
			return nil, err
		}
		body["model"] = in.Binding.ProviderModelID
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	baseURL := in.Binding.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	url := fmt.Sprintf("%s/messages", strings.TrimRight(baseURL, "/"))

	header := http.Header{}
	header.Set("anthropic-version", apiVersion)

	return &provider.WireRequest{
		Method: http.MethodPost,
		URL:    url,
		Header: header,
		Body:   raw,
	}, nil
}

// BuildBody translates a canonical chat body into the messages dialect. The
// result has no model field; callers set model, anthropic_version, or neither
// depending on the transport.
func BuildBody(canonical map[string]any, binding registry.ProviderBinding, stream bool) (map[string]any, error) {
	raw, err := json.Marshal(provider.FilterParameters(canonical, binding))
	if err != nil {
		return nil, fmt.Errorf("failed to re-encode canonical body: %w", err)
	}
	var req api.ChatRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, fmt.Errorf("failed to decode canonical body: %w", err)
	}

	body := map[string]any{}

	system, messages := splitMessages(req.Messages)
	if system != "" {
		body["system"] = system
	}
	body["messages"] = messages

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}
	if binding.MaxOutputTokens > 0 && maxTokens > binding.MaxOutputTokens {
		maxTokens = binding.MaxOutputTokens
	}
	body["max_tokens"] = maxTokens

	if req.Temperature != 0 {
		body["temperature"] = req.Temperature
	}
	if req.TopP != 0 {
		body["top_p"] = req.TopP
	}
	if req.TopK != 0 {
		body["top_k"] = req.TopK
	}
	if req.Stop != nil && len(req.Stop.Val) > 0 {
		body["stop_sequences"] = req.Stop.Val
	}
	if req.User != "" {
		body["metadata"] = map[string]any{"user_id": req.User}
	}
	if stream {
		body["stream"] = true
	}

	if tools := convertTools(req.Tools, req.Functions); len(tools) > 0 {
		body["tools"] = tools
		if tc := convertToolChoice(req.ToolChoice); tc != nil {
			body["tool_choice"] = tc
		}
	}

	return body, nil
}

// splitMessages lifts system messages into the top-level system string and
// converts the rest: tool results become tool_result user blocks, assistant
// tool calls become tool_use blocks.
func splitMessages(msgs []api.ChatMessage) (string, []map[string]any) {
	var system strings.Builder
	out := make([]map[string]any, 0, len(msgs))

	for _, m := range msgs {
		switch m.Role {
		case "system", "developer":
			if system.Len() > 0 {
				system.WriteString("\n")
			}
			system.WriteString(m.Content.Text)
		case "tool":
			out = append(out, map[string]any{
				"role": "user",
				"content": []map[string]any{{
					"type":        "tool_result",
					"tool_use_id": m.ToolCallID,
					"content":     m.Content.Text,
				}},
			})
		default:
			out = append(out, map[string]any{
				"role":    m.Role,
				"content": convertContent(m),
			})
		}
	}
	return system.String(), out
}

func convertContent(m api.ChatMessage) []map[string]any {
	var blocks []map[string]any

	if m.Content.Text != "" && len(m.Content.Parts) == 0 {
		blocks = append(blocks, map[string]any{"type": "text", "text": m.Content.Text})
	}
	for _, part := range m.Content.Parts {
		switch part.Type {
		case "text":
			blocks = append(blocks, map[string]any{"type": "text", "text": part.Text})
		case "image_url":
			if part.ImageURL != nil {
				blocks = append(blocks, map[string]any{
					"type":   "image",
					"source": map[string]any{"type": "url", "url": part.ImageURL.URL},
				})
			}
		}
	}
	for _, tc := range m.ToolCalls {
		var input map[string]any
		if err := json.Unmarshal([]byte(tc.Function.Arguments), &input); err != nil {
			input = map[string]any{}
		}
		blocks = append(blocks, map[string]any{
			"type":  "tool_use",
			"id":    tc.ID,
			"name":  tc.Function.Name,
			"input": input,
		})
	}
	if blocks == nil {
		blocks = []map[string]any{{"type": "text", "text": ""}}
	}
	return blocks
}

func convertTools(tools []api.Tool, functions []api.Function) []map[string]any {
	var out []map[string]any
	for _, t := range tools {
		out = append(out, map[string]any{
			"name":         t.Function.Name,
			"description":  t.Function.Description,
			"input_schema": t.Function.Parameters,
		})
	}
	// legacy functions field maps the same way
	for _, f := range functions {
		out = append(out, map[string]any{
			"name":         f.Name,
			"description":  f.Description,
			"input_schema": f.Parameters,
		})
	}
	return out
}

func convertToolChoice(choice any) any {
	switch tc := choice.(type) {
	case string:
		switch tc {
		case "auto":
			return map[string]any{"type": "auto"}
		case "required":
			return map[string]any{"type": "any"}
		case "none":
			return nil
		}
	case map[string]any:
		if fn, ok := tc["function"].(map[string]any); ok {
			if name, ok := fn["name"].(string); ok {
				return map[string]any{"type": "tool", "name": name}
			}
		}
	}
	return nil
}

// nativeResponse is the messages-API response shape.
type nativeResponse struct {
	ID         string          `json:"id"`
	Model      string          `json:"model"`
	StopReason string          `json:"stop_reason"`
	Content    []contentBlock  `json:"content"`
	Usage      nativeUsage     `json:"usage"`
	Type       string          `json:"type"`
	Error      json.RawMessage `json:"error,omitempty"`
}

type contentBlock struct {
	Type  string         `json:"type"`
	Text  string         `json:"text,omitempty"`
	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`
}

type nativeUsage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
}

func (a *Adapter) ParseResponse(body []byte) (*api.ChatResponse, error) {
	return ParseNativeResponse(body)
}

// ParseNativeResponse maps a messages-API response into the canonical
// envelope. Shared by the bedrock and vertex adapters.
func ParseNativeResponse(body []byte) (*api.ChatResponse, error) {
	var native nativeResponse
	if err := json.Unmarshal(body, &native); err != nil {
		return nil, fmt.Errorf("failed to decode upstream response: %w", err)
	}

	msg := &api.ChatMessage{Role: "assistant"}
	var text strings.Builder
	for _, block := range native.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			args, _ := json.Marshal(block.Input)
			msg.ToolCalls = append(msg.ToolCalls, api.ToolCall{
				ID:   block.ID,
				Type: "function",
				Function: api.FunctionCall{
					Name:      block.Name,
					Arguments: string(args),
				},
			})
		}
	}
	msg.Content = api.Content{Text: text.String()}

	usage := &api.ResponseUsage{
		PromptTokens:     native.Usage.InputTokens,
		CompletionTokens: native.Usage.OutputTokens,
		TotalTokens:      native.Usage.InputTokens + native.Usage.OutputTokens,
	}
	if native.Usage.CacheReadInputTokens > 0 {
		usage.PromptTokensDetails = &api.PromptTokensDetails{
			CachedTokens: native.Usage.CacheReadInputTokens,
		}
	}

	return &api.ChatResponse{
		ID:      native.ID,
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   native.Model,
		Choices: []api.Choice{{
			Index:        0,
			Message:      msg,
			FinishReason: mapStopReason(native.StopReason),
		}},
		Usage: usage,
	}, nil
}

func mapStopReason(reason string) string {
	switch reason {
	case "end_turn", "stop_sequence":
		return "stop"
	case "max_tokens":
		return "length"
	case "tool_use":
		return "tool_calls"
	default:
		return reason
	}
}

func (a *Adapter) DecodeStream(ctx context.Context, r io.Reader, out chan<- api.StreamChunk) error {
	return DecodeNativeStream(ctx, r, out)
}

// streamEvent is the union of the messages-API SSE event payloads.
type streamEvent struct {
	Type    string `json:"type"`
	Message *struct {
		ID    string      `json:"id"`
		Model string      `json:"model"`
		Usage nativeUsage `json:"usage"`
	} `json:"message,omitempty"`
	Index        int           `json:"index"`
	ContentBlock *contentBlock `json:"content_block,omitempty"`
	Delta        *struct {
		Type        string `json:"type"`
		Text        string `json:"text,omitempty"`
		PartialJSON string `json:"partial_json,omitempty"`
		StopReason  string `json:"stop_reason,omitempty"`
	} `json:"delta,omitempty"`
	Usage *nativeUsage `json:"usage,omitempty"`
}

// DecodeNativeStream converts messages-API SSE events into canonical chunks.
func DecodeNativeStream(ctx context.Context, r io.Reader, out chan<- api.StreamChunk) error {
	tr := NewStreamTranslator(ctx, out)
	return httpclient.ScanSSE(ctx, r, func(_, data string) error {
		return tr.Event(data)
	})
}

// StreamTranslator turns one messages-API event at a time into canonical
// chunks. Bedrock decodes its binary event-stream frames into the same event
// payloads, so the translator is shared across transports.
type StreamTranslator struct {
	ctx context.Context
	out chan<- api.StreamChunk

	id          string
	model       string
	inputTokens int
	emittedRole bool
}

func NewStreamTranslator(ctx context.Context, out chan<- api.StreamChunk) *StreamTranslator {
	return &StreamTranslator{ctx: ctx, out: out}
}

func (t *StreamTranslator) emit(chunk *api.ChatResponse) error {
	chunk.ID = t.id
	chunk.Model = t.model
	chunk.Object = "chat.completion.chunk"
	chunk.Created = time.Now().Unix()
	select {
	case t.out <- api.StreamChunk{Response: chunk}:
		return nil
	case <-t.ctx.Done():
		return t.ctx.Err()
	}
}

// Event consumes one event payload. It returns io.EOF after message_stop.
func (t *StreamTranslator) Event(data string) error {
	var ev streamEvent
	if err := json.Unmarshal([]byte(data), &ev); err != nil {
		return nil
	}

	switch ev.Type {
	case "message_start":
		if ev.Message != nil {
			t.id = ev.Message.ID
			t.model = ev.Message.Model
			t.inputTokens = ev.Message.Usage.InputTokens
		}
		if !t.emittedRole {
			t.emittedRole = true
			return t.emit(&api.ChatResponse{Choices: []api.Choice{{
				Delta: &api.ChatMessage{Role: "assistant"},
			}}})
		}

	case "content_block_start":
		if ev.ContentBlock != nil && ev.ContentBlock.Type == "tool_use" {
			delta := &api.ChatMessage{ToolCalls: []api.ToolCall{{
				ID:   ev.ContentBlock.ID,
				Type: "function",
				Function: api.FunctionCall{
					Name: ev.ContentBlock.Name,
				},
			}}}
			return t.emit(&api.ChatResponse{Choices: []api.Choice{{Delta: delta}}})
		}

	case "content_block_delta":
		if ev.Delta == nil {
			return nil
		}
		switch ev.Delta.Type {
		case "text_delta":
			return t.emit(&api.ChatResponse{Choices: []api.Choice{{
				Delta: &api.ChatMessage{Content: api.Content{Text: ev.Delta.Text}},
			}}})
		case "input_json_delta":
			delta := &api.ChatMessage{ToolCalls: []api.ToolCall{{
				Function: api.FunctionCall{Arguments: ev.Delta.PartialJSON},
			}}}
			return t.emit(&api.ChatResponse{Choices: []api.Choice{{Delta: delta}}})
		}

	case "message_delta":
		finish := ""
		if ev.Delta != nil {
			finish = mapStopReason(ev.Delta.StopReason)
		}
		chunk := &api.ChatResponse{Choices: []api.Choice{{
			Delta:        &api.ChatMessage{},
			FinishReason: finish,
		}}}
		if ev.Usage != nil {
			chunk.Usage = &api.ResponseUsage{
				PromptTokens:     t.inputTokens,
				CompletionTokens: ev.Usage.OutputTokens,
				TotalTokens:      t.inputTokens + ev.Usage.OutputTokens,
			}
		}
		return t.emit(chunk)

	case "message_stop":
		return io.EOF
	}
	return nil
}
