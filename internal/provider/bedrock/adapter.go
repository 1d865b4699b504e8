// Package bedrock routes the Anthropic messages dialect over the AWS Bedrock
// runtime API. Bodies carry anthropic_version instead of a model field; the
// model id lives in the URL, and streams arrive as binary event-stream frames
// rather than SSE.
package bedrock

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws/protocol/eventstream"

	"github.com/nulzo/model-gateway/internal/provider"
	"github.com/nulzo/model-gateway/internal/provider/anthropic"
	"github.com/nulzo/model-gateway/internal/registry"
	"github.com/nulzo/model-gateway/pkg/api"
)

func init() {
	provider.Register(registry.Bedrock, &Adapter{})
}

const anthropicVersion = "bedrock-2023-05-31"

type Adapter struct{}

func (a *Adapter) BuildRequest(in provider.BuildInput) (*provider.WireRequest, error) {
	var body map[string]any
	var err error

	if in.Mapping == provider.MappingNone {
		body = make(map[string]any, len(in.Body))
		for k, v := range in.Body {
			body[k] = v
		}
	} else {
		body, err = anthropic.BuildBody(in.Body, in.Binding, false)
		if err != nil {
			return nil, err
		}
	}
	// model rides in the URL; stream is selected by endpoint
	delete(body, "model")
	delete(body, "stream")
	body["anthropic_version"] = anthropicVersion

	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	baseURL := in.Binding.BaseURL
	if baseURL == "" {
		if in.Credential.Region == "" {
			return nil, fmt.Errorf("bedrock binding requires a region")
		}
		baseURL = fmt.Sprintf("https://bedrock-runtime.%s.amazonaws.com", in.Credential.Region)
	}

	endpoint := "invoke"
	if in.Stream {
		endpoint = "invoke-with-response-stream"
	}
	reqURL := fmt.Sprintf("%s/model/%s/%s",
		strings.TrimRight(baseURL, "/"),
		url.PathEscape(in.Binding.ProviderModelID),
		endpoint,
	)

	return &provider.WireRequest{
		Method: http.MethodPost,
		URL:    reqURL,
		Header: http.Header{},
		Body:   raw,
	}, nil
}

func (a *Adapter) ParseResponse(body []byte) (*api.ChatResponse, error) {
	return anthropic.ParseNativeResponse(body)
}

// chunkPayload is the event payload of a bedrock response stream frame; Bytes
// holds a base64 messages-API event.
type chunkPayload struct {
	Bytes []byte `json:"bytes"`
}

func (a *Adapter) DecodeStream(ctx context.Context, r io.Reader, out chan<- api.StreamChunk) error {
	tr := anthropic.NewStreamTranslator(ctx, out)
	decoder := eventstream.NewDecoder()

	var payloadBuf []byte
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		msg, err := decoder.Decode(r, payloadBuf)
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("failed to decode event stream frame: %w", err)
		}
		payloadBuf = msg.Payload

		switch typ := headerString(msg, ":message-type"); typ {
		case "event":
			if headerString(msg, ":event-type") != "chunk" {
				continue
			}
			var chunk chunkPayload
			if err := json.Unmarshal(msg.Payload, &chunk); err != nil {
				continue
			}
			if err := tr.Event(string(chunk.Bytes)); err != nil {
				if err == io.EOF {
					return nil
				}
				return err
			}
		case "exception", "error":
			return fmt.Errorf("upstream stream error: %s", string(msg.Payload))
		}
	}
}

func headerString(msg eventstream.Message, name string) string {
	for _, h := range msg.Headers {
		if h.Name == name {
			return h.Value.String()
		}
	}
	return ""
}
