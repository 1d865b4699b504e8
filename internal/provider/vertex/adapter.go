// Package vertex routes the Anthropic messages dialect through Google Vertex
// AI rawPredict endpoints. Like bedrock, the body carries anthropic_version
// and the model id lives in the URL; unlike bedrock, streams are plain SSE.
package vertex

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/nulzo/model-gateway/internal/provider"
	"github.com/nulzo/model-gateway/internal/provider/anthropic"
	"github.com/nulzo/model-gateway/internal/registry"
	"github.com/nulzo/model-gateway/pkg/api"
)

func init() {
	provider.Register(registry.Vertex, &Adapter{})
}

const anthropicVersion = "vertex-2023-10-16"

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
		body, err = anthropic.BuildBody(in.Body, in.Binding, in.Stream)
		if err != nil {
			return nil, err
		}
	}
	delete(body, "model")
	body["anthropic_version"] = anthropicVersion

	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	url, err := a.endpoint(in)
	if err != nil {
		return nil, err
	}

	return &provider.WireRequest{
		Method: http.MethodPost,
		URL:    url,
		Header: http.Header{},
		Body:   raw,
	}, nil
}

func (a *Adapter) endpoint(in provider.BuildInput) (string, error) {
	verb := "rawPredict"
	if in.Stream {
		verb = "streamRawPredict"
	}

	if in.Binding.BaseURL != "" {
		return fmt.Sprintf("%s:%s", in.Binding.BaseURL, verb), nil
	}

	project := in.Credential.ProjectID
	location := in.Credential.Location
	if project == "" || location == "" {
		return "", fmt.Errorf("vertex binding requires a project and location")
	}

	host := fmt.Sprintf("%s-aiplatform.googleapis.com", location)
	if location == "global" {
		host = "aiplatform.googleapis.com"
	}

	return fmt.Sprintf(
		"https://%s/v1/projects/%s/locations/%s/publishers/anthropic/models/%s:%s",
		host, project, location, in.Binding.ProviderModelID, verb,
	), nil
}

func (a *Adapter) ParseResponse(body []byte) (*api.ChatResponse, error) {
	return anthropic.ParseNativeResponse(body)
}

func (a *Adapter) DecodeStream(ctx context.Context, r io.Reader, out chan<- api.StreamChunk) error {
	return anthropic.DecodeNativeStream(ctx, r, out)
}
