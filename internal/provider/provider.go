// Package provider defines the per-provider transformation contract: build a
// wire request from the canonical body, and decode wire responses or stream
// chunks back into the canonical shape. Adapters are pure; execution and
// signing happen elsewhere.
package provider

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/nulzo/model-gateway/internal/credential"
	"github.com/nulzo/model-gateway/internal/registry"
	"github.com/nulzo/model-gateway/pkg/api"
)

// BodyMapping selects how the canonical body is translated for the wire.
type BodyMapping string

const (
	// MappingDefault translates canonical field names and shapes into the
	// provider's dialect and drops parameters the binding does not support.
	MappingDefault BodyMapping = "DEFAULT"
	// MappingNone forwards the canonical body untouched except for the model
	// field, which is rewritten to the binding's provider model id.
	MappingNone BodyMapping = "NO_MAPPING"
)

// WireRequest is a fully built but unsigned upstream request.
type WireRequest struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// BuildInput carries everything an adapter needs to produce a wire request.
type BuildInput struct {
	Binding    registry.ProviderBinding
	Body       map[string]any
	Mapping    BodyMapping
	Stream     bool
	Credential credential.Credential // region/project templating, never secrets
}

// Adapter is the transformation contract for one provider dialect.
type Adapter interface {
	// BuildRequest produces the provider wire request for a canonical body.
	BuildRequest(in BuildInput) (*WireRequest, error)
	// ParseResponse maps a non-streaming provider response body into the
	// canonical envelope.
	ParseResponse(body []byte) (*api.ChatResponse, error)
	// DecodeStream reads provider-native stream framing and emits canonical
	// chunks until the stream ends or ctx is cancelled. It must not buffer
	// the whole body.
	DecodeStream(ctx context.Context, r io.Reader, out chan<- api.StreamChunk) error
}

// registry of adapters keyed by provider tag; populated by Register at init
// time, read-only afterwards.
var adapters = map[registry.Provider]Adapter{}

func Register(p registry.Provider, a Adapter) {
	if _, exists := adapters[p]; exists {
		panic(fmt.Sprintf("adapter already registered for provider %s", p))
	}
	adapters[p] = a
}

// ForProvider returns the adapter bound to a provider tag. The tag set is
// closed, so a miss is a wiring bug rather than user error.
func ForProvider(p registry.Provider) (Adapter, error) {
	a, ok := adapters[p]
	if !ok {
		return nil, fmt.Errorf("no adapter registered for provider %s", p)
	}
	return a, nil
}

// FilterParameters removes sampling parameters the binding does not support.
// Unsupported parameters are dropped silently; structural fields are never
// touched.
func FilterParameters(body map[string]any, binding registry.ProviderBinding) map[string]any {
	if len(binding.SupportedParameters) == 0 {
		return body
	}
	out := make(map[string]any, len(body))
	for k, v := range body {
		if tunableParameters[k] && !binding.SupportsParameter(k) {
			continue
		}
		out[k] = v
	}
	return out
}

// tunableParameters are the knobs subject to supported-parameter filtering.
// Everything else (messages, model, stream, user, ...) always passes.
var tunableParameters = map[string]bool{
	"temperature":       true,
	"top_p":             true,
	"top_k":             true,
	"max_tokens":        true,
	"stop":              true,
	"frequency_penalty": true,
	"presence_penalty":  true,
	"seed":              true,
	"logit_bias":        true,
	"logprobs":          true,
	"top_logprobs":      true,
	"min_p":             true,
	"response_format":   true,
	"tools":             true,
	"tool_choice":       true,
	"functions":         true,
}
