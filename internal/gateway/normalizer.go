package gateway

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/nulzo/model-gateway/internal/prompt"
	"github.com/nulzo/model-gateway/pkg/api"
)

// Load-bearing error messages: callers and their test suites match on these
// strings verbatim.
const (
	msgInvalidBody      = "Invalid body or missing model"
	msgPromptIDRequired = "prompt_id is required"
	msgPromptFetch      = "Failed to fetch model from prompt"
)

// CanonicalRequest is the normalized form every downstream stage works on.
// Body is the raw decoded object so fields the gateway does not model travel
// to providers verbatim; Typed is a parsed view of the same bytes.
type CanonicalRequest struct {
	// ModelStrings holds the requested model plus comma-separated fallbacks,
	// in order. Each entry is "<logicalId>" or "<logicalId>/<provider>".
	ModelStrings []string

	Body  map[string]any
	Typed *api.ChatRequest

	Stream             bool
	PassthroughBilling bool

	// PromptVersionID is set when the body was merged from a stored prompt.
	PromptVersionID string
}

// Normalizer validates the inbound body and settles which model string the
// request runs against, consulting the prompt resolver when the caller sent a
// prompt reference instead of a model.
type Normalizer struct {
	prompts *prompt.Resolver
}

func NewNormalizer(prompts *prompt.Resolver) *Normalizer {
	return &Normalizer{prompts: prompts}
}

// Normalize applies the resolution rules in order: an explicit model wins and
// leaves prompt fields for body merging only; otherwise prompt_id drives
// model resolution; prompt sub-fields without prompt_id are rejected; a body
// with neither model nor prompt_id is rejected.
func (n *Normalizer) Normalize(ctx context.Context, raw []byte, orgID string) (*CanonicalRequest, error) {
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil || body == nil {
		return nil, api.ValidationError(msgInvalidBody)
	}
	var typed api.ChatRequest
	if err := json.Unmarshal(raw, &typed); err != nil {
		return nil, api.ValidationError(msgInvalidBody)
	}

	ref := prompt.Ref{
		PromptID:    typed.PromptID,
		VersionID:   typed.VersionID,
		Environment: typed.Environment,
		Inputs:      typed.Inputs,
	}

	model := strings.TrimSpace(typed.Model)
	switch {
	case model != "":
		// explicit model wins; a prompt reference only contributes body
	case ref.PromptID != "":
		resolved, err := n.prompts.ResolveModel(ctx, ref, orgID)
		if err != nil {
			return nil, api.PromptResolutionError(msgPromptFetch, err)
		}
		model = resolved
	case ref.VersionID != "" || ref.Environment != "" || len(ref.Inputs) > 0:
		return nil, api.ValidationError(msgPromptIDRequired)
	default:
		return nil, api.ValidationError(msgInvalidBody)
	}

	promptVersionID := ""
	if ref.PromptID != "" {
		merged, err := n.prompts.MergeBody(ctx, ref, body, orgID)
		if err != nil {
			return nil, api.PromptResolutionError(msgPromptFetch, err)
		}
		body = merged.Body
		promptVersionID = merged.PromptVersionID
	} else {
		// prompt reference fields never travel upstream
		delete(body, "prompt_id")
		delete(body, "version_id")
		delete(body, "environment")
		delete(body, "inputs")
	}
	body["model"] = model

	return &CanonicalRequest{
		ModelStrings:       splitModels(model),
		Body:               body,
		Typed:              &typed,
		Stream:             typed.Stream,
		PassthroughBilling: typed.PassthroughBilling,
		PromptVersionID:    promptVersionID,
	}, nil
}

// splitModels expands "model-a,model-b" into an ordered fallback list.
func splitModels(model string) []string {
	parts := strings.Split(model, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
