package prompt

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Ref identifies the prompt version a request wants to run.
type Ref struct {
	PromptID    string
	VersionID   string
	Environment string
	Inputs      map[string]any
}

// Merged is the outcome of template merging for one request.
type Merged struct {
	Body            map[string]any
	PromptVersionID string
}

// Resolver turns prompt references into a concrete model string and a merged
// request body. Resolution precedence, most specific first: version_id,
// environment, production. Unknown version ids and unknown environments fall
// back to production silently; that fallthrough is a product decision, not
// an error path.
type Resolver struct {
	store  Store
	logger *zap.Logger
}

func NewResolver(store Store, logger *zap.Logger) *Resolver {
	return &Resolver{store: store, logger: logger}
}

// ResolveModel returns the model string configured on the resolved prompt
// version. An empty configured model is reported as ErrNoModel.
func (r *Resolver) ResolveModel(ctx context.Context, ref Ref, orgID string) (string, error) {
	v, err := r.resolveVersion(ctx, ref, orgID)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(v.Model) == "" {
		return "", fmt.Errorf("prompt %s version %s: %w", ref.PromptID, v.ID, ErrNoModel)
	}
	return v.Model, nil
}

// MergeBody substitutes the ref's inputs into the stored message template and
// folds request-level overrides on top. Substitution is plain string
// replacement of {{variable}} markers; variables without a supplied input are
// left as literal placeholders.
func (r *Resolver) MergeBody(ctx context.Context, ref Ref, overrides map[string]any, orgID string) (*Merged, error) {
	v, err := r.resolveVersion(ctx, ref, orgID)
	if err != nil {
		return nil, err
	}

	body := make(map[string]any, len(v.Body)+len(overrides))
	for k, val := range v.Body {
		body[k] = val
	}

	// Request-level fields win over stored defaults. Prompt reference fields
	// never travel upstream.
	for k, val := range overrides {
		switch k {
		case "prompt_id", "version_id", "environment", "inputs":
			continue
		}
		body[k] = val
	}

	if msgs, ok := body["messages"]; ok {
		body["messages"] = substituteMessages(msgs, ref.Inputs)
	}

	return &Merged{Body: body, PromptVersionID: v.ID}, nil
}

func (r *Resolver) resolveVersion(ctx context.Context, ref Ref, orgID string) (*Version, error) {
	if ref.VersionID != "" {
		v, err := r.store.GetVersionByID(ctx, orgID, ref.PromptID, ref.VersionID)
		if err == nil {
			return v, nil
		}
		if !errors.Is(err, ErrVersionNotFound) {
			return nil, err
		}
		if r.logger != nil {
			r.logger.Debug("prompt version not found, falling back to production",
				zap.String("prompt_id", ref.PromptID),
				zap.String("version_id", ref.VersionID),
			)
		}
	} else if ref.Environment != "" {
		v, err := r.store.GetVersionByEnvironment(ctx, orgID, ref.PromptID, ref.Environment)
		if err == nil {
			return v, nil
		}
		if !errors.Is(err, ErrVersionNotFound) {
			return nil, err
		}
	}

	return r.store.GetProductionVersion(ctx, orgID, ref.PromptID)
}

// substituteMessages walks a canonical messages array and replaces
// {{variable}} markers in string content. Anything that is not the expected
// shape passes through untouched.
func substituteMessages(msgs any, inputs map[string]any) any {
	if len(inputs) == 0 {
		return msgs
	}
	list, ok := msgs.([]any)
	if !ok {
		return msgs
	}

	out := make([]any, len(list))
	for i, m := range list {
		msg, ok := m.(map[string]any)
		if !ok {
			out[i] = m
			continue
		}
		content, ok := msg["content"].(string)
		if !ok {
			out[i] = m
			continue
		}
		for key, val := range inputs {
			content = strings.ReplaceAll(content, "{{"+key+"}}", fmt.Sprint(val))
		}
		clone := make(map[string]any, len(msg))
		for k, v := range msg {
			clone[k] = v
		}
		clone["content"] = content
		out[i] = clone
	}
	return out
}
