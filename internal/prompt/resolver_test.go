package prompt

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStore serves versions from memory keyed the way the resolver asks.
type fakeStore struct {
	byID         map[string]*Version
	byEnv        map[string]*Version
	production   map[string]*Version
	promptErrors map[string]error
}

func (f *fakeStore) GetVersionByID(_ context.Context, _, promptID, versionID string) (*Version, error) {
	if err, ok := f.promptErrors[promptID]; ok {
		return nil, err
	}
	if v, ok := f.byID[promptID+"/"+versionID]; ok {
		return v, nil
	}
	return nil, fmt.Errorf("version %s: %w", versionID, ErrVersionNotFound)
}

func (f *fakeStore) GetVersionByEnvironment(_ context.Context, _, promptID, env string) (*Version, error) {
	if err, ok := f.promptErrors[promptID]; ok {
		return nil, err
	}
	if v, ok := f.byEnv[promptID+"/"+env]; ok {
		return v, nil
	}
	return nil, fmt.Errorf("environment %s: %w", env, ErrVersionNotFound)
}

func (f *fakeStore) GetProductionVersion(_ context.Context, _, promptID string) (*Version, error) {
	if err, ok := f.promptErrors[promptID]; ok {
		return nil, err
	}
	if v, ok := f.production[promptID]; ok {
		return v, nil
	}
	return nil, fmt.Errorf("prompt %s: %w", promptID, ErrPromptNotFound)
}

func testStore() *fakeStore {
	return &fakeStore{
		byID: map[string]*Version{
			"versioned/v2-uuid-5678": {ID: "v2-uuid-5678", PromptID: "versioned", Model: "gpt-4o/openai"},
		},
		byEnv: map[string]*Version{
			"env-prompt/staging": {ID: "staging-v", PromptID: "env-prompt", Model: "gpt-4o/openai"},
		},
		production: map[string]*Version{
			"versioned":  {ID: "prod-v", PromptID: "versioned", Model: "gpt-3.5-turbo/openai", Production: true},
			"env-prompt": {ID: "prod-env", PromptID: "env-prompt", Model: "gpt-4o-mini/openai", Production: true},
			"templated": {
				ID:       "tmpl-v",
				PromptID: "templated",
				Model:    "gpt-4o/openai",
				Body: map[string]any{
					"messages": []any{
						map[string]any{"role": "system", "content": "You help {{name}} with {{topic}}."},
						map[string]any{"role": "user", "content": "Hi"},
					},
					"max_tokens": float64(256),
				},
				Production: true,
			},
			"no-model": {ID: "nm-v", PromptID: "no-model", Model: "", Production: true},
		},
		promptErrors: map[string]error{
			"deleted-prompt":      ErrPromptDeleted,
			"unauthorized-prompt": ErrUnauthorized,
		},
	}
}

func TestResolveModel_ExactVersion(t *testing.T) {
	r := NewResolver(testStore(), nil)

	model, err := r.ResolveModel(context.Background(), Ref{PromptID: "versioned", VersionID: "v2-uuid-5678"}, "org-1")
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o/openai", model)
}

func TestResolveModel_UnknownVersionFallsBackToProduction(t *testing.T) {
	r := NewResolver(testStore(), nil)

	model, err := r.ResolveModel(context.Background(), Ref{PromptID: "versioned", VersionID: "does-not-exist"}, "org-1")
	require.NoError(t, err)
	assert.Equal(t, "gpt-3.5-turbo/openai", model)
}

func TestResolveModel_Environment(t *testing.T) {
	r := NewResolver(testStore(), nil)

	model, err := r.ResolveModel(context.Background(), Ref{PromptID: "env-prompt", Environment: "staging"}, "org-1")
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o/openai", model)
}

func TestResolveModel_UnknownEnvironmentFallsBackToProduction(t *testing.T) {
	r := NewResolver(testStore(), nil)

	model, err := r.ResolveModel(context.Background(), Ref{PromptID: "env-prompt", Environment: "qa"}, "org-1")
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini/openai", model)
}

func TestResolveModel_FailureClasses(t *testing.T) {
	r := NewResolver(testStore(), nil)
	ctx := context.Background()

	_, err := r.ResolveModel(ctx, Ref{PromptID: "missing"}, "org-1")
	assert.ErrorIs(t, err, ErrPromptNotFound)

	_, err = r.ResolveModel(ctx, Ref{PromptID: "deleted-prompt"}, "org-1")
	assert.ErrorIs(t, err, ErrPromptDeleted)

	_, err = r.ResolveModel(ctx, Ref{PromptID: "unauthorized-prompt"}, "org-1")
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = r.ResolveModel(ctx, Ref{PromptID: "no-model"}, "org-1")
	assert.ErrorIs(t, err, ErrNoModel)
}

func TestMergeBody_SubstitutesInputs(t *testing.T) {
	r := NewResolver(testStore(), nil)

	merged, err := r.MergeBody(context.Background(),
		Ref{PromptID: "templated", Inputs: map[string]any{"name": "Ada", "topic": "routing"}},
		map[string]any{"max_tokens": float64(512), "prompt_id": "templated"},
		"org-1")
	require.NoError(t, err)

	assert.Equal(t, "tmpl-v", merged.PromptVersionID)

	msgs := merged.Body["messages"].([]any)
	system := msgs[0].(map[string]any)
	assert.Equal(t, "You help Ada with routing.", system["content"])

	// Overrides win, prompt ref fields are stripped.
	assert.Equal(t, float64(512), merged.Body["max_tokens"])
	assert.NotContains(t, merged.Body, "prompt_id")
}

func TestMergeBody_UnsetVariablesStayLiteral(t *testing.T) {
	r := NewResolver(testStore(), nil)

	merged, err := r.MergeBody(context.Background(),
		Ref{PromptID: "templated", Inputs: map[string]any{"name": "Ada"}},
		nil, "org-1")
	require.NoError(t, err)

	msgs := merged.Body["messages"].([]any)
	system := msgs[0].(map[string]any)
	assert.Equal(t, "You help Ada with {{topic}}.", system["content"])
}

func TestMergeBody_PreservesUnrelatedFields(t *testing.T) {
	r := NewResolver(testStore(), nil)

	merged, err := r.MergeBody(context.Background(),
		Ref{PromptID: "templated"},
		map[string]any{
			"tools":           []any{map[string]any{"type": "function"}},
			"response_format": map[string]any{"type": "json_object"},
			"temperature":     0.2,
		},
		"org-1")
	require.NoError(t, err)

	assert.Contains(t, merged.Body, "tools")
	assert.Contains(t, merged.Body, "response_format")
	assert.Equal(t, 0.2, merged.Body["temperature"])
}
