package registry

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
)

var (
	ErrModelNotFound         = errors.New("model not found")
	ErrProviderNotConfigured = errors.New("no provider configured for this model")
	ErrEmptyCandidates       = errors.New("model has no candidates")
)

// table is an immutable snapshot of the registry contents. Reload builds a
// fresh table and swaps the pointer; in-flight readers keep the old one.
type table struct {
	models  map[string]*ModelSpec
	aliases map[string]string
}

// Registry resolves model strings to ordered candidate lists. It is safe for
// unsynchronized concurrent reads.
type Registry struct {
	current atomic.Pointer[table]
	logger  *zap.Logger
}

func New(specs []ModelSpec, aliases map[string]string, logger *zap.Logger) (*Registry, error) {
	r := &Registry{logger: logger}
	if err := r.Reload(specs, aliases); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload atomically replaces the registry contents. The swap is copy-on-write:
// requests already resolving keep the snapshot they started with.
func (r *Registry) Reload(specs []ModelSpec, aliases map[string]string) error {
	t := &table{
		models:  make(map[string]*ModelSpec, len(specs)),
		aliases: make(map[string]string, len(aliases)),
	}

	for i := range specs {
		spec := specs[i]
		if spec.LogicalID == "" {
			return fmt.Errorf("registry entry %d: missing logical id", i)
		}
		if len(spec.Candidates) == 0 {
			return fmt.Errorf("model %q: %w", spec.LogicalID, ErrEmptyCandidates)
		}
		for _, c := range spec.Candidates {
			if !IsKnownProvider(c.Provider) {
				return fmt.Errorf("model %q: unknown provider %q", spec.LogicalID, c.Provider)
			}
		}
		t.models[spec.LogicalID] = &spec
	}

	for alias, target := range aliases {
		if _, ok := t.models[target]; !ok {
			return fmt.Errorf("alias %q points at unknown model %q", alias, target)
		}
		t.aliases[alias] = target
	}

	r.current.Store(t)
	if r.logger != nil {
		r.logger.Info("model registry loaded",
			zap.Int("models", len(t.models)),
			zap.Int("aliases", len(t.aliases)),
		)
	}
	return nil
}

// Resolve parses "<logicalId>" or "<logicalId>/<provider>" and returns the
// matching spec. With a provider suffix the candidate list is narrowed to
// that single binding; without one the full ordered list is returned.
func (r *Registry) Resolve(modelString string) (*ModelSpec, error) {
	t := r.current.Load()

	logicalID, provider, hasProvider := splitModelString(modelString)

	if target, ok := t.aliases[logicalID]; ok {
		logicalID = target
	}

	spec, ok := t.models[logicalID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrModelNotFound, modelString)
	}

	if !hasProvider {
		return spec, nil
	}

	binding, ok := spec.Binding(provider)
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrProviderNotConfigured, logicalID, provider)
	}
	return &ModelSpec{
		LogicalID:  spec.LogicalID,
		Candidates: []ProviderBinding{binding},
	}, nil
}

// List returns the logical ids of the current snapshot, for /v1/models.
func (r *Registry) List() []*ModelSpec {
	t := r.current.Load()
	out := make([]*ModelSpec, 0, len(t.models))
	for _, spec := range t.models {
		out = append(out, spec)
	}
	return out
}

// splitModelString separates an optional provider suffix. Provider model ids
// can themselves contain slashes (e.g. fireworks account paths), so the last
// segment is treated as a provider only when it names a known provider tag.
func splitModelString(s string) (logicalID string, provider Provider, ok bool) {
	idx := strings.LastIndex(s, "/")
	if idx < 0 {
		return s, "", false
	}
	suffix := Provider(s[idx+1:])
	if !IsKnownProvider(suffix) {
		return s, "", false
	}
	return s[:idx], suffix, true
}
