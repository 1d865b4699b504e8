package prompt

import (
	"context"
	"errors"
)

// Store errors map onto the prompt fetch failure classes. Every one of them
// surfaces to the caller as a 400 with the "Failed to fetch model from
// prompt" prefix; ErrVersionNotFound alone triggers the silent fallback to
// the production version instead.
var (
	ErrPromptNotFound  = errors.New("prompt not found")
	ErrPromptDeleted   = errors.New("prompt has been deleted")
	ErrUnauthorized    = errors.New("you do not have access to this prompt")
	ErrMalformed       = errors.New("prompt data is malformed")
	ErrNoModel         = errors.New("prompt version has no model configured")
	ErrVersionNotFound = errors.New("prompt version not found")
)

// Version is one stored prompt version. Body holds the message template and
// any request defaults in canonical (OpenAI-compatible) shape.
type Version struct {
	ID          string
	PromptID    string
	Environment string
	Model       string
	Body        map[string]any
	Production  bool
}

// Store is the Prompt Store collaborator. The gateway consumes stored
// prompts; creating and versioning them belongs to the dashboard.
type Store interface {
	// GetVersionByID fetches an exact prompt version.
	GetVersionByID(ctx context.Context, orgID, promptID, versionID string) (*Version, error)
	// GetVersionByEnvironment fetches the version deployed to an environment.
	GetVersionByEnvironment(ctx context.Context, orgID, promptID, environment string) (*Version, error)
	// GetProductionVersion fetches the prompt's production/default version.
	GetProductionVersion(ctx context.Context, orgID, promptID string) (*Version, error)
}
