// Package gateway contains the model resolution and provider routing engine:
// request normalization, candidate resolution, and the fallback chain that
// executes provider attempts in order.
package gateway

import (
	"context"

	"github.com/nulzo/model-gateway/internal/credential"
)

// Service is the front door the HTTP layer talks to.
type Service struct {
	normalizer   *Normalizer
	orchestrator *Orchestrator
}

func NewService(normalizer *Normalizer, orchestrator *Orchestrator) *Service {
	return &Service{normalizer: normalizer, orchestrator: orchestrator}
}

// Chat normalizes the raw body and drives the fallback chain. The raw bytes
// are decoded exactly once; everything downstream works on the decoded map so
// unmodeled fields survive verbatim.
func (s *Service) Chat(ctx context.Context, raw []byte, orgID string, byok *credential.Credential) (*GatewayOutcome, error) {
	req, err := s.normalizer.Normalize(ctx, raw, orgID)
	if err != nil {
		return nil, err
	}
	return s.orchestrator.Execute(ctx, req, byok)
}
