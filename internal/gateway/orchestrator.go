package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/nulzo/model-gateway/internal/credential"
	"github.com/nulzo/model-gateway/internal/httpclient"
	"github.com/nulzo/model-gateway/internal/provider"
	"github.com/nulzo/model-gateway/internal/registry"
	"github.com/nulzo/model-gateway/pkg/api"
)

const defaultAttemptTimeout = 60 * time.Second

// AttemptResult records the terminal classification of one candidate attempt.
type AttemptResult struct {
	Provider     registry.Provider
	HTTPStatus   int
	ErrorKind    api.ErrorKind
	ErrorMessage string
	Retryable    bool
}

// GatewayOutcome is the orchestrator's final word on a request. Exactly one
// of Response and Stream is set on success; on failure both are nil and the
// returned error carries the status and message for the caller.
type GatewayOutcome struct {
	Attempts    []AttemptResult
	FinalStatus int
	Provider    registry.Provider

	Response *api.ChatResponse
	Stream   <-chan api.StreamChunk
}

// clientStatuses are provider-reported request errors. They are never retried
// against the same provider and, when they come from the last attempted
// candidate, their status propagates to the caller unchanged.
var clientStatuses = map[int]bool{
	400: true, 401: true, 403: true, 404: true,
	409: true, 422: true, 429: true,
}

// Orchestrator drives the ordered candidate list for a resolved model,
// attempting each sequentially until one succeeds or the list is exhausted.
// Candidates are never attempted speculatively; every upstream call is
// billed.
type Orchestrator struct {
	registry *registry.Registry
	creds    *credential.Pool
	auth     authSigner
	client   httpclient.Doer
	logger   *zap.Logger
	tracer   trace.Tracer
	timeout  time.Duration
}

type authSigner interface {
	Sign(ctx context.Context, wire *provider.WireRequest, binding registry.ProviderBinding, cred credential.Credential) error
}

func NewOrchestrator(reg *registry.Registry, creds *credential.Pool, signer authSigner, client httpclient.Doer, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		registry: reg,
		creds:    creds,
		auth:     signer,
		client:   client,
		logger:   logger,
		tracer:   otel.Tracer("gateway"),
		timeout:  defaultAttemptTimeout,
	}
}

// candidate pairs a binding with the logical model it came from.
type candidate struct {
	logicalID string
	binding   registry.ProviderBinding
}

// resolveCandidates flattens every requested model's ordered bindings into
// one attempt list.
func (o *Orchestrator) resolveCandidates(req *CanonicalRequest) ([]candidate, error) {
	var out []candidate
	for _, model := range req.ModelStrings {
		spec, err := o.registry.Resolve(model)
		if err != nil {
			switch {
			case errors.Is(err, registry.ErrModelNotFound):
				return nil, api.Errorf(api.KindValidation, http.StatusBadRequest, "Model not found: %s", model)
			case errors.Is(err, registry.ErrProviderNotConfigured):
				return nil, api.ProviderNotConfiguredError(err.Error())
			default:
				return nil, api.InternalError("failed to resolve model", err)
			}
		}
		for _, b := range spec.Candidates {
			out = append(out, candidate{logicalID: spec.LogicalID, binding: b})
		}
	}
	if len(out) == 0 {
		return nil, api.InternalError("model resolved to an empty candidate list", nil)
	}
	return out, nil
}

// Execute runs the fallback chain. On failure the returned outcome still
// carries the recorded attempts so the caller can log them.
func (o *Orchestrator) Execute(ctx context.Context, req *CanonicalRequest, byok *credential.Credential) (*GatewayOutcome, error) {
	candidates, err := o.resolveCandidates(req)
	if err != nil {
		return nil, err
	}

	outcome := &GatewayOutcome{}
	var last AttemptResult

	for i, cand := range candidates {
		if ctx.Err() != nil {
			return outcome, api.Errorf(api.KindUpstreamTransient, 499, "client disconnected")
		}

		last = o.attempt(ctx, req, cand, byok, outcome)
		outcome.Attempts = append(outcome.Attempts, last)

		if outcome.Response != nil || outcome.Stream != nil {
			outcome.FinalStatus = last.HTTPStatus
			outcome.Provider = cand.binding.Provider
			return outcome, nil
		}

		if ctx.Err() != nil {
			return outcome, api.Errorf(api.KindUpstreamTransient, 499, "client disconnected")
		}

		o.logger.Warn("candidate attempt failed",
			zap.String("model", cand.logicalID),
			zap.String("provider", string(cand.binding.Provider)),
			zap.Int("status", last.HTTPStatus),
			zap.Bool("retryable", last.Retryable),
			zap.Int("attempt", i+1),
			zap.Int("candidates", len(candidates)),
		)
	}

	// Exhausted. Transient and server failures collapse to 500; a
	// client-class status from the final attempt is meaningful to the caller
	// and propagates unchanged.
	outcome.FinalStatus = http.StatusInternalServerError
	if clientStatuses[last.HTTPStatus] {
		outcome.FinalStatus = last.HTTPStatus
	}
	msg := last.ErrorMessage
	if msg == "" {
		msg = "All model providers failed"
	}
	return outcome, api.UpstreamError(outcome.FinalStatus, last.ErrorKind, msg)
}

// attempt runs one candidate end to end: build, sign, execute, classify. On
// success it stores the normalized response or stream on the outcome.
func (o *Orchestrator) attempt(ctx context.Context, req *CanonicalRequest, cand candidate, byok *credential.Credential, outcome *GatewayOutcome) AttemptResult {
	res := AttemptResult{Provider: cand.binding.Provider}

	ctx, span := o.tracer.Start(ctx, "gateway.attempt", trace.WithAttributes(
		attribute.String("gateway.model", cand.logicalID),
		attribute.String("gateway.provider", string(cand.binding.Provider)),
	))
	defer func() {
		span.SetAttributes(attribute.Int("gateway.status", res.HTTPStatus))
		span.End()
	}()

	fail := func(kind api.ErrorKind, retryable bool, msg string) AttemptResult {
		res.ErrorKind = kind
		res.Retryable = retryable
		res.ErrorMessage = msg
		return res
	}

	adapter, err := provider.ForProvider(cand.binding.Provider)
	if err != nil {
		return fail(api.KindInternalInvariant, false, err.Error())
	}

	cred, err := o.creds.Resolve(cand.binding.Provider, byok, req.PassthroughBilling)
	if err != nil {
		// missing platform credential: skip to the next candidate
		return fail(api.KindUpstreamTransient, true, err.Error())
	}

	mapping := provider.MappingDefault
	if cand.binding.BodyMapping == string(provider.MappingNone) {
		mapping = provider.MappingNone
	}

	wire, err := adapter.BuildRequest(provider.BuildInput{
		Binding:    cand.binding,
		Body:       req.Body,
		Mapping:    mapping,
		Stream:     req.Stream,
		Credential: cred,
	})
	if err != nil {
		return fail(api.KindInternalInvariant, false, err.Error())
	}

	if err := o.auth.Sign(ctx, wire, cand.binding, cred); err != nil {
		return fail(api.KindUpstreamTransient, true, err.Error())
	}

	attemptCtx := ctx
	var cancel context.CancelFunc
	if !req.Stream {
		// streams outlive the attempt; only bounded calls get the deadline
		attemptCtx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	resp, err := httpclient.Execute(attemptCtx, o.client, wire)
	if err != nil {
		if ctx.Err() != nil {
			return fail(api.KindUpstreamTransient, false, "client disconnected")
		}
		return fail(api.KindUpstreamTransient, true, fmt.Sprintf("connection failure: %v", err))
	}
	res.HTTPStatus = resp.StatusCode

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body := httpclient.ReadErrorBody(resp.Body)
		resp.Body.Close()
		msg := httpclient.ErrorMessage(body, fmt.Sprintf("provider %s returned status %d", cand.binding.Provider, resp.StatusCode))
		if retryableStatus(resp.StatusCode) {
			return fail(api.KindUpstreamTransient, true, msg)
		}
		return fail(api.KindUpstreamClient, false, msg)
	}

	if req.Stream {
		outcome.Stream = o.startStream(ctx, adapter, resp.Body)
		return res
	}

	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fail(api.KindUpstreamTransient, true, fmt.Sprintf("failed to read response: %v", err))
	}
	normalized, err := adapter.ParseResponse(body)
	if err != nil {
		return fail(api.KindUpstreamTransient, true, err.Error())
	}
	outcome.Response = normalized
	return res
}

// startStream decodes the upstream stream into canonical chunks. The channel
// is unbuffered so client backpressure pauses the upstream read.
func (o *Orchestrator) startStream(ctx context.Context, adapter provider.Adapter, body io.ReadCloser) <-chan api.StreamChunk {
	out := make(chan api.StreamChunk)
	go func() {
		defer close(out)
		defer body.Close()

		if err := adapter.DecodeStream(ctx, body, out); err != nil && ctx.Err() == nil {
			select {
			case out <- api.StreamChunk{Err: err}:
			case <-ctx.Done():
			}
		}
	}()
	return out
}

// retryableStatus mirrors the transient classification: request timeout and
// server-side failures move the chain along.
func retryableStatus(status int) bool {
	return status == http.StatusRequestTimeout || (status >= 500 && status <= 599)
}
