package api

import "fmt"

// ErrorKind classifies a gateway failure. Kinds drive both the HTTP status
// the caller sees and whether the fallback chain keeps going.
type ErrorKind string

const (
	KindValidation        ErrorKind = "validation"
	KindPromptResolution  ErrorKind = "prompt_resolution"
	KindProviderNotConfig ErrorKind = "provider_not_configured"
	KindUpstreamClient    ErrorKind = "upstream_client"
	KindUpstreamTransient ErrorKind = "upstream_transient"
	KindInternalInvariant ErrorKind = "internal_invariant"
)

// GatewayError is the one error shape that crosses the HTTP boundary.
// Provider-specific bodies never pass through verbatim; only Message does,
// serialized as {"error": "<message>"}.
type GatewayError struct {
	Status  int
	Kind    ErrorKind
	Message string
	Log     error // internal detail, logged but never sent to the caller
}

func (e *GatewayError) Error() string {
	return e.Message
}

func (e *GatewayError) Unwrap() error {
	return e.Log
}

// ErrorBody is the canonical non-2xx response body.
type ErrorBody struct {
	Error string `json:"error"`
}

func ValidationError(msg string) *GatewayError {
	return &GatewayError{Status: 400, Kind: KindValidation, Message: msg}
}

func PromptResolutionError(msg string, cause error) *GatewayError {
	return &GatewayError{Status: 400, Kind: KindPromptResolution, Message: msg, Log: cause}
}

func ProviderNotConfiguredError(msg string) *GatewayError {
	return &GatewayError{Status: 400, Kind: KindProviderNotConfig, Message: msg}
}

func InternalError(msg string, cause error) *GatewayError {
	return &GatewayError{Status: 500, Kind: KindInternalInvariant, Message: msg, Log: cause}
}

func UpstreamError(status int, kind ErrorKind, msg string) *GatewayError {
	return &GatewayError{Status: status, Kind: kind, Message: msg}
}

// Errorf is a convenience for wrapping internal failures.
func Errorf(kind ErrorKind, status int, format string, args ...any) *GatewayError {
	return &GatewayError{Status: status, Kind: kind, Message: fmt.Sprintf(format, args...)}
}
