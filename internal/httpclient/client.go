package httpclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/nulzo/model-gateway/internal/provider"
)

// Doer is the minimal HTTP client surface, satisfied by *http.Client.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Execute sends a built wire request. The caller owns resp.Body.
func Execute(ctx context.Context, client Doer, wire *provider.WireRequest) (*http.Response, error) {
	var bodyReader io.Reader
	if len(wire.Body) > 0 {
		bodyReader = bytes.NewReader(wire.Body)
	}

	req, err := http.NewRequestWithContext(ctx, wire.Method, wire.URL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	for k, vals := range wire.Header {
		for _, v := range vals {
			req.Header.Set(k, v)
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	return resp, nil
}

// maxErrorBody caps how much of an upstream error body is read for message
// extraction.
const maxErrorBody = 64 * 1024

// ErrorMessage pulls a human-readable message out of an upstream error body.
// Providers disagree on shape; "message" and "error.message" cover the
// OpenAI-compatible and native dialects alike.
func ErrorMessage(body []byte, fallback string) string {
	var envelope struct {
		Message string `json:"message"`
		Error   struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil {
		if envelope.Message != "" {
			return envelope.Message
		}
		if envelope.Error.Message != "" {
			return envelope.Error.Message
		}
	}
	// Sometimes the error field itself is a bare string.
	var loose struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &loose); err == nil && loose.Error != "" {
		return loose.Error
	}
	return fallback
}

// ReadErrorBody drains up to maxErrorBody bytes of an error response.
func ReadErrorBody(r io.Reader) []byte {
	body, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))
	return body
}

// SSEHandler receives one server-sent event at a time. Returning io.EOF stops
// the scan without error.
type SSEHandler func(event, data string) error

// ScanSSE reads server-sent events line by line without buffering the whole
// body. Comment lines and empty keep-alives are skipped.
func ScanSSE(ctx context.Context, r io.Reader, handle SSEHandler) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	event := ""
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}

		line := scanner.Text()
		switch {
		case line == "":
			event = ""
		case strings.HasPrefix(line, ":"):
			// comment / keep-alive
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if err := handle(event, data); err != nil {
				if err == io.EOF {
					return nil
				}
				return err
			}
		}
	}
	return scanner.Err()
}
