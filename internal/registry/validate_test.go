package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFileRejectsBindingWithoutModel(t *testing.T) {
	_, err := ParseFile([]byte(`
models:
  - id: broken-model
    candidates:
      - provider: openai
        auth: bearer
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken-model")
	assert.Contains(t, err.Error(), "required")
}

func TestParseFileRejectsUnknownAuthScheme(t *testing.T) {
	_, err := ParseFile([]byte(`
models:
  - id: broken-auth
    candidates:
      - provider: openai
        model: gpt-4o
        auth: kerberos
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be one of [bearer, aws-sigv4, custom]")
}

func TestParseFileAcceptsValidTable(t *testing.T) {
	f, err := ParseFile([]byte(`
aliases:
  short: long-name
models:
  - id: long-name
    candidates:
      - provider: openai
        model: gpt-4o-2024-08-06
        auth: bearer
        context_length: 128000
`))
	require.NoError(t, err)
	assert.Len(t, f.Models, 1)
	assert.Equal(t, "long-name", f.Aliases["short"])
}
