// Package credential resolves upstream provider secrets. The platform pool
// is refreshed copy-on-write so in-flight requests never observe a
// half-updated credential set.
package credential

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/nulzo/model-gateway/internal/registry"
)

var ErrNoCredential = errors.New("no credential configured for provider")

// Credential is one resolved upstream secret plus the deployment coordinates
// some providers template into their URLs.
type Credential struct {
	Provider  registry.Provider
	APIKey    string
	SecretKey string // AWS secret access key for sigv4 providers
	Region    string
	ProjectID string
	Location  string
	// Headers carries provider-specific constant headers, e.g. the
	// anthropic-version pin.
	Headers map[string]string
}

// Pool is the platform-managed credential table.
type Pool struct {
	table atomic.Pointer[map[registry.Provider]Credential]
}

func NewPool(creds []Credential) *Pool {
	p := &Pool{}
	p.Swap(creds)
	return p
}

// Swap atomically replaces the whole table. Readers holding the previous
// snapshot are unaffected.
func (p *Pool) Swap(creds []Credential) {
	t := make(map[registry.Provider]Credential, len(creds))
	for _, c := range creds {
		t[c.Provider] = c
	}
	p.table.Store(&t)
}

// Resolve picks the credential for one attempt. A BYOK credential wins when
// the request asked for passthrough billing; otherwise the platform pool is
// consulted.
func (p *Pool) Resolve(prov registry.Provider, byok *Credential, passthrough bool) (Credential, error) {
	if passthrough && byok != nil && byok.APIKey != "" {
		c := *byok
		c.Provider = prov
		return c, nil
	}

	t := *p.table.Load()
	c, ok := t[prov]
	if !ok {
		return Credential{}, fmt.Errorf("%w: %s", ErrNoCredential, prov)
	}
	return c, nil
}
