package registry

// Provider tags form a closed set; each tag is bound to exactly one adapter
// implementation via the dispatch table in internal/provider.
type Provider string

const (
	OpenAI    Provider = "openai"
	Anthropic Provider = "anthropic"
	Google    Provider = "google"
	Bedrock   Provider = "bedrock"
	Vertex    Provider = "vertex"
	Groq      Provider = "groq"
	DeepSeek  Provider = "deepseek"
	Mistral   Provider = "mistral"
	XAI       Provider = "xai"
	Together  Provider = "together"
	Fireworks Provider = "fireworks"
)

// knownProviders is the authoritative tag set used when parsing
// "<logicalId>/<provider>" model strings.
var knownProviders = map[Provider]bool{
	OpenAI:    true,
	Anthropic: true,
	Google:    true,
	Bedrock:   true,
	Vertex:    true,
	Groq:      true,
	DeepSeek:  true,
	Mistral:   true,
	XAI:       true,
	Together:  true,
	Fireworks: true,
}

func IsKnownProvider(p Provider) bool {
	return knownProviders[p]
}

type AuthScheme string

const (
	AuthBearer   AuthScheme = "bearer"
	AuthAwsSigV4 AuthScheme = "aws-sigv4"
	AuthCustom   AuthScheme = "custom"
)

// PricingTier prices one usage band. Threshold, when set, is the prompt-token
// count at which the tier starts applying.
type PricingTier struct {
	Threshold       int64   `yaml:"threshold,omitempty"`
	PromptPrice     float64 `yaml:"prompt"`
	CompletionPrice float64 `yaml:"completion"`
	CacheReadPrice  float64 `yaml:"cache_read,omitempty"`
	CacheWritePrice float64 `yaml:"cache_write,omitempty"`
	ImagePrice      float64 `yaml:"image,omitempty"`
	AudioPrice      float64 `yaml:"audio,omitempty"`
}

// ProviderBinding is one concrete way to serve a logical model. Bindings are
// owned by their ModelSpec and are read-only after registry load.
type ProviderBinding struct {
	Provider            Provider      `yaml:"provider" validate:"required"`
	ProviderModelID     string        `yaml:"model" validate:"required"`
	PricingTiers        []PricingTier `yaml:"pricing,omitempty"`
	ContextLength       int           `yaml:"context_length"`
	MaxOutputTokens     int           `yaml:"max_output_tokens,omitempty"`
	SupportedParameters []string      `yaml:"supported_parameters,omitempty"`
	AuthScheme          AuthScheme    `yaml:"auth" validate:"omitempty,oneof=bearer aws-sigv4 custom"`
	BaseURL             string        `yaml:"base_url,omitempty"`
	PassthroughBilling  bool          `yaml:"passthrough_billing,omitempty"`
	// BodyMapping is "NO_MAPPING" for bindings whose upstream speaks the
	// canonical dialect natively; empty means the default translation.
	BodyMapping string `yaml:"body_mapping,omitempty"`
}

// SupportsParameter reports whether the binding accepts the given sampling
// parameter. An empty set means the binding takes everything.
func (b ProviderBinding) SupportsParameter(name string) bool {
	if len(b.SupportedParameters) == 0 {
		return true
	}
	for _, p := range b.SupportedParameters {
		if p == name {
			return true
		}
	}
	return false
}

// ModelSpec maps a logical model id to its ordered provider candidates.
// Candidate order defines auto-select and fallback precedence.
type ModelSpec struct {
	LogicalID  string            `yaml:"id" validate:"required"`
	Candidates []ProviderBinding `yaml:"candidates" validate:"required,min=1,dive"`
}

// Binding returns the candidate for a specific provider, if present.
func (s *ModelSpec) Binding(p Provider) (ProviderBinding, bool) {
	for _, c := range s.Candidates {
		if c.Provider == p {
			return c, true
		}
	}
	return ProviderBinding{}, false
}
