package llm

import (
	"fmt"
	"strings"
)

// ProviderURL selects an OpenAI-compatible endpoint. The well-known names
// map to hosted APIs; any http(s) URL is used as given.
type ProviderURL string

const (
	ProviderGroq   ProviderURL = "groq"
	ProviderOpenAI ProviderURL = "openai"
	ProviderOllama ProviderURL = "ollama"
)

// DefaultModel is the model used when a config names none.
const DefaultModel = "openai/gpt-oss-20b"

var providerBaseURLs = map[ProviderURL]string{
	ProviderGroq:   "https://api.groq.com/openai/v1",
	ProviderOpenAI: "https://api.openai.com/v1",
	ProviderOllama: "http://localhost:11434/v1",
}

// ParseProviderURL accepts a provider name or a custom base URL.
func ParseProviderURL(s string) (ProviderURL, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("provider url is empty")
	}
	p := ProviderURL(strings.ToLower(s))
	if _, ok := providerBaseURLs[p]; ok {
		return p, nil
	}
	if strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://") {
		return ProviderURL(strings.TrimRight(s, "/")), nil
	}
	return "", fmt.Errorf("unknown provider %q", s)
}

// BaseURL returns the API base URL for p.
func (p ProviderURL) BaseURL() string {
	if u, ok := providerBaseURLs[p]; ok {
		return u
	}
	return string(p)
}

// RequiresKey reports whether the provider rejects anonymous requests.
func (p ProviderURL) RequiresKey() bool {
	return p != ProviderOllama
}

func (p ProviderURL) String() string { return string(p) }
