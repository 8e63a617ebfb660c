package arbitrator

import (
	"strings"
	"sync"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// ModelFactory builds a chat model bound to one endpoint and credential.
type ModelFactory func(baseURL, apiKey string) (llms.Model, error)

// OpenAIFactory creates langchaingo OpenAI-compatible clients.
func OpenAIFactory(baseURL, apiKey string) (llms.Model, error) {
	return openai.New(
		openai.WithBaseURL(apiBase(baseURL)),
		openai.WithToken(apiKey),
	)
}

// apiBase accepts either the server root or the /v1 prefix.
func apiBase(baseURL string) string {
	base := strings.TrimRight(baseURL, "/")
	if !strings.HasSuffix(base, "/v1") {
		base += "/v1"
	}
	return base
}

type poolKey struct {
	baseURL string
	apiKey  string
}

// Pool keeps one persistent model client per endpoint and credential for the
// life of the process. It is safe for concurrent use.
type Pool struct {
	mu      sync.RWMutex
	factory ModelFactory
	models  map[poolKey]llms.Model
}

func NewPool(factory ModelFactory) *Pool {
	if factory == nil {
		factory = OpenAIFactory
	}
	return &Pool{
		factory: factory,
		models:  make(map[poolKey]llms.Model),
	}
}

// Get returns the client for baseURL and apiKey, creating it on first use.
func (p *Pool) Get(baseURL, apiKey string) (llms.Model, error) {
	key := poolKey{baseURL: baseURL, apiKey: apiKey}

	p.mu.RLock()
	model, ok := p.models[key]
	p.mu.RUnlock()
	if ok {
		return model, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if model, ok := p.models[key]; ok {
		return model, nil
	}
	model, err := p.factory(baseURL, apiKey)
	if err != nil {
		return nil, err
	}
	p.models[key] = model
	return model, nil
}
