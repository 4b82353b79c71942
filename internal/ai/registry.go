package ai

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/suPer8Hu/chat-agents/internal/config"
)

type ProviderFactory func(ctx context.Context, model string) (Completer, error)

type Registry struct {
	mu        sync.RWMutex
	factories map[string]ProviderFactory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]ProviderFactory)}
}

func (r *Registry) Register(name string, f ProviderFactory) {
	name = strings.ToLower(strings.TrimSpace(name))
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

func (r *Registry) Get(ctx context.Context, name string, model string) (Completer, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown ai provider: %s", name)
	}
	return f(ctx, model)
}

// DefaultRegistry wires the OpenAI-compatible providers from config.
// All three speak the same streaming protocol and differ only in base URL,
// credentials and a couple of headers.
func DefaultRegistry(cfg config.Config) *Registry {
	r := NewRegistry()

	r.Register("openai", func(ctx context.Context, model string) (Completer, error) {
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("openai: OPENAI_API_KEY is not set")
		}
		return NewClient("openai", cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, pick(model, cfg.OpenAIModel)), nil
	})

	r.Register("openrouter", func(ctx context.Context, model string) (Completer, error) {
		if cfg.OpenRouterAPIKey == "" {
			return nil, fmt.Errorf("openrouter: OPENROUTER_API_KEY is not set")
		}
		c := NewClient("openrouter", cfg.OpenRouterBaseURL, cfg.OpenRouterAPIKey, pick(model, cfg.OpenRouterModel))
		c.Headers["HTTP-Referer"] = cfg.OpenRouterSiteURL
		c.Headers["X-Title"] = cfg.OpenRouterAppName
		return c, nil
	})

	r.Register("ollama", func(ctx context.Context, model string) (Completer, error) {
		return NewClient("ollama", cfg.OllamaBaseURL, "", pick(model, cfg.OllamaModel)), nil
	})

	return r
}

func pick(model, fallback string) string {
	if strings.TrimSpace(model) != "" {
		return model
	}
	return fallback
}
