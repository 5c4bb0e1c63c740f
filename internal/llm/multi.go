package llm

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// MultiClient routes completion calls to the provider that serves the
// requested model. Tenants pick models freely, so any model without an
// explicit mapping goes to the fallback provider.
type MultiClient struct {
	clients      map[string]Client // provider name → client
	models       map[string]string // model name → provider name
	fallbackName string
}

// NewMultiClient creates a router whose unmapped models go to fallback,
// registered under fallbackName.
func NewMultiClient(fallbackName string, fallback Client) *MultiClient {
	m := &MultiClient{
		clients:      make(map[string]Client),
		models:       make(map[string]string),
		fallbackName: fallbackName,
	}
	if fallback != nil {
		m.clients[fallbackName] = fallback
	}
	return m
}

// AddProvider registers a client for a provider name.
func (m *MultiClient) AddProvider(name string, client Client) {
	m.clients[name] = client
}

// AddModel maps a model name to a provider.
func (m *MultiClient) AddModel(modelName, providerName string) {
	m.models[modelName] = providerName
}

// ProviderFor returns the name of the provider that serves model. It is
// recorded with usage so costs can be split per provider.
func (m *MultiClient) ProviderFor(model string) string {
	if provider, ok := m.models[model]; ok {
		if _, ok := m.clients[provider]; ok {
			return provider
		}
	}
	return m.fallbackName
}

// Chat sends a request to the provider for the model.
func (m *MultiClient) Chat(ctx context.Context, model string, messages []Message, tools []map[string]any) (*ChatResponse, error) {
	client, ok := m.clients[m.ProviderFor(model)]
	if !ok {
		return nil, fmt.Errorf("no provider configured for model %q", model)
	}
	return client.Chat(ctx, model, messages, tools)
}

// Ping checks the fallback provider and every provider a model is
// mapped to. Registered providers that serve no model are skipped.
func (m *MultiClient) Ping(ctx context.Context) error {
	used := map[string]bool{m.fallbackName: true}
	for _, provider := range m.models {
		used[provider] = true
	}
	names := make([]string, 0, len(used))
	for name := range used {
		names = append(names, name)
	}
	sort.Strings(names)

	var errs []error
	for _, name := range names {
		client, ok := m.clients[name]
		if !ok {
			errs = append(errs, fmt.Errorf("%s: not configured", name))
			continue
		}
		if err := client.Ping(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
