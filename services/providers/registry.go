package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/upb/vision-gateway/services/fallback"
)

var (
	// ErrProviderNotFound is returned when a provider is not registered
	ErrProviderNotFound = errors.New("provider not found")

	// ErrProviderAlreadyRegistered is returned when trying to register a duplicate provider
	ErrProviderAlreadyRegistered = errors.New("provider already registered")
)

const (
	// CodeProviderNotFound marks a candidate naming an unregistered provider
	CodeProviderNotFound = "PROVIDER_NOT_FOUND"

	// CodeEmptyResponse marks a reply that carried no text
	CodeEmptyResponse = "EMPTY_RESPONSE"
)

// Registry manages provider instances and routes qualified model
// identifiers ("provider/model") to them. It implements fallback.Invoker
// and fallback.ModelLister.
type Registry struct {
	mu              sync.RWMutex
	providers       map[string]Provider
	defaultProvider string
}

var (
	_ fallback.Invoker     = (*Registry)(nil)
	_ fallback.ModelLister = (*Registry)(nil)
)

// NewRegistry creates a new provider registry. Unqualified model identifiers
// resolve to defaultProvider.
func NewRegistry(defaultProvider string) *Registry {
	return &Registry{
		providers:       make(map[string]Provider),
		defaultProvider: defaultProvider,
	}
}

// RegisterProvider registers a provider instance
func (r *Registry) RegisterProvider(provider Provider) error {
	if provider == nil {
		return errors.New("provider cannot be nil")
	}

	name := provider.Name()
	if name == "" {
		return errors.New("provider name cannot be empty")
	}
	if strings.Contains(name, "/") {
		return fmt.Errorf("provider name %q cannot contain '/'", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.providers[name]; exists {
		return ErrProviderAlreadyRegistered
	}

	r.providers[name] = provider
	return nil
}

// GetProvider retrieves a provider by name
func (r *Registry) GetProvider(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	provider, exists := r.providers[name]
	if !exists {
		return nil, ErrProviderNotFound
	}

	return provider, nil
}

// ListProviders returns all registered provider names, sorted
func (r *Registry) ListProviders() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

// DefaultProvider returns the provider unqualified identifiers resolve to
func (r *Registry) DefaultProvider() string {
	return r.defaultProvider
}

// Qualify returns the canonical "provider/model" form of id. Blank input
// stays blank so that the candidate selector can drop it.
func (r *Registry) Qualify(id string) string {
	provider, model := r.Split(id)
	if model == "" {
		return ""
	}
	return provider + "/" + model
}

// QualifyAll canonicalizes a priority list, keeping its order
func (r *Registry) QualifyAll(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.Qualify(id))
	}
	return out
}

// Split separates a candidate identifier into provider and model
func (r *Registry) Split(id string) (provider, model string) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", ""
	}
	if i := strings.Index(id, "/"); i > 0 {
		return id[:i], id[i+1:]
	}
	return r.defaultProvider, strings.TrimPrefix(id, "/")
}

// Invoke sends the payload to the model named by candidateID
func (r *Registry) Invoke(ctx context.Context, candidateID string, payload fallback.Payload) (string, error) {
	providerName, model := r.Split(candidateID)

	provider, err := r.GetProvider(providerName)
	if err != nil {
		return "", NewProviderError(
			"registry",
			CodeProviderNotFound,
			fmt.Sprintf("provider %q for model %q is not registered", providerName, model),
			http.StatusNotFound,
			err,
		)
	}

	resp, err := provider.Generate(ctx, buildGenerateRequest(model, payload))
	if err != nil {
		return "", err
	}

	return resp.Text, nil
}

// ListEnabledModels returns the qualified models every registered provider
// reports as usable. Any provider failing to list fails the whole listing.
func (r *Registry) ListEnabledModels(ctx context.Context) ([]string, error) {
	var models []string

	for _, name := range r.ListProviders() {
		provider, err := r.GetProvider(name)
		if err != nil {
			continue
		}

		listed, err := provider.ListModels(ctx)
		if err != nil {
			return nil, fmt.Errorf("list models from %s: %w", name, err)
		}

		for _, model := range listed {
			models = append(models, name+"/"+model)
		}
	}

	return models, nil
}

func buildGenerateRequest(model string, payload fallback.Payload) *GenerateRequest {
	req := &GenerateRequest{
		Model:       model,
		Prompt:      payload.Prompt,
		Temperature: payload.Options.Temperature,
		Extra:       payload.Options.Extra,
	}
	if len(payload.Attachments) > 0 {
		req.Images = make([]Image, len(payload.Attachments))
		for i, a := range payload.Attachments {
			req.Images[i] = Image{MimeType: a.MimeType, Data: a.Data}
		}
	}
	return req
}

// ProviderBuilder is a function that creates a provider instance
type ProviderBuilder func(config ProviderConfig) (Provider, error)

// RegistryBuilder helps build a registry with multiple providers
type RegistryBuilder struct {
	registry *Registry
	builders map[string]ProviderBuilder
}

// NewRegistryBuilder creates a new registry builder
func NewRegistryBuilder(defaultProvider string) *RegistryBuilder {
	return &RegistryBuilder{
		registry: NewRegistry(defaultProvider),
		builders: make(map[string]ProviderBuilder),
	}
}

// WithProviderBuilder registers a provider builder
func (rb *RegistryBuilder) WithProviderBuilder(name string, builder ProviderBuilder) *RegistryBuilder {
	rb.builders[name] = builder
	return rb
}

// Build creates the providers that have a config and returns the registry.
// Providers without an API key are skipped. When the default provider was
// skipped and exactly one provider was built, that provider becomes the default.
func (rb *RegistryBuilder) Build(configs map[string]ProviderConfig) (*Registry, error) {
	names := make([]string, 0, len(configs))
	for name := range configs {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		config := configs[name]
		builder, exists := rb.builders[name]
		if !exists || config.APIKey == "" {
			continue
		}

		provider, err := builder(config)
		if err != nil {
			return nil, fmt.Errorf("failed to build provider %s: %w", name, err)
		}
		if err := rb.registry.RegisterProvider(provider); err != nil {
			return nil, fmt.Errorf("failed to register provider %s: %w", name, err)
		}
	}

	if rb.registry.defaultProvider != "" {
		if _, err := rb.registry.GetProvider(rb.registry.defaultProvider); err != nil {
			built := rb.registry.ListProviders()
			if len(built) != 1 {
				return nil, fmt.Errorf("default provider %s: %w", rb.registry.defaultProvider, err)
			}
			rb.registry.defaultProvider = built[0]
		}
	}

	return rb.registry, nil
}
