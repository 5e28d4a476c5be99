package biz

import (
	"sort"
	"sync"

	"CloudRelay/internal/model"
	pkgerrors "CloudRelay/pkg/errors"

	kerrors "github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
)

// ReasonProviderNotRegistered is the Kratos error reason for a provider without an adapter.
const ReasonProviderNotRegistered = "PROVIDER_NOT_REGISTERED"

// ProviderRegistry maps providers to the SDK adapters registered at startup.
type ProviderRegistry struct {
	mu      sync.RWMutex
	clients map[model.Provider]ProviderClient
	logger  *log.Helper
}

// NewProviderRegistry creates an empty registry.
func NewProviderRegistry(logger log.Logger) *ProviderRegistry {
	return &ProviderRegistry{
		clients: make(map[model.Provider]ProviderClient),
		logger:  log.NewHelper(logger),
	}
}

// Register adds or replaces the adapter for client.Provider().
func (r *ProviderRegistry) Register(client ProviderClient) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.clients[client.Provider()] = client
	r.logger.Infow("msg", "provider registered", "provider", client.Provider())
}

// Client returns the adapter for provider. An unknown provider yields an error wrapping
// ErrProviderNotConfigured.
func (r *ProviderRegistry) Client(provider model.Provider) (ProviderClient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	client, ok := r.clients[provider]
	if !ok {
		return nil, kerrors.NotFound(ReasonProviderNotRegistered, "no adapter registered for "+provider.String()).
			WithCause(pkgerrors.ErrProviderNotConfigured)
	}
	return client, nil
}

// Providers lists the registered providers in name order.
func (r *ProviderRegistry) Providers() []model.Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	providers := make([]model.Provider, 0, len(r.clients))
	for p := range r.clients {
		providers = append(providers, p)
	}
	sort.Slice(providers, func(i, j int) bool { return providers[i] < providers[j] })
	return providers
}
