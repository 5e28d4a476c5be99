package main

import (
	"CloudRelay/internal/biz"
	zapLogger "CloudRelay/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
)

// providerClients are the storage adapters linked into this binary. A build that ships an
// adapter appends it here from an init function in this package.
var providerClients []biz.ProviderClient

// registerProviders hands the linked adapters to the registry before the servers start.
// Connections of a provider without an adapter report provider_not_configured.
func registerProviders(registry *biz.ProviderRegistry, clients []biz.ProviderClient, logger log.Logger) {
	helper := zapLogger.NewLogHelper(logger)

	for _, c := range clients {
		registry.Register(c)
	}

	providers := registry.Providers()
	if len(providers) == 0 {
		helper.Warnw("msg", "no storage provider adapters registered, refreshes will fail as provider_not_configured")
		return
	}
	helper.Startup("storage providers registered", "providers", providers)
}
