//go:build wireinject
// +build wireinject

// The build tag makes sure the stub is not built in the final build.

package main

import (
	"CloudRelay/internal/biz"
	"CloudRelay/internal/conf"
	"CloudRelay/internal/data"
	"CloudRelay/internal/server"

	"github.com/go-kratos/kratos/v2"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"
)

// wireApp init kratos application.
func wireApp(*conf.Bootstrap, log.Logger) (*kratos.App, func(), error) {
	panic(wire.Build(
		wire.FieldsOf(new(*conf.Bootstrap),
			"Server", "Data", "Recovery", "Requeue", "BatchRefresh", "Alerting", "Metrics", "Notify", "Worker"),
		data.ProviderSet,
		biz.ProviderSet,
		server.ProviderSet,
		newApp,
	))
}
