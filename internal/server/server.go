// Package server exposes the engine over HTTP and runs the lane worker.
package server

import (
	"github.com/google/wire"
)

// ProviderSet is server providers.
var ProviderSet = wire.NewSet(NewConnectionAPI, NewHTTPServer, NewWorkerServer)
