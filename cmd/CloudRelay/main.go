// Package main is the entry point of the CloudRelay service.
// It runs the operator HTTP server, the lane worker and the batch refresh cron.
package main

import (
	"context"
	"flag"
	"os"

	"CloudRelay/internal/biz"
	"CloudRelay/internal/conf"
	"CloudRelay/internal/server"
	zapLogger "CloudRelay/pkg/log"

	"github.com/go-kratos/kratos/v2"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/transport/http"
	"github.com/robfig/cron/v3"

	_ "go.uber.org/automaxprocs"
)

// go build -ldflags "-X main.Version=x.y.z"
var (
	// Name is the name of the compiled software.
	Name = "CloudRelay"
	// Version is the version of the compiled software.
	Version string
	// flagconf is the config flag.
	flagconf string

	id, _ = os.Hostname()
)

func init() {
	flag.StringVar(&flagconf, "conf", "../../configs/config.yaml", "config path, eg: -conf config.yaml")
}

func newApp(
	logger log.Logger,
	hs *http.Server,
	ws *server.WorkerServer,
	registry *biz.ProviderRegistry,
	batches *biz.BatchRefreshOrchestrator,
	bc *conf.BatchRefresh,
) *kratos.App {
	registerProviders(registry, providerClients, logger)

	var scheduler *cron.Cron

	return kratos.New(
		kratos.ID(id),
		kratos.Name(Name),
		kratos.Version(Version),
		kratos.Metadata(map[string]string{}),
		kratos.Logger(logger),
		kratos.Server(
			hs,
			ws,
		),
		kratos.AfterStart(func(context.Context) error {
			var err error
			scheduler, err = StartBatchRefreshCron(batches, bc, logger)
			return err
		}),
		kratos.BeforeStop(func(ctx context.Context) error {
			if scheduler == nil {
				return nil
			}
			select {
			case <-scheduler.Stop().Done():
			case <-ctx.Done():
			}
			return nil
		}),
	)
}

func main() {
	flag.Parse()

	bc, err := conf.NewBootstrap(flagconf)
	if err != nil {
		// Zap is not up yet
		log.Fatalf("failed to load configuration: %v", err)
	}

	zapLog, err := zapLogger.NewZapLogger(bc.Log)
	if err != nil {
		log.Fatalf("failed to initialize zap logger: %v", err)
	}
	defer zapLog.Sync()

	logger := log.With(zapLogger.NewKratosAdapter(zapLog),
		"service.id", id,
		"service.version", Version,
	)

	zapLogger.NewLogHelper(logger).Startup("CloudRelay service starting",
		"log.level", bc.Log.Level,
		"log.format", bc.Log.Format,
		"log.env", bc.Log.Env,
		"log.output_file", bc.Log.OutputFile,
		"http.addr", bc.Server.Http.Addr,
		"worker.lanes", bc.Worker.Lanes,
	)

	app, cleanup, err := wireApp(bc, logger)
	if err != nil {
		panic(err)
	}
	defer cleanup()

	// start and wait for stop signal
	if err := app.Run(); err != nil {
		panic(err)
	}
}
