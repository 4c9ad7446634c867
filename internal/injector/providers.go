// Package injector wires the demo binaries together with google/wire.
// Regenerate wire_gen.go with `go generate ./internal/injector` after
// changing a provider.
package injector

import (
	"context"

	"github.com/google/wire"

	"github.com/zeusync/ecsync/internal/client"
	"github.com/zeusync/ecsync/internal/config"
	"github.com/zeusync/ecsync/internal/core/observability/log"
	"github.com/zeusync/ecsync/internal/demo/simulation"
	"github.com/zeusync/ecsync/internal/server"
	"github.com/zeusync/ecsync/pkg/ecsync"
)

var LoggerSet = wire.NewSet(ProvideLogger, wire.Bind(new(log.Log), new(*log.Logger)))

var ServerSet = wire.NewSet(
	LoggerSet,
	ProvideServerConfig,
	ProvideSimulation,
	ProvideServer,
)

var ClientSet = wire.NewSet(
	LoggerSet,
	ProvideClientConfig,
	ProvideClient,
)

func ProvideLogger(cfg *config.Config) *log.Logger {
	return log.New(cfg.LogLevel())
}

func ProvideServerConfig(cfg *config.Config) config.Server { return cfg.Server }

func ProvideClientConfig(cfg *config.Config) config.Client { return cfg.Client }

func ProvideSimulation(cfg *config.Config, logger log.Log) (*simulation.Simulation, func(), error) {
	sim, err := simulation.New(cfg.Simulation, ecsync.WithLogger(logger))
	if err != nil {
		return nil, nil, err
	}
	return sim, sim.Stop, nil
}

func ProvideServer(cfg config.Server, sim *simulation.Simulation, logger log.Log) *server.Server {
	return server.New(cfg, sim, server.WithLogger(logger))
}

func ProvideClient(ctx context.Context, cfg config.Client, logger log.Log) (*client.Client, error) {
	return client.Dial(ctx, cfg, client.WithLogger(logger))
}
