//go:build wireinject
// +build wireinject

// The build tag makes sure the stub is not built in the final build.

package injector

import (
	"context"

	"github.com/google/wire"

	"github.com/zeusync/ecsync/internal/client"
	"github.com/zeusync/ecsync/internal/config"
	"github.com/zeusync/ecsync/internal/server"
)

func InitializeServer(cfg *config.Config) (*server.Server, func(), error) {
	wire.Build(ServerSet)
	return nil, nil, nil
}

func InitializeClient(ctx context.Context, cfg *config.Config) (*client.Client, error) {
	wire.Build(ClientSet)
	return nil, nil
}
