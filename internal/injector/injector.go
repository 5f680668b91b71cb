//go:build wireinject
// +build wireinject

// The build tag makes sure the stub is not built in the final build.

package injector

import (
	"context"

	"github.com/google/wire"

	"github.com/zeusync/vault/internal/config"
	"github.com/zeusync/vault/internal/core/storage"
)

func InitializeApp(ctx context.Context, cfg config.Config) (*App, func(), error) {
	wire.Build(AppSet)
	return nil, nil, nil
}

func InitializeStorage(cfg config.Config) (storage.Backend, func(), error) {
	wire.Build(StorageSet)
	return nil, nil, nil
}
