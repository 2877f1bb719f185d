package bootstrap

import (
	"heritage/api"
	"heritage/auth"
	"heritage/cache"
	"heritage/config"
	"heritage/modules"
	"heritage/storage"

	"go.uber.org/zap"
)

// Assembly is the partially built service a single attempt works on.
// Each attempt starts from a fresh Assembly; stages fill it in order.
type Assembly struct {
	Profile config.Profile
	Logger  *zap.SugaredLogger

	Secrets    config.SecretManager
	Server     *api.Server
	DB         *storage.SQLite
	Schema     *storage.SchemaRegistry
	Migrations *storage.MigrationRunner
	Cache      cache.Cache
	Sessions   *auth.Manager
}

func newAssembly(profile config.Profile, logger *zap.SugaredLogger) *Assembly {
	return &Assembly{
		Profile: profile,
		Logger:  logger,
		Schema:  storage.NewSchemaRegistry(),
	}
}

// ModuleDeps collects the live handles a module receives at registration
func (a *Assembly) ModuleDeps() modules.Deps {
	return modules.Deps{
		DB:       a.DB,
		Cache:    a.Cache,
		Sessions: a.Sessions,
		Profile:  a.Profile.Clone(),
		Logger:   a.Logger,
	}
}
