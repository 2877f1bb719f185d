package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"heritage/api"
	"heritage/auth"
	"heritage/cache"
	"heritage/config"
	"heritage/modules"
	"heritage/storage"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Stage names used by StandardStages
const (
	StageConfig      = "config"
	StageCORS        = "cors"
	StageCompression = "compression"
	StageRateLimit   = "ratelimit"
	StagePersistence = "persistence"
	StageSession     = "session"
	StageCache       = "cache"
	StageLogging     = "logging"
	StageErrors      = "errors"

	// ModuleStagePrefix prefixes the stage registering each domain module
	ModuleStagePrefix = "module:"
)

const (
	cachePingTimeout       = 3 * time.Second
	ephemeralSecretLength  = 48
	errNoServerForStageFmt = "stage %q requires the service instance created by the %q stage"
)

// StandardStages declares the full stage graph for mods, in declaration order.
// Module stages are chained so modules register in the order given.
func StandardStages(mods []modules.Module) []Stage {
	stages := []Stage{
		{Name: StageConfig, Init: initConfig},
		{Name: StageCORS, DependsOn: []string{StageConfig}, Init: initCORS},
		{Name: StageCompression, DependsOn: []string{StageCORS}, Init: initCompression},
		{Name: StageRateLimit, DependsOn: []string{StageCompression}, Init: initRateLimit},
		{Name: StagePersistence, DependsOn: []string{StageConfig}, Init: persistenceStage(mods)},
		{Name: StageSession, DependsOn: []string{StageRateLimit, StagePersistence}, Init: initSession},
		{Name: StageCache, DependsOn: []string{StageConfig}, Init: initCache},
		{Name: StageLogging, DependsOn: []string{StageConfig}, Init: initLogging},
		{Name: StageErrors, DependsOn: []string{StageLogging}, Init: initErrors},
	}

	previous := ""
	for _, m := range mods {
		deps := []string{StagePersistence, StageSession, StageCache, StageErrors}
		if previous != "" {
			deps = append(deps, previous)
		}
		name := ModuleStagePrefix + m.Name()
		stages = append(stages, Stage{Name: name, DependsOn: deps, Init: moduleStage(m)})
		previous = name
	}
	return stages
}

func server(asm *Assembly, stage string) (*api.Server, error) {
	if asm.Server == nil {
		return nil, fmt.Errorf(errNoServerForStageFmt, stage, StageConfig)
	}
	return asm.Server, nil
}

// initConfig validates the profile, selects the secret provider and creates the service instance
func initConfig(ctx context.Context, asm *Assembly) error {
	p := asm.Profile
	if err := p.Validate(); err != nil {
		return err
	}

	secrets, err := config.NewSecretManager(p.Secrets)
	if err != nil {
		return fmt.Errorf("failed to initialize secret manager: %w", err)
	}
	asm.Secrets = secrets

	srv := api.NewServer(p, asm.Logger)
	if err := srv.Use(api.SecurityHeaders); err != nil {
		return err
	}
	srv.Router().HandleFunc(api.HealthPath, api.Health).Methods(http.MethodGet, http.MethodHead)
	if p.Metrics.Enabled {
		srv.Handle(p.Metrics.Path, promhttp.Handler()).Methods(http.MethodGet)
	}
	asm.Server = srv

	asm.Logger.Infow("Configuration loaded",
		"debug", p.Debug,
		"addr", p.Addr(),
		"secrets", secrets.Provider(),
		"instance", srv.ID())
	return nil
}

func initCORS(ctx context.Context, asm *Assembly) error {
	srv, err := server(asm, StageCORS)
	if err != nil {
		return err
	}
	cfg := asm.Profile.CORS
	if !cfg.Enabled {
		asm.Logger.Infow("CORS disabled")
		return nil
	}
	if err := srv.Use(api.CORS(cfg)); err != nil {
		return err
	}
	asm.Logger.Infow("CORS initialized", "origins", cfg.AllowedOrigins)
	return nil
}

func initCompression(ctx context.Context, asm *Assembly) error {
	srv, err := server(asm, StageCompression)
	if err != nil {
		return err
	}
	cfg := asm.Profile.Compression
	if !cfg.Enabled {
		asm.Logger.Infow("Compression disabled")
		return nil
	}
	mw, err := api.Compression(cfg)
	if err != nil {
		return err
	}
	if err := srv.Use(mw); err != nil {
		return err
	}
	asm.Logger.Infow("Compression initialized", "level", cfg.Level, "min_size", cfg.MinSize)
	return nil
}

func initRateLimit(ctx context.Context, asm *Assembly) error {
	srv, err := server(asm, StageRateLimit)
	if err != nil {
		return err
	}
	cfg := asm.Profile.RateLimit
	if !cfg.Enabled {
		asm.Logger.Debugw("Rate limiting disabled")
		return nil
	}
	if cfg.RequestsPerSecond <= 0 || cfg.Burst <= 0 {
		return fmt.Errorf("rate limiting enabled with non-positive rate %d/s or burst %d", cfg.RequestsPerSecond, cfg.Burst)
	}

	rl := api.NewRateLimiter(cfg, asm.Profile.Server.TrustProxy, asm.Logger)
	srv.OnClose("ratelimiter", rl.Close)
	if err := srv.Use(rl.Middleware); err != nil {
		return err
	}
	asm.Logger.Infow("Rate limiting initialized", "rps", cfg.RequestsPerSecond, "burst", cfg.Burst)
	return nil
}

// persistenceStage opens the store and applies the schema every module declared
func persistenceStage(mods []modules.Module) StageFunc {
	return func(ctx context.Context, asm *Assembly) error {
		srv, err := server(asm, StagePersistence)
		if err != nil {
			return err
		}

		for _, m := range mods {
			if err := asm.Schema.Declare(m.Name(), m.Schema()...); err != nil {
				return err
			}
		}

		dbCfg := asm.Profile.Database
		db, err := storage.NewSQLite(ctx, dbCfg.URL, dbCfg.MaxOpenConns, asm.Logger)
		if err != nil {
			path, _ := storage.ParseURL(dbCfg.URL)
			asm.Logger.Errorw("Failed to open database", "remediation", ClassifySQLiteError(err, path))
			return err
		}
		srv.OnClose("database", db.Close)
		asm.DB = db

		if err := db.HealthCheck(ctx); err != nil {
			return fmt.Errorf("database health check failed: %w", err)
		}

		runner, err := storage.NewMigrationRunner(ctx, db.DB, asm.Logger)
		if err != nil {
			return err
		}
		asm.Migrations = runner

		applied, err := asm.Schema.Apply(ctx, runner)
		if errors.Is(err, storage.ErrSchemaDrift) {
			asm.Logger.Errorw("Applied schema does not match module declarations",
				"path", db.Path,
				"error", err,
				"remediation", "inspect with 'heritage schema status' and roll back the drifted migration")
			return err
		}
		if err != nil {
			asm.Logger.Errorw("Failed to apply schema", "remediation", ClassifySQLiteError(err, db.Path))
			return fmt.Errorf("failed to apply schema: %w", err)
		}
		asm.Logger.Infow("Database initialized",
			"path", db.Path,
			"migrations_applied", applied,
			"owners", asm.Schema.Owners())
		return nil
	}
}

// initSession resolves the session secret and installs the session middleware.
// Debug profiles fall back to an ephemeral secret; others must configure one.
func initSession(ctx context.Context, asm *Assembly) error {
	srv, err := server(asm, StageSession)
	if err != nil {
		return err
	}

	secret := asm.Profile.Session.SecretKey
	if secret == "" && asm.Secrets != nil {
		s, lookupErr := asm.Secrets.GetSecret(config.SecretSessionKey)
		if lookupErr == nil {
			secret = s
		} else if !asm.Profile.Debug {
			return fmt.Errorf("session secret not configured: %w", lookupErr)
		}
	}
	if secret == "" {
		if !asm.Profile.Debug {
			return errors.New("session secret not configured")
		}
		secret, err = GenerateSecurePassword(ephemeralSecretLength)
		if err != nil {
			return err
		}
		asm.Logger.Warnw("Using an ephemeral session secret; sessions will not survive a restart")
	}

	sessions, err := auth.NewManager(secret, asm.Profile.Session, asm.Logger)
	if err != nil {
		return err
	}
	if err := srv.Use(sessions.Middleware); err != nil {
		return err
	}
	asm.Sessions = sessions
	asm.Logger.Infow("Session manager initialized",
		"login_view", asm.Profile.Session.LoginView,
		"token_expiry", asm.Profile.Session.TokenExpiry)
	return nil
}

func initCache(ctx context.Context, asm *Assembly) error {
	srv, err := server(asm, StageCache)
	if err != nil {
		return err
	}

	cfg := asm.Profile.Cache
	password := cfg.Redis.Password
	if cfg.Type == config.CacheRedis && password == "" && asm.Secrets != nil {
		if s, err := asm.Secrets.GetSecret(config.SecretRedisPassword); err == nil {
			password = s
		}
	}

	c, err := cache.New(cfg, password, asm.Logger)
	if err != nil {
		return err
	}

	pingCtx, cancel := context.WithTimeout(ctx, cachePingTimeout)
	defer cancel()
	if err := c.Ping(pingCtx); err != nil {
		_ = c.Close()
		asm.Logger.Errorw("Cache unavailable", "remediation", ClassifyConnectionError(err, cfg.Redis.Addr))
		return fmt.Errorf("cache %s unavailable: %w", c.Backend(), err)
	}
	srv.OnClose("cache", c.Close)
	asm.Cache = c

	asm.Logger.Infow("Cache initialized", "backend", c.Backend(), "default_timeout", cfg.DefaultTimeout)
	return nil
}

func initLogging(ctx context.Context, asm *Assembly) error {
	srv, err := server(asm, StageLogging)
	if err != nil {
		return err
	}

	cfg := asm.Profile.Logging
	if !cfg.FileSink {
		asm.Logger.Debugw("File log sink disabled")
		return nil
	}

	sink, err := NewFileSink(cfg)
	if err != nil {
		return err
	}
	srv.OnClose("log-file", sink.Close)

	logger := sink.Tee(asm.Logger)
	if err := srv.SetLogger(logger); err != nil {
		return err
	}
	asm.Logger = logger
	asm.Logger.Infow("File logging initialized",
		"path", sink.Path,
		"max_size_mb", cfg.MaxSizeMB,
		"max_backups", cfg.MaxBackups)
	return nil
}

func initErrors(ctx context.Context, asm *Assembly) error {
	srv, err := server(asm, StageErrors)
	if err != nil {
		return err
	}
	if err := srv.InstallErrorDispatcher(api.NewErrorDispatcher(asm.Logger)); err != nil {
		return err
	}
	asm.Logger.Infow("Error handlers registered", "classes", []api.FaultClass{api.FaultNotFound, api.FaultUnhandled})
	return nil
}

// moduleStage registers m once its schema is live
func moduleStage(m modules.Module) StageFunc {
	return func(ctx context.Context, asm *Assembly) error {
		srv, err := server(asm, ModuleStagePrefix+m.Name())
		if err != nil {
			return err
		}
		if err := asm.Schema.Require(m.Name()); err != nil {
			return err
		}
		if err := m.Register(srv, asm.ModuleDeps()); err != nil {
			return fmt.Errorf("failed to register module %s: %w", m.Name(), err)
		}
		asm.Logger.Infow("Module registered", "module", m.Name())
		return nil
	}
}
