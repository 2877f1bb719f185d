package bootstrap

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"heritage/api"
	"heritage/config"
	"heritage/modules"
	"heritage/storage"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func bootProfile(t *testing.T, p config.Profile) Outcome {
	t.Helper()
	reg, err := NewRegistry(StandardStages(modules.Default())...)
	require.NoError(t, err)

	outcome := NewCascade(reg, zaptest.NewLogger(t).Sugar()).Run(context.Background(), p)
	if outcome.Server != nil {
		t.Cleanup(func() { _ = outcome.Server.Close() })
	}
	return outcome
}

func localProfile(t *testing.T) config.Profile {
	p := testProfile(config.ProfileTesting)
	p.Static.Dir = t.TempDir()
	return p
}

func serve(srv *api.Server, method, path string) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, httptest.NewRequest(method, path, nil))
	return rr
}

func TestStandardStages_TestingProfileBoots(t *testing.T) {
	outcome := bootProfile(t, localProfile(t))
	require.True(t, outcome.Succeeded(), "%v", outcome.Cause)
	srv := outcome.Server

	rr := serve(srv, http.MethodGet, api.HealthPath)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rr.Header().Get("X-Frame-Options"))

	rr = serve(srv, http.MethodGet, "/no/such/page")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "application/json; charset=utf-8", rr.Header().Get("Content-Type"))

	rr = serve(srv, http.MethodGet, "/api/culture/articles")
	require.Equal(t, http.StatusOK, rr.Code)
	var articles []map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &articles))
	assert.Len(t, articles, 3)

	rr = serve(srv, http.MethodGet, "/static/missing.css")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, api.StaticCacheControl, rr.Header().Get("Cache-Control"))

	// Metrics are off in the testing profile
	assert.Equal(t, http.StatusNotFound, serve(srv, http.MethodGet, "/metrics").Code)
}

func TestStandardStages_InvalidProfileFailsAtConfig(t *testing.T) {
	p := localProfile(t)
	p.Database.URL = ""

	outcome := bootProfile(t, p)
	assert.False(t, outcome.Succeeded())
	assert.Equal(t, StageConfig, outcome.Stage)
}

func TestStandardStages_UnsupportedDatabaseFailsAtPersistence(t *testing.T) {
	p := localProfile(t)
	p.Database.URL = "postgres://db.internal/heritage"

	outcome := bootProfile(t, p)
	assert.Equal(t, StagePersistence, outcome.Stage)
	assert.Contains(t, outcome.Cause.Error(), "unsupported database scheme")
}

func TestStandardStages_SessionSecret(t *testing.T) {
	t.Setenv("HERITAGE_SESSION_SECRET_KEY", "")

	t.Run("missing outside debug", func(t *testing.T) {
		p := localProfile(t)
		p.Session.SecretKey = ""

		outcome := bootProfile(t, p)
		assert.Equal(t, StageSession, outcome.Stage)
		assert.Contains(t, outcome.Cause.Error(), "session secret not configured")
	})

	t.Run("ephemeral in debug", func(t *testing.T) {
		p := localProfile(t)
		p.Session.SecretKey = ""
		p.Debug = true

		outcome := bootProfile(t, p)
		assert.True(t, outcome.Succeeded(), "%v", outcome.Cause)
	})

	t.Run("from secret provider", func(t *testing.T) {
		t.Setenv("HERITAGE_SESSION_SECRET_KEY", "a-session-secret-from-the-environment-0123")
		p := localProfile(t)
		p.Session.SecretKey = ""

		outcome := bootProfile(t, p)
		assert.True(t, outcome.Succeeded(), "%v", outcome.Cause)
	})

	t.Run("too short", func(t *testing.T) {
		p := localProfile(t)
		p.Session.SecretKey = "short"

		outcome := bootProfile(t, p)
		assert.Equal(t, StageSession, outcome.Stage)
	})
}

func TestStandardStages_RedisCache(t *testing.T) {
	mr := miniredis.RunT(t)

	p := localProfile(t)
	p.Cache.Type = config.CacheRedis
	p.Cache.Redis.Addr = mr.Addr()

	outcome := bootProfile(t, p)
	require.True(t, outcome.Succeeded(), "%v", outcome.Cause)

	rr := serve(outcome.Server, http.MethodGet, "/api/culture/articles")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.NotEmpty(t, mr.Keys())
}

func TestStandardStages_UnreachableRedisFailsAtCache(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	p := localProfile(t)
	p.Cache.Type = config.CacheRedis
	p.Cache.Redis.Addr = addr

	outcome := bootProfile(t, p)
	assert.Equal(t, StageCache, outcome.Stage)
}

func TestStandardStages_RateLimit(t *testing.T) {
	p := localProfile(t)
	p.RateLimit.Enabled = true
	p.RateLimit.RequestsPerSecond = 1
	p.RateLimit.Burst = 1

	outcome := bootProfile(t, p)
	require.True(t, outcome.Succeeded(), "%v", outcome.Cause)

	assert.Equal(t, http.StatusOK, serve(outcome.Server, http.MethodGet, api.HealthPath).Code)
	assert.Equal(t, http.StatusTooManyRequests, serve(outcome.Server, http.MethodGet, api.HealthPath).Code)
}

func TestStandardStages_RateLimitWithoutRateFails(t *testing.T) {
	p := localProfile(t)
	p.RateLimit.Enabled = true
	p.RateLimit.RequestsPerSecond = 0

	outcome := bootProfile(t, p)
	assert.Equal(t, StageRateLimit, outcome.Stage)
}

func TestStandardStages_MetricsEndpoint(t *testing.T) {
	p := localProfile(t)
	p.Metrics.Enabled = true

	outcome := bootProfile(t, p)
	require.True(t, outcome.Succeeded(), "%v", outcome.Cause)

	rr := serve(outcome.Server, http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "heritage_bootstrap_stage_duration_seconds")
}

func TestStandardStages_FileSink(t *testing.T) {
	dir := t.TempDir()
	p := localProfile(t)
	p.Logging.FileSink = true
	p.Logging.Dir = dir
	p.Logging.File = "heritage.log"
	p.Logging.Level = "info"

	outcome := bootProfile(t, p)
	require.True(t, outcome.Succeeded(), "%v", outcome.Cause)

	serve(outcome.Server, http.MethodGet, "/no/such/page")
	require.NoError(t, outcome.Server.Close())

	data, err := os.ReadFile(filepath.Join(dir, "heritage.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "Page not found")
	assert.Contains(t, string(data), "Module registered")
}

func TestStandardStages_Compression(t *testing.T) {
	p := localProfile(t)
	p.Compression.Enabled = true
	p.Compression.MinSize = 0

	outcome := bootProfile(t, p)
	require.True(t, outcome.Succeeded(), "%v", outcome.Cause)

	req := httptest.NewRequest(http.MethodGet, "/api/culture/articles", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	rr := httptest.NewRecorder()
	outcome.Server.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "gzip", rr.Header().Get("Content-Encoding"))
}

// renamedMigrations wraps a module whose migrations were renamed after release
type renamedMigrations struct{ modules.Module }

func (r renamedMigrations) Schema() []storage.Migration {
	ms := r.Module.Schema()
	for i := range ms {
		ms[i].Name += "_renamed"
	}
	return ms
}

func TestStandardStages_SchemaDriftFailsPersistence(t *testing.T) {
	p := localProfile(t)
	p.Database.URL = "sqlite:///" + filepath.Join(t.TempDir(), "heritage.db")

	first := bootProfile(t, p)
	require.True(t, first.Succeeded(), "%v", first.Cause)
	require.NoError(t, first.Server.Close())

	mods := modules.Default()
	for i, m := range mods {
		if m.Name() == "users" {
			mods[i] = renamedMigrations{m}
		}
	}
	reg, err := NewRegistry(StandardStages(mods)...)
	require.NoError(t, err)

	outcome := NewCascade(reg, zaptest.NewLogger(t).Sugar()).Run(context.Background(), p)
	require.False(t, outcome.Succeeded())
	assert.Equal(t, StagePersistence, outcome.Stage)
	assert.ErrorIs(t, outcome.Cause, storage.ErrSchemaDrift)
	assert.Contains(t, outcome.Cause.Error(), "users@1.0.0 checksum mismatch")
}

func TestPolicy_SchemaDriftFallsThrough(t *testing.T) {
	drifted := localProfile(t)
	drifted.Name = "drifted"
	drifted.Database.URL = "sqlite:///" + filepath.Join(t.TempDir(), "heritage.db")

	first := bootProfile(t, drifted)
	require.True(t, first.Succeeded(), "%v", first.Cause)
	require.NoError(t, first.Server.Close())

	mods := modules.Default()
	for i, m := range mods {
		if m.Name() == "culture" {
			mods[i] = renamedMigrations{m}
		}
	}
	reg, err := NewRegistry(StandardStages(mods)...)
	require.NoError(t, err)

	logger := zaptest.NewLogger(t).Sugar()
	profiles := map[string]config.Profile{drifted.Name: drifted, config.ProfileTesting: localProfile(t)}
	srv, report := NewPolicy(config.NewResolver(profiles), NewCascade(reg, logger), logger).
		BootstrapWithReport(context.Background(), []string{"drifted", config.ProfileTesting})
	require.NotNil(t, srv)
	t.Cleanup(func() { _ = srv.Close() })

	assert.Equal(t, config.ProfileTesting, report.Selected)
	require.Len(t, report.Attempts, 2)
	assert.Equal(t, StagePersistence, report.Attempts[0].Stage)
	assert.Contains(t, report.Attempts[0].Error, "schema drift")
}
