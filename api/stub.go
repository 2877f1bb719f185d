package api

import (
	"net/http"

	"heritage/config"

	"go.uber.org/zap"
)

// HealthPath is the liveness endpoint present on every instance
const HealthPath = "/health"

// Health answers liveness checks
func Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// NewStub builds the minimal instance served when every configured attempt failed.
// It exposes only the liveness endpoint and touches no external dependency.
func NewStub(port int, logger *zap.SugaredLogger) *Server {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	s := NewServer(config.StubDefaults(port), logger)
	s.degraded = true
	s.router.HandleFunc(HealthPath, Health).Methods(http.MethodGet, http.MethodHead)
	_ = s.InstallErrorDispatcher(NewErrorDispatcher(logger))
	s.Seal()
	return s
}
