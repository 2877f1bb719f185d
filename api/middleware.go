package api

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"heritage/config"
	"heritage/metrics"
	"heritage/util/goroutine"

	"github.com/klauspost/compress/gzhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	limiterIdleTTL       = time.Hour
	limiterSweepInterval = 10 * time.Minute
)

// CORS returns the cross-origin middleware for cfg
func CORS(cfg config.CORSConfig) Middleware {
	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   cfg.AllowedMethods,
		AllowedHeaders:   cfg.AllowedHeaders,
		AllowCredentials: cfg.AllowCredentials,
		MaxAge:           cfg.MaxAge,
	})
	return c.Handler
}

// Compression returns a gzip middleware for cfg
func Compression(cfg config.CompressionConfig) (Middleware, error) {
	wrap, err := gzhttp.NewWrapper(
		gzhttp.MinSize(cfg.MinSize),
		gzhttp.CompressionLevel(cfg.Level),
	)
	if err != nil {
		return nil, fmt.Errorf("invalid compression settings: %w", err)
	}
	return func(next http.Handler) http.Handler {
		return wrap(next)
	}, nil
}

type rateLimiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter limits requests per client IP
type RateLimiter struct {
	rps        rate.Limit
	burst      int
	trustProxy bool
	logger     *zap.SugaredLogger

	mu       sync.Mutex
	limiters map[string]*rateLimiterEntry

	stopCh   chan struct{}
	stopOnce sync.Once
	sweeper  sync.WaitGroup
}

// NewRateLimiter creates a limiter and starts its idle-entry sweeper. Call Close to stop it.
func NewRateLimiter(cfg config.RateLimitConfig, trustProxy bool, logger *zap.SugaredLogger) *RateLimiter {
	return newRateLimiter(cfg, trustProxy, logger, limiterSweepInterval)
}

func newRateLimiter(cfg config.RateLimitConfig, trustProxy bool, logger *zap.SugaredLogger, sweepEvery time.Duration) *RateLimiter {
	rl := &RateLimiter{
		rps:        rate.Limit(cfg.RequestsPerSecond),
		burst:      cfg.Burst,
		trustProxy: trustProxy,
		logger:     logger,
		limiters:   make(map[string]*rateLimiterEntry),
		stopCh:     make(chan struct{}),
	}
	goroutine.Go(&rl.sweeper, "rate-limiter-sweep", logger, func() { rl.sweep(sweepEvery) })
	return rl
}

// Middleware rejects clients over their budget with 429
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := realIP(r, rl.trustProxy)
		if !rl.allow(ip, time.Now()) {
			metrics.RateLimited.Inc()
			rl.logger.Debugw("Rate limit exceeded", "client_ip", ip, "path", r.URL.Path)
			w.Header().Set("Retry-After", "1")
			http.Error(w, "Too many requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimiter) allow(ip string, now time.Time) bool {
	rl.mu.Lock()
	entry, exists := rl.limiters[ip]
	if !exists {
		entry = &rateLimiterEntry{limiter: rate.NewLimiter(rl.rps, rl.burst)}
		rl.limiters[ip] = entry
	}
	entry.lastSeen = now
	// Capture limiter reference while holding lock to prevent race with the sweeper
	limiter := entry.limiter
	rl.mu.Unlock()

	return limiter.AllowN(now, 1)
}

func (rl *RateLimiter) sweep(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case now := <-ticker.C:
			rl.evictIdle(now)
		case <-rl.stopCh:
			return
		}
	}
}

func (rl *RateLimiter) evictIdle(now time.Time) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	evicted := 0
	for ip, entry := range rl.limiters {
		if now.Sub(entry.lastSeen) > limiterIdleTTL {
			delete(rl.limiters, ip)
			evicted++
		}
	}
	return evicted
}

// Close stops the sweeper and waits for it to exit
func (rl *RateLimiter) Close() error {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
	rl.sweeper.Wait()
	return nil
}
