// Package api holds the service instance produced by bootstrap: the router,
// its middleware chain, the response decorator and the error dispatcher.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"heritage/config"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// ErrSealed is returned when the middleware chain is modified after bootstrap completed.
var ErrSealed = errors.New("server is sealed")

// HandlerFunc is a route handler that reports faults by returning an error.
// Returned errors are routed to the error dispatcher.
type HandlerFunc func(w http.ResponseWriter, r *http.Request) error

// Middleware wraps a handler
type Middleware func(http.Handler) http.Handler

type closer struct {
	name string
	fn   func() error
}

// Server is the assembled service instance. Its identity and founding profile
// never change; routes may still be added after Seal, middleware may not.
type Server struct {
	id      string
	profile config.Profile
	logger  *zap.SugaredLogger
	router  *mux.Router

	mu          sync.Mutex
	middlewares []Middleware
	dispatcher  *ErrorDispatcher
	decorator   *ResponseDecorator
	closers     []closer
	handler     http.Handler
	sealed      bool
	degraded    bool
	closed      bool
	httpServer  *http.Server
}

// NewServer creates an unsealed instance for profile
func NewServer(profile config.Profile, logger *zap.SugaredLogger) *Server {
	profile = profile.Clone()
	return &Server{
		id:        uuid.NewString(),
		profile:   profile,
		logger:    logger,
		router:    mux.NewRouter(),
		decorator: NewResponseDecorator(profile.Static.Prefix),
	}
}

// ID uniquely identifies this instance
func (s *Server) ID() string { return s.id }

// Profile returns a copy of the founding profile
func (s *Server) Profile() config.Profile { return s.profile.Clone() }

// Logger returns the instance logger
func (s *Server) Logger() *zap.SugaredLogger {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logger
}

// SetLogger replaces the instance logger. Used once the file sink is attached.
func (s *Server) SetLogger(logger *zap.SugaredLogger) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sealed {
		return ErrSealed
	}
	s.logger = logger
	return nil
}

// Router exposes the underlying router for modules that need subrouters
func (s *Server) Router() *mux.Router { return s.router }

// Degraded reports whether this is the minimal fallback instance
func (s *Server) Degraded() bool { return s.degraded }

// Sealed reports whether bootstrap has completed
func (s *Server) Sealed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sealed
}

// Use appends middleware. The first middleware added is the outermost.
func (s *Server) Use(mw ...Middleware) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sealed {
		return ErrSealed
	}
	s.middlewares = append(s.middlewares, mw...)
	return nil
}

// InstallErrorDispatcher routes unmatched requests and handler faults to d
func (s *Server) InstallErrorDispatcher(d *ErrorDispatcher) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sealed {
		return ErrSealed
	}
	s.dispatcher = d
	s.router.NotFoundHandler = http.HandlerFunc(d.NotFound)
	s.router.MethodNotAllowedHandler = http.HandlerFunc(d.NotFound)
	return nil
}

// Dispatcher returns the installed error dispatcher, or nil before installation
func (s *Server) Dispatcher() *ErrorDispatcher {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dispatcher
}

// HandleFunc registers an error-returning handler
func (s *Server) HandleFunc(path string, h HandlerFunc) *mux.Route {
	return s.router.HandleFunc(path, s.adapt(h))
}

// Handle registers a plain handler
func (s *Server) Handle(path string, h http.Handler) *mux.Route {
	return s.router.Handle(path, h)
}

// Mount returns a subrouter for everything under prefix
func (s *Server) Mount(prefix string) *mux.Router {
	return s.router.PathPrefix(prefix).Subrouter()
}

// Adapt converts an error-returning handler for use on a subrouter
func (s *Server) Adapt(h HandlerFunc) http.HandlerFunc {
	return s.adapt(h)
}

func (s *Server) adapt(h HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := h(w, r); err != nil {
			s.errorDispatcher().HandleError(w, r, err)
		}
	}
}

func (s *Server) errorDispatcher() *ErrorDispatcher {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dispatcher == nil {
		s.dispatcher = NewErrorDispatcher(s.logger)
	}
	return s.dispatcher
}

// OnClose registers a resource released by Close, in reverse registration order
func (s *Server) OnClose(name string, fn func() error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closers = append(s.closers, closer{name: name, fn: fn})
}

// Seal freezes the middleware chain and builds the request handler.
// Calling Seal more than once is harmless.
func (s *Server) Seal() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sealed {
		return
	}

	if s.dispatcher == nil {
		s.dispatcher = NewErrorDispatcher(s.logger)
		s.router.NotFoundHandler = http.HandlerFunc(s.dispatcher.NotFound)
		s.router.MethodNotAllowedHandler = http.HandlerFunc(s.dispatcher.NotFound)
	}

	var h http.Handler = s.router
	for i := len(s.middlewares) - 1; i >= 0; i-- {
		h = s.middlewares[i](h)
	}
	h = s.dispatcher.Recover(h)
	h = s.decorator.Middleware(h)

	s.handler = h
	s.sealed = true
}

// Handler returns the sealed request handler, sealing the server if needed
func (s *Server) Handler() http.Handler {
	s.Seal()
	return s.handler
}

// ServeHTTP lets the server be used directly as an http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Handler().ServeHTTP(w, r)
}

// Start listens on addr (the profile address when empty) and blocks until the server stops
func (s *Server) Start(addr string) error {
	if addr == "" {
		addr = s.profile.Addr()
	}

	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  s.profile.Server.ReadTimeout,
		WriteTimeout: s.profile.Server.WriteTimeout,
		IdleTimeout:  s.profile.Server.IdleTimeout,
	}

	s.mu.Lock()
	s.httpServer = srv
	s.mu.Unlock()

	s.Logger().Infow("HTTP server listening",
		"addr", addr,
		"profile", s.profile.Name,
		"instance", s.id,
		"degraded", s.degraded)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the listener and releases resources
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpServer
	s.mu.Unlock()

	var errs []error
	if srv != nil {
		if err := srv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to shut down http server: %w", err))
		}
	}
	if err := s.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Close releases registered resources. Subsequent calls do nothing.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	closers := s.closers
	logger := s.logger
	s.mu.Unlock()

	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		c := closers[i]
		if err := c.fn(); err != nil {
			logger.Errorw("Failed to release resource", "resource", c.name, "error", err)
			errs = append(errs, fmt.Errorf("close %s: %w", c.name, err))
			continue
		}
		logger.Debugw("Released resource", "resource", c.name)
	}
	return errors.Join(errs...)
}
