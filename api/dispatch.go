package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"strings"

	"heritage/metrics"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// FaultClass groups request faults by the response they produce
type FaultClass string

const (
	FaultNotFound  FaultClass = "not_found"
	FaultUnhandled FaultClass = "unhandled"
)

var (
	// ErrRequestNotFound marks a fault as "resource not found" (404)
	ErrRequestNotFound = errors.New("resource not found")
	// ErrRequestUnhandled marks a fault as an unhandled server error (500)
	ErrRequestUnhandled = errors.New("unhandled server error")
)

const stackBufferSize = 4096

// Status returns the HTTP status for the class
func (c FaultClass) Status() int {
	if c == FaultNotFound {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

// Message returns the fixed client-facing message for the class
func (c FaultClass) Message() string {
	if c == FaultNotFound {
		return "Page not found"
	}
	return "Internal server error"
}

// Fault describes one request that ended in an error
type Fault struct {
	Class     FaultClass
	Method    string
	Path      string
	RequestID string
	Cause     error
}

func (f *Fault) Error() string {
	if f.Cause == nil {
		return fmt.Sprintf("%s %s: %s", f.Method, f.Path, f.Class)
	}
	return fmt.Sprintf("%s %s: %s: %v", f.Method, f.Path, f.Class, f.Cause)
}

func (f *Fault) Unwrap() error { return f.Cause }

// ErrorDispatcher turns request faults into a logged record and a fixed
// response. It never propagates the fault further.
type ErrorDispatcher struct {
	logger *zap.SugaredLogger
}

// NewErrorDispatcher creates a dispatcher logging through logger
func NewErrorDispatcher(logger *zap.SugaredLogger) *ErrorDispatcher {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &ErrorDispatcher{logger: logger}
}

// Classify maps an error to its fault class. Anything not marked as not-found is unhandled.
func Classify(err error) FaultClass {
	if errors.Is(err, ErrRequestNotFound) {
		return FaultNotFound
	}
	return FaultUnhandled
}

// NotFound handles requests that matched no route
func (d *ErrorDispatcher) NotFound(w http.ResponseWriter, r *http.Request) {
	d.Dispatch(w, r, FaultNotFound, ErrRequestNotFound)
}

// HandleError handles an error returned by a route handler
func (d *ErrorDispatcher) HandleError(w http.ResponseWriter, r *http.Request, err error) {
	d.Dispatch(w, r, Classify(err), err)
}

// Recover converts panics below it into unhandled faults
func (d *ErrorDispatcher) Recover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if p := recover(); p != nil {
				buf := make([]byte, stackBufferSize)
				n := runtime.Stack(buf, false)
				d.logger.Debugw("Recovered handler panic", "panic", p, "stack", string(buf[:n]))
				d.Dispatch(w, r, FaultUnhandled, fmt.Errorf("panic: %v", p))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// Dispatch logs the fault and writes its fixed representation
func (d *ErrorDispatcher) Dispatch(w http.ResponseWriter, r *http.Request, class FaultClass, cause error) *Fault {
	fault := &Fault{
		Class:     class,
		Method:    r.Method,
		Path:      r.URL.Path,
		RequestID: requestID(r),
		Cause:     cause,
	}

	switch class {
	case FaultNotFound:
		d.logger.Warnw("Page not found",
			"path", fault.Path,
			"method", fault.Method,
			"request_id", fault.RequestID)
	default:
		d.logger.Errorw("Server error",
			"path", fault.Path,
			"method", fault.Method,
			"request_id", fault.RequestID,
			"error", cause)
	}
	metrics.HTTPFaults.WithLabelValues(string(class)).Inc()

	d.render(w, r, fault)
	return fault
}

type faultResponse struct {
	Error     string `json:"error"`
	Status    int    `json:"status"`
	RequestID string `json:"request_id"`
}

func (d *ErrorDispatcher) render(w http.ResponseWriter, r *http.Request, f *Fault) {
	status := f.Class.Status()
	h := w.Header()
	h.Del("Content-Length")

	if prefersHTML(r) {
		h.Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(status)
		_, _ = fmt.Fprintf(w, "<!doctype html>\n<title>%d %s</title>\n<h1>%s</h1>\n",
			status, http.StatusText(status), f.Class.Message())
		return
	}

	h.Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(faultResponse{
		Error:     f.Class.Message(),
		Status:    status,
		RequestID: f.RequestID,
	}); err != nil {
		d.logger.Errorw("Failed to encode fault response", "error", err, "request_id", f.RequestID)
	}
}

func prefersHTML(r *http.Request) bool {
	if strings.HasPrefix(r.URL.Path, "/api/") {
		return false
	}
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}

func requestID(r *http.Request) string {
	if id := r.Header.Get("X-Request-ID"); id != "" && len(id) <= 128 {
		return id
	}
	return uuid.NewString()
}
