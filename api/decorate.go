package api

import (
	"bufio"
	"errors"
	"mime"
	"net"
	"net/http"
	"strings"
)

const (
	// StaticCacheControl marks static assets as cacheable for a year
	StaticCacheControl = "public, max-age=31536000, immutable"
	// DefaultStaticPrefix is used when a profile leaves the static prefix empty
	DefaultStaticPrefix = "/static/"
)

// ResponseDecorator applies the uniform response header rules to every response
type ResponseDecorator struct {
	staticPrefix string
}

// NewResponseDecorator creates a decorator treating paths under staticPrefix as static assets
func NewResponseDecorator(staticPrefix string) *ResponseDecorator {
	if staticPrefix == "" {
		staticPrefix = DefaultStaticPrefix
	}
	if !strings.HasSuffix(staticPrefix, "/") {
		staticPrefix += "/"
	}
	return &ResponseDecorator{staticPrefix: staticPrefix}
}

// Apply rewrites h for a response to r. Applying it twice yields the same headers.
func (d *ResponseDecorator) Apply(r *http.Request, h http.Header) {
	h.Set("X-Content-Type-Options", "nosniff")

	if r != nil && r.URL != nil && strings.HasPrefix(r.URL.Path, d.staticPrefix) {
		h.Set("Cache-Control", StaticCacheControl)
	}

	if ct := h.Get("Content-Type"); ct != "" {
		if fixed, ok := forceUTF8(ct); ok {
			h.Set("Content-Type", fixed)
		}
	}
}

// forceUTF8 pins the charset of JSON media types to utf-8
func forceUTF8(contentType string) (string, bool) {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return "", false
	}
	if mediaType != "application/json" && !strings.HasSuffix(mediaType, "+json") {
		return "", false
	}
	if params == nil {
		params = map[string]string{}
	}
	params["charset"] = "utf-8"
	formatted := mime.FormatMediaType(mediaType, params)
	if formatted == "" {
		return "", false
	}
	return formatted, true
}

// Middleware decorates headers just before they are written
func (d *ResponseDecorator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dw := &decoratingWriter{ResponseWriter: w, request: r, decorator: d}
		next.ServeHTTP(dw, r)
		if !dw.wroteHeader {
			dw.WriteHeader(http.StatusOK)
		}
	})
}

type decoratingWriter struct {
	http.ResponseWriter
	request     *http.Request
	decorator   *ResponseDecorator
	wroteHeader bool
}

func (w *decoratingWriter) WriteHeader(status int) {
	if w.wroteHeader {
		return
	}
	// 1xx responses (103 Early Hints) precede the real status; 101 is final
	if status >= 100 && status < 200 && status != http.StatusSwitchingProtocols {
		w.ResponseWriter.WriteHeader(status)
		return
	}
	w.wroteHeader = true
	w.decorator.Apply(w.request, w.ResponseWriter.Header())
	w.ResponseWriter.WriteHeader(status)
}

func (w *decoratingWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		// mirror net/http content sniffing so the charset rule sees the type
		if w.ResponseWriter.Header().Get("Content-Type") == "" {
			w.ResponseWriter.Header().Set("Content-Type", http.DetectContentType(b))
		}
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

func (w *decoratingWriter) Flush() {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *decoratingWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := w.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, errors.New("hijacking not supported")
}

func (w *decoratingWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
