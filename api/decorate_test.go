package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResponseDecorator_Apply(t *testing.T) {
	d := NewResponseDecorator("/static/")

	tests := []struct {
		name        string
		path        string
		header      map[string]string
		wantCache   string
		wantContent string
	}{
		{
			name:        "plain page",
			path:        "/culture",
			header:      map[string]string{"Content-Type": "text/html; charset=utf-8", "Cache-Control": "no-cache"},
			wantCache:   "no-cache",
			wantContent: "text/html; charset=utf-8",
		},
		{
			name:        "static asset overrides handler cache policy",
			path:        "/static/css/site.css",
			header:      map[string]string{"Content-Type": "text/css", "Cache-Control": "public, max-age=3600"},
			wantCache:   StaticCacheControl,
			wantContent: "text/css",
		},
		{
			name:        "json without charset",
			path:        "/api/culture/articles",
			header:      map[string]string{"Content-Type": "application/json"},
			wantContent: "application/json; charset=utf-8",
		},
		{
			name:        "json with foreign charset",
			path:        "/api/x",
			header:      map[string]string{"Content-Type": "application/json; charset=iso-8859-1"},
			wantContent: "application/json; charset=utf-8",
		},
		{
			name:        "structured json suffix",
			path:        "/api/x",
			header:      map[string]string{"Content-Type": "application/problem+json"},
			wantContent: "application/problem+json; charset=utf-8",
		},
		{
			name:        "unparseable type left alone",
			path:        "/x",
			header:      map[string]string{"Content-Type": "application/json; ;;"},
			wantContent: "application/json; ;;",
		},
		{
			name: "no content type",
			path: "/x",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := http.Header{}
			for k, v := range tt.header {
				h.Set(k, v)
			}
			d.Apply(httptest.NewRequest(http.MethodGet, tt.path, nil), h)

			assert.Equal(t, "nosniff", h.Get("X-Content-Type-Options"))
			assert.Equal(t, tt.wantCache, h.Get("Cache-Control"))
			assert.Equal(t, tt.wantContent, h.Get("Content-Type"))
		})
	}
}

func TestResponseDecorator_Idempotent(t *testing.T) {
	d := NewResponseDecorator("")
	r := httptest.NewRequest(http.MethodGet, "/static/app.js", nil)

	once := http.Header{}
	once.Set("Content-Type", "application/json")
	d.Apply(r, once)

	twice := once.Clone()
	d.Apply(r, twice)

	assert.Equal(t, once, twice)
	assert.Len(t, twice.Values("X-Content-Type-Options"), 1)
	assert.Len(t, twice.Values("Cache-Control"), 1)
}

func TestResponseDecorator_PrefixNormalized(t *testing.T) {
	d := NewResponseDecorator("/assets")
	h := http.Header{}
	d.Apply(httptest.NewRequest(http.MethodGet, "/assets/logo.png", nil), h)
	assert.Equal(t, StaticCacheControl, h.Get("Cache-Control"))

	h = http.Header{}
	d.Apply(httptest.NewRequest(http.MethodGet, "/assetsx/logo.png", nil), h)
	assert.Empty(t, h.Get("Cache-Control"))
}

func TestResponseDecorator_Middleware(t *testing.T) {
	d := NewResponseDecorator("/static/")

	t.Run("headers set by handler are rewritten before sending", func(t *testing.T) {
		h := d.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"ok":true}`))
		}))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/things", nil))

		assert.Equal(t, http.StatusCreated, rec.Code)
		assert.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))
		assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	})

	t.Run("implicit header on first write", func(t *testing.T) {
		h := d.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Cache-Control", "no-store")
			_, _ = w.Write([]byte("body{}"))
		}))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/static/site.css", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, StaticCacheControl, rec.Header().Get("Cache-Control"))
		assert.Equal(t, "body{}", rec.Body.String())
	})

	t.Run("empty response still decorated", func(t *testing.T) {
		h := d.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	})
}

// statusLog records every status written, including informational ones
type statusLog struct {
	*httptest.ResponseRecorder
	statuses []int
}

func (s *statusLog) WriteHeader(code int) {
	s.statuses = append(s.statuses, code)
	if code >= 200 {
		s.ResponseRecorder.WriteHeader(code)
	}
}

func TestResponseDecorator_EarlyHintsKeepFinalStatus(t *testing.T) {
	d := NewResponseDecorator("/static/")
	h := d.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Link", "</static/site.css>; rel=preload; as=style")
		w.WriteHeader(http.StatusEarlyHints)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":1}`))
	}))

	rec := &statusLog{ResponseRecorder: httptest.NewRecorder()}
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/community/posts", nil))

	assert.Equal(t, []int{http.StatusEarlyHints, http.StatusCreated}, rec.statuses)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}
