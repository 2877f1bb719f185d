package modules

import (
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"strings"
	"time"

	"heritage/api"
	"heritage/storage"
)

var indexTemplate = template.Must(template.New("index").Parse(`<!doctype html>
<html lang="en">
<head><meta charset="utf-8"><title>Heritage</title></head>
<body>
<h1>Heritage</h1>
<ul>
<li><a href="/api/culture/articles">Culture</a></li>
<li><a href="/api/community/posts">Community</a></li>
{{if .User}}<li>Signed in as {{.User}}</li>{{else}}<li><a href="{{.LoginView}}">Sign in</a></li>{{end}}
</ul>
</body>
</html>
`))

// Home serves the landing page and static assets
type Home struct {
	staticDir http.Dir
	maxAge    time.Duration
	loginView string
}

func (h *Home) Name() string { return "home" }

func (h *Home) Schema() []storage.Migration { return nil }

func (h *Home) Register(srv *api.Server, deps Deps) error {
	profile := deps.Profile
	h.staticDir = http.Dir(profile.Static.Dir)
	h.maxAge = profile.Static.MaxAge
	h.loginView = profile.Session.LoginView

	prefix := profile.Static.Prefix
	if prefix == "" {
		prefix = api.DefaultStaticPrefix
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	srv.HandleFunc("/", h.index).Methods(http.MethodGet, http.MethodHead)
	srv.Router().PathPrefix(prefix).Handler(
		http.StripPrefix(strings.TrimSuffix(prefix, "/"), srv.Adapt(h.static)),
	).Methods(http.MethodGet, http.MethodHead)
	return nil
}

func (h *Home) index(w http.ResponseWriter, r *http.Request) error {
	data := struct {
		User      string
		LoginView string
	}{LoginView: h.loginView}
	if claims, ok := sessionUser(r); ok {
		data.User = claims
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	return indexTemplate.Execute(w, data)
}

func (h *Home) static(w http.ResponseWriter, r *http.Request) error {
	f, err := h.staticDir.Open(r.URL.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("static %s: %w", r.URL.Path, api.ErrRequestNotFound)
		}
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("static %s is a directory: %w", r.URL.Path, api.ErrRequestNotFound)
	}

	w.Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d", int(h.maxAge.Seconds())))
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
	return nil
}
