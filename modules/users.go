package modules

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"strings"
	"time"

	"heritage/api"
	"heritage/auth"
	"heritage/storage"

	"go.uber.org/zap"
)

var loginTemplate = template.Must(template.New("login").Parse(`<!doctype html>
<html lang="en">
<head><meta charset="utf-8"><title>Sign in</title></head>
<body>
{{if .Message}}<p class="flash {{.Category}}">{{.Message}}</p>{{end}}
<form method="post" action="{{.Action}}">
<input type="hidden" name="next" value="{{.Next}}">
<input name="username" autocomplete="username">
<input name="password" type="password" autocomplete="current-password">
<button type="submit">Sign in</button>
</form>
</body>
</html>
`))

// User is a registered account
type User struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
}

type credentials struct {
	Username string `json:"username" validate:"required,min=3,max=64,alphanum"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

// Users handles registration and login
type Users struct {
	db       *storage.SQLite
	sessions *auth.Manager
	logger   *zap.SugaredLogger
	login    string
}

func (u *Users) Name() string { return "users" }

func (u *Users) Schema() []storage.Migration {
	return []storage.Migration{
		{
			Module:      "users",
			Version:     "1.0.0",
			Name:        "create_users",
			Description: "Accounts with bcrypt password hashes",
			Up: func(tx *sql.Tx) error {
				_, err := tx.Exec(`
					CREATE TABLE IF NOT EXISTS users (
						id INTEGER PRIMARY KEY AUTOINCREMENT,
						username TEXT NOT NULL UNIQUE,
						password_hash TEXT NOT NULL,
						created_at TEXT NOT NULL
					)`)
				return err
			},
			Down: func(tx *sql.Tx) error {
				_, err := tx.Exec(`DROP TABLE IF EXISTS users`)
				return err
			},
		},
	}
}

func (u *Users) Register(srv *api.Server, deps Deps) error {
	if err := deps.Validate(); err != nil {
		return err
	}
	u.db = deps.DB
	u.sessions = deps.Sessions
	u.logger = deps.Logger.With("module", u.Name())
	u.login = deps.Profile.Session.LoginView
	if u.login == "" {
		u.login = "/users/login"
	}

	srv.HandleFunc(u.login, u.loginPage).Methods(http.MethodGet)
	srv.HandleFunc("/users/register", u.register).Methods(http.MethodPost)
	srv.HandleFunc(u.login, u.authenticate).Methods(http.MethodPost)
	srv.HandleFunc("/users/logout", u.logout).Methods(http.MethodPost)
	srv.HandleFunc("/users/me", u.requireLogin(u.me)).Methods(http.MethodGet)
	return nil
}

// requireLogin adapts auth.RequireLogin to error-returning handlers
func (u *Users) requireLogin(next api.HandlerFunc) api.HandlerFunc {
	return requireLogin(u.sessions, next)
}

func requireLogin(sessions *auth.Manager, next api.HandlerFunc) api.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) error {
		var err error
		sessions.RequireLogin(func(w http.ResponseWriter, r *http.Request) {
			err = next(w, r)
		})(w, r)
		return err
	}
}

func sessionUser(r *http.Request) (string, bool) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		return "", false
	}
	return claims.Username, true
}

func (u *Users) loginPage(w http.ResponseWriter, r *http.Request) error {
	q := r.URL.Query()
	data := struct {
		Action, Next, Category, Message string
	}{
		Action:   u.login,
		Next:     q.Get("next"),
		Category: q.Get("category"),
	}
	if data.Category != "" {
		data.Message = "Please log in to access this page."
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	return loginTemplate.Execute(w, data)
}

func (u *Users) register(w http.ResponseWriter, r *http.Request) error {
	var req credentials
	if err := decodeJSON(w, r, &req); err != nil {
		return handled(err)
	}

	hash, err := u.sessions.HashPassword(req.Password)
	if err != nil {
		return err
	}

	user := User{Username: req.Username, CreatedAt: time.Now().UTC().Truncate(time.Second)}
	err = u.db.WithTransaction(r.Context(), func(tx *sql.Tx) error {
		res, err := tx.ExecContext(r.Context(),
			`INSERT INTO users (username, password_hash, created_at) VALUES (?, ?, ?)`,
			req.Username, hash, user.CreatedAt.Format(time.RFC3339))
		if err != nil {
			return err
		}
		user.ID, err = res.LastInsertId()
		return err
	})
	if isUniqueViolation(err) {
		return writeMessage(w, http.StatusConflict, "username already taken")
	}
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}

	u.logger.Infow("User registered", "user_id", user.ID, "username", user.Username)
	return writeJSON(w, http.StatusCreated, user)
}

func (u *Users) authenticate(w http.ResponseWriter, r *http.Request) error {
	var req credentials
	form := strings.HasPrefix(r.Header.Get("Content-Type"), "application/x-www-form-urlencoded")
	if form {
		req.Username, req.Password = r.PostFormValue("username"), r.PostFormValue("password")
		if err := validate.Struct(req); err != nil {
			return writeMessage(w, http.StatusBadRequest, "invalid username or password")
		}
	} else if err := decodeJSON(w, r, &req); err != nil {
		return handled(err)
	}

	id, hash, err := u.lookup(r.Context(), req.Username)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && !u.sessions.CheckPassword(hash, req.Password)) {
		u.logger.Warnw("Failed login attempt", "username", req.Username)
		return writeMessage(w, http.StatusUnauthorized, "invalid username or password")
	}
	if err != nil {
		return err
	}

	token, expires, err := u.sessions.Issue(id, req.Username)
	if err != nil {
		return err
	}
	u.sessions.SetCookie(w, r, token, expires)
	if form {
		http.Redirect(w, r, safeNext(r.PostFormValue("next")), http.StatusSeeOther)
		return nil
	}
	return writeJSON(w, http.StatusOK, map[string]interface{}{
		"token":      token,
		"expires_at": expires.UTC(),
	})
}

// safeNext only follows local redirect targets
func safeNext(next string) string {
	if next == "" || !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.HasPrefix(next, "/\\") {
		return "/"
	}
	return next
}

func (u *Users) lookup(ctx context.Context, username string) (int64, string, error) {
	var id int64
	var hash string
	err := u.db.DB.QueryRowContext(ctx,
		`SELECT id, password_hash FROM users WHERE username = ?`, username).Scan(&id, &hash)
	return id, hash, err
}

func (u *Users) logout(w http.ResponseWriter, r *http.Request) error {
	if claims, ok := auth.FromContext(r.Context()); ok {
		u.sessions.Revoke(claims)
	}
	u.sessions.ClearCookie(w)
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (u *Users) me(w http.ResponseWriter, r *http.Request) error {
	claims, _ := auth.FromContext(r.Context())
	var user User
	var createdAt string
	err := u.db.DB.QueryRowContext(r.Context(),
		`SELECT id, username, created_at FROM users WHERE id = ?`, claims.UserID).
		Scan(&user.ID, &user.Username, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("user %d: %w", claims.UserID, api.ErrRequestNotFound)
	}
	if err != nil {
		return err
	}
	user.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return writeJSON(w, http.StatusOK, user)
}
