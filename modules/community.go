package modules

import (
	"database/sql"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"heritage/api"
	"heritage/auth"
	"heritage/storage"

	"go.uber.org/zap"
)

const (
	defaultPostLimit = 20
	maxPostLimit     = 100
)

// Post is a community discussion entry
type Post struct {
	ID        int64     `json:"id"`
	AuthorID  int64     `json:"author_id"`
	Author    string    `json:"author"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

type newPost struct {
	Title string `json:"title" validate:"required,max=200"`
	Body  string `json:"body" validate:"required,max=10000"`
}

// Community hosts member posts. Posting requires a login.
type Community struct {
	db       *storage.SQLite
	sessions *auth.Manager
	logger   *zap.SugaredLogger
}

func (c *Community) Name() string { return "community" }

func (c *Community) Schema() []storage.Migration {
	return []storage.Migration{
		{
			Module:      "community",
			Version:     "1.0.0",
			Name:        "create_posts",
			Description: "Member posts referencing users",
			Up: func(tx *sql.Tx) error {
				if _, err := tx.Exec(`
					CREATE TABLE IF NOT EXISTS posts (
						id INTEGER PRIMARY KEY AUTOINCREMENT,
						author_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
						title TEXT NOT NULL,
						body TEXT NOT NULL,
						created_at TEXT NOT NULL
					)`); err != nil {
					return err
				}
				_, err := tx.Exec(`CREATE INDEX IF NOT EXISTS idx_posts_created ON posts(created_at)`)
				return err
			},
			Down: func(tx *sql.Tx) error {
				_, err := tx.Exec(`DROP TABLE IF EXISTS posts`)
				return err
			},
		},
	}
}

func (c *Community) Register(srv *api.Server, deps Deps) error {
	if err := deps.Validate(); err != nil {
		return err
	}
	c.db = deps.DB
	c.sessions = deps.Sessions
	c.logger = deps.Logger.With("module", c.Name())

	srv.HandleFunc("/api/community/posts", c.list).Methods(http.MethodGet)
	srv.HandleFunc("/api/community/posts", requireLogin(c.sessions, c.create)).Methods(http.MethodPost)
	return nil
}

func (c *Community) list(w http.ResponseWriter, r *http.Request) error {
	limit := defaultPostLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return writeMessage(w, http.StatusBadRequest, "limit must be a positive integer")
		}
		if n > maxPostLimit {
			n = maxPostLimit
		}
		limit = n
	}

	rows, err := c.db.DB.QueryContext(r.Context(), `
		SELECT p.id, p.author_id, u.username, p.title, p.body, p.created_at
		FROM posts p JOIN users u ON u.id = p.author_id
		ORDER BY p.created_at DESC, p.id DESC
		LIMIT ?`, limit)
	if err != nil {
		return fmt.Errorf("failed to list posts: %w", err)
	}
	defer rows.Close()

	posts := make([]Post, 0, limit)
	for rows.Next() {
		var p Post
		var createdAt string
		if err := rows.Scan(&p.ID, &p.AuthorID, &p.Author, &p.Title, &p.Body, &createdAt); err != nil {
			return fmt.Errorf("failed to scan post: %w", err)
		}
		p.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		posts = append(posts, p)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, posts)
}

func (c *Community) create(w http.ResponseWriter, r *http.Request) error {
	claims, _ := auth.FromContext(r.Context())

	var req newPost
	if err := decodeJSON(w, r, &req); err != nil {
		return handled(err)
	}

	p := Post{
		AuthorID:  claims.UserID,
		Author:    claims.Username,
		Title:     req.Title,
		Body:      req.Body,
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}
	res, err := c.db.DB.ExecContext(r.Context(),
		`INSERT INTO posts (author_id, title, body, created_at) VALUES (?, ?, ?, ?)`,
		p.AuthorID, p.Title, p.Body, p.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to create post: %w", err)
	}
	p.ID, _ = res.LastInsertId()

	c.logger.Infow("Post created", "post_id", p.ID, "author", p.Author)
	return writeJSON(w, http.StatusCreated, p)
}
