package modules

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"heritage/api"
	"heritage/auth"
	"heritage/cache"
	"heritage/storage"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

const (
	articleListNamespace = "culture:articles"
	articleNamespace     = "culture:article"
	articleCacheTTL      = 5 * time.Minute
	maxArticles          = 100
)

// Article is a cultural heritage entry
type Article struct {
	ID        int64     `json:"id"`
	Slug      string    `json:"slug"`
	Title     string    `json:"title"`
	Region    string    `json:"region"`
	Era       string    `json:"era,omitempty"`
	Summary   string    `json:"summary"`
	Body      string    `json:"body,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type newArticle struct {
	Slug    string `json:"slug" validate:"required,min=2,max=80,lowercase"`
	Title   string `json:"title" validate:"required,max=200"`
	Region  string `json:"region" validate:"required,max=80"`
	Era     string `json:"era" validate:"max=80"`
	Summary string `json:"summary" validate:"required,max=500"`
	Body    string `json:"body" validate:"max=20000"`
}

var seedArticles = []newArticle{
	{
		Slug:    "silk-road-caravanserais",
		Title:   "Caravanserais of the Silk Road",
		Region:  "central-asia",
		Era:     "medieval",
		Summary: "Roadside inns that sheltered merchants and their animals along the trade routes.",
	},
	{
		Slug:    "kente-weaving",
		Title:   "Kente Weaving",
		Region:  "west-africa",
		Era:     "17th century",
		Summary: "Strip-woven silk and cotton cloth of the Akan people.",
	},
	{
		Slug:    "nazca-lines",
		Title:   "The Nazca Lines",
		Region:  "south-america",
		Era:     "500 BCE - 500 CE",
		Summary: "Geoglyphs etched into the desert floor of southern Peru.",
	},
}

// Culture publishes heritage articles
type Culture struct {
	db       *storage.SQLite
	cache    cache.Cache
	sessions *auth.Manager
	logger   *zap.SugaredLogger
}

func (c *Culture) Name() string { return "culture" }

func (c *Culture) Schema() []storage.Migration {
	return []storage.Migration{
		{
			Module:      "culture",
			Version:     "1.0.0",
			Name:        "create_articles",
			Description: "Heritage articles keyed by slug",
			Up: func(tx *sql.Tx) error {
				if _, err := tx.Exec(`
					CREATE TABLE IF NOT EXISTS articles (
						id INTEGER PRIMARY KEY AUTOINCREMENT,
						slug TEXT NOT NULL UNIQUE,
						title TEXT NOT NULL,
						region TEXT NOT NULL,
						era TEXT NOT NULL DEFAULT '',
						summary TEXT NOT NULL,
						body TEXT NOT NULL DEFAULT '',
						created_at TEXT NOT NULL
					)`); err != nil {
					return err
				}
				_, err := tx.Exec(`CREATE INDEX IF NOT EXISTS idx_articles_region ON articles(region)`)
				return err
			},
			Down: func(tx *sql.Tx) error {
				_, err := tx.Exec(`DROP TABLE IF EXISTS articles`)
				return err
			},
		},
		{
			Module:      "culture",
			Version:     "1.1.0",
			Name:        "seed_articles",
			Description: "Starter articles",
			Up: func(tx *sql.Tx) error {
				now := time.Now().UTC().Format(time.RFC3339)
				for _, a := range seedArticles {
					if _, err := tx.Exec(`
						INSERT OR IGNORE INTO articles (slug, title, region, era, summary, body, created_at)
						VALUES (?, ?, ?, ?, ?, ?, ?)`,
						a.Slug, a.Title, a.Region, a.Era, a.Summary, a.Body, now); err != nil {
						return err
					}
				}
				return nil
			},
		},
	}
}

func (c *Culture) Register(srv *api.Server, deps Deps) error {
	if err := deps.Validate(); err != nil {
		return err
	}
	c.db = deps.DB
	c.cache = deps.Cache
	c.sessions = deps.Sessions
	c.logger = deps.Logger.With("module", c.Name())

	srv.HandleFunc("/api/culture/articles", c.list).Methods(http.MethodGet)
	srv.HandleFunc("/api/culture/articles", requireLogin(c.sessions, c.create)).Methods(http.MethodPost)
	srv.HandleFunc("/api/culture/articles/{slug}", c.get).Methods(http.MethodGet)
	return nil
}

func (c *Culture) list(w http.ResponseWriter, r *http.Request) error {
	region := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("region")))
	key := cache.Key(articleListNamespace, region)

	var articles []Article
	if found, err := c.cache.Get(r.Context(), key, &articles); err != nil {
		c.logger.Warnw("Cache read failed", "key", key, "error", err)
	} else if found {
		return writeJSON(w, http.StatusOK, articles)
	}

	articles, err := c.query(r.Context(), region)
	if err != nil {
		return err
	}
	c.store(r.Context(), key, articles)
	return writeJSON(w, http.StatusOK, articles)
}

func (c *Culture) query(ctx context.Context, region string) ([]Article, error) {
	q := `SELECT id, slug, title, region, era, summary, created_at FROM articles`
	var args []interface{}
	if region != "" {
		q += ` WHERE region = ?`
		args = append(args, region)
	}
	q += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, maxArticles)

	rows, err := c.db.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list articles: %w", err)
	}
	defer rows.Close()

	articles := make([]Article, 0)
	for rows.Next() {
		var a Article
		var createdAt string
		if err := rows.Scan(&a.ID, &a.Slug, &a.Title, &a.Region, &a.Era, &a.Summary, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan article: %w", err)
		}
		a.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		articles = append(articles, a)
	}
	return articles, rows.Err()
}

func (c *Culture) get(w http.ResponseWriter, r *http.Request) error {
	slug := mux.Vars(r)["slug"]
	key := cache.Key(articleNamespace, slug)

	var a Article
	if found, err := c.cache.Get(r.Context(), key, &a); err != nil {
		c.logger.Warnw("Cache read failed", "key", key, "error", err)
	} else if found {
		return writeJSON(w, http.StatusOK, a)
	}

	var createdAt string
	err := c.db.DB.QueryRowContext(r.Context(), `
		SELECT id, slug, title, region, era, summary, body, created_at
		FROM articles WHERE slug = ?`, slug).
		Scan(&a.ID, &a.Slug, &a.Title, &a.Region, &a.Era, &a.Summary, &a.Body, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("article %q: %w", slug, api.ErrRequestNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to load article: %w", err)
	}
	a.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)

	c.store(r.Context(), key, a)
	return writeJSON(w, http.StatusOK, a)
}

func (c *Culture) create(w http.ResponseWriter, r *http.Request) error {
	var req newArticle
	if err := decodeJSON(w, r, &req); err != nil {
		return handled(err)
	}
	req.Region = strings.ToLower(req.Region)

	a := Article{
		Slug:      req.Slug,
		Title:     req.Title,
		Region:    req.Region,
		Era:       req.Era,
		Summary:   req.Summary,
		Body:      req.Body,
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}
	res, err := c.db.DB.ExecContext(r.Context(), `
		INSERT INTO articles (slug, title, region, era, summary, body, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.Slug, a.Title, a.Region, a.Era, a.Summary, a.Body, a.CreatedAt.Format(time.RFC3339))
	if isUniqueViolation(err) {
		return writeMessage(w, http.StatusConflict, "slug already exists")
	}
	if err != nil {
		return fmt.Errorf("failed to create article: %w", err)
	}
	a.ID, _ = res.LastInsertId()

	for _, key := range []string{cache.Key(articleListNamespace, ""), cache.Key(articleListNamespace, a.Region)} {
		if err := c.cache.Delete(r.Context(), key); err != nil {
			c.logger.Warnw("Cache invalidation failed", "key", key, "error", err)
		}
	}

	user, _ := sessionUser(r)
	c.logger.Infow("Article published", "slug", a.Slug, "author", user)
	return writeJSON(w, http.StatusCreated, a)
}

func (c *Culture) store(ctx context.Context, key string, value interface{}) {
	if err := c.cache.Set(ctx, key, value, articleCacheTTL); err != nil {
		c.logger.Warnw("Cache write failed", "key", key, "error", err)
	}
}
