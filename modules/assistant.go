package modules

import (
	"database/sql"
	"fmt"
	"net/http"
	"strings"
	"time"

	"heritage/api"
	"heritage/auth"
	"heritage/storage"

	"go.uber.org/zap"
)

// AssistantPrefix is where the assistant API is mounted
const AssistantPrefix = "/api/ai"

const historyLimit = 50

// Exchange is one prompt and the assistant's reply
type Exchange struct {
	ID        int64     `json:"id"`
	Prompt    string    `json:"prompt"`
	Reply     string    `json:"reply"`
	CreatedAt time.Time `json:"created_at"`
}

type askRequest struct {
	Prompt string `json:"prompt" validate:"required,max=2000"`
}

// Assistant answers visitor questions by pointing at matching articles and
// keeps a per-user history of exchanges.
type Assistant struct {
	db     *storage.SQLite
	logger *zap.SugaredLogger
}

func (a *Assistant) Name() string { return "assistant" }

func (a *Assistant) Schema() []storage.Migration {
	return []storage.Migration{
		{
			Module:      "assistant",
			Version:     "1.0.0",
			Name:        "create_assistant_history",
			Description: "Prompt history; anonymous exchanges have no user",
			Up: func(tx *sql.Tx) error {
				_, err := tx.Exec(`
					CREATE TABLE IF NOT EXISTS assistant_history (
						id INTEGER PRIMARY KEY AUTOINCREMENT,
						user_id INTEGER,
						prompt TEXT NOT NULL,
						reply TEXT NOT NULL,
						created_at TEXT NOT NULL
					)`)
				return err
			},
			Down: func(tx *sql.Tx) error {
				_, err := tx.Exec(`DROP TABLE IF EXISTS assistant_history`)
				return err
			},
		},
	}
}

func (a *Assistant) Register(srv *api.Server, deps Deps) error {
	if err := deps.Validate(); err != nil {
		return err
	}
	a.db = deps.DB
	a.logger = deps.Logger.With("module", a.Name())

	r := srv.Mount(AssistantPrefix)
	r.HandleFunc("/ask", srv.Adapt(a.ask)).Methods(http.MethodPost)
	r.HandleFunc("/history", srv.Adapt(requireLogin(deps.Sessions, a.history))).Methods(http.MethodGet)
	return nil
}

func (a *Assistant) ask(w http.ResponseWriter, r *http.Request) error {
	var req askRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return handled(err)
	}

	reply, err := a.answer(r, strings.TrimSpace(req.Prompt))
	if err != nil {
		return err
	}

	ex := Exchange{Prompt: req.Prompt, Reply: reply, CreatedAt: time.Now().UTC().Truncate(time.Second)}
	var userID sql.NullInt64
	if claims, ok := auth.FromContext(r.Context()); ok {
		userID = sql.NullInt64{Int64: claims.UserID, Valid: true}
	}
	res, err := a.db.DB.ExecContext(r.Context(),
		`INSERT INTO assistant_history (user_id, prompt, reply, created_at) VALUES (?, ?, ?, ?)`,
		userID, ex.Prompt, ex.Reply, ex.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to record exchange: %w", err)
	}
	ex.ID, _ = res.LastInsertId()
	return writeJSON(w, http.StatusOK, ex)
}

// answer suggests articles whose title or summary mentions a word of the prompt
func (a *Assistant) answer(r *http.Request, prompt string) (string, error) {
	var titles []string
	seen := make(map[string]bool)
	for _, word := range strings.Fields(strings.ToLower(prompt)) {
		word = strings.Trim(word, ".,;:!?\"'()")
		if len(word) < 4 || seen[word] {
			continue
		}
		seen[word] = true

		rows, err := a.db.DB.QueryContext(r.Context(), `
			SELECT title FROM articles
			WHERE lower(title) LIKE ? OR lower(summary) LIKE ?
			LIMIT 3`, "%"+word+"%", "%"+word+"%")
		if err != nil {
			return "", fmt.Errorf("failed to search articles: %w", err)
		}
		for rows.Next() {
			var title string
			if err := rows.Scan(&title); err != nil {
				rows.Close()
				return "", err
			}
			if !seen["title:"+title] {
				seen["title:"+title] = true
				titles = append(titles, title)
			}
		}
		rows.Close()
	}

	if len(titles) == 0 {
		return "I could not find an article about that yet. Try browsing the culture section.", nil
	}
	return "You may be interested in: " + strings.Join(titles, "; ") + ".", nil
}

func (a *Assistant) history(w http.ResponseWriter, r *http.Request) error {
	claims, _ := auth.FromContext(r.Context())

	rows, err := a.db.DB.QueryContext(r.Context(), `
		SELECT id, prompt, reply, created_at FROM assistant_history
		WHERE user_id = ? ORDER BY id DESC LIMIT ?`, claims.UserID, historyLimit)
	if err != nil {
		return fmt.Errorf("failed to load history: %w", err)
	}
	defer rows.Close()

	history := make([]Exchange, 0)
	for rows.Next() {
		var ex Exchange
		var createdAt string
		if err := rows.Scan(&ex.ID, &ex.Prompt, &ex.Reply, &createdAt); err != nil {
			return err
		}
		ex.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		history = append(history, ex)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, history)
}
