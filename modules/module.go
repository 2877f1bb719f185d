// Package modules holds the domain modules attached to the service once
// persistence, sessions and the cache are live.
//
// Registration happens in two phases. Schema is declared before the store is
// opened so the persistence stage can apply every module's migrations in one
// pass; Register then receives the live handles and attaches routes.
package modules

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"heritage/api"
	"heritage/auth"
	"heritage/cache"
	"heritage/config"
	"heritage/storage"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// maxBodyBytes bounds JSON request bodies
const maxBodyBytes = 1 << 20

// Module is a domain feature set composed into the service
type Module interface {
	Name() string
	// Schema returns the migrations the module needs before it can register routes
	Schema() []storage.Migration
	Register(srv *api.Server, deps Deps) error
}

// Deps are the live handles a module receives at registration
type Deps struct {
	DB       *storage.SQLite
	Cache    cache.Cache
	Sessions *auth.Manager
	Profile  config.Profile
	Logger   *zap.SugaredLogger
}

// Validate reports which required handles are missing
func (d Deps) Validate() error {
	var missing []string
	if d.DB == nil {
		missing = append(missing, "database")
	}
	if d.Cache == nil {
		missing = append(missing, "cache")
	}
	if d.Sessions == nil {
		missing = append(missing, "sessions")
	}
	if d.Logger == nil {
		missing = append(missing, "logger")
	}
	if len(missing) > 0 {
		return fmt.Errorf("module dependencies missing: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Default returns the reference modules in registration order
func Default() []Module {
	return []Module{
		&Home{},
		&Users{},
		&Culture{},
		&Community{},
		&Assistant{},
	}
}

var validate = validator.New()

var errBadRequest = errors.New("bad request")

func writeJSON(w http.ResponseWriter, status int, v interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, status int, message string) error {
	return writeJSON(w, status, map[string]string{"error": message})
}

// decodeJSON reads and validates a request body. Failures are reported to the
// client as 400 and returned as errBadRequest so the caller can stop.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		_ = writeMessage(w, http.StatusBadRequest, "invalid JSON body")
		return errBadRequest
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		msg := "invalid request"
		if errors.As(err, &verrs) && len(verrs) > 0 {
			msg = fmt.Sprintf("invalid field %s: %s", strings.ToLower(verrs[0].Field()), verrs[0].Tag())
		}
		_ = writeMessage(w, http.StatusBadRequest, msg)
		return errBadRequest
	}
	return nil
}

// handled converts errBadRequest, already answered by decodeJSON, into success
func handled(err error) error {
	if errors.Is(err, errBadRequest) {
		return nil
	}
	return err
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
