package storage

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestSchemaRegistry_DeclareThenApply(t *testing.T) {
	runner, sqlite := newTestRunner(t)
	ctx := context.Background()
	schema := NewSchemaRegistry()

	require.NoError(t, schema.Declare("users", Migration{Version: "1.0.0", Name: "create_users", Up: createTable("users")}))
	require.NoError(t, schema.Declare("culture", Migration{Version: "1.0.0", Name: "create_articles", Up: createTable("articles")}))
	require.NoError(t, schema.Declare("home"))

	assert.ErrorIs(t, schema.Require("users"), ErrSchemaNotApplied, "nothing is applied before Apply")

	n, err := schema.Apply(ctx, runner)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.NoError(t, schema.Require("users"))
	assert.NoError(t, schema.Require("culture"))
	assert.NoError(t, schema.Require("home"))
	assert.Equal(t, []string{"culture", "home", "users"}, schema.Owners())

	var count int
	require.NoError(t, sqlite.DB.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name IN ('users', 'articles')").Scan(&count))
	assert.Equal(t, 2, count)

	assert.Error(t, schema.Declare("late", Migration{Version: "1.0.0", Name: "late", Up: createTable("late")}))
}

func TestSchemaRegistry_ForeignOwnerRejected(t *testing.T) {
	schema := NewSchemaRegistry()
	err := schema.Declare("users", Migration{Module: "culture", Version: "1.0.0", Name: "x", Up: createTable("x")})
	assert.Error(t, err)
}

func TestSchemaRegistry_FailedApply(t *testing.T) {
	runner, _ := newTestRunner(t)
	schema := NewSchemaRegistry()

	require.NoError(t, schema.Declare("broken", Migration{Version: "1.0.0", Name: "broken", Up: func(*sql.Tx) error {
		return errors.New("no disk")
	}}))

	_, err := schema.Apply(context.Background(), runner)
	require.Error(t, err)
	assert.ErrorIs(t, schema.Require("broken"), ErrSchemaNotApplied)
}

func TestSchemaRegistry_DriftRefused(t *testing.T) {
	runner, sqlite := newTestRunner(t)
	ctx := context.Background()

	first := NewSchemaRegistry()
	require.NoError(t, first.Declare("users", Migration{Version: "1.0.0", Name: "create_users", Up: createTable("users")}))
	require.NoError(t, first.Declare("culture", Migration{Version: "1.0.0", Name: "create_articles", Up: createTable("articles")}))
	_, err := first.Apply(ctx, runner)
	require.NoError(t, err)

	t.Run("renamed migration", func(t *testing.T) {
		fresh, err := NewMigrationRunner(ctx, sqlite.DB, zaptest.NewLogger(t).Sugar())
		require.NoError(t, err)
		schema := NewSchemaRegistry()
		require.NoError(t, schema.Declare("users", Migration{Version: "1.0.0", Name: "create_accounts", Up: createTable("accounts")}))
		require.NoError(t, schema.Declare("culture", Migration{Version: "1.0.0", Name: "create_articles", Up: createTable("articles")}))

		n, err := schema.Apply(ctx, fresh)
		assert.Zero(t, n)
		assert.ErrorIs(t, err, ErrSchemaDrift)
		assert.Contains(t, err.Error(), "users@1.0.0 checksum mismatch")
		assert.ErrorIs(t, schema.Require("users"), ErrSchemaNotApplied)
	})

	t.Run("module no longer declared", func(t *testing.T) {
		fresh, err := NewMigrationRunner(ctx, sqlite.DB, zaptest.NewLogger(t).Sugar())
		require.NoError(t, err)
		schema := NewSchemaRegistry()
		require.NoError(t, schema.Declare("users", Migration{Version: "1.0.0", Name: "create_users", Up: createTable("users")}))

		_, err = schema.Apply(ctx, fresh)
		assert.ErrorIs(t, err, ErrSchemaDrift)
		assert.Contains(t, err.Error(), "culture@1.0.0 was applied but is not registered")
	})
}
