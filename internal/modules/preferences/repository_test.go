package preferences

import (
	"database/sql"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/aristath/moneta/internal/database"
)

func setupTestRepo(t *testing.T) *Repository {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(database.Schema)
	require.NoError(t, err)
	return NewRepository(db, zerolog.Nop())
}

func TestValidateKey(t *testing.T) {
	valid := []string{"ui.theme", "returns.defaultPeriods", "sync.schedule.cron", "a.b_c"}
	for _, key := range valid {
		assert.NoError(t, ValidateKey(key), key)
	}

	invalid := []string{
		"",
		"theme",          // no namespace
		"UI.theme",       // uppercase first segment
		".theme",         // empty segment
		"ui.",            // trailing dot
		"ui.1theme",      // segment starts with digit
		"ui theme.color", // whitespace
	}
	for _, key := range invalid {
		assert.Error(t, ValidateKey(key), key)
	}

	long := "ui."
	for len(long) <= maxKeyLength {
		long += "x"
	}
	assert.Error(t, ValidateKey(long))
}

func TestPreferencesRoundTrip(t *testing.T) {
	repo := setupTestRepo(t)

	got, err := repo.Get("ui.theme")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, repo.Set("ui.theme", json.RawMessage(`"dark"`)))
	got, err = repo.Get("ui.theme")
	require.NoError(t, err)
	assert.JSONEq(t, `"dark"`, string(got))

	require.NoError(t, repo.Set("ui.theme", json.RawMessage(`{"mode":"light","accent":"#abc"}`)))
	got, err = repo.Get("ui.theme")
	require.NoError(t, err)
	assert.JSONEq(t, `{"mode":"light","accent":"#abc"}`, string(got))

	require.NoError(t, repo.Delete("ui.theme"))
	got, err = repo.Get("ui.theme")
	require.NoError(t, err)
	assert.Nil(t, got)

	// Deleting an unset key is fine.
	require.NoError(t, repo.Delete("ui.theme"))
}

func TestPreferencesRejectInvalidJSON(t *testing.T) {
	repo := setupTestRepo(t)
	assert.Error(t, repo.Set("ui.theme", json.RawMessage(`{"broken`)))
}
