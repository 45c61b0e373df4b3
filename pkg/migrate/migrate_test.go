package migrate

import (
	"strings"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedMigrationsAreValid(t *testing.T) {
	require.NoError(t, Validate())
}

func TestEventTablesKeySequencePerIncident(t *testing.T) {
	data, err := migrationsFS.ReadFile(Dir + "/20260301120000_create_incident_events.sql")
	require.NoError(t, err)
	content := string(data)

	for _, sub := range []string{
		"CREATE TABLE IF NOT EXISTS incident_streams",
		"PRIMARY KEY (incident_id, sequence)",
		"payload        JSONB NOT NULL",
		"DROP TABLE IF EXISTS incident_events",
	} {
		assert.True(t, strings.Contains(content, sub), "missing %q", sub)
	}
}

func TestValidateRejectsBadFiles(t *testing.T) {
	fsys := fstest.MapFS{
		"m/20260101000000_a.sql": {Data: []byte("-- +goose Up\n-- +goose Down\n")},
		"m/20260101000000_b.sql": {Data: []byte("-- +goose Up\n-- +goose Down\n")},
	}
	assert.ErrorContains(t, validateFS(fsys, "m"), "duplicate migration version")

	fsys = fstest.MapFS{"m/20260101000000_a.sql": {Data: []byte("-- +goose Up\n")}}
	assert.ErrorContains(t, validateFS(fsys, "m"), "missing")

	fsys = fstest.MapFS{"m/bad.sql": {Data: []byte("")}}
	assert.ErrorContains(t, validateFS(fsys, "m"), "invalid migration filename")
}
