package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDriverForDSN(t *testing.T) {
	tests := []struct {
		dsn        string
		wantDriver string
		wantConn   string
	}{
		{"sqlite:///tmp/state.db", "sqlite3", "/tmp/state.db"},
		{"postgres://u:p@host/db", "postgres", "postgres://u:p@host/db"},
		{"postgresql://u:p@host/db", "postgres", "postgresql://u:p@host/db"},
		{"mysql://u:p@tcp(host)/db", "mysql", "u:p@tcp(host)/db"},
	}
	for _, tt := range tests {
		t.Run(tt.dsn, func(t *testing.T) {
			driver, conn, err := driverForDSN(tt.dsn)
			require.NoError(t, err)
			assert.Equal(t, tt.wantDriver, driver)
			assert.Equal(t, tt.wantConn, conn)
		})
	}

	_, _, err := driverForDSN("redis://host")
	assert.Error(t, err)
}

func TestDialect_Rebind(t *testing.T) {
	q := `INSERT INTO kv_jobs (job_id, value, updated_at) VALUES (?, ?, ?)`

	assert.Equal(t, q, dialect("sqlite3").rebind(q))
	assert.Equal(t, q, dialect("mysql").rebind(q))
	assert.Equal(t,
		`INSERT INTO kv_jobs (job_id, value, updated_at) VALUES ($1, $2, $3)`,
		dialect("postgres").rebind(q))
}

func TestDialect_Upsert(t *testing.T) {
	assert.Equal(t,
		`INSERT INTO kv_settings (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		dialect("sqlite3").upsert("kv_settings", "key", "value"))

	assert.Equal(t,
		`INSERT INTO kv_jobs (job_id, value, updated_at) VALUES (?, ?, ?) ON CONFLICT(job_id) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		dialect("postgres").upsert("kv_jobs", "job_id", "value", "updated_at"))

	assert.Equal(t,
		`INSERT INTO kv_jobs (job_id, value, updated_at) VALUES (?, ?, ?) ON DUPLICATE KEY UPDATE value = VALUES(value), updated_at = VALUES(updated_at)`,
		dialect("mysql").upsert("kv_jobs", "job_id", "value", "updated_at"))
}
