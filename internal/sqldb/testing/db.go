// Package sqldbtesting provides database fixtures for tests.
package sqldbtesting

import (
	"fmt"
	"log/slog"
	"os"
	"testing"

	"github.com/docker/go-connections/nat"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcch "github.com/testcontainers/testcontainers-go/modules/clickhouse"
	tcpg "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/malbeclabs/nlsql/internal/sqldb"
)

const (
	postgresImage   = "postgres:16-alpine"
	clickhouseImage = "clickhouse/clickhouse-server:latest"
)

func NewLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// NewDuckDB returns an in-memory DuckDB loaded with the given statements.
func NewDuckDB(t testing.TB, fixtures ...string) *sqldb.DuckDB {
	t.Helper()

	db, err := sqldb.NewDuckDB(t.Context(), NewLogger(), "")
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Logf("failed to close duckdb: %v", err)
		}
	})

	for _, stmt := range fixtures {
		_, err := db.DB().ExecContext(t.Context(), stmt)
		require.NoError(t, err, "fixture: %s", stmt)
	}
	return db
}

// CowsFixture is a herd of 94 cows used across package tests.
var CowsFixture = []string{
	`CREATE TABLE cows (id INTEGER PRIMARY KEY, name VARCHAR, breed VARCHAR)`,
	`INSERT INTO cows SELECT i, 'cow-' || i, CASE WHEN i % 2 = 0 THEN 'holstein' ELSE 'jersey' END FROM range(1, 95) t(i)`,
}

// PostgresCowsFixture is CowsFixture in PostgreSQL dialect.
var PostgresCowsFixture = []string{
	`CREATE TABLE cows (id INTEGER PRIMARY KEY, name TEXT, breed TEXT)`,
	`INSERT INTO cows SELECT i, 'cow-' || i, CASE WHEN i % 2 = 0 THEN 'holstein' ELSE 'jersey' END FROM generate_series(1, 94) AS i`,
}

// NewPostgresURL starts a PostgreSQL container, loads fixtures and returns its URL.
func NewPostgresURL(t testing.TB, fixtures ...string) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres container test in short mode")
	}
	ctx := t.Context()

	container, err := tcpg.Run(ctx, postgresImage,
		tcpg.WithDatabase("nlsql"),
		tcpg.WithUsername("nlsql"),
		tcpg.WithPassword("nlsql-secret"),
		tcpg.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, container)
	require.NoError(t, err)

	url, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	if len(fixtures) > 0 {
		// The pipeline connector opens read-only sessions, so fixtures go through a plain connection.
		conn, err := pgx.Connect(ctx, url)
		require.NoError(t, err)
		defer conn.Close(ctx)
		for _, stmt := range fixtures {
			_, err := conn.Exec(ctx, stmt)
			require.NoError(t, err, "fixture: %s", stmt)
		}
	}
	return url
}

// NewClickHouseURL starts a ClickHouse container and returns its native-protocol URL.
func NewClickHouseURL(t testing.TB) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping clickhouse container test in short mode")
	}
	ctx := t.Context()

	container, err := tcch.Run(ctx, clickhouseImage,
		tcch.WithDatabase("nlsql"),
		tcch.WithUsername("default"),
		tcch.WithPassword("password"),
	)
	testcontainers.CleanupContainer(t, container)
	require.NoError(t, err)

	host, err := container.Host(ctx)
	require.NoError(t, err)
	mappedPort, err := container.MappedPort(ctx, nat.Port("9000/tcp"))
	require.NoError(t, err)

	return fmt.Sprintf("clickhouse://default:password@%s:%s/nlsql", host, mappedPort.Port())
}
