package sqldb_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/nlsql/internal/sqldb"
	sqldbtesting "github.com/malbeclabs/nlsql/internal/sqldb/testing"
)

func TestNLSQL_SQLDB_Postgres(t *testing.T) {
	t.Parallel()

	url := sqldbtesting.NewPostgresURL(t, sqldbtesting.PostgresCowsFixture...)
	db, err := sqldb.Open(t.Context(), sqldbtesting.NewLogger(), url)
	require.NoError(t, err)
	require.Equal(t, sqldb.DriverPostgres, db.Driver())

	conn, err := db.Connect(t.Context())
	require.NoError(t, err)
	defer conn.Close()

	t.Run("explain", func(t *testing.T) {
		require.NoError(t, conn.Explain(t.Context(), "SELECT COUNT(*) FROM cows"))
		require.Error(t, conn.Explain(t.Context(), "SELECT COUNT(*) FROM goats"))
	})

	t.Run("first row", func(t *testing.T) {
		row, err := conn.FirstRow(t.Context(), "SELECT COUNT(*) FROM cows")
		require.NoError(t, err)
		require.EqualValues(t, 94, row[0])

		row, err = conn.FirstRow(t.Context(), "SELECT id, breed FROM cows ORDER BY id")
		require.NoError(t, err)
		require.EqualValues(t, 1, row[0])
		require.Equal(t, "jersey", row[1])
	})

	t.Run("no rows", func(t *testing.T) {
		_, err := conn.FirstRow(t.Context(), "SELECT id FROM cows WHERE id < 0")
		require.ErrorIs(t, err, sqldb.ErrNoRows)
	})

	t.Run("read only session", func(t *testing.T) {
		_, err := conn.FirstRow(t.Context(), "DELETE FROM cows RETURNING id")
		require.Error(t, err)
		require.False(t, sqldb.IsConnectionError(err))
	})
}
