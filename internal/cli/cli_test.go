package cli

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/nlsql/internal/sqldb"
	sqldbtesting "github.com/malbeclabs/nlsql/internal/sqldb/testing"
)

var testBuildInfo = BuildInfo{Version: "1.2.3", Commit: "abc123", Date: "2026-10-14"}

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := NewRootCmd(testBuildInfo, &stdout, &stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

// newCowsDatabase writes the cows fixture to a DuckDB file and returns its url.
func newCowsDatabase(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "farm.duckdb")
	db, err := sqldb.NewDuckDB(t.Context(), sqldbtesting.NewLogger(), path)
	require.NoError(t, err)
	for _, stmt := range sqldbtesting.CowsFixture {
		_, err := db.DB().ExecContext(t.Context(), stmt)
		require.NoError(t, err)
	}
	require.NoError(t, db.Close())
	return "duckdb://" + path
}

// newAnthropicServer answers intent prompts with a fixed intent and
// generation prompts with sql.
func newAnthropicServer(t *testing.T, sql string) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		text := sql
		if strings.Contains(string(body), "Describe the intent") {
			text = "goal: count cows"
		}
		content, _ := json.Marshal(text)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"msg_01","type":"message","role":"assistant","model":"m",` +
			`"content":[{"type":"text","text":` + string(content) + `}],` +
			`"stop_reason":"end_turn","usage":{"input_tokens":1,"output_tokens":1}}`))
	}))
	t.Cleanup(srv.Close)
	return srv.URL
}

func setupAsk(t *testing.T, sql string) string {
	t.Helper()
	logDir := filepath.Join(t.TempDir(), "logs")
	t.Setenv("ANTHROPIC_BASE_URL", newAnthropicServer(t, sql))
	t.Setenv("ANTHROPIC_API_KEY", "test-key")
	t.Setenv("NLSQL_DATABASE_URL", newCowsDatabase(t))
	t.Setenv("NLSQL_LOG_DIR", logDir)
	return logDir
}

func TestNLSQL_CLI_Version(t *testing.T) {
	stdout, _, err := execute(t, "version")
	require.NoError(t, err)
	require.Equal(t, "version: 1.2.3, commit: abc123, date: 2026-10-14\n", stdout)
}

func TestNLSQL_CLI_Ask(t *testing.T) {
	logDir := setupAsk(t, "SELECT COUNT(*) FROM cows;")

	stdout, _, err := execute(t, "ask", "how", "many", "cows", "are", "there?")
	require.NoError(t, err)
	require.Contains(t, stdout, "Question: how many cows are there?")
	require.Contains(t, stdout, "SQL: SELECT COUNT(*) FROM cows;")
	require.Contains(t, stdout, "Result: 94")
	require.Contains(t, stdout, "execute")

	require.FileExists(t, filepath.Join(logDir, "queries.log"))
	raw, err := os.ReadFile(filepath.Join(logDir, "json", "how_many_cows_are_there.jsonl"))
	require.NoError(t, err)
	var rec map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(raw), &rec))
	require.Equal(t, "ok", rec["status"])
	require.Equal(t, "94", rec["result_preview"])
}

func TestNLSQL_CLI_Ask_Rejected(t *testing.T) {
	logDir := setupAsk(t, "DROP TABLE cows;")

	stdout, _, err := execute(t, "ask", "get rid of the cows")
	require.EqualError(t, err, "query rejected")
	require.Contains(t, stdout, "Rejected: Only SELECT queries are allowed.")

	raw, err := os.ReadFile(filepath.Join(logDir, "json", "get_rid_of_the_cows.jsonl"))
	require.NoError(t, err)
	require.Contains(t, string(raw), `"status":"error"`)
}

func TestNLSQL_CLI_Ask_MissingConfig(t *testing.T) {
	t.Setenv("NLSQL_DATABASE_URL", "")
	t.Setenv("ANTHROPIC_API_KEY", "test-key")

	_, _, err := execute(t, "ask", "q")
	require.ErrorContains(t, err, "database url is empty")

	t.Setenv("ANTHROPIC_API_KEY", "")
	_, _, err = execute(t, "ask", "--database-url", "duckdb://", "q")
	require.ErrorContains(t, err, "anthropic api key is empty")

	_, _, err = execute(t, "ask", "--database-url", "duckdb://", "--anthropic-api-key", "k", "--max-tokens", "0", "q")
	require.ErrorContains(t, err, "max tokens must be positive")

	_, _, err = execute(t, "ask")
	require.Error(t, err)
}

func TestNLSQL_CLI_Helpers(t *testing.T) {
	t.Setenv("NLSQL_TEST_STRING", "value")
	t.Setenv("NLSQL_TEST_INT", "42")
	t.Setenv("NLSQL_TEST_BAD_INT", "forty-two")

	require.Equal(t, "value", getenv("NLSQL_TEST_STRING", "def"))
	require.Equal(t, "def", getenv("NLSQL_TEST_UNSET", "def"))
	require.Equal(t, 42, getenvInt("NLSQL_TEST_INT", 1))
	require.Equal(t, 1, getenvInt("NLSQL_TEST_BAD_INT", 1))
	require.Equal(t, 1, getenvInt("NLSQL_TEST_UNSET", 1))
	require.Equal(t, []string{"http://a", "http://b"}, splitCSV(" http://a, ,http://b "))
	require.Empty(t, splitCSV(""))
}
