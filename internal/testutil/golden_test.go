package testutil

import (
	"context"
	"database/sql"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/require"

	"github.com/relcore/enginecore/pkg/fixgres"
)

// TestGoldenMasterParity runs the same script against this engine and a
// real Postgres and diffs the results. Requires Docker; opt in with
// ENGINECORE_GOLDEN=1.
func TestGoldenMasterParity(t *testing.T) {
	if os.Getenv("ENGINECORE_GOLDEN") == "" {
		t.Skip("set ENGINECORE_GOLDEN=1 to run the containerized golden-master comparison")
	}
	fixgres.BootOnce(t)
	sbx := fixgres.NewSandbox(t)
	_ = sbx

	ref, err := sql.Open("postgres", fixgres.ConnString())
	require.NoError(t, err)
	defer ref.Close()

	connString, _ := StartWireServer(t)
	eng := connect(t, connString)
	ctx := context.Background()

	script := []string{
		"CREATE TABLE gm (id int4 NOT NULL, label varchar)",
		"INSERT INTO gm VALUES (1, 'a'), (2, 'b'), (3, NULL)",
		"UPDATE gm SET label = 'z' WHERE id = 2",
		"DELETE FROM gm WHERE id = 1",
	}
	for _, stmt := range script {
		_, err := ref.Exec(stmt)
		require.NoError(t, err, "reference: %s", stmt)
		_, err = eng.Exec(ctx, stmt).ReadAll()
		require.NoError(t, err, "engine: %s", stmt)
	}

	queries := []string{
		"SELECT id, label FROM gm ORDER BY id",
		"SELECT count(*) FROM gm",
		"SELECT id FROM gm WHERE id > 1 ORDER BY id",
	}
	for _, q := range queries {
		want := refRows(t, ref, q)
		got := engineRows(t, eng, ctx, q)
		require.Equal(t, want, got, "query %q diverged", q)
	}

	_, err = ref.Exec("DROP TABLE gm")
	require.NoError(t, err)
}

func refRows(t *testing.T, db *sql.DB, q string) [][]string {
	t.Helper()
	rows, err := db.Query(q)
	require.NoError(t, err)
	defer rows.Close()
	cols, err := rows.Columns()
	require.NoError(t, err)
	var out [][]string
	for rows.Next() {
		raw := make([]sql.NullString, len(cols))
		ptrs := make([]any, len(cols))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		require.NoError(t, rows.Scan(ptrs...))
		rec := make([]string, len(cols))
		for i, v := range raw {
			if v.Valid {
				rec[i] = v.String
			} else {
				rec[i] = "<null>"
			}
		}
		out = append(out, rec)
	}
	require.NoError(t, rows.Err())
	return out
}

func engineRows(t *testing.T, conn *pgconn.PgConn, ctx context.Context, q string) [][]string {
	t.Helper()
	results, err := conn.Exec(ctx, q).ReadAll()
	require.NoError(t, err)
	require.Len(t, results, 1)
	var out [][]string
	for _, r := range results[0].Rows {
		rec := make([]string, len(r))
		for i, v := range r {
			if v == nil {
				rec[i] = "<null>"
			} else {
				rec[i] = string(v)
			}
		}
		out = append(out, rec)
	}
	return out
}
