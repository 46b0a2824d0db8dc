package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

func connect(t *testing.T, connString string) *pgconn.PgConn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	conn, err := pgconn.Connect(ctx, connString)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = conn.Close(ctx)
	})
	return conn
}

func TestEndToEndOverTCP(t *testing.T) {
	connString, _ := StartWireServer(t)
	conn := connect(t, connString)
	ctx := context.Background()

	mustExec := func(sql string) []*pgconn.Result {
		t.Helper()
		results, err := conn.Exec(ctx, sql).ReadAll()
		require.NoError(t, err)
		for _, r := range results {
			require.NoError(t, r.Err, "statement %q", sql)
		}
		return results
	}

	mustExec("CREATE TABLE items (id int4 NOT NULL, name varchar)")
	mustExec("INSERT INTO items VALUES (1, 'hammer'), (2, 'wrench')")

	results := mustExec("SELECT id, name FROM items ORDER BY id")
	require.Len(t, results, 1)
	require.Len(t, results[0].Rows, 2)
	require.Equal(t, "hammer", string(results[0].Rows[0][1]))
	require.Equal(t, "SELECT 2", results[0].CommandTag.String())

	// Extended protocol with a parameter.
	rr := conn.ExecParams(ctx, "SELECT name FROM items WHERE id = $1", [][]byte{[]byte("2")}, nil, nil, nil)
	res := rr.Read()
	require.NoError(t, res.Err)
	require.Len(t, res.Rows, 1)
	require.Equal(t, "wrench", string(res.Rows[0][0]))
}

func TestTransactionVisibilityOverTCP(t *testing.T) {
	connString, _ := StartWireServer(t)
	conn := connect(t, connString)
	ctx := context.Background()

	exec := func(sql string) error {
		_, err := conn.Exec(ctx, sql).ReadAll()
		return err
	}

	require.NoError(t, exec("CREATE TABLE t (v int4)"))
	require.NoError(t, exec("BEGIN"))
	require.NoError(t, exec("INSERT INTO t VALUES (1)"))
	require.NoError(t, exec("ROLLBACK"))

	results, err := conn.Exec(ctx, "SELECT count(*) FROM t").ReadAll()
	require.NoError(t, err)
	require.Equal(t, "0", string(results[0].Rows[0][0]))
}
