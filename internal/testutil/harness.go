// Package testutil boots an in-process engine behind a real TCP listener
// so tests can drive it with an ordinary Postgres client, and hosts the
// golden-master comparison against a containerized Postgres.
package testutil

import (
	"fmt"
	"net"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/relcore/enginecore/internal/catalog"
	"github.com/relcore/enginecore/internal/config"
	"github.com/relcore/enginecore/internal/wire"
)

// StartWireServer boots the engine on an ephemeral port and returns a
// connection string for it. The server shuts down with the test.
func StartWireServer(t *testing.T) (string, *catalog.Catalog) {
	t.Helper()
	log := zaptest.NewLogger(t)
	cat := catalog.New(log)
	if _, err := cat.CreateDatabase("postgres"); err != nil {
		t.Fatal(err)
	}
	eng := wire.NewEngine(log, cat, config.Default())
	srv := wire.NewServer(eng)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe(addr) }()
	t.Cleanup(func() {
		srv.Shutdown()
		<-errc
	})
	for i := 0; i < 200; i++ {
		c, err := net.Dial("tcp", addr)
		if err == nil {
			c.Close()
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	return fmt.Sprintf("postgres://tester@%s/postgres?sslmode=disable", addr), cat
}
