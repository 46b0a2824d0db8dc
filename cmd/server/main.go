package main

import (
	"bufio"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/relcore/enginecore/internal/admin"
	"github.com/relcore/enginecore/internal/catalog"
	"github.com/relcore/enginecore/internal/config"
	"github.com/relcore/enginecore/internal/wal"
	"github.com/relcore/enginecore/internal/wire"
)

// replayLog rewinds the database's OID allocators from a recovery log
// before the first connection is accepted.
func replayLog(path string, db *catalog.DatabaseCatalog, log *zap.Logger) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	c := &wal.Consumer{Alloc: db, Log: log}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		c.OnMessage(sc.Bytes())
	}
	if err := sc.Err(); err != nil {
		return err
	}
	log.Info("log_replayed",
		zap.Int("records", c.Records()),
		zap.Uint64("watermark", c.Watermark()),
	)
	return nil
}

func main() {
	cfg := config.Default()
	cfg.RegisterFlags(flag.CommandLine)
	recoverLog := flag.String("recover-log", "", "replay this write-ahead-log file before serving")
	flag.Parse()

	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer log.Sync()
	zap.ReplaceGlobals(log)

	cat := catalog.New(log)
	db, err := cat.CreateDatabase("postgres")
	if err != nil {
		log.Fatal("bootstrap database", zap.Error(err))
	}
	if *recoverLog != "" {
		if err := replayLog(*recoverLog, db, log); err != nil {
			log.Fatal("log replay", zap.Error(err))
		}
	}

	hub := admin.NewHub()
	eng := wire.NewEngine(log, cat, cfg)
	eng.Telemetry = hub.Publish

	adminHandler := &admin.Handler{Catalog: cat, Config: cfg, Hub: hub, Log: log}
	adminSrv := &http.Server{Addr: cfg.AdminAddr, Handler: adminHandler.SetupRoutes()}
	go func() {
		if err := adminSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("admin server", zap.Error(err))
		}
	}()

	srv := wire.NewServer(eng)
	go func() {
		if err := srv.ListenAndServe(cfg.ListenAddr); err != nil {
			log.Fatal("wire server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down")
	srv.Shutdown()
	_ = adminSrv.Close()
}
