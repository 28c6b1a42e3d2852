package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/RemiBardon/imt-fil-a1-acdc-projet-lapin-robot/internal/api"
	"github.com/RemiBardon/imt-fil-a1-acdc-projet-lapin-robot/internal/monitoring"
)

var logf = monitoring.Component("serve")

func cmdServe(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs, common := newFlagSet("serve", stderr)
	listen := fs.String("listen", "", "Listen address (default from configuration)")
	noDB := fs.Bool("no-db", false, "Do not record results")
	cfg, done, err := common.parse(fs, args, stdout)
	if err != nil || done {
		return err
	}
	addr := *listen
	if addr == "" {
		addr = cfg.GetListen()
	}

	dbPath := common.dbPath
	if dbPath == "" && !*noDB {
		dbPath = cfg.GetDatabasePath()
	}
	results, err := openDB(dbPath)
	if err != nil {
		return err
	}
	if results != nil {
		defer results.Close()
	}

	metrics := monitoring.NewMetrics()
	m := newManager(cfg, results, metrics, common.verbose)
	defer m.Shutdown()

	mux := api.NewServer(m, cfg, metrics, results).ServeMux()
	if results != nil {
		if err := results.AttachAdminRoutes(mux); err != nil {
			return err
		}
	}

	server := &http.Server{
		Addr:              addr,
		Handler:           api.LoggingMiddleware(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		errc <- server.ListenAndServe()
	}()
	logf("listening on %s", addr)

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logf("shutting down HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logf("HTTP server shutdown error: %v", err)
		if err := server.Close(); err != nil {
			logf("HTTP server force close error: %v", err)
		}
	}
	return nil
}
