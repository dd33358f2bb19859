package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/urfave/cli/v3"
	"golang.org/x/time/rate"

	"pipedeck/internal/history"
	"pipedeck/internal/runner"
	"pipedeck/internal/server"
	"pipedeck/internal/shared"
)

// pollBurst bounds how many status or log polls a client can issue back to
// back before the limiter pushes back.
const pollBurst = 5

// Serve starts the control panel server and blocks until shutdown.
func (r *Runner) Serve(ctx context.Context, cmd *cli.Command) error {
	if cmd.Bool("debug") {
		shared.SetLogLevel(r.logger, log.DebugLevel)
	}

	host := r.config.Server.Host
	if cmd.String("host") != "" {
		host = cmd.String("host")
	}
	port := r.config.Server.Port
	if cmd.Int("port") != 0 {
		port = cmd.Int("port")
	}

	token := r.config.Server.Token
	if cmd.Bool("no-auth") {
		token = ""
	} else if token == "" {
		token = shared.GenerateToken()
	}

	store, closeStore, err := r.openHistory()
	if err != nil {
		r.logger.Warn("run history disabled", "error", err)
	} else {
		defer closeStore()
	}

	var recorder runner.Recorder
	if store != nil {
		recorder = store
	}
	run := runner.New(r.tool, r.sess, r.logger, recorder)

	serverCtx, stop := context.WithCancel(ctx)
	defer stop()

	router := server.NewBasicRouter()
	router.Use(
		server.Recover(r.logger),
		server.RequestLogger(r.logger),
		server.NoStore(),
		server.TokenAuth(token),
	)

	panel := server.NewPanel(server.PanelOpts{
		Config:   r.config,
		Catalog:  r.catalog,
		Session:  r.sess,
		Tool:     r.tool,
		Runner:   run,
		Store:    store,
		Logger:   r.logger,
		Shutdown: stop,
	})
	poll := server.RateLimit(rate.NewLimiter(rate.Every(time.Second), pollBurst))
	panel.Register(router, poll)

	addr := fmt.Sprintf("%s:%d", host, port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		r.logger.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	if token != "" {
		shared.GreenPrintln(fmt.Sprintf("http://%s/?token=%s", addr, token))
	} else {
		shared.GreenPrintln(fmt.Sprintf("http://%s/", addr))
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sig)

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-sig:
		r.logger.Info("interrupt received, shutting down")
	case <-serverCtx.Done():
		r.logger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	return nil
}

// openHistory opens the run history database and returns a store plus its
// close function.
func (r *Runner) openHistory() (*history.Store, func(), error) {
	db, err := shared.NewDatabase(r.config.Database.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}
	shared.ConfigureDatabase(db, r.config.Database.MaxOpenConns, r.config.Database.MaxIdleConns)

	if err := shared.RunMigrations(db); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return history.NewStore(db), func() { db.Close() }, nil
}
