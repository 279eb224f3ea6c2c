package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"tictacgrid/internal/api"
	"tictacgrid/internal/client"
	"tictacgrid/internal/console"
	"tictacgrid/internal/ws"

	"github.com/julienschmidt/httprouter"
)

const (
	logDate        string        = `2006-01-02T15:04:05.000-07:00`
	commandTimeout time.Duration = time.Minute
	shutdownWait   time.Duration = 5 * time.Second
)

func logf(cfg *Config, format string, args ...any) {
	if !cfg.verbose {
		return
	}

	log.Printf("%s | "+format, append([]any{time.Now().Format(logDate)}, args...)...)
}

// stampWriter prefixes every log line with the time
type stampWriter struct {
	w io.Writer
}

func (s stampWriter) Write(p []byte) (int, error) {
	if _, err := fmt.Fprintf(s.w, "%s | ", time.Now().Format(logDate)); err != nil {
		return 0, err
	}
	return s.w.Write(p)
}

// newLogger returns the logger handed to every component. It discards
// everything unless --verbose is set.
func newLogger(cfg *Config) *log.Logger {
	if !cfg.verbose {
		return log.New(io.Discard, "", 0)
	}
	return log.New(stampWriter{w: os.Stderr}, "", 0)
}

func newAPI(cfg *Config, logger *log.Logger) (*api.Client, error) {
	return api.NewClient(cfg.server, &http.Client{Timeout: cfg.timeout}, logger)
}

// Check asks the server whether it is up
func Check(ctx context.Context, cfg *Config, out io.Writer) error {
	remote, err := newAPI(cfg, newLogger(cfg))
	if err != nil {
		return err
	}
	if err := remote.CheckAvailability(ctx); err != nil {
		return fmt.Errorf("server %s is unavailable: %w", cfg.server, err)
	}
	fmt.Fprintf(out, "server %s is available\n", cfg.server)
	return nil
}

// Play runs the client until the user quits or ctx is done
func Play(ctx context.Context, cfg *Config) error {
	logf(cfg, "START: tictacgrid v%s", releaseVersion)

	logger := newLogger(cfg)
	remote, err := newAPI(cfg, logger)
	if err != nil {
		return err
	}

	app := client.New(remote, client.Config{
		Interval: cfg.pollInterval,
		Logger:   logger,
	})
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownWait)
		defer cancel()
		app.Close(closeCtx)
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	app.WatchServer(ctx)
	if !app.Online() {
		fmt.Fprintf(os.Stderr, "%s | WARN: server %s is not responding\n", time.Now().Format(logDate), cfg.server)
	}

	if cfg.bridge != "" {
		srv := serveBridge(cfg, app, logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownWait)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	if cfg.username != "" {
		loginCtx, cancel := context.WithTimeout(ctx, commandTimeout)
		if cfg.register {
			err = app.Register(loginCtx, cfg.username, cfg.password)
		} else {
			err = app.Login(loginCtx, cfg.username, cfg.password)
		}
		cancel()
		if err != nil {
			if cfg.headless {
				return err
			}
			fmt.Fprintf(os.Stderr, "login failed: %v\n", err)
		}
	}

	if cfg.headless {
		logf(cfg, "SERVE: Running headless, stop with Ctrl-C")
		<-ctx.Done()
		return nil
	}

	con := console.New(app, os.Stdout, commandTimeout)
	go con.Follow(ctx, app.Hub())
	return con.Run(ctx, os.Stdin)
}

func serveBridge(cfg *Config, app *client.App, logger *log.Logger) *http.Server {
	mux := httprouter.New()
	mux.PanicHandler = func(w http.ResponseWriter, r *http.Request, i any) {
		logger.Printf("BRIDGE: panic serving %s: %v", r.URL.Path, i)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
	ws.NewHandler(app.Hub(), app, logger).RegisterRoutes(mux)

	srv := &http.Server{
		Addr:              cfg.bridge,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logf(cfg, "SERVE: Bridge listening on ws://%s/ws, QR code at http://%s/qr", srv.Addr, srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Printf("%s | ERROR: %v\n", time.Now().Format(logDate), err)
		}
	}()

	return srv
}
