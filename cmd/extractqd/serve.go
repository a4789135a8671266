package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/cobra"

	"github.com/jdziat/extractq/pkg/httpapi"
	"github.com/jdziat/extractq/pkg/queue"
	"github.com/jdziat/extractq/pkg/stages"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the worker pool",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("addr", "", "listen address (default :8080)")
	serveCmd.Flags().Int("concurrency", 0, "number of worker slots")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd, map[string]string{
		"server.addr":        "addr",
		"worker.concurrency": "concurrency",
	})
	if err != nil {
		return err
	}
	logger := setupLogger(cfg)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()
	if err := store.Migrate(ctx); err != nil {
		return err
	}

	q := queue.New(store, stages.Tabular(store, cfg.StageOptions()...), cfg.QueueOptions(logger)...)

	gin.SetMode(gin.ReleaseMode)
	api := httpapi.New(q,
		httpapi.MaxUploadBytes(cfg.Server.MaxUploadBytes),
		httpapi.WithLogger(logger),
		httpapi.WithMiddleware(httpapi.RequestLogger(logger)),
	)
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// Open event streams end when the daemon stops.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	logger.Info("extractqd starting",
		"addr", cfg.Server.Addr,
		"driver", cfg.Database.Driver,
		"concurrency", cfg.Worker.Concurrency,
		"stages", q.Stages(),
	)

	p := pool.New().WithContext(ctx).WithCancelOnError()
	p.Go(q.Start)
	p.Go(func(ctx context.Context) error {
		return serveHTTP(ctx, srv, cfg.Server.ShutdownTimeout)
	})

	err = p.Wait()
	logger.Info("extractqd stopped", "error", err)
	return err
}

// serveHTTP runs srv until ctx is done, then shuts it down gracefully.
func serveHTTP(ctx context.Context, srv *http.Server, timeout time.Duration) error {
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}
