package cmd

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/robomonkey/robomonkey/internal/api"
	"github.com/robomonkey/robomonkey/internal/daemon"
	"github.com/robomonkey/robomonkey/internal/embed"
	"github.com/robomonkey/robomonkey/internal/logging"
	"github.com/robomonkey/robomonkey/internal/parser"
	"github.com/robomonkey/robomonkey/internal/rpc"
	"github.com/robomonkey/robomonkey/internal/store"
	"github.com/robomonkey/robomonkey/internal/watcher"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the daemon: workers, watcher, and the control socket",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, cleanup, err := logging.Setup(logging.Config{Level: cfg.LogLevel, FilePath: cfg.LogFile})
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := store.Open(ctx, cfg.DatabaseURL, cfg.SchemaPrefix, cfg.Embeddings.Dimension)
	if err != nil {
		return err
	}
	defer pool.Close()

	embedder, err := embed.New(cfg.Embeddings)
	if err != nil {
		log.Warn("embedding provider unavailable, search degrades to full-text",
			slog.String("error", err.Error()))
		embedder = nil
	}

	pf := parser.New()
	defer pf.Close()

	svc := api.New(api.PoolBackend{Pool: pool}, embedder, cfg, log)

	workers := daemon.New(pool, cfg.Daemon, log)
	svc.Workers = workers.CurrentStatus
	daemon.RegisterHandlers(workers, &daemon.Deps{
		Pool:          pool,
		Parser:        pf,
		Embedder:      embedder,
		Cfg:           cfg,
		Log:           log,
		OnDataChanged: svc.InvalidateRepo,
	})

	srv := rpc.NewServer(cfg.SocketPath, log)
	api.Bind(srv, svc)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return workers.Run(ctx) })
	g.Go(func() error { return srv.ListenAndServe(ctx) })

	if cfg.MetricsAddr != "" {
		g.Go(func() error { return serveMetrics(ctx, cfg.MetricsAddr, log) })
	}

	refs, err := pool.ListRepos(ctx)
	if err != nil {
		return err
	}
	for _, ref := range refs {
		if !ref.Enabled || !ref.AutoWatch {
			continue
		}
		ref := ref
		g.Go(func() error {
			return watcher.New(&ref, pool, log).Run(ctx)
		})
	}

	log.Info("robomonkey daemon started",
		slog.String("socket", cfg.SocketPath),
		slog.Int("watched_repos", len(refs)))

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func serveMetrics(ctx context.Context, addr string, log *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", daemon.MetricsHandler())
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("metrics listening", slog.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
