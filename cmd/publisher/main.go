package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/LeventeLantos/social-publisher/internal/api"
	"github.com/LeventeLantos/social-publisher/internal/config"
	"github.com/LeventeLantos/social-publisher/internal/repo"
	"github.com/LeventeLantos/social-publisher/internal/scheduler"
	"github.com/LeventeLantos/social-publisher/internal/service"
)

func main() {
	_ = godotenv.Load()

	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "publisher",
		Short:        "Publish content items to connected social accounts",
		SilenceUsage: true,
	}
	root.AddCommand(serveCmd(), publishCmd(), migrateCmd())
	return root
}

func serveCmd() *cobra.Command {
	var noScheduler bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the publish scheduler",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, !noScheduler)
		},
	}
	cmd.Flags().BoolVar(&noScheduler, "no-scheduler", false, "start with the scheduler stopped")
	return cmd
}

func publishCmd() *cobra.Command {
	var republish bool
	cmd := &cobra.Command{
		Use:   "publish <content-id>",
		Short: "Publish one content item now and print the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || id <= 0 {
				return fmt.Errorf("invalid content id %q", args[0])
			}
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			a, err := buildApp(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer a.Close()

			s, err := a.publisher.Publish(cmd.Context(), id, service.PublishOptions{Republish: republish})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "content %d: %s (%d succeeded, %d failed)\n", id, s.Status, s.Succeeded, s.Failed)
			if s.Error != "" {
				fmt.Fprintln(cmd.OutOrStdout(), s.Error)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&republish, "republish", false, "also re-post targets that are already published")
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			db, err := repo.Open(cmd.Context(), cfg.Database.PostgresURL)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := repo.Migrate(db); err != nil {
				return err
			}
			log.Info("migrations applied")
			return nil
		},
	}
}

func setup() (*config.Config, *slog.Logger, error) {
	cfg, err := config.LoadAll()
	if err != nil {
		return nil, nil, err
	}
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(log)
	return cfg, log, nil
}

func serve(ctx context.Context, startScheduler bool) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	a, err := buildApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	tick := scheduler.DueContent(a.store, a.publisher, cfg.Scheduler.BatchSize, service.IsBusy, log)
	sched, err := scheduler.New(cfg.Scheduler.Interval, tick)
	if err != nil {
		return err
	}
	sched.WithLogger(log).WithObserver(a.metrics.ObserveTick)

	handler := api.NewHandler(sched, a.store, a.publisher).WithLogger(log)
	if a.posts != nil {
		handler.WithPostCache(a.posts)
	}
	srv := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           api.Router(handler, a.metrics, loggingMiddleware),
		ReadHeaderTimeout: 5 * time.Second,
	}

	log.Info("social publisher starting",
		"addr", cfg.Server.Address,
		"interval", cfg.Scheduler.Interval.String(),
		"batch", cfg.Scheduler.BatchSize,
		"concurrency", cfg.Publish.Concurrency,
		"redis", cfg.Redis.Enabled,
		"amqp", cfg.AMQP.Enabled,
		"platforms", a.platforms,
	)

	if startScheduler {
		sched.Start()
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			sched.Stop()
			return fmt.Errorf("http server: %w", err)
		}
	}

	log.Info("shutting down")
	sched.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		slog.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}
