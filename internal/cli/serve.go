package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"patientchat/internal/api"
	"patientchat/internal/auth"
	"patientchat/internal/config"
	"patientchat/internal/logger"
	"patientchat/internal/messagelog"
	"patientchat/internal/realtime"
	"patientchat/internal/storage"
	"patientchat/internal/worker"
)

const shutdownTimeout = 10 * time.Second

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and realtime channel",
		Long: `Start the HTTP API and the websocket channel.

The record store is migrated on startup. SIGINT or SIGTERM stops the server
gracefully.

Example:
  patientchat serve --config ./config.yaml
  STORE_URI=mongodb://localhost:27017 patientchat serve`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, rootOpts)
		},
	}
}

func runServe(ctx context.Context, opts *RootOptions) error {
	cfg, log, err := setup(opts)
	if err != nil {
		return err
	}
	defer log.Sync()

	store, err := storage.Open(ctx, cfg, log.Named("storage"))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate store: %w", err)
	}

	engine, err := messagelog.New(cfg.BasicConfig.MessageTimeZone)
	if err != nil {
		return err
	}
	verifier, err := auth.NewVerifier(cfg.Auth.CredentialScheme, cfg.Auth.BcryptCost)
	if err != nil {
		return err
	}
	authService := auth.NewService(store, engine, verifier, log.Named("auth"))

	exec, stopExec := newExecutor(cfg, log.Named("worker"))
	defer stopExec()
	hub := realtime.NewHub(store, engine, exec, log.Named("realtime"))

	gin.SetMode(gin.ReleaseMode)
	router := api.NewRouter(api.NewHandler(authService, store, log.Named("api")), api.RouterOptions{
		CORS:         cfg.CORS,
		RealtimePath: cfg.Realtime.Path,
		Realtime:     hub.ServeWS,
	}, log.Named("http"))

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("addr", srv.Addr), zap.String("realtime_path", cfg.Realtime.Path))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server stopped: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func setup(opts *RootOptions) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	log, err := logger.New(cfg.Log.Level, cfg.Log.Format, "patientchat")
	if err != nil {
		return nil, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, log, nil
}

// newExecutor picks the record executor: a per-record single writer unless
// serialization is switched off.
func newExecutor(cfg *config.Config, log *zap.Logger) (worker.Executor, func()) {
	if !cfg.SerializeWrites() {
		log.Warn("record writes are not serialized; concurrent sends may lose updates")
		return worker.Inline{}, func() {}
	}
	mgr := worker.NewManager(worker.Config{
		QueueSize:   cfg.Realtime.QueueSize,
		IdleTimeout: time.Duration(cfg.Realtime.WorkerIdleSeconds) * time.Second,
	}, log)
	return mgr, mgr.Stop
}
