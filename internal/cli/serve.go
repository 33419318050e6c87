package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/starlane-games/starlane-server/internal/api"
	"github.com/starlane-games/starlane-server/internal/config"
	"github.com/starlane-games/starlane-server/internal/dependencies/clock"
	"github.com/starlane-games/starlane-server/internal/dependencies/random"
	"github.com/starlane-games/starlane-server/internal/server"
	"github.com/starlane-games/starlane-server/internal/services/aiproc"
	"github.com/starlane-games/starlane-server/internal/sim"
	"github.com/starlane-games/starlane-server/internal/storage"
	"github.com/starlane-games/starlane-server/internal/storage/memory"
	redisstorage "github.com/starlane-games/starlane-server/internal/storage/redis"
)

func newServeCmd() *cobra.Command {
	var (
		listenAddr    string
		discoveryAddr string
		statusAddr    string
		hostless      bool
		loopbackOnly  bool
		verbose       bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the game server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromEnv()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("listen") {
				cfg.ListenAddr = listenAddr
			}
			if cmd.Flags().Changed("discovery") {
				cfg.DiscoveryAddr = discoveryAddr
			}
			if cmd.Flags().Changed("status") {
				cfg.StatusAddr = statusAddr
			}
			if cmd.Flags().Changed("hostless") {
				cfg.Hostless = hostless
			}
			if cmd.Flags().Changed("loopback-only") {
				cfg.LoopbackOnly = loopbackOnly
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			level := slog.LevelInfo
			if verbose {
				level = slog.LevelDebug
			}
			logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
				Level: level,
			}))
			slog.SetDefault(logger)

			return runServer(cmd.Context(), cfg, logger)
		},
	}

	cmd.Flags().StringVar(&listenAddr, "listen", "", "TCP listen address (env: STARLANE_LISTEN_ADDR)")
	cmd.Flags().StringVar(&discoveryAddr, "discovery", "", "UDP discovery address (env: STARLANE_DISCOVERY_ADDR)")
	cmd.Flags().StringVar(&statusAddr, "status", "", "Status API address, empty disables (env: STARLANE_STATUS_ADDR)")
	cmd.Flags().BoolVar(&hostless, "hostless", false, "Run without a privileged host (env: STARLANE_HOSTLESS)")
	cmd.Flags().BoolVar(&loopbackOnly, "loopback-only", false, "Accept loopback connections only (env: STARLANE_LOOPBACK_ONLY)")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Debug logging")

	return cmd
}

func runServer(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	store, err := newStorage(cfg)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("storage close failed", slog.String("error", err.Error()))
		}
	}()

	srv := server.New(server.Deps{
		Config:   cfg,
		Logger:   logger,
		Clock:    clock.New(),
		Random:   random.New(),
		Storage:  store,
		Engine:   sim.NewStub(),
		Launcher: &aiproc.ExecLauncher{ClientPath: cfg.AIClientPath},
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		select {
		case <-sigCh:
			logger.Info("shutdown signal received")
			cancel()
		case <-ctx.Done():
		}
	}()

	var statusSrv *api.Server
	if cfg.StatusAddr != "" {
		router := api.NewRouter(api.RouterConfig{
			Logger:     logger,
			StatusFunc: srv.CurrentStatus,
			Storage:    store,
		})
		statusSrv = api.NewServer(router, api.DefaultServerConfig(cfg.StatusAddr), logger)
		go func() {
			if err := statusSrv.Start(); err != nil {
				logger.Error("status server failed", slog.String("error", err.Error()))
			}
		}()
	}

	err = srv.Run(ctx)

	if statusSrv != nil {
		if shutdownErr := statusSrv.Shutdown(context.Background()); shutdownErr != nil {
			logger.Warn("status server shutdown failed", slog.String("error", shutdownErr.Error()))
		}
	}
	return err
}

func newStorage(cfg config.Config) (storage.Storage, error) {
	switch cfg.StorageType {
	case config.StorageRedis:
		redisCfg := redisstorage.DefaultConfig()
		redisCfg.URL = cfg.RedisURL
		redisCfg.CookieTTL = cfg.CookieExpiry * 2
		return redisstorage.New(redisCfg)
	default:
		return memory.New(), nil
	}
}
