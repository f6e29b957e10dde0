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

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"assetdesk.org/internal/auth"
	"assetdesk.org/internal/config"
	"assetdesk.org/internal/events"
	"assetdesk.org/internal/grpcapi"
	"assetdesk.org/internal/httpapi"
	"assetdesk.org/internal/inventory"
	"assetdesk.org/internal/obs"
	"assetdesk.org/internal/store/mongostore"
	"assetdesk.org/internal/store/pg"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		obs.Logger().Warn("dotenv", zap.Error(err))
	}
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		obs.Logger().Error("assetdesk-api exited", zap.Error(err))
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := config.NewViper()
	cmd := &cobra.Command{
		Use:           "assetdesk-api",
		Short:         "HR asset management API",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Load(v)
			if err := cfg.Validate(); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}
	config.BindOptions(v, cmd, config.ServerOptions())
	return cmd
}

// closer releases a store handle.
type closer func(context.Context) error

func openStore(ctx context.Context, cfg config.Config) (inventory.Store, closer, error) {
	switch cfg.Store {
	case config.StorePostgres:
		st, err := pg.Open(cfg.PGDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		return st, func(context.Context) error { return st.Close() }, nil
	case config.StoreMongo:
		st, err := mongostore.Open(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, nil, fmt.Errorf("open mongo: %w", err)
		}
		return st, st.Close, nil
	default:
		return inventory.NewMemory(), func(context.Context) error { return nil }, nil
	}
}

func run(ctx context.Context, cfg config.Config) (err error) {
	log := obs.Logger()
	if err := obs.SetLevel(cfg.LogLevel); err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	obs.Init()
	obs.InitBuildInfo(version, commit)

	tokens, err := auth.NewTokens(cfg.AuthSecret)
	if err != nil {
		return err
	}

	proxies := make([]*net.IPNet, 0, len(cfg.TrustedProxies))
	for _, p := range cfg.TrustedProxies {
		block, err := config.ParseProxy(p)
		if err != nil {
			return err
		}
		proxies = append(proxies, block)
	}

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}

	broker := events.NewBroker(64)
	svc := inventory.NewService(store, inventory.WithPublisher(broker))
	api := httpapi.New(svc, tokens,
		httpapi.WithVersion(version),
		httpapi.WithBroker(broker),
		httpapi.WithRateLimit(cfg.RateBurst, cfg.RatePerSec),
		httpapi.WithMaxBodyBytes(cfg.MaxBodyBytes),
		httpapi.WithCORSOrigins(cfg.CORSOrigins),
		httpapi.WithTrustedProxies(proxies),
	)
	srv := api.Server(cfg.HTTPAddr)

	serveErr := make(chan error, 2)
	go func() {
		log.Info("http listening", zap.String("addr", srv.Addr), zap.String("store", cfg.Store), zap.String("version", version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- fmt.Errorf("http: %w", err)
		}
	}()

	var health *grpcapi.Server
	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			_ = srv.Close()
			return multierr.Append(fmt.Errorf("grpc listen: %w", err), closeStore(context.Background()))
		}
		health = grpcapi.New(svc)
		go health.Monitor(ctx)
		go func() {
			log.Info("grpc health listening", zap.String("addr", cfg.GRPCAddr))
			if err := health.Serve(lis); err != nil {
				serveErr <- fmt.Errorf("grpc: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err = <-serveErr:
		log.Error("server failed", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if health != nil {
		health.Stop(shutdownCtx)
	}
	err = multierr.Combine(err, srv.Shutdown(shutdownCtx), closeStore(shutdownCtx))
	log.Info("stopped")
	_ = log.Sync()
	return err
}
