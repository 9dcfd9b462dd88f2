package main

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mdean75/cmc"
	"github.com/mdean75/cmc/internal/audit"
	"github.com/mdean75/cmc/internal/config"
	"github.com/mdean75/cmc/internal/metrics"
	"github.com/mdean75/cmc/internal/server"
	"github.com/mdean75/cmc/internal/store"
)

const shutdownTimeout = 15 * time.Second

func newServeCmd() *cobra.Command {
	var imports []string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP responder",
		Long: `Run the HTTP responder.

Routes:
  POST /ca/ee/ca/profileSubmitCMCFull    full PKIResponse
  POST /ca/ee/ca/profileSubmitCMCSimple  certificates-only response
  GET  /ca/ee/ca/getCAChain              CA chain
  GET  /metrics                          Prometheus metrics
  GET  /healthz                          liveness

Examples:
  # Serve with an in-memory store seeded from issued certificates
  cmcd serve --config cmcd.yaml --import issued.pem`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg, imports)
		},
	}
	cmd.Flags().StringSliceVar(&imports, "import", nil, "PEM files of issued certificates to add to the store")
	return cmd
}

func runServe(ctx context.Context, cfg *config.Config, imports []string) error {
	logger, err := cfg.NewLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	authority, err := cfg.LoadAuthority()
	if err != nil {
		return err
	}
	protection, err := cfg.LoadProtectionKey()
	if err != nil {
		return err
	}

	backend, closeStore, err := openStore(cfg, protection, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	for _, path := range imports {
		certs, err := config.ReadCertificates(path)
		if err != nil {
			return err
		}
		for _, c := range certs {
			if err := backend.PutCertificate(ctx, c); err != nil {
				return fmt.Errorf("importing %s: %w", path, err)
			}
		}
		logger.Info("imported certificates", zap.String("file", path), zap.Int("count", len(certs)))
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg, audit.NewLogger(logger))

	opts, err := cfg.ResponderOptions()
	if err != nil {
		return err
	}
	opts = append(opts,
		cmc.WithCredentialLookup(backend),
		cmc.WithRevocationProcessor(backend),
		cmc.WithRequestTracker(backend),
		cmc.WithAuditor(m),
		cmc.WithLogger(logger),
	)
	responder, err := cmc.NewResponder(authority, backend, opts...)
	if err != nil {
		return err
	}

	srv := server.New(responder, authority, logger, m, reg).NewServer(cfg.Listen)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.Listen))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func openStore(cfg *config.Config, key *rsa.PrivateKey, logger *zap.Logger) (store.Backend, func(), error) {
	switch cfg.Store.Backend {
	case "redis":
		r, err := store.NewRedis(store.RedisConfig{
			Addr:     cfg.Store.Redis.Addr,
			Password: cfg.Store.Redis.Password,
			DB:       cfg.Store.Redis.DB,
			Prefix:   cfg.Store.Redis.Prefix,
		}, key, logger)
		if err != nil {
			return nil, nil, err
		}
		return r, func() { r.Close() }, nil
	default:
		return store.NewMemory(key, logger), func() {}, nil
	}
}
