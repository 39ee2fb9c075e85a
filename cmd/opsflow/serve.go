package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/Veraticus/opsflow/internal/certs"
	"github.com/Veraticus/opsflow/internal/config"
	"github.com/Veraticus/opsflow/internal/telemetry"
)

const (
	redriveBatch    = 100
	shutdownTimeout = 10 * time.Second
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the pending-event re-drive loop",
		RunE:  runServe,
	}

	cmd.Flags().String("addr", "", "listen address (overrides server.addr)")
	_ = viper.BindPFlag("server.addr", cmd.Flags().Lookup("addr"))

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	a, cfg, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	shutdownTracing, err := telemetry.Init(cfg.Telemetry, version)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			slog.Warn("Failed to flush traces", "error", err)
		}
	}()

	if viper.GetString("logging.level") != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           a.Handler(version),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if srv.TLSConfig, err = tlsConfig(cfg.Server.TLS); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("HTTP server listening", "addr", cfg.Server.Addr, "tls", cfg.Server.TLS.Mode, "version", version)
		var err error
		if srv.TLSConfig != nil {
			err = srv.ListenAndServeTLS("", "")
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return a.Redrive(gctx, cfg.Pipeline.RedriveInterval, redriveBatch)
	})

	return g.Wait()
}

// tlsConfig returns nil when TLS is off.
func tlsConfig(cfg config.TLSConfig) (*tls.Config, error) {
	switch cfg.Mode {
	case config.TLSSelfSigned:
		cert, err := certs.NewSelfSigned(cfg.CertDir, cfg.Hosts...).Certificate()
		if err != nil {
			return nil, fmt.Errorf("failed to prepare self-signed certificate: %w", err)
		}
		return certs.ServerConfig(cert), nil
	case config.TLSFiles:
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load TLS key pair: %w", err)
		}
		return certs.ServerConfig(cert), nil
	default:
		return nil, nil
	}
}
