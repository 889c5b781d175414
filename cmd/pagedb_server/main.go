package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/sushant-115/pagedb/api/debug"
	kvservice "github.com/sushant-115/pagedb/api/kv_service"
	"github.com/sushant-115/pagedb/api/resp"
	"github.com/sushant-115/pagedb/config/certs"
	"github.com/sushant-115/pagedb/core/indexmanager"
	"github.com/sushant-115/pagedb/internal/config"
	"github.com/sushant-115/pagedb/pkg/logger"
	"github.com/sushant-115/pagedb/pkg/telemetry"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
)

var (
	configPath = flag.String("config", "", "Path to a YAML config file (optional)")
	genCerts   = flag.String("gen-certs", "", "Write a development CA and server/client certificates to this directory and exit")
)

func main() {
	flag.Parse()

	if *genCerts != "" {
		if err := certs.Generate(*genCerts, 365*24*time.Hour); err != nil {
			fmt.Fprintf(os.Stderr, "failed to generate certificates: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("certificates written to %s\n", *genCerts)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	zlogger, err := logger.New(cfg.Logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer zlogger.Sync()

	if err := run(cfg, zlogger); err != nil {
		zlogger.Fatal("Server exited with error", zap.Error(err))
	}
}

func run(cfg *config.Config, zlogger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tel, shutdownTelemetry, err := telemetry.New(cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("failed to initialise telemetry: %w", err)
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			zlogger.Warn("Telemetry shutdown failed", zap.Error(err))
		}
	}()

	store, err := indexmanager.Open(indexmanager.Options{
		DataDir:           cfg.DataDir,
		PageFile:          cfg.PageFile,
		WALFile:           cfg.WALFile,
		MaxKeysPerNode:    cfg.MaxKeysPerNode,
		BackupBytesPerSec: cfg.BackupBytesPerSec,
	}, tel, zlogger)
	if err != nil {
		return fmt.Errorf("failed to open storage engine: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			zlogger.Error("Failed to close store", zap.Error(err))
		}
	}()

	meta := store.Metadata()
	zlogger.Info("Storage engine ready",
		zap.String("data_dir", cfg.DataDir),
		zap.Uint32("root_page_id", uint32(meta.RootPageID)),
		zap.Uint32("height", meta.Height),
		zap.Uint32("keys", meta.KeyCount),
	)

	var (
		wg   sync.WaitGroup
		errs = make(chan error, 3)
	)
	serve := func(name, addr string, fn func(context.Context, net.Listener) error) error {
		if addr == "" {
			zlogger.Info("Surface disabled", zap.String("surface", name))
			return nil
		}
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("failed to listen for %s on %s: %w", name, addr, err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx, ln); err != nil {
				errs <- fmt.Errorf("%s server: %w", name, err)
			}
		}()
		return nil
	}

	respServer := resp.NewServer(resp.NewHandler(store, zlogger), resp.ServerOptions{
		CommandsPerSecond: cfg.RESP.CommandsPerSecond,
		Burst:             cfg.RESP.Burst,
	}, zlogger)
	debugServer := debug.NewServer(store, tel.MetricsHandler(), zlogger)
	kv := kvservice.NewService(store, zlogger)
	var grpcOpts []grpc.ServerOption
	if tlsCfg := cfg.GRPC.TLS; tlsCfg.Enabled() {
		serverTLS, err := certs.LoadServerTLSConfig(tlsCfg.CAFile, tlsCfg.CertFile, tlsCfg.KeyFile)
		if err != nil {
			return fmt.Errorf("failed to load gRPC TLS config: %w", err)
		}
		grpcOpts = append(grpcOpts, grpc.Creds(credentials.NewTLS(serverTLS)))
		zlogger.Info("gRPC TLS enabled", zap.Bool("mutual", tlsCfg.CAFile != ""))
	}

	if err := serve("resp", cfg.RESP.Addr, respServer.Serve); err != nil {
		stop()
		wg.Wait()
		return err
	}
	if err := serve("debug", cfg.Debug.Addr, debugServer.Serve); err != nil {
		stop()
		wg.Wait()
		return err
	}
	if err := serve("grpc", cfg.GRPC.Addr, func(ctx context.Context, ln net.Listener) error {
		return kvservice.Serve(ctx, ln, kv, zlogger, grpcOpts...)
	}); err != nil {
		stop()
		wg.Wait()
		return err
	}

	var runErr error
	select {
	case <-ctx.Done():
		zlogger.Info("Shutdown signal received")
	case runErr = <-errs:
		zlogger.Error("Surface failed, shutting down", zap.Error(runErr))
		stop()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		zlogger.Warn("Timed out waiting for servers to stop")
	}
	zlogger.Info("Servers stopped, closing store")
	return runErr
}
