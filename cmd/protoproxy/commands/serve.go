package commands

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/protoproxy/dispatch/internal/logger"
	"github.com/protoproxy/dispatch/internal/telemetry"
	"github.com/protoproxy/dispatch/pkg/codec"
	"github.com/protoproxy/dispatch/pkg/config"
	"github.com/protoproxy/dispatch/pkg/dispatch"
	"github.com/protoproxy/dispatch/pkg/ioconn"
	"github.com/protoproxy/dispatch/pkg/metrics"
	dispatchmetrics "github.com/protoproxy/dispatch/pkg/metrics/dispatch"
	"github.com/protoproxy/dispatch/pkg/sysmsg"
)

var (
	listenAddr string
	serverAddr string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Accept client connections and dispatch frames through the hook pipeline",
	Long: `serve listens for incoming client TCP connections, dials the real game
server for each one, and relays frames between them through the Dispatch
Facade, running every registered hook against each frame in both directions.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&listenAddr, "listen", ":9999", "address to accept client connections on")
	serveCmd.Flags().StringVar(&serverAddr, "upstream", "", "address of the real game server to relay to (required)")
	_ = serveCmd.MarkFlagRequired("upstream")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}
	if err := InitLogger(cfg); err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	telemetryCfg := telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "protoproxy",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRate:     cfg.Telemetry.SampleRate,
	}
	telemetryShutdown, err := telemetry.Init(ctx, telemetryCfg)
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	defer func() {
		if err := telemetryShutdown(ctx); err != nil {
			logger.Error("telemetry shutdown error", logger.Err(err))
		}
	}()

	profilingCfg := telemetry.ProfilingConfig{
		Enabled:        cfg.Telemetry.Profiling.Enabled,
		ServiceName:    "protoproxy",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Profiling.Endpoint,
		ProfileTypes:   cfg.Telemetry.Profiling.ProfileTypes,
	}
	profilingShutdown, err := telemetry.InitProfiling(profilingCfg)
	if err != nil {
		return fmt.Errorf("initializing profiling: %w", err)
	}
	defer func() {
		if err := profilingShutdown(); err != nil {
			logger.Error("profiling shutdown error", logger.Err(err))
		}
	}()

	registry := codec.NewMemoryRegistry()
	for _, path := range cfg.Dispatch.BundlePaths {
		bundle, err := codec.LoadBundle(path)
		if err != nil {
			return fmt.Errorf("loading bundle %s: %w", path, err)
		}
		if err := bundle.IntoRegistry(registry); err != nil {
			return fmt.Errorf("populating registry from %s: %w", path, err)
		}
	}

	d := dispatch.NewDispatch(registry, sysmsg.NewTable())
	d.Modules = dispatch.NewModuleHost(d.Hooks, dispatch.StaticLoader{})
	d.Pipeline.WithTracer(telemetry.Tracer())

	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		metrics.InitRegistry(reg)
		d.Pipeline.WithMetrics(dispatchmetrics.New(reg))
		logger.Info("metrics enabled", "port", cfg.Metrics.Port)
	}

	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", listenAddr, err)
	}
	defer ln.Close()

	logger.Info("listening for client connections", "address", listenAddr, "upstream", serverAddr)

	go acceptLoop(ctx, ln, d)

	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}

func acceptLoop(ctx context.Context, ln net.Listener, d *dispatch.Dispatch) {
	for {
		client, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				logger.Error("accept failed", logger.Err(err))
				continue
			}
		}
		go handleConnection(ctx, client, d)
	}
}

func handleConnection(ctx context.Context, client net.Conn, d *dispatch.Dispatch) {
	defer client.Close()

	server, err := net.Dial("tcp", serverAddr)
	if err != nil {
		logger.Error("dialing upstream server failed", logger.Err(err))
		return
	}
	defer server.Close()

	go relay(ctx, server, client, d, false) // server -> client (incoming)
	relay(ctx, client, server, d, true)     // client -> server (outgoing)
}

func relay(ctx context.Context, from, to net.Conn, d *dispatch.Dispatch, outgoing bool) {
	incoming := !outgoing
	for {
		raw, err := ioconn.ReadFrame(from)
		if err != nil {
			return
		}

		out, silenced, err := d.Handle(ctx, raw, incoming)
		if err != nil {
			logger.Error("dispatch failed", logger.Err(err))
			return
		}
		if silenced {
			continue
		}
		if _, err := to.Write(out); err != nil {
			return
		}
	}
}
