package main

import (
	"context"
	"errors"
	"flag"
	"io/fs"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/lumpenputzer/dyndns-forwarding-server/config"
	"github.com/lumpenputzer/dyndns-forwarding-server/config/configtypes"
	"github.com/lumpenputzer/dyndns-forwarding-server/pkg/log"
	"github.com/lumpenputzer/dyndns-forwarding-server/relay"
	"github.com/lumpenputzer/dyndns-forwarding-server/server"
)

var (
	configFileName = flag.String("config-file", "config.lua", "Path to configuration file (default: config.lua)")
	requestTimeout = flag.Duration("request-timeout", 30*time.Second, "Timeout for each outbound provider request (default: 30s)")
	dryRun         = flag.Bool("dry-run", false, "When enabled, logs which targets would be updated rather than actually updating them (default: disabled)")
)

func main() {
	logger := log.MustNewLogger().Named("main")
	defer func() {
		if err := logger.Sync(); err != nil {
			var perr *fs.PathError
			if !errors.As(err, &perr) {
				panic(err)
			}
		}
	}()
	logger.Info("Starting dyndns-forwarding-server v" + VERSION)

	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	go handleSigterm(cancel, logger)

	if *dryRun {
		ctx = context.WithValue(ctx, configtypes.DryRunContextKey, true)
	}

	// One shared outbound client for every pass; its timeout bounds each
	// provider call since providers can stall after the daily reconnect.
	client := &http.Client{Timeout: *requestTimeout}

	c, err := config.NewLuaConfig(*configFileName, client)
	if err != nil {
		logger.Sugar().Panicf("could not create new configuration: %v", err)
	}
	err = c.Parse()
	if err != nil {
		logger.Sugar().Panicf("could not parse configuration: %v", err)
	}
	serverCfg, err := c.Server()
	if err != nil {
		logger.Sugar().Panicf("could not get server settings from configuration: %v", err)
	}
	targets, err := c.Targets()
	if err != nil {
		logger.Sugar().Panicf("could not get targets from configuration: %v", err)
	}

	rel := &relay.Relay{
		Targets: targets,
		Client:  client,
		Logger:  logger.Named("relay"),
	}

	mux := http.NewServeMux()
	server.New(rel, serverCfg, logger.Named("server")).Register(mux)
	mux.Handle("/metrics", promhttp.Handler())

	httpServer := &http.Server{
		Addr:    serverCfg.Bind,
		Handler: mux,
		// Request contexts derive from ctx so they carry the dry-run value
		// and are canceled on shutdown.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	go func() {
		logger.Sugar().Infof("listening on %s", serverCfg.Bind)
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Sugar().Panicf("could not serve: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Sugar().Errorw("error shutting down server", "err", err)
	}
}

func handleSigterm(cancel func(), logger *zap.Logger) {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGTERM, syscall.SIGINT)
	<-signals
	logger.Info("Received termination signal. Terminating...")
	cancel()
}
