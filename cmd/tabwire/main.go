package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tabwire/tabwire/internal/bridge"
	"github.com/tabwire/tabwire/internal/config"
	"github.com/tabwire/tabwire/internal/httpapi"
	"github.com/tabwire/tabwire/internal/logx"
	"github.com/tabwire/tabwire/internal/metrics"
)

var (
	version   = "dev"
	buildSHA  = "unknown"
	buildDate = "unknown"
)

func main() {
	var cfg config.BridgeConfig
	cfg.BindFlags()
	flag.Parse()
	if err := cfg.Load(); err != nil {
		logx.Log.Fatal().Err(err).Str("file", cfg.ConfigFile).Msg("config load failed")
	}

	metrics.Register(prometheus.DefaultRegisterer)
	metrics.SetBuildInfo(version, buildSHA, buildDate)

	router := bridge.NewRouter(cfg.CommandTimeout, cfg.ScreenshotDir)
	handler := httpapi.New(router, cfg, version)
	srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Port), Handler: handler}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		_ = srv.Shutdown(context.Background())
	}()

	if cfg.AgentKey != "" {
		logx.Log.Info().Msg("agent key required")
	}
	logx.Log.Info().Int("port", cfg.Port).Str("agent_ws", cfg.AgentWSPath).Str("peer_ws", cfg.PeerWSPath).Msg("bridge starting")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logx.Log.Fatal().Err(err).Msg("server error")
	}
}
