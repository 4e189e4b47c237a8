package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tabwire/tabwire/internal/config"
	"github.com/tabwire/tabwire/internal/hub"
	"github.com/tabwire/tabwire/internal/hubapi"
	"github.com/tabwire/tabwire/internal/logx"
	"github.com/tabwire/tabwire/internal/metrics"
	"github.com/tabwire/tabwire/internal/session"
	"github.com/tabwire/tabwire/internal/wire"
)

var (
	version   = "dev"
	buildSHA  = "unknown"
	buildDate = "unknown"
)

func main() {
	var cfg config.HubConfig
	cfg.BindFlags()
	flag.Parse()
	if err := cfg.Load(); err != nil {
		logx.Log.Fatal().Err(err).Str("file", cfg.ConfigFile).Msg("config load failed")
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "hub-" + uuid.NewString()[:8]
	}

	metrics.Register(prometheus.DefaultRegisterer)
	metrics.SetBuildInfo(version, buildSHA, buildDate)

	mgr := hub.NewManager(hub.Options{
		Session: session.Options{
			ConnectTimeout: cfg.ConnectTimeout,
			RequestTimeout: cfg.RequestTimeout,
			AutoReconnect:  true,
			Handshake: wire.Handshake{
				Version:      version,
				ClientID:     cfg.ClientID,
				Capabilities: []string{"tools"},
			},
		},
		ProbeTimeout: cfg.ProbeTimeout,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if found := mgr.Discover(ctx, cfg.Candidates); len(found) > 0 {
		for _, ep := range found {
			if _, err := mgr.ConnectEndpoint(ctx, ep.URL); err != nil {
				logx.Log.Warn().Str("url", ep.URL).Err(err).Msg("initial connect failed")
			}
		}
	}

	handler := hubapi.New(mgr, cfg)
	srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Port), Handler: handler}
	go func() {
		<-ctx.Done()
		_ = srv.Shutdown(context.Background())
		mgr.DisconnectAll()
	}()

	logx.Log.Info().Int("port", cfg.Port).Str("client_id", cfg.ClientID).Msg("hub starting")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logx.Log.Fatal().Err(err).Msg("server error")
	}
}
