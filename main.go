// Command hugin-ircd runs an IRCv3/TS6 server process: it loads
// configuration, wires the internal packages into a Hub, and serves
// client and server-to-server connections until signalled to stop.
package main

import (
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/brudvik/hugin-ircd/internal/config"
	"github.com/brudvik/hugin-ircd/internal/metrics"
	"github.com/brudvik/hugin-ircd/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	entry := logrus.NewEntry(log)

	args := getArgs()
	if args == nil {
		os.Exit(1)
	}

	cfg, err := config.Load(args.ConfigFile, args.Flags)
	if err != nil {
		entry.WithError(err).Fatal("failed to load configuration")
	}
	if args.ServerName != "" {
		cfg.ServerName = args.ServerName
	}
	if args.SID != "" {
		cfg.TS6SID = args.SID
	}

	registry := prometheus.NewRegistry()
	sink := metrics.NewPrometheusSink(registry, "hugin_ircd")

	if cfg.MetricsListenAddr != "" {
		go serveMetrics(entry, cfg.MetricsListenAddr, registry)
	}

	h := NewHub(cfg, entry, store.NewMemoryStore(), sink)
	if err := h.Listen(); err != nil {
		entry.WithError(err).Fatal("failed to listen")
	}

	go h.Run()
	h.ConnectLinks()

	entry.WithFields(logrus.Fields{
		"server-name": cfg.ServerName,
		"listen":      cfg.ListenHost + ":" + cfg.ListenPort,
	}).Info("hugin-ircd started")

	waitForShutdownSignal(entry)
	h.Shutdown()
	entry.Info("server shutdown cleanly")
}

func serveMetrics(log *logrus.Entry, addr string, registry *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.WithError(err).Error("metrics listener stopped")
	}
}

func waitForShutdownSignal(log *logrus.Entry) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	sig := <-sigCh
	log.WithField("signal", sig.String()).Info("shutting down")
}
