// Command arcade-host runs one headless netplay peer: it dials (or serves)
// the websocket relay, registers the room roster, and drives the simulation
// at the configured tick rate. Renderers and the hub UI attach elsewhere.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kokokino/talon-and-lance-sub001/pkg/config"
	"github.com/kokokino/talon-and-lance-sub001/pkg/game"
	"github.com/kokokino/talon-and-lance-sub001/pkg/metrics"
	"github.com/kokokino/talon-and-lance-sub001/pkg/peer"
	"github.com/kokokino/talon-and-lance-sub001/pkg/transport/ws"
)

var (
	peerID   = flag.String("id", "p0", "Transport peer id")
	slot     = flag.Int("slot", 0, "Local player slot")
	seed     = flag.Uint("seed", 42, "Simulation seed (host side)")
	hubURL   = flag.String("hub", "", "Relay hub to dial (ws://host:port/ws); empty serves one")
	serveHub = flag.Bool("serve-hub", false, "Serve the relay hub on ListenAddr")
	join     = flag.Bool("join", false, "Join an existing game instead of hosting one")
	roster   = flag.String("roster", "", "Comma-separated id:slot pairs for expected peers")
	logLevel = flag.String("log-level", "", "Log level override (debug, info, warn, error)")
	saveCfg  = flag.Bool("save-config", false, "Persist the effective configuration to config.toml")
)

func main() {
	flag.Parse()

	if err := config.Load(); err != nil {
		logrus.WithError(err).Fatal("failed to load configuration")
	}
	cfg := config.Get()

	if *logLevel != "" {
		// Fold the CLI override into the snapshot so Save persists it.
		cfg.LogLevel = *logLevel
		config.Set(cfg)
	}
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logrus.WithError(err).Fatal("invalid log level")
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.JSONFormatter{})

	if *saveCfg {
		if err := config.Save(); err != nil {
			logrus.WithError(err).Warn("could not persist configuration")
		}
	}

	logrus.WithFields(logrus.Fields{
		"peer":      *peerID,
		"slot":      *slot,
		"tick_rate": cfg.TickRate,
		"delay":     cfg.InputDelay,
		"window":    cfg.PredictionWindow,
	}).Info("starting arcade host")

	if cfg.MetricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
				logrus.WithError(err).Warn("metrics endpoint stopped")
			}
		}()
	}

	url := *hubURL
	if *serveHub || url == "" {
		hub := ws.NewHub()
		mux := http.NewServeMux()
		mux.Handle("/ws", hub.Handler())
		go func() {
			logrus.WithField("addr", cfg.ListenAddr).Info("serving relay hub")
			if err := http.ListenAndServe(cfg.ListenAddr, mux); err != nil {
				logrus.WithError(err).Fatal("relay hub stopped")
			}
		}()
		url = fmt.Sprintf("ws://localhost%s/ws", cfg.ListenAddr)
		// Give the listener a beat before dialing ourselves.
		time.Sleep(100 * time.Millisecond)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client, err := ws.Dial(ctx, url, *peerID)
	if err != nil {
		logrus.WithError(err).Fatal("failed to reach relay hub")
	}
	defer client.Close()

	driver := game.New(game.Config{
		Seed:             uint32(*seed),
		LocalSlot:        *slot,
		Joining:          *join,
		SnapshotCapacity: cfg.SnapshotCapacity,
		Peer: peer.Config{
			InputDelay:         int32(cfg.InputDelay),
			Window:             int32(cfg.PredictionWindow),
			DisconnectTimeout:  time.Duration(cfg.DisconnectTimeoutMs) * time.Millisecond,
			ChecksumInterval:   int32(cfg.ChecksumInterval),
			RedundantInputs:    cfg.RedundantInputs,
			StateSyncBufferCap: cfg.StateSyncBufferCap,
			StateSyncMaxSkew:   int32(cfg.StateSyncMaxFrameSkew),
		},
	}, client, client)

	for _, entry := range strings.Split(*roster, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, ":", 2)
		if len(parts) != 2 {
			logrus.WithField("entry", entry).Fatal("roster entries are id:slot")
		}
		s, err := strconv.Atoi(parts[1])
		if err != nil {
			logrus.WithField("entry", entry).Fatal("roster entries are id:slot")
		}
		driver.Plane().RegisterPeer(parts[0], s)
	}

	stop, err := config.Watch(func(old, new config.Config) {
		logrus.WithFields(logrus.Fields{
			"old_level": old.LogLevel,
			"new_level": new.LogLevel,
		}).Info("configuration reloaded")
		if l, err := logrus.ParseLevel(new.LogLevel); err == nil {
			logrus.SetLevel(l)
		}
	})
	if err != nil {
		logrus.WithError(err).Warn("config watcher unavailable")
	} else {
		defer stop()
	}

	loop := game.NewLoop(driver, cfg.TickRate, nil)
	go func() {
		if err := loop.Run(ctx); err != nil && ctx.Err() == nil {
			logrus.WithError(err).Error("tick loop stopped")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logrus.Info("shutdown signal received")
	cancel()

	logrus.WithFields(logrus.Fields{
		"frame": driver.Frame(),
		"wave":  driver.State().Wave(),
	}).Info("arcade host stopped")
}
