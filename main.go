package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"marketmux/config"
	"marketmux/internal/cache"
	"marketmux/internal/dashboard"
	"marketmux/internal/event"
	"marketmux/internal/metrics"
	"marketmux/internal/mux"
	"marketmux/logger"

	_ "marketmux/internal/venue/binance"
	_ "marketmux/internal/venue/bybit"
	_ "marketmux/internal/venue/kucoin"
	_ "marketmux/internal/venue/okx"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service": cfg.Marketmux.Name,
		"version": cfg.Marketmux.Version,
	}).Info("starting marketmux")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if strings.ToLower(cfg.Logging.Level) == "report" {
		logger.StartReport(ctx, log, cfg.Metrics.ReportInterval)
	}

	metrics.Init(cfg.Metrics.PrometheusAddress)
	if cfg.Metrics.CloudWatch.Enabled {
		metrics.InitCloudWatch(cfg.Metrics.CloudWatch.Region, cfg.Metrics.CloudWatch.Namespace)
		metrics.StartCloudWatchPublisher(ctx, cfg.Metrics.CloudWatch.Interval)
	}

	bus := event.NewBus(log)
	store := cache.New()
	manager := mux.New(cfg, bus, store, nil)

	// Demo consumer: surface price movement at info level.
	bus.On(event.TypePriceUpdate, func(evt event.Event) {
		update, ok := evt.Payload.(event.PriceUpdate)
		if !ok {
			return
		}
		entry, _ := store.Price(update.Symbol)
		log.WithComponent("price_watch").WithFields(logger.Fields{
			"symbol":  update.Symbol,
			"price":   update.Price,
			"change":  entry.Change,
			"venue":   evt.Venue,
			"conn_id": evt.ConnID,
		}).Debug("price update")
	})
	bus.On(event.TypeParseError, func(evt event.Event) {
		log.WithComponent("parse_watch").WithFields(logger.Fields{
			"conn_id": evt.ConnID,
			"venue":   evt.Venue,
		}).Debug("parse error observed")
	})

	names := make([]string, 0, len(cfg.Venues))
	for name := range cfg.Venues {
		names = append(names, name)
	}
	sort.Strings(names)

	connected := 0
	for _, name := range names {
		if !cfg.Venues[name].Enabled {
			continue
		}
		id, err := manager.ConnectVenue(ctx, name, nil)
		if err != nil {
			log.WithFields(logger.Fields{"venue": name}).WithError(err).Error("failed to connect venue")
			continue
		}
		log.WithFields(logger.Fields{"venue": name, "conn_id": id}).Info("venue connected")
		connected++
	}
	if connected == 0 {
		log.Warn("no venues connected; check the venues section of the configuration")
	}

	go manager.RunLiveness(ctx)

	dash, err := dashboard.NewServer(cfg.Dashboard, log, manager)
	if err != nil {
		log.WithError(err).Error("failed to build dashboard")
		os.Exit(1)
	}
	if dash != nil {
		go func() {
			if err := dash.Run(ctx); err != nil {
				log.WithError(err).Warn("dashboard server exited")
			}
		}()
		log.WithFields(logger.Fields{"address": dash.Address()}).Info("dashboard started")
	}

	log.Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")

	log.Info("starting graceful shutdown")
	cancel()

	done := make(chan struct{})
	go func() {
		manager.DisconnectAll()
		close(done)
	}()

	select {
	case <-done:
		log.Info("graceful shutdown completed")
	case <-time.After(30 * time.Second):
		log.Warn("graceful shutdown timeout exceeded")
	}

	log.Info("marketmux stopped")
}
