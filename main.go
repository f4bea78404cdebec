package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"i4.energy/across/bgs2/modem"
	"i4.energy/across/bgs2/store"
)

func main() {
	flag.String("serial-port", "/dev/ttyUSB0", "Serial port to connect to the modem")
	flag.Int("baud-rate", 115200, "Baud rate for serial communication")
	flag.String("bind-address", "0.0.0.0:8080", "Bind address for the HTTP server")
	flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	flag.String("sim-pin", "", "SIM card PIN code (if required)")
	flag.String("database", "bgs2d.db", "SQLite file the event journal is kept in")
	flag.String("mqtt-broker", "", "MQTT broker URL, publishing is off when empty")
	flag.String("mqtt-topic", "bgs2", "MQTT topic prefix")
	flag.Parse()

	config, err := LoadConfig(WithDefaults(), WithEnv(), WithFlags(flag.CommandLine))
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: config.Level()}))

	if err := run(config, logger); err != nil {
		logger.Error("bgs2d stopped", "error", err)
		os.Exit(1)
	}
}

func run(config *Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	modemConfig, err := modem.NewConfigBuilder().
		WithLogger(logger.With("component", "modem")).
		WithSimPIN(config.SimPIN).
		WithDialer(modem.SerialDialer{
			PortName: config.SerialPort,
			BaudRate: config.BaudRate,
		}).
		Build()
	if err != nil {
		return err
	}

	m, err := modem.New(ctx, modemConfig)
	if err != nil {
		return err
	}
	defer func() {
		logger.Info("Closing modem connection")
		if err := m.Close(); err != nil && !errors.Is(err, modem.ErrAlreadyClosed) {
			logger.Error("Failed to close modem", "error", err)
		}
	}()

	if err := m.Start(ctx); err != nil {
		return err
	}

	journal, err := store.Open(config.DatabasePath)
	if err != nil {
		return err
	}
	defer journal.Close()

	outbox := NewOutbox(m, logger.With("component", "outbox"), config.RatePerMin, config.MaxRetries)

	gateway := &Gateway{
		Logger:  logger.With("component", "gateway"),
		Journal: journal,
		Topic:   config.MQTTTopic,
	}
	if config.MQTTBroker != "" {
		bridge, err := ConnectMQTT(config, logger.With("component", "mqtt"), outbox)
		if err != nil {
			return err
		}
		defer bridge.Close()
		gateway.Publisher = bridge
		logger.Info("MQTT publishing enabled", "broker", config.MQTTBroker, "topic", config.MQTTTopic)
	}

	httpServer := &http.Server{
		Addr: config.BindAddress,
		Handler: &Server{
			Logger:  logger.With("component", "server"),
			Modem:   m,
			Journal: journal,
			Outbox:  outbox,
		},
	}

	logger.Info("Starting bgs2d", "serial_port", config.SerialPort, "database", config.DatabasePath)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return outbox.Run(gctx) })
	g.Go(func() error { return gateway.Run(gctx, m.Events()) })
	g.Go(func() error {
		// the modem stops on its own when the line drops
		if err := m.Wait(); err != nil && gctx.Err() == nil {
			return err
		}
		return nil
	})
	g.Go(func() error {
		logger.Info("Starting HTTP server", "address", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("Failed to gracefully shutdown server", "error", err)
		}
		// unblocks Wait
		if err := m.Close(); err != nil && !errors.Is(err, modem.ErrAlreadyClosed) {
			return err
		}
		return nil
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
