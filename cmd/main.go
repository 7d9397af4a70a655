// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/c3pb/rabbitmq-mqtt/examples/simple"
	"github.com/c3pb/rabbitmq-mqtt/pkg/amqp"
	"github.com/c3pb/rabbitmq-mqtt/pkg/config"
	"github.com/c3pb/rabbitmq-mqtt/pkg/proxy"
	"github.com/c3pb/rabbitmq-mqtt/pkg/session"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)

	logHandler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})
	logger := slog.New(logHandler)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	handler := simple.New(logger)
	dialer := amqp.NewDirectDialer(brokerAddr(cfg.AMQPURL), nil, nil)

	sessionCfg := session.Config{
		Exchange:               cfg.Exchange,
		DefaultVhost:           cfg.DefaultVhost,
		DefaultUser:            cfg.DefaultUser,
		DefaultPass:            cfg.DefaultPass,
		AllowAnonymous:         cfg.AllowAnonymous,
		SSLCertLogin:           cfg.SSLCertLogin,
		IgnoreColonsInUsername: cfg.IgnoreColonsInUsername,
		Prefetch:               cfg.Prefetch,
		SubscriptionTTLMs:      cfg.SubscriptionTTLMs,
		HasSubscriptionTTL:     cfg.SubscriptionTTLMs != 0,
		CertToVhost:            cfg.CertToVhost,
		PortToVhost:            cfg.PortToVhost,
		KnownVhosts:            cfg.KnownVhostSet(),
	}

	if err := startMQTT(g, ctx, cfg, sessionCfg, dialer, handler, logger); err != nil {
		logger.Warn("MQTT listener not started", slog.String("error", err.Error()))
	}

	if err := startMQTTWebSocket(g, ctx, cfg, sessionCfg, dialer, handler, logger); err != nil {
		logger.Warn("MQTT WebSocket listener not started", slog.String("error", err.Error()))
	}

	g.Go(func() error {
		return stopSignalHandler(ctx, cancel, logger)
	})

	if err := g.Wait(); err != nil {
		logger.Error(fmt.Sprintf("bridge terminated with error: %s", err))
	} else {
		logger.Info("bridge stopped")
	}
}

func startMQTT(g *errgroup.Group, ctx context.Context, cfg config.Config, sessionCfg session.Config, dialer amqp.Dialer, h *simple.Handler, logger *slog.Logger) error {
	if cfg.MQTTAddress == "" {
		return fmt.Errorf("MQTT_ADDRESS not configured")
	}

	mqttCfg := proxy.MQTTConfig{
		Host:            "",
		Port:            trimLeadingColon(cfg.MQTTAddress),
		TLSConfig:       tlsConfigFrom(cfg),
		ShutdownTimeout: 30 * time.Second,
		Logger:          logger,
		Session:         sessionCfg,
		Dialer:          dialer,
	}

	mqttProxy, err := proxy.NewMQTT(mqttCfg, h)
	if err != nil {
		return err
	}

	g.Go(func() error {
		return mqttProxy.Listen(ctx)
	})

	logger.Info("MQTT listener started", slog.String("address", cfg.MQTTAddress))
	return nil
}

func startMQTTWebSocket(g *errgroup.Group, ctx context.Context, cfg config.Config, sessionCfg session.Config, dialer amqp.Dialer, h *simple.Handler, logger *slog.Logger) error {
	if cfg.WSAddress == "" {
		return fmt.Errorf("MQTT_WS_ADDRESS not configured")
	}

	wsCfg := proxy.WebSocketConfig{
		Host:            "",
		Port:            trimLeadingColon(cfg.WSAddress),
		TLSConfig:       tlsConfigFrom(cfg),
		ShutdownTimeout: 30 * time.Second,
		Logger:          logger,
		Session:         sessionCfg,
		Dialer:          dialer,
	}

	wsProxy, err := proxy.NewWebSocket(wsCfg, h)
	if err != nil {
		return err
	}

	g.Go(func() error {
		return wsProxy.Listen(ctx)
	})

	logger.Info("MQTT WebSocket listener started", slog.String("address", cfg.WSAddress))
	return nil
}

func tlsConfigFrom(cfg config.Config) *tls.Config {
	if cfg.TLSCertFile == "" || cfg.TLSKeyFile == "" {
		return nil
	}
	cert, err := tls.LoadX509KeyPair(cfg.TLSCertFile, cfg.TLSKeyFile)
	if err != nil {
		return nil
	}
	return &tls.Config{Certificates: []tls.Certificate{cert}}
}

func trimLeadingColon(addr string) string {
	if len(addr) > 0 && addr[0] == ':' {
		return addr[1:]
	}
	return addr
}

func brokerAddr(amqpURL string) string {
	addr, err := config.BrokerHostPort(amqpURL)
	if err != nil {
		return "localhost:5672"
	}
	return addr
}

func stopSignalHandler(ctx context.Context, cancel context.CancelFunc, logger *slog.Logger) error {
	c := make(chan os.Signal, 2)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-c:
		logger.Info("received shutdown signal")
		cancel()
		return nil
	case <-ctx.Done():
		return nil
	}
}
