// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package proxy

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"time"

	"github.com/eclipse/paho.mqtt.golang/packets"

	"github.com/c3pb/rabbitmq-mqtt/pkg/amqp"
	"github.com/c3pb/rabbitmq-mqtt/pkg/handler"
	"github.com/c3pb/rabbitmq-mqtt/pkg/server/tcp"
	"github.com/c3pb/rabbitmq-mqtt/pkg/session"
)

// MQTTConfig holds configuration for the MQTT-to-AMQP bridge listener.
type MQTTConfig struct {
	Host            string
	Port            string
	TLSConfig       *tls.Config
	ShutdownTimeout time.Duration
	Logger          *slog.Logger
	Session         session.Config
	Dialer          amqp.Dialer
	Retainer        session.Retainer
	Collector       session.Collector
}

// MQTTProxy coordinates the MQTT TCP listener and the per-connection
// session actors it drives.
type MQTTProxy struct {
	server *tcp.Server
}

// NewMQTT creates an MQTT-to-AMQP bridge listener: every accepted
// connection gets its own session.Processor built from cfg.Session and
// cfg.Dialer, authorized through h.
func NewMQTT(cfg MQTTConfig, h handler.Handler) (*MQTTProxy, error) {
	address := fmt.Sprintf("%s:%s", cfg.Host, cfg.Port)

	serverCfg := tcp.Config{
		Address:         address,
		TLSConfig:       cfg.TLSConfig,
		ShutdownTimeout: cfg.ShutdownTimeout,
		Logger:          cfg.Logger,
	}

	newProcessor := func(send func(packets.ControlPacket) error) *session.Processor {
		return session.New(cfg.Session, cfg.Dialer, h, cfg.Retainer, cfg.Collector, cfg.Logger, send)
	}

	return &MQTTProxy{
		server: tcp.New(serverCfg, newProcessor),
	}, nil
}

// Listen starts the MQTT proxy server and blocks until context is cancelled.
func (p *MQTTProxy) Listen(ctx context.Context) error {
	return p.server.Listen(ctx)
}
