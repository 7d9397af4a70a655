// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package proxy

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/eclipse/paho.mqtt.golang/packets"
	"github.com/gorilla/websocket"

	"github.com/c3pb/rabbitmq-mqtt/pkg/amqp"
	"github.com/c3pb/rabbitmq-mqtt/pkg/handler"
	"github.com/c3pb/rabbitmq-mqtt/pkg/metrics"
	"github.com/c3pb/rabbitmq-mqtt/pkg/server/tcp"
	"github.com/c3pb/rabbitmq-mqtt/pkg/session"
)

// WebSocketConfig holds configuration for the MQTT-over-WebSocket bridge
// listener.
type WebSocketConfig struct {
	Host            string
	Port            string
	Path            string
	TLSConfig       *tls.Config
	ShutdownTimeout time.Duration
	Logger          *slog.Logger
	Session         session.Config
	Dialer          amqp.Dialer
	Retainer        session.Retainer
	Collector       session.Collector

	// Metrics, when non-nil, gets one WebSocketFrames increment per
	// binary frame read from or written to an upgraded connection.
	Metrics *metrics.Metrics
}

// WebSocketProxy upgrades HTTP connections to the mqtt subprotocol and
// drives the same session.Processor actor loop tcp.Server uses, over the
// upgraded socket wrapped as a net.Conn.
type WebSocketProxy struct {
	httpServer *http.Server
	tcpServer  *tcp.Server
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewWebSocket creates a new MQTT-over-WebSocket proxy.
func NewWebSocket(cfg WebSocketConfig, h handler.Handler) (*WebSocketProxy, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Path == "" {
		cfg.Path = "/mqtt"
	}

	address := fmt.Sprintf("%s:%s", cfg.Host, cfg.Port)

	newProcessor := func(send func(packets.ControlPacket) error) *session.Processor {
		return session.New(cfg.Session, cfg.Dialer, h, cfg.Retainer, cfg.Collector, cfg.Logger, send)
	}
	tcpServer := tcp.New(tcp.Config{Address: address, Logger: cfg.Logger}, newProcessor)

	p := &WebSocketProxy{
		tcpServer: tcpServer,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
	}

	upgrader := websocket.Upgrader{
		Subprotocols:    []string{"mqtt", "mqttv3.1"},
		CheckOrigin:     func(r *http.Request) bool { return true },
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
	}

	mux := http.NewServeMux()
	mux.HandleFunc(cfg.Path, func(w http.ResponseWriter, r *http.Request) {
		p.serveUpgrade(&upgrader, w, r)
	})

	p.httpServer = &http.Server{
		Addr:      address,
		Handler:   mux,
		TLSConfig: cfg.TLSConfig,
	}

	return p, nil
}

// serveUpgrade upgrades the HTTP request to a WebSocket connection and
// hands it to the shared MQTT actor loop.
func (p *WebSocketProxy) serveUpgrade(upgrader *websocket.Upgrader, w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		p.logger.Error("websocket upgrade failed",
			slog.String("remote", r.RemoteAddr), slog.String("error", err.Error()))
		return
	}
	defer ws.Close()

	conn := newWSConn(ws, p.metrics)
	ctx := r.Context()

	if err := p.tcpServer.ServeConn(ctx, conn); err != nil {
		p.logger.Debug("websocket session ended",
			slog.String("remote", r.RemoteAddr), slog.String("error", err.Error()))
	}
}

// Listen starts the WebSocket proxy server and blocks until context is cancelled.
func (p *WebSocketProxy) Listen(ctx context.Context) error {
	p.logger.Info("MQTT WebSocket server started", slog.String("address", p.httpServer.Addr))

	errCh := make(chan error, 1)
	go func() {
		if p.httpServer.TLSConfig != nil {
			errCh <- p.httpServer.ListenAndServeTLS("", "")
		} else {
			errCh <- p.httpServer.ListenAndServe()
		}
	}()

	select {
	case <-ctx.Done():
		p.logger.Info("shutdown signal received, closing WebSocket server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := p.httpServer.Shutdown(shutdownCtx); err != nil {
			p.logger.Error("error during shutdown", slog.String("error", err.Error()))
			return err
		}

		p.logger.Info("WebSocket server shutdown complete")
		return nil

	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// wsConn adapts a gorilla/websocket connection to net.Conn so the MQTT
// codec and the session actor loop can treat it like any other socket,
// each outbound MQTT frame becoming one binary WebSocket message.
type wsConn struct {
	*websocket.Conn
	metrics *metrics.Metrics
	r       io.Reader
	rio     sync.Mutex
	wio     sync.Mutex
}

func newWSConn(ws *websocket.Conn, m *metrics.Metrics) net.Conn {
	return &wsConn{Conn: ws, metrics: m}
}

func (c *wsConn) Write(p []byte) (int, error) {
	c.wio.Lock()
	defer c.wio.Unlock()
	if err := c.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	if c.metrics != nil {
		c.metrics.WebSocketFrames.WithLabelValues("binary", "outbound").Inc()
	}
	return len(p), nil
}

func (c *wsConn) Read(p []byte) (int, error) {
	c.rio.Lock()
	defer c.rio.Unlock()
	for {
		if c.r == nil {
			_, r, err := c.NextReader()
			if err != nil {
				return 0, err
			}
			c.r = r
			if c.metrics != nil {
				c.metrics.WebSocketFrames.WithLabelValues("binary", "inbound").Inc()
			}
		}
		n, err := c.r.Read(p)
		if errors.Is(err, io.EOF) {
			c.r = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		if err != nil {
			c.r = nil
			return n, err
		}
		return n, nil
	}
}

func (c *wsConn) SetDeadline(t time.Time) error {
	if err := c.SetReadDeadline(t); err != nil {
		return err
	}
	return c.SetWriteDeadline(t)
}
