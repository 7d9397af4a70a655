// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package tcp implements the MQTT-over-TCP listener: it accepts
// connections, decodes frames with the MQTT wire codec, and drives one
// session.Processor actor per connection.
//
// # Overview
//
// Each accepted connection gets its own single-actor event loop
// (session.Processor.Run): a reader goroutine decodes frames off the
// socket and hands them to the actor, which is also the only goroutine
// that touches the connection's AMQP state.
//
// # Connection Flow
//
//  1. Client connects to server
//  2. Server accepts connection, builds a session.Processor bound to it
//  3. A reader goroutine decodes frames and feeds them to the actor
//  4. The actor runs until CONNECT fails, a frame is fatal, the socket
//     errors, or DISCONNECT is received
//  5. On anything but graceful DISCONNECT, the will is published
//  6. The AMQP connection and collector registration are torn down
//
// # Graceful Shutdown
//
// When context is canceled:
//
//  1. Server stops accepting new connections
//  2. Server waits for existing connections (with timeout)
//  3. After ShutdownTimeout, forcefully closes remaining connections
package tcp

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/eclipse/paho.mqtt.golang/packets"

	"github.com/c3pb/rabbitmq-mqtt/pkg/mqttcodec"
	"github.com/c3pb/rabbitmq-mqtt/pkg/session"
)

// ErrShutdownTimeout is returned when graceful shutdown exceeds the configured timeout.
var ErrShutdownTimeout = errors.New("shutdown timeout exceeded")

// Config holds the TCP server configuration.
type Config struct {
	// Address is the listen address (host:port)
	Address string

	// TLSConfig is optional TLS configuration for the listener
	TLSConfig *tls.Config

	// ShutdownTimeout is the maximum time to wait for active connections to drain
	// during graceful shutdown. After this timeout, remaining connections are
	// forcefully closed.
	ShutdownTimeout time.Duration

	// Logger for server events
	Logger *slog.Logger
}

// NewProcessor builds a fresh session.Processor bound to send, one per
// accepted connection.
type NewProcessor func(send func(packets.ControlPacket) error) *session.Processor

// Server accepts MQTT connections and drives one session.Processor actor per
// connection.
type Server struct {
	config       Config
	newProcessor NewProcessor
	wg           sync.WaitGroup
}

// New creates a new TCP server with the given configuration and processor factory.
func New(cfg Config, newProcessor NewProcessor) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}

	return &Server{
		config:       cfg,
		newProcessor: newProcessor,
	}
}

// Listen starts the TCP server and blocks until the context is cancelled.
// It implements graceful shutdown with connection draining.
func (s *Server) Listen(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Address, err)
	}

	if s.config.TLSConfig != nil {
		listener = tls.NewListener(listener, s.config.TLSConfig)
		s.config.Logger.Info("TLS enabled", slog.String("address", s.config.Address))
	}

	s.config.Logger.Info("MQTT TCP server started", slog.String("address", s.config.Address))

	connCtx, connCancel := context.WithCancel(context.Background())
	defer connCancel()

	acceptDone := make(chan struct{})
	go func() {
		defer close(acceptDone)
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			conn, err := listener.Accept()
			if err != nil {
				select {
				case <-ctx.Done():
					return
				default:
					s.config.Logger.Error("failed to accept connection", slog.String("error", err.Error()))
					continue
				}
			}

			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				if err := s.ServeConn(connCtx, conn); err != nil && !errors.Is(err, io.EOF) {
					s.config.Logger.Debug("connection handler error",
						slog.String("remote", conn.RemoteAddr().String()),
						slog.String("error", err.Error()))
				}
			}()
		}
	}()

	<-ctx.Done()
	s.config.Logger.Info("shutdown signal received, closing listener")

	if err := listener.Close(); err != nil {
		s.config.Logger.Error("error closing listener", slog.String("error", err.Error()))
	}

	<-acceptDone

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.config.Logger.Info("all connections closed gracefully")
		return nil
	case <-time.After(s.config.ShutdownTimeout):
		s.config.Logger.Warn("shutdown timeout exceeded, forcing connection closure")
		connCancel()
		select {
		case <-done:
			return ErrShutdownTimeout
		case <-time.After(1 * time.Second):
			return ErrShutdownTimeout
		}
	}
}

// ServeConn drives one connection's session.Processor actor to completion:
// decode frames off the socket, run them through the processor, and on
// any non-graceful exit publish the will before tearing down. Listen
// calls this for every accepted TCP connection; callers fronting MQTT
// with another transport (WebSocket) can call it directly with any
// net.Conn, which is why it is exported.
func (s *Server) ServeConn(ctx context.Context, inbound net.Conn) error {
	defer inbound.Close()

	var writeMu sync.Mutex
	send := func(pkt packets.ControlPacket) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return mqttcodec.WritePacket(inbound, pkt)
	}

	proc := s.newProcessor(send)

	peerHost, peerPort, _ := net.SplitHostPort(inbound.RemoteAddr().String())
	_, listenPort, _ := net.SplitHostPort(s.config.Address)
	proc.State.AdapterInfo.PeerHost = peerHost
	proc.State.AdapterInfo.PeerPort = peerPort
	proc.State.AdapterInfo.Port = listenPort
	proc.State.AdapterInfo.Protocol = "mqtt"

	if tlsConn, ok := inbound.(*tls.Conn); ok {
		if err := tlsConn.Handshake(); err != nil {
			return fmt.Errorf("TLS handshake failed: %w", err)
		}
		state := tlsConn.ConnectionState()
		proc.State.AdapterInfo.SSL = true
		if len(state.PeerCertificates) > 0 {
			proc.State.AdapterInfo.SSLLoginName = state.PeerCertificates[0].Subject.CommonName
		}
	}

	s.config.Logger.Debug("connection established",
		slog.String("remote", inbound.RemoteAddr().String()))

	frames := make(chan packets.ControlPacket)
	readErr := make(chan error, 1)
	go func() {
		for {
			pkt, err := mqttcodec.ReadPacket(inbound)
			if err != nil {
				readErr <- err
				return
			}
			select {
			case frames <- pkt:
			case <-ctx.Done():
				return
			}
		}
	}()

	runErr := proc.Run(ctx, frames, readErr)

	if !proc.State.Graceful {
		proc.SendWill(ctx)
	}
	proc.CloseConnection(ctx)

	s.config.Logger.Debug("connection closed",
		slog.String("client_id", proc.State.ClientID),
		slog.String("remote", inbound.RemoteAddr().String()))

	if runErr != nil && !errors.Is(runErr, io.EOF) && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}
