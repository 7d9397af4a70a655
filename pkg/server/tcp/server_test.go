// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package tcp

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/eclipse/paho.mqtt.golang/packets"

	"github.com/c3pb/rabbitmq-mqtt/pkg/amqptest"
	"github.com/c3pb/rabbitmq-mqtt/pkg/handler"
	"github.com/c3pb/rabbitmq-mqtt/pkg/session"
)

func TestServer_ConnectRoundTrip(t *testing.T) {
	broker := amqptest.NewBroker()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	listener.Close()
	addr := listener.Addr().String()

	cfg := Config{Address: addr, ShutdownTimeout: time.Second}
	srv := New(cfg, func(send func(packets.ControlPacket) error) *session.Processor {
		return session.New(session.Config{Exchange: "amq.topic", Prefetch: 10, AllowAnonymous: true, DefaultUser: "guest", DefaultPass: "guest"}, broker.Dialer(), &handler.NoopHandler{}, nil, nil, nil, send)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serverErr := make(chan error, 1)
	go func() { serverErr <- srv.Listen(ctx) }()
	time.Sleep(50 * time.Millisecond)

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	connect := packets.NewControlPacket(packets.Connect).(*packets.ConnectPacket)
	connect.ClientIdentifier = "test-client"
	connect.ProtocolName = "MQTT"
	connect.ProtocolVersion = 4
	connect.CleanSession = true
	if err := connect.Write(conn); err != nil {
		t.Fatalf("write connect: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	resp, err := packets.ReadPacket(conn)
	if err != nil {
		t.Fatalf("read connack: %v", err)
	}
	connack, ok := resp.(*packets.ConnackPacket)
	if !ok {
		t.Fatalf("expected CONNACK, got %T", resp)
	}
	if connack.ReturnCode != 0 {
		t.Fatalf("expected accepted, got return code %d", connack.ReturnCode)
	}

	cancel()
	select {
	case <-serverErr:
	case <-time.After(2 * time.Second):
		t.Fatalf("server did not shut down")
	}
}

func TestNew_DefaultConfig(t *testing.T) {
	srv := New(Config{Address: "localhost:0"}, func(send func(packets.ControlPacket) error) *session.Processor {
		return session.New(session.Config{}, nil, &handler.NoopHandler{}, nil, nil, nil, send)
	})

	if srv.config.Logger == nil {
		t.Fatal("expected default logger to be set")
	}
	if srv.config.ShutdownTimeout == 0 {
		t.Fatal("expected default shutdown timeout to be set")
	}
}

func TestServer_InvalidAddress(t *testing.T) {
	srv := New(Config{Address: "invalid:address:99999"}, func(send func(packets.ControlPacket) error) *session.Processor {
		return session.New(session.Config{}, nil, &handler.NoopHandler{}, nil, nil, nil, send)
	})

	if err := srv.Listen(context.Background()); err == nil {
		t.Fatal("expected error for invalid address")
	}
}
