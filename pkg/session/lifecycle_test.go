// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"testing"

	"github.com/eclipse/paho.mqtt.golang/packets"

	"github.com/c3pb/rabbitmq-mqtt/pkg/message"
)

func TestHandlePingreq_SendsPingresp(t *testing.T) {
	p, _, sent := newTestProcessor(t)

	if err := p.handlePingreq(context.Background()); err != nil {
		t.Fatalf("handlePingreq: %v", err)
	}
	if len(*sent) != 1 {
		t.Fatalf("expected one PINGRESP, got %d", len(*sent))
	}
	if _, ok := (*sent)[0].(*packets.PingrespPacket); !ok {
		t.Fatalf("expected PingrespPacket, got %T", (*sent)[0])
	}
}

func TestHandleDisconnect_ReturnsStop(t *testing.T) {
	p, _, _ := newTestProcessor(t)

	err := p.handleDisconnect(context.Background())
	if !IsStop(err) {
		t.Fatalf("expected stop indication, got %v", err)
	}
	if !p.State.Graceful {
		t.Fatalf("expected graceful teardown to be recorded")
	}
}

func TestSendWill_PublishesAndClosesChannels(t *testing.T) {
	p, broker, _ := newTestProcessor(t)
	p.State.WillMsg = &message.Will{Topic: "a/b", Payload: []byte("bye"), QoS: message.QoS0}

	p.SendWill(context.Background())

	if len(broker.Published) != 1 {
		t.Fatalf("expected will to be published, got %d publishes", len(broker.Published))
	}
	if p.State.Channels[0] != nil {
		t.Fatalf("expected channel[0] closed after SendWill")
	}
}

func TestSendWill_NoWillIsNoop(t *testing.T) {
	p, broker, _ := newTestProcessor(t)

	p.SendWill(context.Background())

	if len(broker.Published) != 0 {
		t.Fatalf("expected no publish, got %d", len(broker.Published))
	}
	if p.State.Channels[0] == nil {
		t.Fatalf("expected channel[0] left open with no will")
	}
}

func TestCloseConnection_UnregistersAndClosesOnce(t *testing.T) {
	p, _, _ := newTestProcessor(t)
	p.collect.Register(p.State.ClientID)

	p.CloseConnection(context.Background())
	if p.State.Connection != nil {
		t.Fatalf("expected connection cleared")
	}
	if c, ok := p.collect.(*MemCollector); ok && c.Count(p.State.ClientID) != 0 {
		t.Fatalf("expected client id unregistered")
	}

	// idempotent: calling again must not panic.
	p.CloseConnection(context.Background())
}
