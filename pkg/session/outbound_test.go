// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"testing"

	"github.com/eclipse/paho.mqtt.golang/packets"

	"github.com/c3pb/rabbitmq-mqtt/pkg/message"
)

func TestHandlePublish_QoS0UsesChannelZero(t *testing.T) {
	p, broker, _ := newTestProcessor(t)

	pub := packets.NewControlPacket(packets.Publish).(*packets.PublishPacket)
	pub.TopicName = "a/b"
	pub.Payload = []byte("hello")
	pub.Qos = 0

	if err := p.handlePublish(context.Background(), pub); err != nil {
		t.Fatalf("handlePublish: %v", err)
	}

	if len(broker.Published) != 1 {
		t.Fatalf("expected one publish, got %d", len(broker.Published))
	}
	got := broker.Published[0]
	if got.RoutingKey != mqtt2amqp("a/b") || string(got.Msg.Body) != "hello" {
		t.Fatalf("unexpected publish: %+v", got)
	}
	if got.Msg.DeliveryMode != 1 {
		t.Fatalf("delivery mode = %d, want 1 for qos0", got.Msg.DeliveryMode)
	}
	if p.State.Channels[1] != nil {
		t.Fatalf("qos0 publish must not open channel[1]")
	}
}

func TestHandlePublish_QoS1TracksUnacked(t *testing.T) {
	p, broker, _ := newTestProcessor(t)

	pub := packets.NewControlPacket(packets.Publish).(*packets.PublishPacket)
	pub.TopicName = "a/b"
	pub.Payload = []byte("hello")
	pub.Qos = 2 // downgraded to QoS-1
	pub.MessageID = 42

	if err := p.handlePublish(context.Background(), pub); err != nil {
		t.Fatalf("handlePublish: %v", err)
	}

	if p.State.Channels[1] == nil {
		t.Fatalf("expected channel[1] to be opened")
	}
	if len(broker.Published) != 1 || broker.Published[0].Msg.DeliveryMode != 2 {
		t.Fatalf("expected one qos1 publish with delivery_mode=2, got %+v", broker.Published)
	}
	if got := broker.Published[0].Msg.Headers["x-mqtt-publish-qos"]; got != byte(1) {
		t.Fatalf("x-mqtt-publish-qos header = %v, want 1 (downgraded)", got)
	}

	v, ok := p.State.UnackedPubs.Get(1)
	if !ok || v != 42 {
		t.Fatalf("expected unacked_pubs[1]=42, got %v ok=%v", v, ok)
	}
}

func TestHandlePublish_RetainEmptyPayloadClears(t *testing.T) {
	p, _, _ := newTestProcessor(t)
	p.State.RetainerPid.Retain("/", "a/b", message.Msg{Topic: "a/b", Payload: []byte("x")})

	pub := packets.NewControlPacket(packets.Publish).(*packets.PublishPacket)
	pub.TopicName = "a/b"
	pub.Payload = nil
	pub.Retain = true

	if err := p.handlePublish(context.Background(), pub); err != nil {
		t.Fatalf("handlePublish: %v", err)
	}

	if got := p.State.RetainerPid.Fetch("/", "a/b"); len(got) != 0 {
		t.Fatalf("expected retained message cleared, got %v", got)
	}
}
