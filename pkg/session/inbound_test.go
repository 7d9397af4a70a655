// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"testing"

	"github.com/eclipse/paho.mqtt.golang/packets"

	"github.com/c3pb/rabbitmq-mqtt/pkg/amqp"
)

func TestHandleDelivery_QoS0Consumer(t *testing.T) {
	p, _, sent := newTestProcessor(t)
	p.State.ConsumerTags[0] = "tag-qos0"

	d := amqp.NewDelivery("tag-qos0", 1, mqtt2amqp("a/b"), false, nil, []byte("hi"), nil)
	if err := p.HandleDelivery(context.Background(), d); err != nil {
		t.Fatalf("HandleDelivery: %v", err)
	}

	if len(*sent) != 1 {
		t.Fatalf("expected one PUBLISH, got %d", len(*sent))
	}
	pub := (*sent)[0].(*packets.PublishPacket)
	if pub.Qos != 0 || pub.MessageID != 0 || pub.TopicName != "a/b" {
		t.Fatalf("unexpected publish: %+v", pub)
	}
}

func TestHandleDelivery_QoS1ConsumerTracksAwaitingAck(t *testing.T) {
	p, _, sent := newTestProcessor(t)
	p.State.ConsumerTags[0] = "tag-qos0"
	p.State.ConsumerTags[1] = "tag-qos1"
	p.State.MessageID = 7

	acked := false
	d := amqp.NewDelivery("tag-qos1", 99, mqtt2amqp("a/b"), false, amqp.Table{"x-mqtt-publish-qos": byte(1)}, []byte("hi"), func(multiple bool) error {
		acked = true
		return nil
	})
	if err := p.HandleDelivery(context.Background(), d); err != nil {
		t.Fatalf("HandleDelivery: %v", err)
	}

	pub := (*sent)[0].(*packets.PublishPacket)
	if pub.Qos != 1 || pub.MessageID != 7 {
		t.Fatalf("unexpected publish: %+v", pub)
	}
	if acked {
		t.Fatalf("qos1/qos1 delivery must not be acked until client PUBACK arrives")
	}
	tag, ok := p.State.AwaitingAck.Get(7)
	if !ok || tag != 99 {
		t.Fatalf("expected awaiting_ack[7]=99, got %v ok=%v", tag, ok)
	}
	if p.State.MessageID != 8 {
		t.Fatalf("message id should advance to 8, got %d", p.State.MessageID)
	}
}

func TestHandleDelivery_DuplicateQoS0Sub1ShortCircuits(t *testing.T) {
	p, _, sent := newTestProcessor(t)
	p.State.ConsumerTags[0] = "tag-qos0"
	p.State.ConsumerTags[1] = "tag-qos1"

	acked := false
	d := amqp.NewDelivery("tag-qos1", 5, mqtt2amqp("a/b"), true, amqp.Table{"x-mqtt-publish-qos": byte(0)}, []byte("hi"), func(multiple bool) error {
		acked = true
		return nil
	})
	if err := p.HandleDelivery(context.Background(), d); err != nil {
		t.Fatalf("HandleDelivery: %v", err)
	}

	if len(*sent) != 0 {
		t.Fatalf("duplicate (0,1) must emit nothing, got %d frames", len(*sent))
	}
	if !acked {
		t.Fatalf("duplicate (0,1) must still ack the delivery")
	}
}

func TestHandleConfirm_SingleAck(t *testing.T) {
	p, _, sent := newTestProcessor(t)
	p.State.UnackedPubs.Insert(1, 42)

	if err := p.HandleConfirm(amqp.Confirmation{DeliveryTag: 1, Ack: true}); err != nil {
		t.Fatalf("HandleConfirm: %v", err)
	}

	if len(*sent) != 1 {
		t.Fatalf("expected one PUBACK, got %d", len(*sent))
	}
	puback := (*sent)[0].(*packets.PubackPacket)
	if puback.MessageID != 42 {
		t.Fatalf("puback message id = %d, want 42", puback.MessageID)
	}
	if p.State.UnackedPubs.Len() != 0 {
		t.Fatalf("expected unacked_pubs drained")
	}
}

func TestHandleConfirm_CumulativeAck(t *testing.T) {
	p, _, sent := newTestProcessor(t)
	p.State.UnackedPubs.Insert(1, 10)
	p.State.UnackedPubs.Insert(2, 11)
	p.State.UnackedPubs.Insert(3, 12)

	if err := p.HandleConfirm(amqp.Confirmation{DeliveryTag: 2, Ack: true}); err != nil {
		t.Fatalf("HandleConfirm: %v", err)
	}

	if len(*sent) != 2 {
		t.Fatalf("expected two PUBACKs, got %d", len(*sent))
	}
	if p.State.UnackedPubs.Len() != 1 {
		t.Fatalf("expected one entry left, got %d", p.State.UnackedPubs.Len())
	}
	if _, ok := p.State.UnackedPubs.Get(3); !ok {
		t.Fatalf("expected seqno 3 to remain unacked")
	}
}

func TestHandlePuback_AcksBrokerAndRemoves(t *testing.T) {
	p, _, _ := newTestProcessor(t)
	p.State.AwaitingAck.Insert(7, 99)

	pkt := packets.NewControlPacket(packets.Puback).(*packets.PubackPacket)
	pkt.MessageID = 7

	if err := p.handlePuback(context.Background(), pkt); err != nil {
		t.Fatalf("handlePuback: %v", err)
	}
	if _, ok := p.State.AwaitingAck.Get(7); ok {
		t.Fatalf("expected awaiting_ack entry removed")
	}
}

func TestHandlePuback_UnknownIgnored(t *testing.T) {
	p, _, _ := newTestProcessor(t)

	pkt := packets.NewControlPacket(packets.Puback).(*packets.PubackPacket)
	pkt.MessageID = 123
	if err := p.handlePuback(context.Background(), pkt); err != nil {
		t.Fatalf("handlePuback on unknown id should be a no-op, got error: %v", err)
	}
}
