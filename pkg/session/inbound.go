// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"

	"github.com/eclipse/paho.mqtt.golang/packets"

	"github.com/c3pb/rabbitmq-mqtt/pkg/amqp"
	"github.com/c3pb/rabbitmq-mqtt/pkg/message"
)

// HandleDelivery implements the Inbound Delivery Handler of spec.md §4.8,
// the basic.deliver half. It is driven by the actor loop selecting on the
// consumer channels opened by the Subscription Queue Manager, not by
// Process, since deliveries arrive on their own channel rather than as a
// decoded MQTT frame.
func (p *Processor) HandleDelivery(ctx context.Context, d amqp.Delivery) error {
	dup := d.Redelivered
	if v, ok := d.Headers["x-mqtt-dup"]; ok {
		if b, ok := v.(bool); ok {
			dup = dup || b
		}
	}

	deliveryQoS, subQoS := p.deliveryQoSPair(d)

	if dup {
		switch {
		case deliveryQoS == message.QoS0 && subQoS == message.QoS1:
			return d.Ack(false)
		case deliveryQoS == message.QoS0 && subQoS == message.QoS0:
			return nil
		}
	}

	pub := packets.NewControlPacket(packets.Publish).(*packets.PublishPacket)
	pub.TopicName = amqp2mqtt(d.RoutingKey)
	pub.Payload = d.Body
	pub.Retain = false
	pub.Dup = dup
	pub.Qos = byte(deliveryQoS)

	var msgID uint16
	if deliveryQoS == message.QoS1 {
		msgID = p.State.MessageID
		pub.MessageID = msgID
	}

	if err := p.send(pub); err != nil {
		return err
	}

	switch {
	case deliveryQoS == message.QoS0 && subQoS == message.QoS0:
		// nothing
	case deliveryQoS == message.QoS0 && subQoS == message.QoS1:
		return d.Ack(false)
	case deliveryQoS == message.QoS1 && subQoS == message.QoS1:
		p.State.AwaitingAck.Insert(uint64(msgID), d.DeliveryTag)
		p.State.NextMessageID()
	}
	return nil
}

// deliveryQoSPair implements §4.8 step 3: which consumer the delivery
// arrived on decides the (delivery_qos, sub_qos) pair.
func (p *Processor) deliveryQoSPair(d amqp.Delivery) (deliveryQoS, subQoS message.QoS) {
	if d.ConsumerTag == p.State.ConsumerTags[message.QoS0] {
		return message.QoS0, message.QoS0
	}

	subQoS = message.QoS1
	deliveryQoS = message.QoS1
	if v, ok := d.Headers["x-mqtt-publish-qos"]; ok {
		switch n := v.(type) {
		case byte:
			deliveryQoS = message.QoS(n)
		case int:
			deliveryQoS = message.QoS(n)
		case int32:
			deliveryQoS = message.QoS(n)
		case int64:
			deliveryQoS = message.QoS(n)
		}
	}
	if deliveryQoS > message.QoS1 {
		deliveryQoS = message.QoS1
	}
	return deliveryQoS, subQoS
}

// HandleConfirm implements §4.8's basic.ack half. Per spec.md §5's
// ordering guarantee, confirms arrive in sequence-number order matching
// insertion order into unacked_pubs, so draining every entry at or below
// the confirmed tag correctly handles both a single ack (the drained set
// is exactly that one entry) and a cumulative ack (the drained set is
// everything it covers) with one code path. A negative ack drops its
// entries without ever sending a PUBACK.
func (p *Processor) HandleConfirm(c amqp.Confirmation) error {
	popped := p.State.UnackedPubs.PopLE(c.DeliveryTag)
	if !c.Ack {
		return nil
	}
	for _, entry := range popped {
		if err := p.sendPuback(uint16(entry.Value)); err != nil {
			return err
		}
	}
	return nil
}

func (p *Processor) sendPuback(messageID uint16) error {
	pub := packets.NewControlPacket(packets.Puback).(*packets.PubackPacket)
	pub.MessageID = messageID
	return p.send(pub)
}

// handlePuback implements §4.8's client-PUBACK half: translate into a
// basic.ack on the consumer channel the original delivery arrived on.
// An absent entry is ignored, tolerating bogus clients and QoS
// downgrades.
func (p *Processor) handlePuback(ctx context.Context, pkt *packets.PubackPacket) error {
	deliveryTag, ok := p.State.AwaitingAck.Get(uint64(pkt.MessageID))
	if !ok {
		return nil
	}
	p.State.AwaitingAck.Delete(uint64(pkt.MessageID))

	ch := p.State.Channels[0]
	if ch == nil {
		return nil
	}
	return ch.Ack(deliveryTag, false)
}
