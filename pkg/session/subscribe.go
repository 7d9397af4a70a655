// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"sort"

	"github.com/eclipse/paho.mqtt.golang/packets"

	amqperrors "github.com/c3pb/rabbitmq-mqtt/pkg/errors"
	"github.com/c3pb/rabbitmq-mqtt/pkg/handler"
	"github.com/c3pb/rabbitmq-mqtt/pkg/message"
)

// handleSubscribe implements spec.md §4.5.
func (p *Processor) handleSubscribe(ctx context.Context, pkt *packets.SubscribePacket) error {
	topics := append([]string(nil), pkt.Topics...)

	hctx := p.handlerCtx()
	if err := p.acl.AuthSubscribe(ctx, hctx, &topics); err != nil {
		return amqperrors.ErrUnauthorized
	}

	granted := make([]byte, 0, len(pkt.Topics))
	for i, t := range pkt.Topics {
		requested := message.QoS(0)
		if i < len(pkt.Qoss) {
			requested = message.QoS(pkt.Qoss[i])
		}
		effective := requested
		if effective > message.QoS1 {
			effective = message.QoS1
		}

		queueName, err := p.State.QueueMgr.EnsureQueue(ctx, effective)
		if err != nil {
			return err
		}
		p.State.ConsumerTags[effective] = p.State.QueueMgr.ConsumerTag(effective)

		routingKey := mqtt2amqp(t)
		if err := p.State.Channels[0].QueueBind(ctx, queueName, routingKey, p.State.Exchange); err != nil {
			return err
		}

		p.State.Subscriptions[t] = append([]message.QoS{effective}, p.State.Subscriptions[t]...)
		granted = append(granted, byte(effective))
	}

	_ = p.acl.OnSubscribe(ctx, hctx, topics)

	suback := packets.NewControlPacket(packets.Suback).(*packets.SubackPacket)
	suback.MessageID = pkt.MessageID
	suback.ReturnCodes = granted
	if err := p.send(suback); err != nil {
		return err
	}

	return p.deliverRetained(ctx, pkt)
}

// deliverRetained implements the retained-message fan-out tail of §4.5:
// StartMsgId = ensure_valid(max(subscribe_packet_id, state.message_id)),
// then one PUBLISH per retained message per subscribed topic.
func (p *Processor) deliverRetained(ctx context.Context, pkt *packets.SubscribePacket) error {
	start := ensureValidMessageID(uint32(max16(pkt.MessageID, p.State.MessageID)))
	p.State.MessageID = start

	for i, t := range pkt.Topics {
		subQos := message.QoS(0)
		if i < len(pkt.Qoss) {
			subQos = message.QoS(pkt.Qoss[i])
		}
		if subQos > message.QoS1 {
			subQos = message.QoS1
		}

		for _, retained := range p.State.RetainerPid.Fetch(p.State.Auth.Vhost, t) {
			qos := subQos
			if retained.QoS < qos {
				qos = retained.QoS
			}

			pub := packets.NewControlPacket(packets.Publish).(*packets.PublishPacket)
			pub.TopicName = t
			pub.Payload = retained.Payload
			pub.Retain = true
			pub.Qos = byte(qos)
			if qos != message.QoS0 {
				pub.MessageID = p.State.NextMessageID()
			}

			if err := p.send(pub); err != nil {
				return err
			}
		}
	}
	return nil
}

func max16(a, b uint16) uint16 {
	if a > b {
		return a
	}
	return b
}

// handleUnsubscribe implements spec.md §4.6. Authorization is not
// re-checked, per spec.
func (p *Processor) handleUnsubscribe(ctx context.Context, pkt *packets.UnsubscribePacket) error {
	for _, t := range pkt.Topics {
		qosList := append([]message.QoS(nil), p.State.Subscriptions[t]...)
		sort.Slice(qosList, func(i, j int) bool { return qosList[i] < qosList[j] })

		seen := map[message.QoS]bool{}
		for _, qos := range qosList {
			if seen[qos] {
				continue
			}
			seen[qos] = true

			queueName := p.State.QueueMgr.QueueFor(qos)
			routingKey := mqtt2amqp(t)
			if err := p.State.Channels[0].QueueUnbind(ctx, queueName, routingKey, p.State.Exchange); err != nil {
				return err
			}
		}
		delete(p.State.Subscriptions, t)
	}

	hctx := p.handlerCtx()
	_ = p.acl.OnUnsubscribe(ctx, hctx, pkt.Topics)

	unsuback := packets.NewControlPacket(packets.Unsuback).(*packets.UnsubackPacket)
	unsuback.MessageID = pkt.MessageID
	return p.send(unsuback)
}

func (p *Processor) handlerCtx() *handler.Context {
	return &handler.Context{
		SessionID:  p.State.ClientID,
		Username:   p.State.Auth.Username,
		ClientID:   p.State.ClientID,
		RemoteAddr: p.State.AdapterInfo.PeerHost,
		Protocol:   "mqtt",
		Vhost:      p.State.Auth.Vhost,
	}
}
