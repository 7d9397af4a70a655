// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"

	"github.com/eclipse/paho.mqtt.golang/packets"

	"github.com/c3pb/rabbitmq-mqtt/pkg/amqp"
	amqperrors "github.com/c3pb/rabbitmq-mqtt/pkg/errors"
	"github.com/c3pb/rabbitmq-mqtt/pkg/message"
)

// handlePublish implements the Outbound Publisher of spec.md §4.7: a
// PUBLISH from the client is downgraded from QoS-2 to QoS-1, authorized,
// then forwarded to the broker as a basic.publish.
func (p *Processor) handlePublish(ctx context.Context, pkt *packets.PublishPacket) error {
	qos := message.QoS(pkt.Qos)
	if qos > message.QoS1 {
		qos = message.QoS1
	}

	t := pkt.TopicName
	payload := pkt.Payload

	hctx := p.handlerCtx()
	if err := p.acl.AuthPublish(ctx, hctx, &t, &payload); err != nil {
		return amqperrors.ErrUnauthorized
	}

	headers := amqp.Table{
		"x-mqtt-publish-qos": byte(qos),
		"x-mqtt-dup":         pkt.Dup,
	}
	deliveryMode := uint8(1)
	if qos == message.QoS1 {
		deliveryMode = 2
	}

	ch, err := p.channelFor(ctx, qos)
	if err != nil {
		return err
	}

	if qos == message.QoS1 && pkt.MessageID != 0 {
		p.State.UnackedPubs.Insert(p.State.AwaitingSeqno, uint64(pkt.MessageID))
		p.State.AwaitingSeqno++
	}

	err = ch.Publish(ctx, p.State.Exchange, mqtt2amqp(t), amqp.Publishing{
		Headers:      headers,
		DeliveryMode: deliveryMode,
		Body:         payload,
	})
	if err != nil {
		return err
	}

	if pkt.Retain {
		if len(payload) == 0 {
			p.State.RetainerPid.Clear(p.State.Auth.Vhost, t)
		} else {
			p.State.RetainerPid.Retain(p.State.Auth.Vhost, t, message.Msg{
				Retain:  true,
				QoS:     qos,
				Topic:   t,
				Payload: payload,
			})
		}
	}

	_ = p.acl.OnPublish(ctx, hctx, t, payload)
	return nil
}

// channelFor returns the channel a PUBLISH of qos must use, per §4.7 step
// 3: QoS-0 always uses channel[0]; QoS-1 lazily opens channel[1] in
// confirm mode the first time it's needed.
func (p *Processor) channelFor(ctx context.Context, qos message.QoS) (amqp.Channel, error) {
	if qos == message.QoS0 {
		return p.State.Channels[0], nil
	}

	if p.State.Channels[1] != nil {
		return p.State.Channels[1], nil
	}

	ch, err := p.State.Connection.Channel()
	if err != nil {
		return nil, err
	}

	confirms, err := ch.Confirm(ctx)
	if err != nil {
		ch.Close()
		return nil, err
	}

	p.State.Channels[1] = ch
	p.State.ConfirmChan = confirms
	p.State.AwaitingSeqno = 1
	p.State.HasSeqno = true

	return ch, nil
}
