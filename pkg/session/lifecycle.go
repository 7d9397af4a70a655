// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"log/slog"

	"github.com/eclipse/paho.mqtt.golang/packets"

	"github.com/c3pb/rabbitmq-mqtt/pkg/amqp"
	"github.com/c3pb/rabbitmq-mqtt/pkg/message"
)

// handlePingreq implements spec.md §4.9's keepalive half.
func (p *Processor) handlePingreq(ctx context.Context) error {
	return p.send(packets.NewControlPacket(packets.Pingresp).(*packets.PingrespPacket))
}

// handleDisconnect implements spec.md §4.9's graceful-teardown half: a
// terminal stop, distinct from any other error return, telling the
// caller not to run the will.
func (p *Processor) handleDisconnect(ctx context.Context) error {
	p.State.Graceful = true
	return errStop
}

// errStop is the terminal "stop" indication of spec.md §4.9: the caller
// must close the connection without running the will.
var errStop = stopError{}

type stopError struct{}

func (stopError) Error() string { return "stop" }

// IsStop reports whether err is the terminal stop indication returned by
// a DISCONNECT frame.
func IsStop(err error) bool {
	_, ok := err.(stopError)
	return ok
}

// SendWill implements spec.md §4.10's send_will: publish the stored will
// message via the Outbound Publisher path, then close channel[1] and
// channel[0] if present. It is a no-op if the connection had none, and
// is skipped with a log line rather than aborted if the topic write
// check fails.
func (p *Processor) SendWill(ctx context.Context) {
	if p.State.WillMsg == nil {
		return
	}
	defer p.closeChannels()

	w := *p.State.WillMsg
	msg := w.AsMsg()

	hctx := p.handlerCtx()
	topic := msg.Topic
	payload := msg.Payload
	if err := p.acl.AuthPublish(ctx, hctx, &topic, &payload); err != nil {
		p.logger.Info("will publish denied", slog.String("client_id", p.State.ClientID), slog.String("topic", msg.Topic))
		return
	}

	pkt := packets.NewControlPacket(packets.Publish).(*packets.PublishPacket)
	pkt.TopicName = topic
	pkt.Payload = payload
	pkt.Qos = byte(msg.QoS)
	pkt.Retain = msg.Retain

	if err := p.publishToBroker(ctx, pkt); err != nil {
		p.logger.Warn("will publish failed", slog.String("client_id", p.State.ClientID), slog.String("error", err.Error()))
	}
}

// publishToBroker runs the §4.7 publish path directly, bypassing
// AuthPublish and OnPublish since SendWill already ran its own
// authorization check with the will's own topic/payload.
func (p *Processor) publishToBroker(ctx context.Context, pkt *packets.PublishPacket) error {
	qos := message.QoS(pkt.Qos)
	if qos > message.QoS1 {
		qos = message.QoS1
	}

	ch, err := p.channelFor(ctx, qos)
	if err != nil {
		return err
	}

	deliveryMode := uint8(1)
	if qos == message.QoS1 {
		deliveryMode = 2
	}

	if qos == message.QoS1 && pkt.MessageID != 0 {
		p.State.UnackedPubs.Insert(p.State.AwaitingSeqno, uint64(pkt.MessageID))
		p.State.AwaitingSeqno++
	}

	err = ch.Publish(ctx, p.State.Exchange, mqtt2amqp(pkt.TopicName), amqp.Publishing{
		Headers: amqp.Table{
			"x-mqtt-publish-qos": byte(qos),
			"x-mqtt-dup":         pkt.Dup,
		},
		DeliveryMode: deliveryMode,
		Body:         pkt.Payload,
	})
	if err != nil {
		return err
	}

	if pkt.Retain {
		if len(pkt.Payload) == 0 {
			p.State.RetainerPid.Clear(p.State.Auth.Vhost, pkt.TopicName)
		} else {
			p.State.RetainerPid.Retain(p.State.Auth.Vhost, pkt.TopicName, message.Msg{Retain: true, QoS: qos, Topic: pkt.TopicName, Payload: pkt.Payload})
		}
	}
	return nil
}

func (p *Processor) closeChannels() {
	if p.State.Channels[1] != nil {
		_ = p.State.Channels[1].Close()
		p.State.Channels[1] = nil
	}
	if p.State.Channels[0] != nil {
		_ = p.State.Channels[0].Close()
		p.State.Channels[0] = nil
	}
}

// CloseConnection implements spec.md §4.10's close_connection: unregister
// from the collector, then best-effort close the AMQP connection,
// swallowing errors and tolerating repeat calls.
func (p *Processor) CloseConnection(ctx context.Context) {
	if p.State.Connection == nil {
		return
	}
	if p.State.ClientID != "" {
		p.collect.Unregister(p.State.ClientID)
	}
	_ = p.State.Connection.Close()
	p.State.Connection = nil
}
