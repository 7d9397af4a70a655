// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"errors"

	"github.com/eclipse/paho.mqtt.golang/packets"

	"github.com/c3pb/rabbitmq-mqtt/pkg/amqp"
)

// Run drives the single-actor event loop of spec.md §5: it is the only
// goroutine allowed to touch Processor.State. frames delivers decoded
// inbound MQTT packets; readErr carries a terminal error from whatever
// is reading them (closed socket, decode failure) and ends the loop.
// Run returns nil on a graceful DISCONNECT, errConnectRefused once a
// CONNECT has been answered with a refusing CONNACK, and the read/write
// error otherwise; the caller is responsible for running the will exactly
// when Run returns a non-nil error, and for closing the connection in
// both cases.
func (p *Processor) Run(ctx context.Context, frames <-chan packets.ControlPacket, readErr <-chan error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-readErr:
			return err

		case pkt, ok := <-frames:
			if !ok {
				return nil
			}
			if err := p.Process(ctx, pkt); err != nil {
				if IsStop(err) {
					return nil
				}
				return err
			}
			if _, isConnect := pkt.(*packets.ConnectPacket); isConnect && !p.State.Connected() {
				return errConnectRefused
			}

		case d, ok := <-p.deliveryChan():
			if !ok {
				continue
			}
			if err := p.HandleDelivery(ctx, d); err != nil {
				return err
			}

		case c, ok := <-p.confirmChan():
			if !ok {
				continue
			}
			if err := p.HandleConfirm(c); err != nil {
				return err
			}
		}
	}
}

// errConnectRefused ends Run after a CONNECT that did not open a session.
var errConnectRefused = errors.New("connect refused")

func (p *Processor) deliveryChan() <-chan amqp.Delivery {
	if p.State.QueueMgr == nil {
		return nil
	}
	return p.State.QueueMgr.Deliveries()
}

func (p *Processor) confirmChan() <-chan amqp.Confirmation {
	return p.State.ConfirmChan
}
