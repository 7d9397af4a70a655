// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package amqp defines the narrow port the processor drives an AMQP 0-9-1
// broker through. The AMQP client library itself is an external
// collaborator per the spec (connection/channel open, publish, consume,
// confirms, acks) — this package names the operations the processor
// actually calls, and pkg/amqp's direct adapter is the only place that
// imports a concrete client.
package amqp

import "context"

// Table is an AMQP field table, independent of any concrete client's type.
type Table map[string]interface{}

// Publishing is the payload and headers of an outbound basic.publish.
type Publishing struct {
	Headers      Table
	ContentType  string
	DeliveryMode uint8
	Body         []byte
}

// Delivery is an inbound basic.deliver, plus the ack callback bound to the
// channel and delivery tag it arrived on.
type Delivery struct {
	ConsumerTag string
	DeliveryTag uint64
	RoutingKey  string
	Redelivered bool
	Headers     Table
	Body        []byte
	ack         func(multiple bool) error
}

// Ack acknowledges this delivery on its originating channel.
func (d Delivery) Ack(multiple bool) error {
	if d.ack == nil {
		return nil
	}
	return d.ack(multiple)
}

// NewDelivery constructs a Delivery with its ack callback bound; adapters
// use this so callers never see the underlying client's delivery type.
func NewDelivery(consumerTag string, deliveryTag uint64, routingKey string, redelivered bool, headers Table, body []byte, ack func(multiple bool) error) Delivery {
	return Delivery{
		ConsumerTag: consumerTag,
		DeliveryTag: deliveryTag,
		RoutingKey:  routingKey,
		Redelivered: redelivered,
		Headers:     headers,
		Body:        body,
		ack:         ack,
	}
}

// Confirmation is a publisher-confirm notification keyed by the
// per-channel sequence number assigned in publish order.
type Confirmation struct {
	DeliveryTag uint64
	Ack         bool
}

// Channel is the subset of AMQP channel operations the processor needs:
// queue lifecycle, binding, consuming, publishing, confirms and acks.
type Channel interface {
	QueueDeclare(ctx context.Context, name string, durable, autoDelete, exclusive bool, args Table) error
	// QueueDeclarePassive returns an error (wrapping ErrNotFound-like
	// semantics) when the queue does not already exist.
	QueueDeclarePassive(ctx context.Context, name string) error
	QueueDelete(ctx context.Context, name string) error
	QueueBind(ctx context.Context, queue, routingKey, exchange string) error
	QueueUnbind(ctx context.Context, queue, routingKey, exchange string) error
	Consume(ctx context.Context, queue, consumerTag string, autoAck bool) (<-chan Delivery, error)
	Publish(ctx context.Context, exchange, routingKey string, msg Publishing) error
	Qos(prefetchCount int) error
	Confirm(ctx context.Context) (<-chan Confirmation, error)
	Ack(deliveryTag uint64, multiple bool) error
	Close() error
}

// Connection is an open AMQP connection, able to mint channels.
type Connection interface {
	Channel() (Channel, error)
	Close() error
}

// Dialer opens an AMQP connection to a broker for a given vhost and
// credential pair — the "direct (in-process) adapter" of spec.md §4.2.
type Dialer interface {
	Dial(ctx context.Context, vhost, username string, password []byte, clientProps Table) (Connection, error)
}
