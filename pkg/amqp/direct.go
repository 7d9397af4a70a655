// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package amqp

import (
	"context"
	"errors"
	"fmt"
	"net"

	amqp091 "github.com/rabbitmq/amqp091-go"

	"github.com/c3pb/rabbitmq-mqtt/pkg/breaker"
	amqperrors "github.com/c3pb/rabbitmq-mqtt/pkg/errors"
	"github.com/c3pb/rabbitmq-mqtt/pkg/pool"
)

// DirectDialer opens real AMQP 0-9-1 connections against a single broker
// address, using github.com/rabbitmq/amqp091-go for the wire protocol. An
// optional net.Conn pool hands out idle TCP connections to the broker
// (dialing a new one when none is idle); every Dial still runs a full
// AMQP handshake. A circuit breaker fails fast instead of hanging a
// client's CONNECT when the broker is down. Rejected credentials are
// reported as errors.ErrAuthFailure and a refused vhost as
// errors.ErrAccessRefused (package pkg/errors).
type DirectDialer struct {
	addr    string
	pool    *pool.Pool
	breaker *breaker.CircuitBreaker
}

// NewDirectDialer creates a DirectDialer for the broker at addr
// (host:port). pool and cb may be nil, in which case a plain net.Dial and
// a breaker with breaker.Config's defaults are used.
func NewDirectDialer(addr string, p *pool.Pool, cb *breaker.CircuitBreaker) *DirectDialer {
	if cb == nil {
		cb = breaker.New(breaker.Config{})
	}
	return &DirectDialer{addr: addr, pool: p, breaker: cb}
}

func (d *DirectDialer) rawDial(ctx context.Context) (net.Conn, error) {
	if d.pool != nil {
		c, err := d.pool.Get(ctx)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
	return net.Dial("tcp", d.addr)
}

// Dial implements Dialer by opening an amqp091 connection over a pooled
// TCP connection, scoped to vhost with the given credentials.
func (d *DirectDialer) Dial(ctx context.Context, vhost, username string, password []byte, clientProps Table) (Connection, error) {
	var conn *amqp091.Connection
	err := d.breaker.Call(func() error {
		raw, derr := d.rawDial(ctx)
		if derr != nil {
			return derr
		}
		c, aerr := amqp091.Open(raw, amqp091.Config{
			Vhost:      vhost,
			Properties: amqp091.Table(clientProps),
			SASL: []amqp091.Authentication{
				&amqp091.PlainAuth{Username: username, Password: string(password)},
			},
		})
		if aerr != nil {
			raw.Close()
			return aerr
		}
		conn = c
		return nil
	})
	if err != nil {
		switch {
		case errors.Is(err, amqp091.ErrCredentials):
			err = fmt.Errorf("%w: %w", amqperrors.ErrAuthFailure, err)
		case errors.Is(err, amqp091.ErrVhost):
			err = fmt.Errorf("%w: %w", amqperrors.ErrAccessRefused, err)
		}
		return nil, fmt.Errorf("dial broker %s: %w", d.addr, err)
	}
	return &directConnection{conn: conn}, nil
}

type directConnection struct {
	conn *amqp091.Connection
}

func (c *directConnection) Channel() (Channel, error) {
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, err
	}
	return &directChannel{ch: ch}, nil
}

func (c *directConnection) Close() error {
	return c.conn.Close()
}

type directChannel struct {
	ch *amqp091.Channel
}

func (c *directChannel) QueueDeclare(ctx context.Context, name string, durable, autoDelete, exclusive bool, args Table) error {
	_, err := c.ch.QueueDeclare(name, durable, autoDelete, exclusive, false, amqp091.Table(args))
	return err
}

func (c *directChannel) QueueDeclarePassive(ctx context.Context, name string) error {
	_, err := c.ch.QueueDeclarePassive(name, false, false, false, false, nil)
	return err
}

func (c *directChannel) QueueDelete(ctx context.Context, name string) error {
	_, err := c.ch.QueueDelete(name, false, false, false)
	return err
}

func (c *directChannel) QueueBind(ctx context.Context, queue, routingKey, exchange string) error {
	return c.ch.QueueBind(queue, routingKey, exchange, false, nil)
}

func (c *directChannel) QueueUnbind(ctx context.Context, queue, routingKey, exchange string) error {
	return c.ch.QueueUnbind(queue, routingKey, exchange, nil)
}

func (c *directChannel) Consume(ctx context.Context, queue, consumerTag string, autoAck bool) (<-chan Delivery, error) {
	deliveries, err := c.ch.Consume(queue, consumerTag, autoAck, false, false, false, nil)
	if err != nil {
		return nil, err
	}

	out := make(chan Delivery)
	go func() {
		defer close(out)
		for d := range deliveries {
			dCopy := d
			out <- NewDelivery(dCopy.ConsumerTag, dCopy.DeliveryTag, dCopy.RoutingKey, dCopy.Redelivered, Table(dCopy.Headers), dCopy.Body, func(multiple bool) error {
				return dCopy.Ack(multiple)
			})
		}
	}()
	return out, nil
}

func (c *directChannel) Publish(ctx context.Context, exchange, routingKey string, msg Publishing) error {
	return c.ch.PublishWithContext(ctx, exchange, routingKey, false, false, amqp091.Publishing{
		Headers:      amqp091.Table(msg.Headers),
		ContentType:  msg.ContentType,
		DeliveryMode: msg.DeliveryMode,
		Body:         msg.Body,
	})
}

func (c *directChannel) Qos(prefetchCount int) error {
	return c.ch.Qos(prefetchCount, 0, false)
}

func (c *directChannel) Confirm(ctx context.Context) (<-chan Confirmation, error) {
	if err := c.ch.Confirm(false); err != nil {
		return nil, err
	}

	confirms := c.ch.NotifyPublish(make(chan amqp091.Confirmation, 16))
	out := make(chan Confirmation)
	go func() {
		defer close(out)
		for conf := range confirms {
			out <- Confirmation{DeliveryTag: conf.DeliveryTag, Ack: conf.Ack}
		}
	}()
	return out, nil
}

func (c *directChannel) Ack(deliveryTag uint64, multiple bool) error {
	return c.ch.Ack(deliveryTag, multiple)
}

func (c *directChannel) Close() error {
	return c.ch.Close()
}
