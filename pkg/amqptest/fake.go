// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package amqptest provides an in-memory fake of pkg/amqp's Connection and
// Channel, in the style of the teacher's handler package mocks, so the
// processor can be exercised without a live broker.
package amqptest

import (
	"context"
	"fmt"
	"sync"

	"github.com/c3pb/rabbitmq-mqtt/pkg/amqp"
)

// Broker is a minimal in-memory AMQP broker: it tracks declared queues,
// bindings, and published messages, and lets a test deliver() a message
// to any consumer on a bound queue. It is not a faithful AMQP
// implementation — only enough of one to drive pkg/session's tests.
type Broker struct {
	mu          sync.Mutex
	queues      map[string]bool
	bindings    map[string]map[string]bool // queue -> routingKey set
	consumers   map[string]chan amqp.Delivery
	Published   []Published
	NextTag     uint64
	FailDial    error
	FailPassive map[string]bool // queue names that should fail passive declare
	ConfirmChan chan amqp.Confirmation
}

// Published records one basic.publish call observed by the fake.
type Published struct {
	Exchange, RoutingKey string
	Msg                  amqp.Publishing
	SeqNo                uint64
}

// NewBroker creates an empty fake broker.
func NewBroker() *Broker {
	return &Broker{
		queues:      map[string]bool{},
		bindings:    map[string]map[string]bool{},
		consumers:   map[string]chan amqp.Delivery{},
		FailPassive: map[string]bool{},
	}
}

// Dialer adapts a Broker to amqp.Dialer.
func (b *Broker) Dialer() amqp.Dialer { return &fakeDialer{b: b} }

type fakeDialer struct{ b *Broker }

func (d *fakeDialer) Dial(ctx context.Context, vhost, username string, password []byte, props amqp.Table) (amqp.Connection, error) {
	if d.b.FailDial != nil {
		return nil, d.b.FailDial
	}
	return &fakeConnection{b: d.b}, nil
}

type fakeConnection struct{ b *Broker }

func (c *fakeConnection) Channel() (amqp.Channel, error) {
	return &fakeChannel{b: c.b}, nil
}

func (c *fakeConnection) Close() error { return nil }

type fakeChannel struct {
	b         *Broker
	confirmed bool
}

func (c *fakeChannel) QueueDeclare(ctx context.Context, name string, durable, autoDelete, exclusive bool, args amqp.Table) error {
	c.b.mu.Lock()
	defer c.b.mu.Unlock()
	c.b.queues[name] = true
	return nil
}

func (c *fakeChannel) QueueDeclarePassive(ctx context.Context, name string) error {
	c.b.mu.Lock()
	defer c.b.mu.Unlock()
	if c.b.FailPassive[name] {
		return fmt.Errorf("NOT_FOUND - no queue %q", name)
	}
	if !c.b.queues[name] {
		return fmt.Errorf("NOT_FOUND - no queue %q", name)
	}
	return nil
}

func (c *fakeChannel) QueueDelete(ctx context.Context, name string) error {
	c.b.mu.Lock()
	defer c.b.mu.Unlock()
	delete(c.b.queues, name)
	return nil
}

func (c *fakeChannel) QueueBind(ctx context.Context, queue, routingKey, exchange string) error {
	c.b.mu.Lock()
	defer c.b.mu.Unlock()
	if c.b.bindings[queue] == nil {
		c.b.bindings[queue] = map[string]bool{}
	}
	c.b.bindings[queue][routingKey] = true
	return nil
}

func (c *fakeChannel) QueueUnbind(ctx context.Context, queue, routingKey, exchange string) error {
	c.b.mu.Lock()
	defer c.b.mu.Unlock()
	delete(c.b.bindings[queue], routingKey)
	return nil
}

func (c *fakeChannel) Consume(ctx context.Context, queue, consumerTag string, autoAck bool) (<-chan amqp.Delivery, error) {
	ch := make(chan amqp.Delivery, 16)
	c.b.mu.Lock()
	c.b.consumers[consumerTag] = ch
	c.b.mu.Unlock()
	return ch, nil
}

func (c *fakeChannel) Publish(ctx context.Context, exchange, routingKey string, msg amqp.Publishing) error {
	c.b.mu.Lock()
	c.b.NextTag++
	seq := c.b.NextTag
	c.b.Published = append(c.b.Published, Published{Exchange: exchange, RoutingKey: routingKey, Msg: msg, SeqNo: seq})
	c.b.mu.Unlock()
	return nil
}

func (c *fakeChannel) Qos(prefetchCount int) error { return nil }

func (c *fakeChannel) Confirm(ctx context.Context) (<-chan amqp.Confirmation, error) {
	c.confirmed = true
	ch := make(chan amqp.Confirmation, 16)
	c.b.mu.Lock()
	c.b.ConfirmChan = ch
	c.b.mu.Unlock()
	return ch, nil
}

// PushConfirmation simulates the broker acknowledging a publish on the
// most recently confirm-enabled channel.
func (b *Broker) PushConfirmation(tag uint64, ack bool) {
	b.mu.Lock()
	ch := b.ConfirmChan
	b.mu.Unlock()
	if ch != nil {
		ch <- amqp.Confirmation{DeliveryTag: tag, Ack: ack}
	}
}

func (c *fakeChannel) Ack(deliveryTag uint64, multiple bool) error { return nil }

func (c *fakeChannel) Close() error { return nil }

// BoundHas reports whether queue is currently bound to routingKey, for
// test assertions.
func (b *Broker) BoundHas(queue, routingKey string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bindings[queue][routingKey]
}

// Deliver pushes a fake basic.deliver to whatever consumer tag is
// currently registered for consumerTag, for test setup.
func (b *Broker) Deliver(consumerTag string, d amqp.Delivery) {
	b.mu.Lock()
	ch := b.consumers[consumerTag]
	b.mu.Unlock()
	if ch != nil {
		ch <- d
	}
}
