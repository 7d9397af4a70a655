// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package queue implements the two-queue subscription model: deterministic
// QoS-0/QoS-1 queue naming for a client id, lazy declaration, and
// basic.consume setup.
package queue

import (
	"context"
	"fmt"

	"github.com/c3pb/rabbitmq-mqtt/pkg/amqp"
	"github.com/c3pb/rabbitmq-mqtt/pkg/message"
)

// Names returns the deterministic (qos0, qos1) queue names for a client
// id. They are stable across reconnects and distinct from each other.
func Names(clientID string) (qos0, qos1 string) {
	return fmt.Sprintf("mqtt-subscription-%s-qos0", clientID), fmt.Sprintf("mqtt-subscription-%s-qos1", clientID)
}

// Manager declares and binds the per-client subscription queues on a
// single AMQP channel, tracking which QoS levels already have an active
// consumer.
type Manager struct {
	ch           amqp.Channel
	clientID     string
	cleanSess    bool
	subTTL       int64
	hasSubTTL    bool
	consumerTags [2]string
	consuming    [2]bool
	deliveries   chan amqp.Delivery
}

// New creates a Manager bound to ch for clientID. subTTLMs and hasSubTTL
// mirror the spec's optional integer `subscription_ttl` runtime
// parameter.
func New(ch amqp.Channel, clientID string, cleanSess bool, subTTLMs int64, hasSubTTL bool) *Manager {
	return &Manager{ch: ch, clientID: clientID, cleanSess: cleanSess, subTTL: subTTLMs, hasSubTTL: hasSubTTL, deliveries: make(chan amqp.Delivery, 64)}
}

// Deliveries fans in basic.deliver events from every consumer this
// Manager has started, tagged with the consumer tag they arrived on so
// the Inbound Delivery Handler can recover the (delivery_qos, sub_qos)
// pair (spec.md §4.8 step 3). The actor driving the owning connection
// must range over this for the lifetime of the session.
func (m *Manager) Deliveries() <-chan amqp.Delivery {
	return m.deliveries
}

// QueueFor returns the declared-or-to-be-declared queue name for qos
// without declaring it.
func (m *Manager) QueueFor(qos message.QoS) string {
	qos0, qos1 := Names(m.clientID)
	if qos == message.QoS0 {
		return qos0
	}
	return qos1
}

// ConsumerTag returns the consumer tag active for qos, or "" if none.
func (m *Manager) ConsumerTag(qos message.QoS) string {
	return m.consumerTags[qos]
}

// Active reports whether a consumer is already running for qos.
func (m *Manager) Active(qos message.QoS) bool {
	return m.consuming[qos]
}

// EnsureQueue implements §4.4's ensure_queue(Qos): declares the queue and
// issues basic.consume the first time a QoS level is requested; returns
// the queue name unchanged on subsequent calls.
func (m *Manager) EnsureQueue(ctx context.Context, qos message.QoS) (queueName string, err error) {
	queueName = m.QueueFor(qos)
	if m.consuming[qos] {
		return queueName, nil
	}

	args := amqp.Table{}
	autoAck := false
	durable := false
	autoDelete := true

	if qos == message.QoS1 {
		durable = true
		autoDelete = m.cleanSess
		if m.hasSubTTL && !m.cleanSess {
			args["x-expires"] = m.subTTL
		}
	} else {
		autoAck = true
	}

	if err := m.ch.QueueDeclare(ctx, queueName, durable, autoDelete, false, args); err != nil {
		return "", fmt.Errorf("declare queue %s: %w", queueName, err)
	}

	consumerTag := fmt.Sprintf("mqtt-%s-qos%d", m.clientID, qos)
	deliveries, err := m.ch.Consume(ctx, queueName, consumerTag, autoAck)
	if err != nil {
		return "", fmt.Errorf("consume %s: %w", queueName, err)
	}

	m.consumerTags[qos] = consumerTag
	m.consuming[qos] = true

	go func() {
		for d := range deliveries {
			m.deliveries <- d
		}
	}()

	return queueName, nil
}

// SessionPresent implements the clean_sess=false branch of §4.3: reports
// whether the QoS-1 queue already existed via a passive declare on a
// throwaway channel — a failed passive declare closes the channel it was
// issued on per AMQP semantics, so it must never run on the channel the
// Manager will go on to consume from. Call this BEFORE EnsureQueue;
// EnsureQueue's own declare would otherwise create the queue first and
// make the existence check meaningless.
func SessionPresent(ctx context.Context, conn amqp.Connection, qos1QueueName string) bool {
	ch, err := conn.Channel()
	if err != nil {
		return false
	}
	defer ch.Close()
	return ch.QueueDeclarePassive(ctx, qos1QueueName) == nil
}

// DeleteQoS1Queue implements the clean_sess=true branch of §4.3: best
// effort queue.delete on a throwaway channel, swallowing errors.
func DeleteQoS1Queue(ctx context.Context, conn amqp.Connection, qos1QueueName string) {
	ch, err := conn.Channel()
	if err != nil {
		return
	}
	defer ch.Close()
	_ = ch.QueueDelete(ctx, qos1QueueName)
}
