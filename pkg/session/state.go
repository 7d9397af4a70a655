// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package session implements the per-connection MQTT-to-AMQP frame
// processor: the CONNECT handshake, the two-queue subscription model,
// bidirectional message-id/delivery-tag tracking, and last-will/teardown
// handling described by the spec. One State is owned exclusively by one
// goroutine, matching the single-actor model of spec.md §5.
package session

import (
	"github.com/eclipse/paho.mqtt.golang/packets"

	"github.com/c3pb/rabbitmq-mqtt/pkg/amqp"
	"github.com/c3pb/rabbitmq-mqtt/pkg/message"
	"github.com/c3pb/rabbitmq-mqtt/pkg/queue"
)

// AdapterInfo mirrors the introspection surface of spec.md §6: listener
// and peer metadata independent of any particular transport.
type AdapterInfo struct {
	Host, Port         string
	PeerHost, PeerPort string
	Protocol           string
	SSL                bool
	SSLLoginName       string
	ChannelMax         uint16
	FrameMax           uint32
	ClientProperties   amqp.Table
}

// AuthState holds the credentials and vhost resolved during a successful
// CONNECT, per spec.md §3.
type AuthState struct {
	User, Username, Vhost string
}

// State is the spec's ProcState: all per-connection mutable data, single
// owner, mutated only from the actor goroutine that runs Processor.Run.
type State struct {
	// AMQP channels: index 0 is consume+QoS0-publish, index 1 is the
	// lazily-opened QoS1-publish-with-confirms channel.
	Channels [2]amqp.Channel

	// ConsumerTags: index by message.QoS (0 or 1).
	ConsumerTags [2]string

	UnackedPubs   *orderedMap // AMQP seqno -> MQTT message id
	AwaitingAck   *orderedMap // MQTT message id -> AMQP delivery tag
	AwaitingSeqno uint64
	HasSeqno      bool

	// ConfirmChan receives publisher-confirm notifications for
	// Channels[1] once it has been lazily opened in confirm mode. The
	// actor driving this State is responsible for selecting on it and
	// routing results into Processor.HandleConfirm.
	ConfirmChan <-chan amqp.Confirmation

	MessageID uint16

	// Subscriptions maps a topic filter to the list of granted QoS
	// values recorded for it, most-recent first (see spec.md §9's open
	// question: no de-duplication on subscribe, only at unsubscribe).
	Subscriptions map[string][]message.QoS

	Exchange string

	AdapterInfo  AdapterInfo
	SSLLoginName string

	Connection amqp.Connection
	ClientID   string
	CleanSess  bool
	Graceful   bool
	WillMsg    *message.Will

	RetainerPid Retainer
	Collector   Collector

	Auth AuthState

	QueueMgr *queue.Manager

	// SendFunc emits one outgoing MQTT frame to the client; it is the
	// spec's send_fun transport handle.
	SendFunc func(packets.ControlPacket) error
}

// NewState creates a fresh, unconnected State. Connection is nil until a
// successful CONNECT, matching spec.md §3's lifecycle note.
func NewState(send func(packets.ControlPacket) error) *State {
	return &State{
		UnackedPubs:   newOrderedMap(),
		AwaitingAck:   newOrderedMap(),
		MessageID:     1,
		Subscriptions: make(map[string][]message.QoS),
		SendFunc:      send,
	}
}

// Connected reports whether CONNECT has completed successfully. No
// non-CONNECT frame may be processed before this is true (spec.md §3's
// first invariant).
func (s *State) Connected() bool {
	return s.Connection != nil
}

// NextMessageID allocates the next MQTT packet identifier and advances
// the counter, wrapping from 0xFFFF back to 1 — 0 is never used (spec.md
// §3's message_id invariant).
func (s *State) NextMessageID() uint16 {
	id := s.MessageID
	if s.MessageID == 0xFFFF {
		s.MessageID = 1
	} else {
		s.MessageID++
	}
	return id
}

// ensureValidMessageID normalizes a candidate message id into [1,
// 0xFFFF], used when seeding retained-message delivery ids from the
// SUBSCRIBE packet id (spec.md §4.5).
func ensureValidMessageID(candidate uint32) uint16 {
	if candidate == 0 {
		return 1
	}
	if candidate > 0xFFFF {
		return uint16(candidate%0xFFFF) + 1
	}
	return uint16(candidate)
}
