// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package message holds the protocol-neutral message shapes the
// processor passes between its components, independent of the MQTT wire
// representation.
package message

// QoS is an MQTT quality-of-service level, after any QoS-2-to-QoS-1
// downgrade has already been applied.
type QoS byte

const (
	QoS0 QoS = 0
	QoS1 QoS = 1
)

// Msg is the spec's MqttMsg: a publish-shaped message independent of
// whether it arrived from a client, a broker delivery, or a retainer
// lookup.
type Msg struct {
	Retain    bool
	QoS       QoS
	Dup       bool
	Topic     string
	MessageID uint16
	HasID     bool
	Payload   []byte
}

// Will is a Msg minus MessageID, with Dup always false, published by the
// broker when a client disconnects ungracefully.
type Will struct {
	Retain  bool
	QoS     QoS
	Topic   string
	Payload []byte
}

// AsMsg converts a Will into the Msg shape used for publishing.
func (w Will) AsMsg() Msg {
	return Msg{
		Retain:  w.Retain,
		QoS:     w.QoS,
		Dup:     false,
		Topic:   w.Topic,
		Payload: w.Payload,
	}
}
