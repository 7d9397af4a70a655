// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package will extracts the last-will message from an MQTT CONNECT
// variable header.
package will

import (
	"github.com/eclipse/paho.mqtt.golang/packets"

	"github.com/c3pb/rabbitmq-mqtt/pkg/message"
)

// FromConnect builds a Will from the CONNECT packet's will fields. ok is
// false when the CONNECT did not set the will flag, in which case the
// caller should not store a will on the session.
func FromConnect(pkt *packets.ConnectPacket) (w message.Will, ok bool) {
	if !pkt.WillFlag {
		return message.Will{}, false
	}

	return message.Will{
		Retain:  pkt.WillRetain,
		QoS:     message.QoS(pkt.WillQos),
		Topic:   pkt.WillTopic,
		Payload: pkt.WillMessage,
	}, true
}
