// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package mqttcodec is the thin adapter over the MQTT wire codec the
// processor treats as an external collaborator: it only wraps
// packets.ReadPacket / (ControlPacket).Write, with no protocol logic of
// its own.
package mqttcodec

import (
	"io"

	"github.com/eclipse/paho.mqtt.golang/packets"
)

// ReadPacket decodes exactly one MQTT control packet from r.
func ReadPacket(r io.Reader) (packets.ControlPacket, error) {
	return packets.ReadPacket(r)
}

// WritePacket encodes pkt to w.
func WritePacket(w io.Writer, pkt packets.ControlPacket) error {
	return pkt.Write(w)
}
