// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package session

import "github.com/eclipse/paho.mqtt.golang/packets"

// CONNACK return codes, per spec.md §6.
const (
	ConnackAccepted                  byte = 0
	ConnackUnacceptableProtoVersion  byte = 1
	ConnackIdentifierRejected        byte = 2
	ConnackBadUsernameOrPassword     byte = 4
	ConnackNotAuthorized             byte = 5
)

func connack(code byte, sessionPresent bool) *packets.ConnackPacket {
	pkt := packets.NewControlPacket(packets.Connack).(*packets.ConnackPacket)
	pkt.ReturnCode = code
	pkt.SessionPresent = sessionPresent
	return pkt
}

// acceptedProtoVersions are the MQTT protocol levels this processor
// negotiates: 3 (3.1) and 4 (3.1.1). Non-goal: MQTT 5.
var acceptedProtoVersions = map[byte]string{
	3: "3.1.0",
	4: "3.1.1",
}

// ProtocolVersionString implements spec.md §6's protocol-version
// reporting for the introspection surface.
func ProtocolVersionString(protoVer byte) string {
	if s, ok := acceptedProtoVersions[protoVer]; ok {
		return s
	}
	return "N/A"
}
