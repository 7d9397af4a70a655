// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package will

import (
	"testing"

	"github.com/eclipse/paho.mqtt.golang/packets"
)

func TestFromConnect_NoWill(t *testing.T) {
	pkt := packets.NewControlPacket(packets.Connect).(*packets.ConnectPacket)
	pkt.WillFlag = false

	_, ok := FromConnect(pkt)
	if ok {
		t.Fatal("expected ok=false when WillFlag is unset")
	}
}

func TestFromConnect_WithWill(t *testing.T) {
	pkt := packets.NewControlPacket(packets.Connect).(*packets.ConnectPacket)
	pkt.WillFlag = true
	pkt.WillRetain = true
	pkt.WillQos = 1
	pkt.WillTopic = "clients/gone"
	pkt.WillMessage = []byte("bye")

	w, ok := FromConnect(pkt)
	if !ok {
		t.Fatal("expected ok=true when WillFlag is set")
	}
	if w.Topic != "clients/gone" || string(w.Payload) != "bye" || !w.Retain || w.QoS != 1 {
		t.Fatalf("unexpected will: %+v", w)
	}
}
