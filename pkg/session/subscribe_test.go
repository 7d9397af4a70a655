// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"testing"

	"github.com/eclipse/paho.mqtt.golang/packets"

	"github.com/c3pb/rabbitmq-mqtt/pkg/amqptest"
	"github.com/c3pb/rabbitmq-mqtt/pkg/handler"
	"github.com/c3pb/rabbitmq-mqtt/pkg/message"
	"github.com/c3pb/rabbitmq-mqtt/pkg/queue"
)

func newTestProcessor(t *testing.T) (*Processor, *amqptest.Broker, *[]packets.ControlPacket) {
	t.Helper()
	broker := amqptest.NewBroker()
	var sent []packets.ControlPacket

	p := New(Config{Exchange: "amq.topic", Prefetch: 10}, broker.Dialer(), &handler.NoopHandler{}, nil, nil, nil, func(pkt packets.ControlPacket) error {
		sent = append(sent, pkt)
		return nil
	})

	conn, err := broker.Dialer().Dial(context.Background(), "/", "guest", []byte("guest"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		t.Fatalf("channel: %v", err)
	}

	p.State.Connection = conn
	p.State.Channels[0] = ch
	p.State.ClientID = "client-1"
	p.State.Auth = AuthState{User: "guest", Username: "guest", Vhost: "/"}
	p.State.QueueMgr = queue.New(ch, p.State.ClientID, true, 0, false)

	return p, broker, &sent
}

func TestHandleSubscribe_BindsAndAcks(t *testing.T) {
	p, broker, sent := newTestProcessor(t)

	sub := packets.NewControlPacket(packets.Subscribe).(*packets.SubscribePacket)
	sub.MessageID = 5
	sub.Topics = []string{"a/b", "c/d"}
	sub.Qoss = []byte{0, 2} // QoS-2 request must be granted as QoS-1

	if err := p.handleSubscribe(context.Background(), sub); err != nil {
		t.Fatalf("handleSubscribe: %v", err)
	}

	if len(*sent) != 1 {
		t.Fatalf("expected one SUBACK, got %d", len(*sent))
	}
	suback, ok := (*sent)[0].(*packets.SubackPacket)
	if !ok {
		t.Fatalf("expected SubackPacket, got %T", (*sent)[0])
	}
	if suback.MessageID != 5 {
		t.Fatalf("suback message id = %d, want 5", suback.MessageID)
	}
	want := []byte{0, 1}
	for i, g := range want {
		if suback.ReturnCodes[i] != g {
			t.Fatalf("return code[%d] = %d, want %d", i, suback.ReturnCodes[i], g)
		}
	}

	qos0, qos1 := queue.Names("client-1")
	if !broker.BoundHas(qos0, mqtt2amqp("a/b")) {
		t.Fatalf("expected %s bound to routing key for a/b", qos0)
	}
	if !broker.BoundHas(qos1, mqtt2amqp("c/d")) {
		t.Fatalf("expected %s bound to routing key for c/d", qos1)
	}
}

func TestHandleSubscribe_DeliversRetained(t *testing.T) {
	p, _, sent := newTestProcessor(t)
	p.State.RetainerPid.Retain("/", "a/b", message.Msg{QoS: message.QoS1, Topic: "a/b", Payload: []byte("hi")})

	sub := packets.NewControlPacket(packets.Subscribe).(*packets.SubscribePacket)
	sub.MessageID = 1
	sub.Topics = []string{"a/b"}
	sub.Qoss = []byte{1}

	if err := p.handleSubscribe(context.Background(), sub); err != nil {
		t.Fatalf("handleSubscribe: %v", err)
	}

	if len(*sent) != 2 {
		t.Fatalf("expected SUBACK + retained PUBLISH, got %d frames", len(*sent))
	}
	pub, ok := (*sent)[1].(*packets.PublishPacket)
	if !ok {
		t.Fatalf("expected PublishPacket, got %T", (*sent)[1])
	}
	if pub.TopicName != "a/b" || string(pub.Payload) != "hi" || !pub.Retain {
		t.Fatalf("unexpected retained publish: %+v", pub)
	}
	if pub.Qos != 1 || pub.MessageID == 0 {
		t.Fatalf("expected qos1 publish with a message id, got qos=%d id=%d", pub.Qos, pub.MessageID)
	}
}

func TestHandleUnsubscribe_UnbindsDeduped(t *testing.T) {
	p, broker, sent := newTestProcessor(t)
	p.State.Subscriptions["a/b"] = []message.QoS{message.QoS1, message.QoS0, message.QoS1}

	unsub := packets.NewControlPacket(packets.Unsubscribe).(*packets.UnsubscribePacket)
	unsub.MessageID = 9
	unsub.Topics = []string{"a/b"}

	if err := p.handleUnsubscribe(context.Background(), unsub); err != nil {
		t.Fatalf("handleUnsubscribe: %v", err)
	}

	if _, ok := p.State.Subscriptions["a/b"]; ok {
		t.Fatalf("expected topic removed from subscriptions")
	}
	if len(*sent) != 1 {
		t.Fatalf("expected one UNSUBACK, got %d", len(*sent))
	}
	unsuback, ok := (*sent)[0].(*packets.UnsubackPacket)
	if !ok {
		t.Fatalf("expected UnsubackPacket, got %T", (*sent)[0])
	}
	if unsuback.MessageID != 9 {
		t.Fatalf("unsuback message id = %d, want 9", unsuback.MessageID)
	}

	qos0, qos1 := queue.Names("client-1")
	if broker.BoundHas(qos0, mqtt2amqp("a/b")) || broker.BoundHas(qos1, mqtt2amqp("a/b")) {
		t.Fatalf("expected both queues unbound")
	}
}
