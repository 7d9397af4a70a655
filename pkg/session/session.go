// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"log/slog"

	"github.com/eclipse/paho.mqtt.golang/packets"
	"github.com/google/uuid"

	"github.com/c3pb/rabbitmq-mqtt/pkg/amqp"
	amqperrors "github.com/c3pb/rabbitmq-mqtt/pkg/errors"
	"github.com/c3pb/rabbitmq-mqtt/pkg/handler"
	"github.com/c3pb/rabbitmq-mqtt/pkg/topic"
	"github.com/c3pb/rabbitmq-mqtt/pkg/vhost"
)

// Config carries the static, per-listener configuration spec.md §6 lists
// as consumed: exchange, vhost, default credentials, anonymous/cert-login
// policy, prefetch, and the runtime vhost-mapping tables.
type Config struct {
	Exchange               string
	DefaultVhost           string
	DefaultUser            string
	DefaultPass            string
	AllowAnonymous         bool
	SSLCertLogin           bool
	IgnoreColonsInUsername bool
	Prefetch               int
	SubscriptionTTLMs      int64
	HasSubscriptionTTL     bool
	CertToVhost            map[string]string
	PortToVhost            map[string]string

	// KnownVhosts, when non-nil, restricts which resolved vhosts are
	// considered to exist (spec.md §4.2 step 5). A nil map means every
	// resolved vhost is treated as existing — appropriate for a
	// single-vhost deployment or when vhost existence is delegated
	// entirely to the broker dial.
	KnownVhosts map[string]bool
}

func (c Config) vhostConfig() vhost.Config {
	return vhost.Config{
		DefaultUser:            c.DefaultUser,
		DefaultPass:            c.DefaultPass,
		AllowAnonymous:         c.AllowAnonymous,
		SSLCertLogin:           c.SSLCertLogin,
		DefaultVhost:           c.DefaultVhost,
		IgnoreColonsInUsername: c.IgnoreColonsInUsername,
		CertToVhost:            c.CertToVhost,
		PortToVhost:            c.PortToVhost,
	}
}

// Processor is the Frame Processor / session state machine of spec.md
// §4.2-§4.10: the top-level dispatcher keyed by MQTT control-packet type.
// One Processor is created per client connection and must only be driven
// from a single goroutine.
type Processor struct {
	cfg     Config
	dialer  amqp.Dialer
	retain  Retainer
	collect Collector
	logger  *slog.Logger
	acl     handler.Handler

	State *State
}

// New creates a Processor. send emits one outgoing MQTT frame; acl is the
// access-control subsystem external collaborator (user authentication
// hooks, loopback policy, topic access); retain/collect default to
// in-memory implementations when nil.
func New(cfg Config, dialer amqp.Dialer, acl handler.Handler, retain Retainer, collect Collector, logger *slog.Logger, send func(packets.ControlPacket) error) *Processor {
	if retain == nil {
		retain = NewMemRetainer()
	}
	if collect == nil {
		collect = NewMemCollector()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if acl == nil {
		acl = &handler.NoopHandler{}
	}

	st := NewState(send)
	st.Exchange = cfg.Exchange
	st.RetainerPid = retain
	st.Collector = collect

	return &Processor{cfg: cfg, dialer: dialer, retain: retain, collect: collect, logger: logger, acl: acl, State: st}
}

// mqtt2amqp / amqp2mqtt are the spec's Topic Name Mapper, provided by the
// environment (pkg/topic).
func mqtt2amqp(t string) string { return topic.MQTTToAMQP(t) }
func amqp2mqtt(t string) string { return topic.AMQPToMQTT(t) }

// Process dispatches one decoded inbound MQTT frame, per spec.md §4 and
// the control-packet table of §6. It returns an error only for fatal
// conditions (connect_expected, unauthorized, terminal stop) — the
// caller owns closing the socket and, except on DISCONNECT, running the
// will.
func (p *Processor) Process(ctx context.Context, pkt packets.ControlPacket) error {
	if !p.State.Connected() {
		if _, ok := pkt.(*packets.ConnectPacket); !ok {
			return amqperrors.ErrConnectExpected
		}
	}

	switch frame := pkt.(type) {
	case *packets.ConnectPacket:
		return p.handleConnect(ctx, frame)
	case *packets.PublishPacket:
		return p.handlePublish(ctx, frame)
	case *packets.PubackPacket:
		return p.handlePuback(ctx, frame)
	case *packets.SubscribePacket:
		return p.handleSubscribe(ctx, frame)
	case *packets.UnsubscribePacket:
		return p.handleUnsubscribe(ctx, frame)
	case *packets.PingreqPacket:
		return p.handlePingreq(ctx)
	case *packets.DisconnectPacket:
		return p.handleDisconnect(ctx)
	default:
		// PUBREC/PUBREL/PUBCOMP and anything else belong to QoS-2, which
		// is never negotiated by this processor (incoming QoS-2 PUBLISH
		// is downgraded before any such control packet would occur).
		return nil
	}
}

// newClientID generates a fresh client id, the same way the teacher
// mints a per-connection SessionID.
func newClientID() string {
	return "mqtt-" + uuid.New().String()
}
