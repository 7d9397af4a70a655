// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"errors"
	"log/slog"

	"github.com/eclipse/paho.mqtt.golang/packets"

	"github.com/c3pb/rabbitmq-mqtt/pkg/amqp"
	amqperrors "github.com/c3pb/rabbitmq-mqtt/pkg/errors"
	"github.com/c3pb/rabbitmq-mqtt/pkg/handler"
	"github.com/c3pb/rabbitmq-mqtt/pkg/queue"
	"github.com/c3pb/rabbitmq-mqtt/pkg/vhost"
	"github.com/c3pb/rabbitmq-mqtt/pkg/will"
)

// handleConnect implements spec.md §4.2's CONNECT handling end to end.
func (p *Processor) handleConnect(ctx context.Context, pkt *packets.ConnectPacket) error {
	clientID := pkt.ClientIdentifier
	if clientID == "" {
		clientID = newClientID()
		p.State.AdapterInfo.ClientProperties = ensureTable(p.State.AdapterInfo.ClientProperties)
		p.State.AdapterInfo.ClientProperties["client_id"] = clientID
	}

	if _, ok := acceptedProtoVersions[pkt.ProtocolVersion]; !ok {
		return p.send(connack(ConnackUnacceptableProtoVersion, false))
	}

	if pkt.ClientIdentifier == "" && !pkt.CleanSession {
		return p.send(connack(ConnackIdentifierRejected, false))
	}

	hasUsername := pkt.UsernameFlag
	hasPassword := pkt.PasswordFlag
	tlsCN, hasTLSCN := p.tlsCommonName()

	creds := vhost.ResolveCredentials(p.cfg.vhostConfig(), pkt.Username, hasUsername, pkt.Password, hasPassword, tlsCN, hasTLSCN)
	if creds.Kind != vhost.CredOK {
		return p.send(connack(ConnackBadUsernameOrPassword, false))
	}

	vh, effectiveUser, strategy := vhost.ResolveVhost(p.cfg.vhostConfig(), creds.Username, tlsCN, hasTLSCN, p.State.AdapterInfo.Port)
	if !p.vhostExists(vh) {
		return p.send(connack(ConnackBadUsernameOrPassword, false))
	}

	p.logger.Debug("resolved vhost", slog.String("vhost", vh), slog.String("strategy", string(strategy)))

	clientProps := ensureTable(p.State.AdapterInfo.ClientProperties)
	clientProps["mqtt_version"] = ProtocolVersionString(pkt.ProtocolVersion)

	conn, err := p.dialer.Dial(ctx, vh, effectiveUser, creds.Password, clientProps)
	if err != nil {
		switch {
		case errors.Is(err, amqperrors.ErrAuthFailure):
			return p.send(connack(ConnackBadUsernameOrPassword, false))
		case errors.Is(err, amqperrors.ErrAccessRefused), errors.Is(err, amqperrors.ErrNotAllowed):
			return p.send(connack(ConnackNotAuthorized, false))
		default:
			// Broker unreachable: no CONNACK code exists for this in
			// spec.md §6, so it is mapped to not-authorized (decided,
			// see DESIGN.md).
			p.logger.Warn("amqp dial failed", slog.String("error", err.Error()))
			return p.send(connack(ConnackNotAuthorized, false))
		}
	}

	hctx := &handler.Context{
		SessionID:    clientID,
		Username:     effectiveUser,
		Password:     creds.Password,
		ClientID:     clientID,
		RemoteAddr:   p.State.AdapterInfo.PeerHost,
		Protocol:     "mqtt",
		ListenerPort: p.State.AdapterInfo.Port,
		Vhost:        vh,
	}
	if err := p.acl.AuthConnect(ctx, hctx); err != nil {
		conn.Close()
		return p.send(connack(ConnackNotAuthorized, false))
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return p.send(connack(ConnackNotAuthorized, false))
	}
	if err := ch.Qos(p.cfg.Prefetch); err != nil {
		conn.Close()
		return p.send(connack(ConnackNotAuthorized, false))
	}

	p.collect.Register(clientID)

	w, hasWill := will.FromConnect(pkt)

	p.State.Connection = conn
	p.State.Channels[0] = ch
	p.State.ClientID = clientID
	p.State.CleanSess = pkt.CleanSession
	p.State.Auth = AuthState{User: creds.Username, Username: effectiveUser, Vhost: vh}
	p.State.QueueMgr = queue.New(ch, clientID, pkt.CleanSession, p.cfg.SubscriptionTTLMs, p.cfg.HasSubscriptionTTL)
	if hasWill {
		p.State.WillMsg = &w
	}

	sessionPresent, err := p.applyCleanSessionPolicy(ctx)
	if err != nil {
		p.logger.Warn("clean-session policy setup failed", slog.String("error", err.Error()))
	}

	_ = p.acl.OnConnect(ctx, hctx)

	return p.send(connack(ConnackAccepted, sessionPresent))
}

// applyCleanSessionPolicy implements spec.md §4.3.
func (p *Processor) applyCleanSessionPolicy(ctx context.Context) (sessionPresent bool, err error) {
	_, qos1Name := queue.Names(p.State.ClientID)

	if !p.State.CleanSess {
		sessionPresent = queue.SessionPresent(ctx, p.State.Connection, qos1Name)
		if _, err := p.State.QueueMgr.EnsureQueue(ctx, 1); err != nil {
			return false, err
		}
		return sessionPresent, nil
	}

	queue.DeleteQoS1Queue(ctx, p.State.Connection, qos1Name)
	return false, nil
}

func (p *Processor) send(pkt packets.ControlPacket) error {
	if p.State.SendFunc == nil {
		return nil
	}
	return p.State.SendFunc(pkt)
}

func (p *Processor) tlsCommonName() (string, bool) {
	if p.State.AdapterInfo.SSLLoginName == "" {
		return "", false
	}
	return p.State.AdapterInfo.SSLLoginName, true
}

func (p *Processor) vhostExists(vh string) bool {
	if p.cfg.KnownVhosts == nil {
		return true
	}
	return p.cfg.KnownVhosts[vh]
}

func ensureTable(t amqp.Table) amqp.Table {
	if t == nil {
		return amqp.Table{}
	}
	return t
}
