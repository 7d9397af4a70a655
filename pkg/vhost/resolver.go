// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package vhost resolves AMQP credentials and virtual host selection from
// an MQTT CONNECT packet's auth fields and listener metadata. Every
// function here is pure: identical inputs always yield identical outputs,
// so the resolver can be exercised without a live broker or ACL service.
package vhost

import (
	"strings"
)

// Strategy tags the decision path the resolver took, for logging.
type Strategy string

const (
	StrategyVhostInUsernameOrDefault Strategy = "vhost_in_username_or_default"
	StrategyPortMapping              Strategy = "port_to_vhost_mapping"
	StrategyDefaultVhost             Strategy = "default_vhost"
	StrategyCertMapping              Strategy = "cert_to_vhost_mapping"
)

// CredKind distinguishes why credential resolution failed, if it did.
type CredKind int

const (
	CredOK CredKind = iota
	CredInvalid
	CredNone
)

// Config carries the static configuration the resolver consults.
type Config struct {
	DefaultUser             string
	DefaultPass             string
	AllowAnonymous          bool
	SSLCertLogin            bool
	DefaultVhost            string
	IgnoreColonsInUsername  bool
	CertToVhost             map[string]string // TLS common name -> vhost
	PortToVhost             map[string]string // listener port (as string) -> vhost
}

// noPasswordMarker is returned as the password for TLS certificate logins,
// where the client presents no MQTT password at all.
var noPasswordMarker = []byte{}

// Credentials is the resolved (username, password) pair plus whether a
// password was actually supplied (vs. the TLS no-password marker).
type Credentials struct {
	Kind     CredKind
	Username string
	Password []byte
	HasPass  bool
}

// ResolveCredentials implements the priority-ordered credential selection
// of the CONNECT handshake: explicit username+password, then TLS CN login,
// then anonymous defaults, then failure.
func ResolveCredentials(cfg Config, username string, hasUsername bool, password []byte, hasPassword bool, tlsCN string, hasTLSCN bool) Credentials {
	switch {
	case hasUsername && hasPassword:
		return Credentials{Kind: CredOK, Username: username, Password: password, HasPass: true}

	case hasUsername != hasPassword:
		return Credentials{Kind: CredInvalid}

	case cfg.SSLCertLogin && hasTLSCN:
		return Credentials{Kind: CredOK, Username: tlsCN, Password: noPasswordMarker, HasPass: false}

	case cfg.AllowAnonymous && cfg.DefaultUser != "" && cfg.DefaultPass != "":
		return Credentials{Kind: CredOK, Username: cfg.DefaultUser, Password: []byte(cfg.DefaultPass), HasPass: true}

	default:
		return Credentials{Kind: CredNone}
	}
}

// splitVhostUsername splits "vhost:user" on the LAST colon only — the
// source regex is ":(?!.*?:)", i.e. a colon not followed by any further
// colon.
func splitVhostUsername(username string) (vhost, user string, ok bool) {
	idx := strings.LastIndex(username, ":")
	if idx < 0 {
		return "", "", false
	}
	return username[:idx], username[idx+1:], true
}

// ResolveVhost implements §4.1's vhost selection. username is the raw
// CONNECT username (before any vhost split); listenerPort is the string
// form of the port the client connected to.
func ResolveVhost(cfg Config, username string, tlsCN string, hasTLSCN bool, listenerPort string) (vhost, effectiveUsername string, strategy Strategy) {
	if hasTLSCN {
		if v, ok := cfg.CertToVhost[tlsCN]; ok {
			return v, username, StrategyCertMapping
		}
		if v, ok := cfg.PortToVhost[listenerPort]; ok {
			return v, username, StrategyPortMapping
		}
		return resolveFromUsernameOrDefault(cfg, username)
	}

	if !cfg.IgnoreColonsInUsername {
		if v, u, ok := splitVhostUsername(username); ok {
			return v, u, StrategyVhostInUsernameOrDefault
		}
	}
	if v, ok := cfg.PortToVhost[listenerPort]; ok {
		return v, username, StrategyPortMapping
	}
	return cfg.DefaultVhost, username, StrategyDefaultVhost
}

func resolveFromUsernameOrDefault(cfg Config, username string) (vhost, effectiveUsername string, strategy Strategy) {
	if !cfg.IgnoreColonsInUsername {
		if v, u, ok := splitVhostUsername(username); ok {
			return v, u, StrategyVhostInUsernameOrDefault
		}
	}
	return cfg.DefaultVhost, username, StrategyVhostInUsernameOrDefault
}
