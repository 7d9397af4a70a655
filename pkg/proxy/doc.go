// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package proxy wires together the two MQTT listener transports the
// bridge exposes: plain TCP (pkg/server/tcp) and WebSocket. Both drive
// the same session.Processor actor per connection; only how bytes reach
// the actor differs.
package proxy
