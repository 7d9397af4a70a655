// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"sync"

	"github.com/c3pb/rabbitmq-mqtt/pkg/message"
)

// Retainer is the per-vhost retained-message store external collaborator
// of spec.md §1: retain, clear, fetch. It is shared across many
// processor actors, so implementations must be safe for concurrent use.
type Retainer interface {
	Retain(vhost, topic string, msg message.Msg)
	Clear(vhost, topic string)
	Fetch(vhost, topic string) []message.Msg
}

// MemRetainer is a simple in-process Retainer, the default used when no
// external retainer service is wired in. It stores at most one message
// per (vhost, topic) pair, matching "the most recent PUBLISH on a topic
// with retain=true" from the glossary.
type MemRetainer struct {
	mu    sync.RWMutex
	byKey map[string]message.Msg
}

// NewMemRetainer creates an empty in-memory retainer.
func NewMemRetainer() *MemRetainer {
	return &MemRetainer{byKey: make(map[string]message.Msg)}
}

func retainerKey(vhost, topic string) string {
	return vhost + "\x00" + topic
}

func (r *MemRetainer) Retain(vhost, topic string, msg message.Msg) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byKey[retainerKey(vhost, topic)] = msg
}

func (r *MemRetainer) Clear(vhost, topic string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byKey, retainerKey(vhost, topic))
}

// Fetch returns the retained message for topic, if any, as a
// single-element slice — subscriptions to a topic filter containing
// wildcards would fan this out over multiple concrete topics, which the
// caller (the real retainer service) is responsible for; this in-memory
// default only supports exact-topic fetch.
func (r *MemRetainer) Fetch(vhost, topic string) []message.Msg {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if m, ok := r.byKey[retainerKey(vhost, topic)]; ok {
		return []message.Msg{m}
	}
	return nil
}
