// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package session

// orderedMap is a minimal insertion-ordered map with smallest-key-first
// extraction, used for unacked_pubs (AMQP seqno -> MQTT message id) and
// awaiting_ack (MQTT message id -> AMQP delivery tag). Go's builtin map
// has no defined iteration order, which cumulative-ack processing (§4.8)
// depends on — this is the one spot the teacher's plain-map style can't
// be reused as-is (see spec.md §9's own design note on ordered maps).
type orderedMap struct {
	keys   []uint64
	values map[uint64]uint64
}

func newOrderedMap() *orderedMap {
	return &orderedMap{values: make(map[uint64]uint64)}
}

// Insert appends a new (key, value) pair. Per spec.md §3, keys are
// strictly increasing in insertion order for unacked_pubs; callers are
// responsible for that invariant.
func (m *orderedMap) Insert(key, value uint64) {
	if _, exists := m.values[key]; !exists {
		m.keys = append(m.keys, key)
	}
	m.values[key] = value
}

// Get looks up a value by key.
func (m *orderedMap) Get(key uint64) (uint64, bool) {
	v, ok := m.values[key]
	return v, ok
}

// Delete removes a key.
func (m *orderedMap) Delete(key uint64) {
	if _, ok := m.values[key]; !ok {
		return
	}
	delete(m.values, key)
	for i, k := range m.keys {
		if k == key {
			m.keys = append(m.keys[:i], m.keys[i+1:]...)
			break
		}
	}
}

// Len returns the number of entries.
func (m *orderedMap) Len() int {
	return len(m.keys)
}

// PopLE removes and returns, in ascending key order, every entry whose
// key is <= max. Used by cumulative basic.ack processing.
func (m *orderedMap) PopLE(max uint64) []struct{ Key, Value uint64 } {
	var popped []struct{ Key, Value uint64 }
	for m.Len() > 0 && m.keys[0] <= max {
		k := m.keys[0]
		v := m.values[k]
		popped = append(popped, struct{ Key, Value uint64 }{k, v})
		m.Delete(k)
	}
	return popped
}
