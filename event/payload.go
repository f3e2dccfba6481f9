//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package event

import (
	"encoding/json"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Payload is an insertion-ordered string to value map. Reserved envelope keys
// are silently ignored by Set.
type Payload struct {
	m *orderedmap.OrderedMap[string, any]
}

// NewPayload returns an empty payload.
func NewPayload() *Payload {
	return &Payload{m: orderedmap.New[string, any]()}
}

// IsReserved reports whether key belongs to the envelope.
func IsReserved(key string) bool {
	return key == KeySeq || key == KeyType || key == KeyTimestamp
}

// Set stores value under key and returns p for chaining.
func (p *Payload) Set(key string, value any) *Payload {
	if IsReserved(key) {
		return p
	}
	p.m.Set(key, value)
	return p
}

// SetNonEmpty stores value only when it is not the empty string.
func (p *Payload) SetNonEmpty(key, value string) *Payload {
	if value == "" {
		return p
	}
	return p.Set(key, value)
}

// SetNonNil stores value only when it is not nil.
func (p *Payload) SetNonNil(key string, value any) *Payload {
	if value == nil {
		return p
	}
	return p.Set(key, value)
}

// Get returns the value stored under key.
func (p *Payload) Get(key string) (any, bool) {
	if p == nil {
		return nil, false
	}
	return p.m.Get(key)
}

// Keys returns the keys in insertion order.
func (p *Payload) Keys() []string {
	if p == nil {
		return nil
	}
	keys := make([]string, 0, p.m.Len())
	for pair := p.m.Oldest(); pair != nil; pair = pair.Next() {
		keys = append(keys, pair.Key)
	}
	return keys
}

// Len returns the number of entries.
func (p *Payload) Len() int {
	if p == nil {
		return 0
	}
	return p.m.Len()
}

// Clone returns a shallow copy that drops reserved keys. A nil payload clones
// to an empty one.
func (p *Payload) Clone() *Payload {
	out := NewPayload()
	if p == nil {
		return out
	}
	for pair := p.m.Oldest(); pair != nil; pair = pair.Next() {
		out.Set(pair.Key, pair.Value)
	}
	return out
}

// MarshalJSON implements json.Marshaler.
func (p *Payload) MarshalJSON() ([]byte, error) {
	if p == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(p.m)
}
