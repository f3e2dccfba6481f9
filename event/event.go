//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package event defines the wire events a run emits to its client.
package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Envelope keys. They are reserved and never carried inside a payload.
const (
	KeySeq       = "seq"
	KeyType      = "type"
	KeyTimestamp = "timestamp"
)

// Event is one immutable wire-protocol unit. It serializes as a flat JSON
// object: the envelope keys first, then the payload fields in insertion order.
type Event struct {
	// Seq is strictly increasing within a run, starting at 1.
	Seq int64
	// Type is one of the Type* constants.
	Type string
	// Timestamp is the emission time in epoch milliseconds.
	Timestamp int64
	// Payload holds the event specific fields.
	Payload *Payload
}

// New builds an event, copying payload without reserved keys.
func New(seq int64, typ string, ts time.Time, payload *Payload) *Event {
	return &Event{
		Seq:       seq,
		Type:      typ,
		Timestamp: ts.UnixMilli(),
		Payload:   payload.Clone(),
	}
}

// Get returns a payload field.
func (e *Event) Get(key string) (any, bool) {
	if e == nil {
		return nil, false
	}
	return e.Payload.Get(key)
}

// String returns the payload field as a string, or "" when absent or of
// another type.
func (e *Event) String(key string) string {
	v, _ := e.Get(key)
	s, _ := v.(string)
	return s
}

// Time returns the event timestamp.
func (e *Event) Time() time.Time {
	return time.UnixMilli(e.Timestamp)
}

// MarshalJSON implements json.Marshaler.
func (e *Event) MarshalJSON() ([]byte, error) {
	om := orderedmap.New[string, any]()
	om.Set(KeySeq, e.Seq)
	om.Set(KeyType, e.Type)
	om.Set(KeyTimestamp, e.Timestamp)
	if e.Payload != nil {
		for pair := e.Payload.m.Oldest(); pair != nil; pair = pair.Next() {
			om.Set(pair.Key, pair.Value)
		}
	}
	return json.Marshal(om)
}

// UnmarshalJSON implements json.Unmarshaler. Numbers inside the payload decode
// as float64, nested objects as map[string]any.
func (e *Event) UnmarshalJSON(data []byte) error {
	om := orderedmap.New[string, any]()
	if err := json.Unmarshal(data, om); err != nil {
		return err
	}
	typ, ok := om.Get(KeyType)
	if !ok {
		return errors.New("event: missing type")
	}
	e.Type, ok = typ.(string)
	if !ok {
		return fmt.Errorf("event: type is %T, want string", typ)
	}
	seq, err := int64Field(om, KeySeq)
	if err != nil {
		return err
	}
	ts, err := int64Field(om, KeyTimestamp)
	if err != nil {
		return err
	}
	e.Seq, e.Timestamp = seq, ts
	e.Payload = NewPayload()
	for pair := om.Oldest(); pair != nil; pair = pair.Next() {
		e.Payload.Set(pair.Key, pair.Value)
	}
	return nil
}

func int64Field(om *orderedmap.OrderedMap[string, any], key string) (int64, error) {
	v, ok := om.Get(key)
	if !ok {
		return 0, fmt.Errorf("event: missing %s", key)
	}
	f, ok := v.(float64)
	if !ok {
		return 0, fmt.Errorf("event: %s is %T, want number", key, v)
	}
	return int64(f), nil
}
