/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package service

import (
	"encoding/json"
	"errors"
	"fmt"
)

const (
	jsonID             = "@id"
	jsonType           = "@type"
	jsonThread         = "~thread"
	jsonThreadID       = "thid"
	jsonParentThreadID = "pthid"
)

// ErrThreadIDNotFound is returned when a message carries neither a thread id nor a message id.
var ErrThreadIDNotFound = errors.New("threadID not found")

// MsgMap is a protocol message in its generic JSON object form.
type MsgMap map[string]interface{}

// NewMsgMap converts v into a MsgMap. v is a protocol message struct or raw JSON bytes.
func NewMsgMap(v interface{}) (MsgMap, error) {
	var (
		raw []byte
		err error
	)

	switch t := v.(type) {
	case []byte:
		raw = t
	case json.RawMessage:
		raw = t
	default:
		raw, err = json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("marshal message: %w", err)
		}
	}

	msg := MsgMap{}
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("unmarshal message: %w", err)
	}

	return msg, nil
}

// ID returns the message id.
func (m MsgMap) ID() string {
	return m.str(jsonID)
}

// SetID sets the message id.
func (m MsgMap) SetID(id string) {
	m[jsonID] = id
}

// Type returns the message type.
func (m MsgMap) Type() string {
	return m.str(jsonType)
}

// ThreadID returns the thread id. A message opening a thread uses its own id.
func (m MsgMap) ThreadID() (string, error) {
	if thid := m.threadField(jsonThreadID); thid != "" {
		return thid, nil
	}

	if id := m.ID(); id != "" {
		return id, nil
	}

	return "", ErrThreadIDNotFound
}

// ParentThreadID returns the parent thread id, if any.
func (m MsgMap) ParentThreadID() string {
	return m.threadField(jsonParentThreadID)
}

// SetThread sets the thread decorator. Empty values are left out.
func (m MsgMap) SetThread(thID, pthID string) {
	thread := map[string]interface{}{}

	if thID != "" {
		thread[jsonThreadID] = thID
	}

	if pthID != "" {
		thread[jsonParentThreadID] = pthID
	}

	if len(thread) == 0 {
		return
	}

	m[jsonThread] = thread
}

// UnsetThread removes the thread decorator.
func (m MsgMap) UnsetThread() {
	delete(m, jsonThread)
}

// Decode converts the message into v.
func (m MsgMap) Decode(v interface{}) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	return json.Unmarshal(raw, v)
}

// Clone returns a deep copy of the message.
func (m MsgMap) Clone() MsgMap {
	if m == nil {
		return nil
	}

	raw, err := json.Marshal(m)
	if err != nil {
		return nil
	}

	clone := MsgMap{}
	if err := json.Unmarshal(raw, &clone); err != nil {
		return nil
	}

	return clone
}

func (m MsgMap) str(key string) string {
	if m == nil {
		return ""
	}

	s, _ := m[key].(string) // nolint: errcheck

	return s
}

func (m MsgMap) threadField(key string) string {
	if m == nil {
		return ""
	}

	thread, ok := m[jsonThread].(map[string]interface{})
	if !ok {
		return ""
	}

	s, _ := thread[key].(string) // nolint: errcheck

	return s
}
