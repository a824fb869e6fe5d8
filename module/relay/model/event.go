package model

import (
	"encoding/json"
	"fmt"
)

// 客户端 -> 服务端
const (
	EventJoin             = "join"
	EventSaveSubscription = "save_subscription"
	EventSendMessage      = "send_message"
	EventTyping           = "typing"
	EventMarkSeen         = "mark_seen"
	EventCheckUserStatus  = "check_user_status"
)

// 服务端 -> 客户端
const (
	EventUserOnline        = "user_online"
	EventUserOffline       = "user_offline"
	EventUpdateOnlineUsers = "update_online_users"
	EventMessageDelivered  = "message_delivered"
	EventReceiveMessage    = "receive_message"
	EventNotify            = "notify"
	EventMessageSeen       = "message_seen"
	EventError             = "error"
)

// Envelope is the wire frame in both directions: {"event": "...", "data": ...}.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope marshals payload into an envelope for event.
func NewEnvelope(event string, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", event, err)
	}
	return Envelope{Event: event, Data: data}, nil
}

// MustEnvelope is NewEnvelope for payload types that always marshal.
func MustEnvelope(event string, payload any) Envelope {
	env, err := NewEnvelope(event, payload)
	if err != nil {
		panic(err)
	}
	return env
}
