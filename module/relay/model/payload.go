package model

import "encoding/json"

// Join 绑定身份
type Join struct {
	UserID string `json:"userId"`
}

// SaveSubscription 保存推送订阅，Subscription 对服务端不透明
type SaveSubscription struct {
	UserID       string          `json:"userId"`
	Subscription json.RawMessage `json:"subscription"`
}

// SendMessage 点对点消息，只在一次路由内存在
type SendMessage struct {
	SenderID          string `json:"senderId"`
	ReceiverID        string `json:"receiverId"`
	Body              string `json:"body"`
	Time              string `json:"time"`
	SenderDisplayName string `json:"senderDisplayName"`

	// 旧客户端字段
	Message    string `json:"message"`
	SenderName string `json:"senderName"`
}

// Normalize folds the legacy field names into Body and SenderDisplayName.
func (m *SendMessage) Normalize() {
	if m.Body == "" {
		m.Body = m.Message
	}
	if m.SenderDisplayName == "" {
		m.SenderDisplayName = m.SenderName
	}
	m.Message, m.SenderName = "", ""
}

// DisplayName falls back to the sender id when no display name was sent.
func (m *SendMessage) DisplayName() string {
	if m.SenderDisplayName != "" {
		return m.SenderDisplayName
	}
	return m.SenderID
}

// Typing 输入中信号，入站和出站共用
type Typing struct {
	SenderID   string `json:"senderId"`
	ReceiverID string `json:"receiverId,omitempty"`
}

// SeenEntry 一条已读确认
type SeenEntry struct {
	ID       string `json:"id"`
	SenderID string `json:"senderId"`
}

// MarkSeen 接收方批量确认已读
type MarkSeen struct {
	ReceiverID   string      `json:"receiverId"`
	SeenMessages []SeenEntry `json:"seenMessages"`
}

// CheckUserStatus 单次在线查询
type CheckUserStatus struct {
	UserID string `json:"userId"`
}

// UserStatus is the payload of user_online and user_offline.
type UserStatus struct {
	UserID string `json:"userId"`
}

type MessageDelivered struct {
	ReceiverID string `json:"receiverId"`
	Time       string `json:"time"`
}

type ReceiveMessage struct {
	Body              string `json:"body"`
	SenderID          string `json:"senderId"`
	Time              string `json:"time"`
	SenderDisplayName string `json:"senderDisplayName,omitempty"`
}

type Notify struct {
	From string `json:"from"`
	Body string `json:"body"`
	Time string `json:"time"`
}

type MessageSeen struct {
	MessageID string `json:"messageId"`
	Time      string `json:"time"`
}

// ErrorReply is sent back to the originating session when an inbound event is rejected.
type ErrorReply struct {
	Event string `json:"event"`
	Code  int    `json:"code"`
	Msg   string `json:"msg"`
}
