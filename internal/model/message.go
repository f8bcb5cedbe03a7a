// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the sender of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// Valid reports whether the role is one of the known chat roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

// =============================================================================
// CHAT MESSAGE (WIRE SHAPE)
// =============================================================================

// ChatMessage is the ephemeral role/content pair submitted to a model.
// It carries no identity; persisted copies are represented by Message.
type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`

	// Name is an optional participant name. When set, the role token is
	// omitted by the chat framing, which the token estimator compensates for.
	Name string `json:"name,omitempty"`
}

// NewChatMessage builds a chat message for the given role and content.
func NewChatMessage(role Role, content string) ChatMessage {
	return ChatMessage{Role: role, Content: content}
}

// Fields returns the encoded field values of the message in a stable order,
// plus whether a name field is present. The token estimator sums the encoded
// length of every field value.
func (m ChatMessage) Fields() (values []string, hasName bool) {
	values = []string{string(m.Role), m.Content}
	if m.Name != "" {
		values = append(values, m.Name)
		hasName = true
	}
	return values, hasName
}

// =============================================================================
// PERSISTED MESSAGE
// =============================================================================

// Message is a persisted conversation message.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Role           Role      `json:"role"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

// NewMessage creates a persisted message with a generated ID.
func NewMessage(conversationID string, role Role, content string) *Message {
	return &Message{
		ID:             NewID("msg"),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		CreatedAt:      time.Now().UTC(),
	}
}

// Chat converts the persisted message to its wire shape.
func (m *Message) Chat() ChatMessage {
	return ChatMessage{Role: m.Role, Content: m.Content}
}

// ToChat converts an ordered slice of persisted messages to wire shape,
// preserving order.
func ToChat(messages []*Message) []ChatMessage {
	out := make([]ChatMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, m.Chat())
	}
	return out
}

// =============================================================================
// ID GENERATION
// =============================================================================

// NewID generates a prefixed unique identifier (e.g. "msg_3f2a...").
func NewID(prefix string) string {
	return prefix + "_" + uuid.NewString()
}
