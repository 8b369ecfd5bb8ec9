package hub

import "time"

// MessageRecord is a persisted message as the hub delivers it.
type MessageRecord struct {
	ID             string    `json:"messageId"`
	ConversationID string    `json:"conversationId"`
	Sender         Sender    `json:"sender"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"createdAt"`
}

type Sender struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Avatar      string `json:"avatar,omitempty"`
}

type TypingRecord struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	IsTyping       bool   `json:"isTyping"`
}

type ThreadKind string

const (
	ThreadDirect ThreadKind = "direct"
	ThreadGroup  ThreadKind = "group"
)

// ThreadPreview is one entry of the conversation list.
type ThreadPreview struct {
	ID            string     `json:"id"`
	Kind          ThreadKind `json:"kind"`
	Title         string     `json:"title"`
	LastMessage   string     `json:"lastMessage,omitempty"`
	LastMessageAt time.Time  `json:"lastMessageAt"`
}

type ClientInfo struct {
	ID     string `json:"id"`
	UserID string `json:"userId"`
	Name   string `json:"name"`
}
