package chat

import "github.com/rs/zerolog"

// Toast is a user-facing notification for a message in a conversation that
// is not on screen.
type Toast struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId,omitempty"`
	SenderID       string `json:"senderId"`
	SenderName     string `json:"senderName"`
	SenderAvatar   string `json:"senderAvatar,omitempty"`
	Content        string `json:"content"`
}

type Notifier interface {
	Notify(Toast)
}

type NotifierFunc func(Toast)

func (f NotifierFunc) Notify(t Toast) { f(t) }

// LogNotifier writes toasts to a logger. It is the default sink when the
// session runs without a UI.
type LogNotifier struct {
	Log zerolog.Logger
}

func (n LogNotifier) Notify(t Toast) {
	n.Log.Info().
		Str("conversation_id", t.ConversationID).
		Str("sender", t.SenderName).
		Str("content", t.Content).
		Msg("new message")
}
