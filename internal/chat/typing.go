package chat

import "sort"

// TypingState records who is typing in each conversation. Absence means not
// typing, so a false signal deletes the entry.
type TypingState struct {
	byConversation map[string]map[string]bool
}

func NewTypingState() *TypingState {
	return &TypingState{byConversation: map[string]map[string]bool{}}
}

// Set applies a typing signal and reports whether the state changed.
func (t *TypingState) Set(conversationID, userID string, isTyping bool) bool {
	users := t.byConversation[conversationID]
	if isTyping {
		if users[userID] {
			return false
		}
		if users == nil {
			users = map[string]bool{}
			t.byConversation[conversationID] = users
		}
		users[userID] = true
		return true
	}

	if !users[userID] {
		return false
	}
	delete(users, userID)
	if len(users) == 0 {
		delete(t.byConversation, conversationID)
	}
	return true
}

// Users returns the ids typing in a conversation, sorted.
func (t *TypingState) Users(conversationID string) []string {
	users := t.byConversation[conversationID]
	out := make([]string, 0, len(users))
	for id := range users {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (t *TypingState) Snapshot() map[string]map[string]bool {
	out := make(map[string]map[string]bool, len(t.byConversation))
	for conv, users := range t.byConversation {
		cp := make(map[string]bool, len(users))
		for id, v := range users {
			cp[id] = v
		}
		out[conv] = cp
	}
	return out
}
