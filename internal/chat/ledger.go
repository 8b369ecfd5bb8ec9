package chat

// UnreadLedger counts unread messages per conversation. A conversation is
// present only while its count is positive; reading it removes the entry.
//
// It is not safe for concurrent use; the Coordinator serialises access.
type UnreadLedger struct {
	counts map[string]int
}

func NewUnreadLedger() *UnreadLedger {
	return &UnreadLedger{counts: map[string]int{}}
}

// RecordIncoming counts one message unless it was sent by the local user or
// belongs to the conversation on screen. It reports whether it counted.
func (l *UnreadLedger) RecordIncoming(conversationID string, senderIsSelf, isActiveConversation bool) bool {
	if conversationID == "" || senderIsSelf || isActiveConversation {
		return false
	}
	l.counts[conversationID]++
	return true
}

func (l *UnreadLedger) MarkRead(conversationID string) {
	delete(l.counts, conversationID)
}

func (l *UnreadLedger) Count(conversationID string) int {
	return l.counts[conversationID]
}

// Total is recomputed on every call.
func (l *UnreadLedger) Total() int {
	total := 0
	for _, n := range l.counts {
		total += n
	}
	return total
}

func (l *UnreadLedger) Snapshot() map[string]int {
	out := make(map[string]int, len(l.counts))
	for id, n := range l.counts {
		out[id] = n
	}
	return out
}
