package chat

import "github.com/pelusa-v/chatsession/internal/protocol"

// Invoker issues fire-and-forget remote calls.
type Invoker interface {
	Invoke(method string, args ...any)
}

// MembershipTracker keeps the joined room equal to the conversation on
// screen. At most one conversation is joined at a time.
//
// It is not safe for concurrent use; the Coordinator serialises access.
type MembershipTracker struct {
	invoker Invoker
	active  string
}

func NewMembershipTracker(invoker Invoker) *MembershipTracker {
	return &MembershipTracker{invoker: invoker}
}

// SetActive leaves the previous conversation and joins id. An empty id means
// no conversation is on screen. Setting the current id again does nothing.
func (m *MembershipTracker) SetActive(id string) {
	if id == m.active {
		return
	}
	if m.active != "" {
		m.invoker.Invoke(protocol.MethodLeaveChat, m.active)
	}
	m.active = id
	if id != "" {
		m.invoker.Invoke(protocol.MethodJoinChat, id)
	}
}

func (m *MembershipTracker) Active() string { return m.active }

// Rejoin re-issues the join for the active conversation after a reconnect.
func (m *MembershipTracker) Rejoin() {
	if m.active != "" {
		m.invoker.Invoke(protocol.MethodJoinChat, m.active)
	}
}
