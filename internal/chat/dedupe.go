package chat

import (
	"time"

	"github.com/pelusa-v/chatsession/internal/protocol"
)

const (
	DefaultDedupeWindow = 5 * time.Second
	maxRecent           = 256
)

type recentMessage struct {
	msg     protocol.Message
	arrived time.Time
}

// Deduper lets a conversation view drop messages it already shows, such as
// the server echo of an optimistically appended message. Messages match by id
// or, when either side has no id yet, by conversation, sender and content
// within a window. Creation times are compared when both messages carry one,
// arrival times otherwise.
type Deduper struct {
	window time.Duration
	now    func() time.Time
	ids    map[string]struct{}
	recent []recentMessage
}

func NewDeduper(window time.Duration) *Deduper {
	if window <= 0 {
		window = DefaultDedupeWindow
	}
	return &Deduper{window: window, now: time.Now, ids: map[string]struct{}{}}
}

// Seen reports whether msg duplicates one already recorded. New messages are
// recorded.
func (d *Deduper) Seen(msg protocol.Message) bool {
	now := d.now()
	d.prune(now)

	if msg.ID != "" {
		if _, ok := d.ids[msg.ID]; ok {
			return true
		}
	}
	for _, r := range d.recent {
		if r.msg.ID != "" && msg.ID != "" {
			continue
		}
		if r.msg.ConversationID != msg.ConversationID || r.msg.Sender.ID != msg.Sender.ID || r.msg.Content != msg.Content {
			continue
		}
		if d.within(r, msg, now) {
			if msg.ID != "" {
				d.ids[msg.ID] = struct{}{}
			}
			return true
		}
	}

	if msg.ID != "" {
		d.ids[msg.ID] = struct{}{}
	}
	d.recent = append(d.recent, recentMessage{msg: msg, arrived: now})
	if n := len(d.recent); n > maxRecent {
		d.recent = append(d.recent[:0], d.recent[n-maxRecent:]...)
	}
	return false
}

func (d *Deduper) within(r recentMessage, msg protocol.Message, now time.Time) bool {
	a, b := r.msg.CreatedAt, msg.CreatedAt
	if a.IsZero() || b.IsZero() {
		a, b = r.arrived, now
	}
	diff := a.Sub(b)
	if diff < 0 {
		diff = -diff
	}
	return diff <= d.window
}

// prune forgets candidates that arrived more than two windows ago.
func (d *Deduper) prune(now time.Time) {
	keep := d.recent[:0]
	for _, r := range d.recent {
		if now.Sub(r.arrived) <= 2*d.window {
			keep = append(keep, r)
		}
	}
	d.recent = keep
}
