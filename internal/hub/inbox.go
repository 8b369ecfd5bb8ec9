package hub

import "sort"

type thread struct {
	preview ThreadPreview
	members map[string]string // user id -> display name
}

// inbox keeps a preview of every conversation that saw activity.
type inbox struct {
	threads map[string]*thread
}

func newInbox() *inbox {
	return &inbox{threads: map[string]*thread{}}
}

func (in *inbox) ensure(id string) *thread {
	t, ok := in.threads[id]
	if !ok {
		t = &thread{
			preview: ThreadPreview{ID: id, Kind: ThreadDirect, Title: id},
			members: map[string]string{},
		}
		in.threads[id] = t
	}
	return t
}

// touch records a participant without changing the preview text.
func (in *inbox) touch(id, userID, name string) {
	t := in.ensure(id)
	t.members[userID] = name
	if len(t.members) > 2 {
		t.preview.Kind = ThreadGroup
	}
}

func (in *inbox) record(msg MessageRecord) {
	in.touch(msg.ConversationID, msg.Sender.ID, msg.Sender.DisplayName)
	t := in.threads[msg.ConversationID]
	t.preview.LastMessage = msg.Content
	t.preview.LastMessageAt = msg.CreatedAt
}

// list returns the previews of the threads userID takes part in, most
// recent first. A direct thread is titled with the other participant's name.
func (in *inbox) list(userID string) []ThreadPreview {
	out := make([]ThreadPreview, 0, len(in.threads))
	for _, t := range in.threads {
		if _, ok := t.members[userID]; !ok {
			continue
		}
		p := t.preview
		if p.Kind == ThreadDirect {
			for id, name := range t.members {
				if id != userID && name != "" {
					p.Title = name
				}
			}
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastMessageAt.Equal(out[j].LastMessageAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].LastMessageAt.After(out[j].LastMessageAt)
	})
	return out
}
