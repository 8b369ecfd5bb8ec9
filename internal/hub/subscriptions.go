package hub

import (
	"path"
	"sort"
	"strings"
)

// normalizeRoom trims the id, collapses repeated slashes and drops the
// leading one.
func normalizeRoom(room string) string {
	r := strings.TrimSpace(room)
	if r == "" {
		return ""
	}
	r = path.Clean("/" + r)
	return strings.TrimPrefix(r, "/")
}

// rooms tracks which connections joined which conversation. Membership is
// per connection, so a reconnecting client has to join again.
type rooms struct {
	byClient map[string]map[string]bool // client id -> set(room)
	byRoom   map[string]map[string]bool // room -> set(client id)
}

func newRooms() *rooms {
	return &rooms{
		byClient: map[string]map[string]bool{},
		byRoom:   map[string]map[string]bool{},
	}
}

func (r *rooms) join(clientID, room string) bool {
	room = normalizeRoom(room)
	if room == "" {
		return false
	}
	if _, ok := r.byClient[clientID]; !ok {
		r.byClient[clientID] = map[string]bool{}
	}
	r.byClient[clientID][room] = true
	if _, ok := r.byRoom[room]; !ok {
		r.byRoom[room] = map[string]bool{}
	}
	r.byRoom[room][clientID] = true
	return true
}

func (r *rooms) leave(clientID, room string) bool {
	room = normalizeRoom(room)
	if !r.byRoom[room][clientID] {
		return false
	}
	delete(r.byClient[clientID], room)
	if len(r.byClient[clientID]) == 0 {
		delete(r.byClient, clientID)
	}
	delete(r.byRoom[room], clientID)
	if len(r.byRoom[room]) == 0 {
		delete(r.byRoom, room)
	}
	return true
}

func (r *rooms) leaveAll(clientID string) {
	for room := range r.byClient[clientID] {
		r.leave(clientID, room)
	}
}

// members returns the client ids in a room, sorted.
func (r *rooms) members(room string) []string {
	set := r.byRoom[normalizeRoom(room)]
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (r *rooms) of(clientID string) []string {
	out := make([]string, 0, len(r.byClient[clientID]))
	for room := range r.byClient[clientID] {
		out = append(out, room)
	}
	sort.Strings(out)
	return out
}
