package protocol

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

type Sender struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Avatar      string `json:"avatar,omitempty"`
}

// Message is the canonical inbound chat message.
type Message struct {
	ID             string    `json:"messageId,omitempty"`
	ConversationID string    `json:"conversationId"`
	Sender         Sender    `json:"sender"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Typing is the canonical inbound typing indicator.
type Typing struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	IsTyping       bool   `json:"isTyping"`
}

var (
	conversationKeys = []string{"conversationid", "chatid", "roomid"}
	messageIDKeys    = []string{"messageid", "id"}
	userIDKeys       = []string{"userid", "id"}
	nameKeys         = []string{"displayname", "fullname", "username", "name"}
	avatarKeys       = []string{"avatar", "avatarurl", "profilepicture"}
	contentKeys      = []string{"content", "text", "body"}
	createdAtKeys    = []string{"createdat", "sentat", "timestamp"}
	typingKeys       = []string{"istyping", "typing"}
)

// NormalizeMessage maps the arguments of a ReceiveMessage invocation onto a
// Message. ok is false when no conversation id can be recovered.
func NormalizeMessage(args []json.RawMessage) (Message, bool) {
	if len(args) == 0 {
		return Message{}, false
	}
	f, isObj := decodeFields(args[0])
	if !isObj {
		return Message{}, false
	}
	if inner := f.obj("message"); inner != nil && inner.str(conversationKeys...) != "" {
		f = inner
	}

	msg := Message{
		ID:             f.str(messageIDKeys...),
		ConversationID: f.str(conversationKeys...),
		Content:        f.str(contentKeys...),
		CreatedAt:      f.time(createdAtKeys...),
	}
	if msg.ConversationID == "" {
		return Message{}, false
	}

	if s := f.obj("sender", "user", "from"); s != nil {
		msg.Sender = Sender{
			ID:          s.str(userIDKeys...),
			DisplayName: s.str(nameKeys...),
			Avatar:      s.str(avatarKeys...),
		}
	}
	if msg.Sender.ID == "" {
		msg.Sender.ID = f.str("senderid", "userid", "fromid")
	}
	if msg.Sender.DisplayName == "" {
		msg.Sender.DisplayName = f.str("sendername", "senderdisplayname")
	}
	if msg.Sender.Avatar == "" {
		msg.Sender.Avatar = f.str("senderavatar", "senderavatarurl")
	}
	return msg, true
}

// NormalizeTyping accepts either a single object argument or the positional
// form (conversationId, userId, isTyping).
func NormalizeTyping(args []json.RawMessage) (Typing, bool) {
	if len(args) == 0 {
		return Typing{}, false
	}

	var t Typing
	if f, isObj := decodeFields(args[0]); isObj {
		t.ConversationID = f.str(conversationKeys...)
		t.UserID = f.str("userid", "senderid")
		if s := f.obj("user", "sender"); t.UserID == "" && s != nil {
			t.UserID = s.str(userIDKeys...)
		}
		t.IsTyping, _ = f.boolean(typingKeys...)
	} else {
		if len(args) < 3 {
			return Typing{}, false
		}
		t.ConversationID = scalarString(decodeValue(args[0]))
		t.UserID = scalarString(decodeValue(args[1]))
		t.IsTyping, _ = scalarBool(decodeValue(args[2]))
	}

	if t.ConversationID == "" || t.UserID == "" {
		return Typing{}, false
	}
	return t, true
}

// fields holds a decoded JSON object with lower-cased keys.
type fields map[string]any

func decodeValue(raw json.RawMessage) any {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil
	}
	return v
}

func decodeFields(raw json.RawMessage) (fields, bool) {
	m, ok := decodeValue(raw).(map[string]any)
	if !ok {
		return nil, false
	}
	return lowerKeys(m), true
}

func lowerKeys(m map[string]any) fields {
	f := make(fields, len(m))
	for k, v := range m {
		lk := strings.ToLower(k)
		// chatId and ChatId may both be present; keep a non-null one.
		if existing, ok := f[lk]; ok && existing != nil {
			continue
		}
		f[lk] = v
	}
	return f
}

func (f fields) str(keys ...string) string {
	for _, k := range keys {
		if s := scalarString(f[k]); s != "" {
			return s
		}
	}
	return ""
}

func (f fields) obj(keys ...string) fields {
	for _, k := range keys {
		if m, ok := f[k].(map[string]any); ok {
			return lowerKeys(m)
		}
	}
	return nil
}

func (f fields) boolean(keys ...string) (bool, bool) {
	for _, k := range keys {
		if b, ok := scalarBool(f[k]); ok {
			return b, true
		}
	}
	return false, false
}

func (f fields) time(keys ...string) time.Time {
	for _, k := range keys {
		switch v := f[k].(type) {
		case string:
			if t, ok := parseTime(v); ok {
				return t
			}
		case json.Number:
			if n, err := v.Int64(); err == nil {
				return unixTime(n)
			}
			if fl, err := v.Float64(); err == nil {
				return unixTime(int64(fl))
			}
		}
	}
	return time.Time{}
}

func scalarString(v any) string {
	switch s := v.(type) {
	case string:
		return strings.TrimSpace(s)
	case json.Number:
		return s.String()
	}
	return ""
}

func scalarBool(v any) (bool, bool) {
	switch b := v.(type) {
	case bool:
		return b, true
	case string:
		p, err := strconv.ParseBool(strings.TrimSpace(b))
		return p, err == nil
	case json.Number:
		return b.String() != "0", true
	}
	return false, false
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.9999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

func parseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return unixTime(n), true
	}
	return time.Time{}, false
}

// unixTime treats values past the year 33658 in seconds as milliseconds.
func unixTime(n int64) time.Time {
	if n > 1e12 {
		return time.UnixMilli(n).UTC()
	}
	return time.Unix(n, 0).UTC()
}
