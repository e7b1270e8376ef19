// Package digest contains the core domain types for the room notification
// digest service.
package digest

import "strings"

// Event types and content values understood by the digest builder.
const (
	EventTypeMember    = "m.room.member"
	EventTypeMessage   = "m.room.message"
	EventTypeEncrypted = "m.room.encrypted"
	EventTypeName      = "m.room.name"
	EventTypeAlias     = "m.room.canonical_alias"

	MembershipInvite = "invite"
	MembershipJoin   = "join"

	MsgTypeText  = "m.text"
	MsgTypeImage = "m.image"

	// FormatHTML marks a message as carrying a rich-text body.
	FormatHTML = "org.matrix.custom.html"
)

// Event is the slice of a room event that digest building reads.
type Event struct {
	ID             string       `json:"event_id"`
	RoomID         string       `json:"room_id"`
	Type           string       `json:"type"`
	Sender         string       `json:"sender"`
	StateKey       string       `json:"state_key,omitempty"`
	OriginServerTS int64        `json:"origin_server_ts"` // Milliseconds since epoch
	Content        EventContent `json:"content"`
}

// EventContent holds the content fields the digest builder cares about.
// Everything else in an event's content is opaque to this service.
type EventContent struct {
	Membership    string `json:"membership,omitempty"`
	MsgType       string `json:"msgtype,omitempty"`
	Body          string `json:"body,omitempty"`
	Format        string `json:"format,omitempty"`
	FormattedBody string `json:"formatted_body,omitempty"`
	URL           string `json:"url,omitempty"`
	DisplayName   string `json:"displayname,omitempty"`
	AvatarURL     string `json:"avatar_url,omitempty"`
	Name          string `json:"name,omitempty"`  // m.room.name
	Alias         string `json:"alias,omitempty"` // m.room.canonical_alias
}

// PushAction is one pending notification trigger for a user.
type PushAction struct {
	RoomID     string         `json:"room_id"`
	EventID    string         `json:"event_id"`
	ReceivedTS int64          `json:"received_ts"` // Milliseconds since epoch
	ActionData map[string]any `json:"action_data,omitempty"`
}

// Reason identifies the push action that caused the digest to be sent now.
// RoomName is filled in lazily by the builder.
type Reason struct {
	RoomID   string `json:"room_id"`
	EventID  string `json:"event_id"`
	RoomName string `json:"room_name,omitempty"`
}

// StateKey identifies one piece of room state.
type StateKey struct {
	Type     string `json:"type"`
	StateKey string `json:"state_key"`
}

// RoomState maps state keys to the event id currently holding that state.
type RoomState map[StateKey]string

// MessageVar is one rendered message line in a notification's context.
type MessageVar struct {
	EventType       string
	IsHistorical    bool // False only for the target event of a notification
	ID              string
	TS              int64
	SenderName      string
	SenderAvatarURL string
	SenderHash      int
	MsgType         string
	BodyTextHTML    string // Sanitized markup, safe to inject as-is
	BodyTextPlain   string
	ImageURL        string
}

// NotifEntry is one notification's rendered context window. Overlapping
// entries for the same room are merged by the assembler.
type NotifEntry struct {
	Link     string
	TS       int64
	Messages []*MessageVar
}

// RoomDigest is one room's section of the email.
type RoomDigest struct {
	Title  string
	Hash   int // See StringOrdinalTotal
	Invite bool
	Link   string
	Notifs []*NotifEntry
}

// Digest is the complete per-user structure handed to the rendering layer.
type Digest struct {
	UserDisplayName string
	UnsubscribeLink string
	SummaryText     string
	Rooms           []*RoomDigest
	Reason          *Reason
}

// StringOrdinalTotal sums the code points of s. Used only for stable
// pseudo-random default-avatar selection; collisions are acceptable.
func StringOrdinalTotal(s string) int {
	total := 0
	for _, r := range s {
		total += int(r)
	}
	return total
}

// Localpart extracts the local part of a user id like "@alice:example.com".
func Localpart(userID string) string {
	s := strings.TrimPrefix(userID, "@")
	if idx := strings.Index(s, ":"); idx >= 0 {
		return s[:idx]
	}
	return s
}

// NameFromMemberEvent returns the human name recorded in a membership
// event, falling back to the member's user id.
func NameFromMemberEvent(ev *Event) string {
	if ev.Content.DisplayName != "" {
		return ev.Content.DisplayName
	}
	return ev.StateKey
}
