// Package fixture provides an in-memory event source for previewing
// digests. A fixture document carries the events, state, and push actions
// that a live deployment would read from a homeserver, so the same builder
// code runs against canned data in development and tests.
package fixture

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"digest-notifier/builder"
	"digest-notifier/pkg/digest"
)

// StateEntry names one piece of room state and the event holding it.
type StateEntry struct {
	Type     string `json:"type"`
	StateKey string `json:"state_key"`
	EventID  string `json:"event_id"`
}

// Document is a self-contained digest scenario: the user being notified,
// every event referenced, the current state of each room, and the pending
// push actions.
type Document struct {
	UserID      string                  `json:"user_id"`
	AppID       string                  `json:"app_id"`
	Email       string                  `json:"email"`
	Events      []*digest.Event         `json:"events"`
	State       map[string][]StateEntry `json:"state"`    // Current state per room
	Profiles    map[string]string       `json:"profiles"` // Localpart to display name
	Invisible   []string                `json:"invisible,omitempty"`
	PushActions []*digest.PushAction    `json:"push_actions"`
	Reason      *digest.Reason          `json:"reason"`
}

// Load parses a fixture document from JSON.
func Load(data []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse fixture: %w", err)
	}
	if doc.UserID == "" {
		return nil, errors.New("fixture missing user_id")
	}
	if len(doc.PushActions) == 0 {
		return nil, errors.New("fixture has no push actions")
	}
	if doc.Reason == nil {
		last := doc.PushActions[len(doc.PushActions)-1]
		doc.Reason = &digest.Reason{RoomID: last.RoomID, EventID: last.EventID}
	}
	return &doc, nil
}

// Source serves a fixture document through the interfaces the digest
// builder reads from.
type Source struct {
	doc       *Document
	events    map[string]*digest.Event
	timelines map[string][]*digest.Event // Per room, ascending by timestamp
	invisible map[string]struct{}
}

// New indexes a fixture document for lookup.
func New(doc *Document) *Source {
	s := &Source{
		doc:       doc,
		events:    make(map[string]*digest.Event, len(doc.Events)),
		timelines: make(map[string][]*digest.Event),
		invisible: make(map[string]struct{}, len(doc.Invisible)),
	}
	for _, ev := range doc.Events {
		s.events[ev.ID] = ev
		s.timelines[ev.RoomID] = append(s.timelines[ev.RoomID], ev)
	}
	for roomID := range s.timelines {
		tl := s.timelines[roomID]
		sort.SliceStable(tl, func(i, j int) bool {
			return tl[i].OriginServerTS < tl[j].OriginServerTS
		})
	}
	for _, id := range doc.Invisible {
		s.invisible[id] = struct{}{}
	}
	return s
}

// Events resolves a batch of event ids. Unknown ids are absent from the
// result.
func (s *Source) Events(_ context.Context, ids []string) (map[string]*digest.Event, error) {
	out := make(map[string]*digest.Event, len(ids))
	for _, id := range ids {
		if ev, ok := s.events[id]; ok {
			out[id] = ev
		}
	}
	return out, nil
}

// Event resolves a single event id.
func (s *Source) Event(_ context.Context, id string) (*digest.Event, error) {
	ev, ok := s.events[id]
	if !ok {
		return nil, fmt.Errorf("event %s not found", id)
	}
	return ev, nil
}

// EventsAround returns the timeline window surrounding a target event.
func (s *Source) EventsAround(_ context.Context, roomID, eventID string, beforeLimit, afterLimit int) (*builder.EventContext, error) {
	tl := s.timelines[roomID]
	idx := -1
	for i, ev := range tl {
		if ev.ID == eventID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, fmt.Errorf("event %s not in room %s timeline", eventID, roomID)
	}

	start := idx - beforeLimit
	if start < 0 {
		start = 0
	}
	end := idx + 1 + afterLimit
	if end > len(tl) {
		end = len(tl)
	}

	ec := &builder.EventContext{}
	ec.EventsBefore = append(ec.EventsBefore, tl[start:idx]...)
	ec.EventsAfter = append(ec.EventsAfter, tl[idx+1:end]...)
	return ec, nil
}

// CurrentStateIDs returns the current-state snapshot for a room.
func (s *Source) CurrentStateIDs(_ context.Context, roomID string) (digest.RoomState, error) {
	state := make(digest.RoomState)
	for _, entry := range s.doc.State[roomID] {
		state[digest.StateKey{Type: entry.Type, StateKey: entry.StateKey}] = entry.EventID
	}
	return state, nil
}

// StateForEvent returns historical state as of the given event: for each
// requested key, the latest matching state event at or before the target in
// the room timeline.
func (s *Source) StateForEvent(_ context.Context, eventID string, keys []digest.StateKey) (map[digest.StateKey]*digest.Event, error) {
	target, ok := s.events[eventID]
	if !ok {
		return nil, fmt.Errorf("event %s not found", eventID)
	}

	out := make(map[digest.StateKey]*digest.Event, len(keys))
	for _, ev := range s.timelines[target.RoomID] {
		for _, key := range keys {
			if ev.Type == key.Type && ev.StateKey == key.StateKey {
				out[key] = ev
			}
		}
		if ev.ID == eventID {
			break
		}
	}
	return out, nil
}

// ProfileDisplayName looks up a user's profile display name.
func (s *Source) ProfileDisplayName(_ context.Context, localpart string) (string, error) {
	return s.doc.Profiles[localpart], nil
}

// FilterEventsForClient drops events listed as invisible in the fixture.
func (s *Source) FilterEventsForClient(_ context.Context, _ string, events []*digest.Event) ([]*digest.Event, error) {
	out := make([]*digest.Event, 0, len(events))
	for _, ev := range events {
		if _, hidden := s.invisible[ev.ID]; hidden {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

// CalculateRoomName derives a display name for a room: explicit name, then
// canonical alias, then (optionally) a name built from the joined members.
func (s *Source) CalculateRoomName(ctx context.Context, state digest.RoomState, userID string, fallbackToMembers bool) (string, error) {
	if id, ok := state[digest.StateKey{Type: digest.EventTypeName, StateKey: ""}]; ok {
		ev, err := s.Event(ctx, id)
		if err != nil {
			return "", fmt.Errorf("fetch name event: %w", err)
		}
		if ev.Content.Name != "" {
			return ev.Content.Name, nil
		}
	}

	if id, ok := state[digest.StateKey{Type: digest.EventTypeAlias, StateKey: ""}]; ok {
		ev, err := s.Event(ctx, id)
		if err != nil {
			return "", fmt.Errorf("fetch alias event: %w", err)
		}
		if ev.Content.Alias != "" {
			return ev.Content.Alias, nil
		}
	}

	if !fallbackToMembers {
		return "", nil
	}

	var members []*digest.Event
	for key, id := range state {
		if key.Type != digest.EventTypeMember || key.StateKey == userID {
			continue
		}
		ev, err := s.Event(ctx, id)
		if err != nil {
			return "", fmt.Errorf("fetch member event: %w", err)
		}
		if ev.Content.Membership == digest.MembershipJoin || ev.Content.Membership == digest.MembershipInvite {
			members = append(members, ev)
		}
	}
	if len(members) == 0 {
		return "", nil
	}
	sort.Slice(members, func(i, j int) bool {
		return members[i].StateKey < members[j].StateKey
	})
	return s.DescriptorFromMemberEvents(members), nil
}

// DescriptorFromMemberEvents describes a set of members in prose.
func (s *Source) DescriptorFromMemberEvents(events []*digest.Event) string {
	switch len(events) {
	case 0:
		return "nobody"
	case 1:
		return digest.NameFromMemberEvent(events[0])
	case 2:
		return fmt.Sprintf("%s and %s",
			digest.NameFromMemberEvent(events[0]),
			digest.NameFromMemberEvent(events[1]))
	default:
		return fmt.Sprintf("%s and %d others",
			digest.NameFromMemberEvent(events[0]),
			len(events)-1)
	}
}

// ServerName guesses the homeserver name from the fixture's user id, for
// footer display.
func (d *Document) ServerName() string {
	if idx := strings.Index(d.UserID, ":"); idx >= 0 {
		return d.UserID[idx+1:]
	}
	return ""
}
