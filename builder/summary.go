package builder

import (
	"context"
	"fmt"

	"digest-notifier/pkg/digest"
)

// SubjectConfig holds the headline patterns used for digest summary lines
// and email subjects. Patterns are fmt formats whose verbs are filled in
// the order named by the field comments.
type SubjectConfig struct {
	InviteFromPerson            string // inviter
	InviteFromPersonToRoom      string // inviter, room
	MessageFromPerson           string // sender
	MessageFromPersonInRoom     string // sender, room
	MessagesInRoom              string // room
	MessagesInRoomAndOthers     string // room
	MessagesFromPerson          string // sender
	MessagesFromPersonAndOthers string // sender
}

// DefaultSubjects returns the stock headline patterns.
func DefaultSubjects() SubjectConfig {
	return SubjectConfig{
		InviteFromPerson:            "invited by %s",
		InviteFromPersonToRoom:      "invited by %s to %s",
		MessageFromPerson:           "message from %s",
		MessageFromPersonInRoom:     "message from %s in %s",
		MessagesInRoom:              "messages in %s",
		MessagesInRoomAndOthers:     "messages in %s and others",
		MessagesFromPerson:          "messages from %s",
		MessagesFromPersonAndOthers: "messages from %s and others",
	}
}

// summaryTextSingleRoom picks the headline when exactly one room has
// notifications.
func (b *Builder) summaryTextSingleRoom(ctx context.Context, roomID string, notifs []*digest.PushAction, roomStateIDs digest.RoomState, notifEvents map[string]*digest.Event, userID string) (string, error) {
	// A member-generated name would read badly here ("message from Bob
	// in the Bob room"), so only a real room name counts.
	roomName, err := b.namer.CalculateRoomName(ctx, roomStateIDs, userID, false)
	if err != nil {
		return "", fmt.Errorf("calculate room name: %w", err)
	}

	var inviteEvent *digest.Event
	for _, n := range notifs {
		ev := notifEvents[n.EventID]
		if ev.Type == digest.EventTypeMember && ev.StateKey == userID && ev.Content.Membership == digest.MembershipInvite {
			inviteEvent = ev
			break
		}
	}

	if inviteEvent != nil {
		inviterName := inviteEvent.Sender
		key := digest.StateKey{Type: digest.EventTypeMember, StateKey: inviteEvent.Sender}
		if eventID, ok := roomStateIDs[key]; ok {
			// A missing member event here is tolerable; the raw id
			// still makes a usable headline.
			if ev, err := b.store.Event(ctx, eventID); err == nil && ev != nil {
				inviterName = digest.NameFromMemberEvent(ev)
			}
		}
		if roomName == "" {
			return fmt.Sprintf(b.cfg.Subjects.InviteFromPerson, inviterName), nil
		}
		return fmt.Sprintf(b.cfg.Subjects.InviteFromPersonToRoom, inviterName, roomName), nil
	}

	if len(notifs) == 1 {
		// Just the one notification, so give some detail.
		senderName := ""
		event := notifEvents[notifs[0].EventID]
		key := digest.StateKey{Type: digest.EventTypeMember, StateKey: event.Sender}
		if eventID, ok := roomStateIDs[key]; ok {
			ev, err := b.store.Event(ctx, eventID)
			if err != nil {
				return "", fmt.Errorf("fetch member event %s: %w", eventID, err)
			}
			senderName = digest.NameFromMemberEvent(ev)
		}

		switch {
		case senderName != "" && roomName != "":
			return fmt.Sprintf(b.cfg.Subjects.MessageFromPersonInRoom, senderName, roomName), nil
		case senderName != "":
			return fmt.Sprintf(b.cfg.Subjects.MessageFromPerson, senderName), nil
		}

		// The sender is unknown, just use the room name (or id).
		name := roomName
		if name == "" {
			name = roomID
		}
		return fmt.Sprintf(b.cfg.Subjects.MessagesInRoom, name), nil
	}

	// More than one notification for this room, so just say there are
	// several.
	if roomName != "" {
		return fmt.Sprintf(b.cfg.Subjects.MessagesInRoom, roomName), nil
	}
	return b.summaryTextFromMemberEvents(ctx, roomID, notifs, roomStateIDs, notifEvents)
}

// summaryTextMultiRoom picks the headline when several rooms have
// notifications; it still leads with the room that triggered the mail.
func (b *Builder) summaryTextMultiRoom(ctx context.Context, notifsByRoom map[string][]*digest.PushAction, stateByRoom map[string]digest.RoomState, notifEvents map[string]*digest.Event, reason *digest.Reason) (string, error) {
	if reason.RoomName != "" {
		return fmt.Sprintf(b.cfg.Subjects.MessagesInRoomAndOthers, reason.RoomName), nil
	}
	return b.summaryTextFromMemberEvents(ctx, reason.RoomID, notifsByRoom[reason.RoomID], stateByRoom[reason.RoomID], notifEvents)
}

// summaryTextFromMemberEvents names the people instead of the room, for
// rooms with no usable name.
func (b *Builder) summaryTextFromMemberEvents(ctx context.Context, roomID string, notifs []*digest.PushAction, roomStateIDs digest.RoomState, notifEvents map[string]*digest.Event) (string, error) {
	// One entry per distinct sender, keyed to that sender's first
	// notification, in order of first appearance.
	type senderNotif struct {
		sender  string
		eventID string
	}
	seen := make(map[string]struct{})
	var senders []senderNotif
	for _, n := range notifs {
		sender := notifEvents[n.EventID].Sender
		if _, ok := seen[sender]; ok {
			continue
		}
		seen[sender] = struct{}{}
		senders = append(senders, senderNotif{sender: sender, eventID: n.EventID})
	}

	var memberEvents []*digest.Event
	for _, sn := range senders {
		member, err := b.resolveMember(ctx, roomStateIDs, sn.sender, sn.eventID)
		if err != nil {
			return "", err
		}
		if member != nil {
			memberEvents = append(memberEvents, member)
		}
	}

	if len(memberEvents) == 0 {
		// No member events found, maybe the room is empty? Fall back
		// to the room id; a real room name would already have been
		// used by the caller.
		return fmt.Sprintf(b.cfg.Subjects.MessagesInRoom, roomID), nil
	}
	if len(memberEvents) == 1 {
		return fmt.Sprintf(b.cfg.Subjects.MessagesFromPerson, b.namer.DescriptorFromMemberEvents(memberEvents)), nil
	}
	return fmt.Sprintf(b.cfg.Subjects.MessagesFromPersonAndOthers, b.namer.DescriptorFromMemberEvents(memberEvents[:1])), nil
}
