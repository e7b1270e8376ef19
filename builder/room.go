package builder

import (
	"context"
	"fmt"

	"digest-notifier/pkg/digest"
)

// roomDigest builds one room's section of the email.
func (b *Builder) roomDigest(ctx context.Context, roomID, userID string, notifs []*digest.PushAction, notifEvents map[string]*digest.Event, roomStateIDs digest.RoomState) (*digest.RoomDigest, error) {
	// The overlap merge below relies on notifications arriving oldest
	// first; a silent bad merge is worse than a failed build.
	for i := 1; i < len(notifs); i++ {
		if notifs[i].ReceivedTS < notifs[i-1].ReceivedTS {
			return nil, fmt.Errorf("push actions for room %s out of chronological order", roomID)
		}
	}

	// An invite room carries no message context, only the invitation.
	isInvite := false
	for _, n := range notifs {
		ev := notifEvents[n.EventID]
		if ev.Type == digest.EventTypeMember && ev.StateKey == userID && ev.Content.Membership == digest.MembershipInvite {
			isInvite = true
			break
		}
	}

	title, err := b.namer.CalculateRoomName(ctx, roomStateIDs, userID, true)
	if err != nil {
		return nil, fmt.Errorf("calculate room name: %w", err)
	}

	room := &digest.RoomDigest{
		Title:  title,
		Hash:   digest.StringOrdinalTotal(roomID), // See MessageVar.SenderHash
		Invite: isInvite,
		Link:   b.roomLink(roomID),
	}
	if isInvite {
		return room, nil
	}

	for _, n := range notifs {
		entry, err := b.notifEntry(ctx, n, userID, notifEvents[n.EventID], roomStateIDs)
		if err != nil {
			return nil, err
		}
		if !mergeOverlap(room.Notifs, entry) {
			room.Notifs = append(room.Notifs, entry)
		}
	}

	return room, nil
}

// notifEntry fetches and renders the context window for one notification.
func (b *Builder) notifEntry(ctx context.Context, notif *digest.PushAction, userID string, notifEvent *digest.Event, roomStateIDs digest.RoomState) (*digest.NotifEntry, error) {
	window, err := b.store.EventsAround(ctx, notif.RoomID, notif.EventID, contextBefore, contextAfter)
	if err != nil {
		return nil, fmt.Errorf("fetch context for event %s: %w", notif.EventID, err)
	}

	entry := &digest.NotifEntry{
		Link: b.notifLink(notif),
		TS:   notif.ReceivedTS,
	}

	// Only the surrounding events go through the visibility filter; the
	// target event already produced a notification for this user.
	events, err := b.vis.FilterEventsForClient(ctx, userID, window.EventsBefore)
	if err != nil {
		return nil, fmt.Errorf("filter context events: %w", err)
	}
	events = append(events, notifEvent)

	for _, ev := range events {
		msg, err := b.messageVars(ctx, notif, ev, roomStateIDs)
		if err != nil {
			return nil, err
		}
		if msg != nil {
			entry.Messages = append(entry.Messages, msg)
		}
	}

	return entry, nil
}

// mergeOverlap merges a candidate entry into the most recent existing
// entry when their context windows overlap by message id. Returns true if
// the candidate was absorbed.
//
// Once a merge has begun, candidate messages with unseen ids are appended
// to the previous entry's tail in candidate order, even when windows of
// three or more notifications only partially overlap. That keeps the
// upstream behavior; the tail can in theory be slightly out of
// chronological order in that case.
func mergeOverlap(entries []*digest.NotifEntry, candidate *digest.NotifEntry) bool {
	if len(entries) == 0 {
		return false
	}
	prev := entries[len(entries)-1]
	if len(prev.Messages) == 0 {
		return false
	}

	merged := false
	for _, msg := range candidate.Messages {
		var existing *digest.MessageVar
		for _, pm := range prev.Messages {
			if pm.ID == msg.ID {
				existing = pm
				break
			}
		}
		switch {
		case existing != nil:
			// A message is only historical if no notification
			// targets it.
			if !msg.IsHistorical {
				existing.IsHistorical = false
			}
			merged = true
		case merged:
			prev.Messages = append(prev.Messages, msg)
		}
	}
	return merged
}
