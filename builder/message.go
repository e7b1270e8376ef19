package builder

import (
	"context"
	"fmt"

	"digest-notifier/pkg/digest"
	"digest-notifier/sanitize"
)

// messageVars renders one event into a message line, or nil when the event
// cannot be shown (not a message or encrypted-message type).
func (b *Builder) messageVars(ctx context.Context, notif *digest.PushAction, event *digest.Event, roomStateIDs digest.RoomState) (*digest.MessageVar, error) {
	if event.Type != digest.EventTypeMessage && event.Type != digest.EventTypeEncrypted {
		return nil, nil
	}

	member, err := b.resolveMember(ctx, roomStateIDs, event.Sender, event.ID)
	if err != nil {
		return nil, err
	}

	msg := &digest.MessageVar{
		EventType:    event.Type,
		IsHistorical: event.ID != notif.EventID,
		ID:           event.ID,
		TS:           event.OriginServerTS,
		SenderName:   event.Sender, // Overridden below when state is known
		SenderHash:   digest.StringOrdinalTotal(event.Sender),
	}
	if member != nil {
		msg.SenderName = digest.NameFromMemberEvent(member)
		msg.SenderAvatarURL = member.Content.AvatarURL
	}

	// Encrypted messages carry no further useful information.
	if event.Type == digest.EventTypeEncrypted {
		return msg, nil
	}

	msg.MsgType = event.Content.MsgType

	switch msg.MsgType {
	case digest.MsgTypeText:
		b.addTextMessageVars(msg, event)
	case digest.MsgTypeImage:
		if event.Content.URL != "" {
			msg.ImageURL = event.Content.URL
		}
	}

	// The plain fallback is populated whenever a body exists, whatever
	// the HTML path produced.
	if event.Content.Body != "" {
		msg.BodyTextPlain = event.Content.Body
	}

	return msg, nil
}

// addTextMessageVars fills in the sanitized markup for an m.text message.
func (b *Builder) addTextMessageVars(msg *digest.MessageVar, event *digest.Event) {
	if event.Content.Format == digest.FormatHTML && event.Content.FormattedBody != "" {
		msg.BodyTextHTML = sanitize.HTML(event.Content.FormattedBody)
	} else if event.Content.Body != "" {
		msg.BodyTextHTML = sanitize.Text(event.Content.Body)
	}
}

// resolveMember finds the membership event for sender, preferring current
// room state and falling back to the historical state as of asOfEventID.
// A nil event with nil error means no membership could be found; callers
// then fall back to the raw sender id.
func (b *Builder) resolveMember(ctx context.Context, roomStateIDs digest.RoomState, sender, asOfEventID string) (*digest.Event, error) {
	key := digest.StateKey{Type: digest.EventTypeMember, StateKey: sender}
	if eventID, ok := roomStateIDs[key]; ok {
		ev, err := b.store.Event(ctx, eventID)
		if err != nil {
			return nil, fmt.Errorf("fetch member event %s: %w", eventID, err)
		}
		return ev, nil
	}

	historical, err := b.store.StateForEvent(ctx, asOfEventID, []digest.StateKey{key})
	if err != nil {
		return nil, fmt.Errorf("fetch historical state for %s: %w", asOfEventID, err)
	}
	return historical[key], nil
}
