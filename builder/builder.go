// Package builder assembles per-user notification email digests: it
// resolves room state, collapses overlapping notification contexts into
// ordered message lists, and picks the summary headline.
package builder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"digest-notifier/pkg/digest"
)

// Context window around each notification's target event.
const (
	contextBefore = 1
	contextAfter  = 1
)

// Run at most 3 state fetches at once: email digests are much less
// realtime than sync, so we can afford to wait a bit.
const maxConcurrentStateFetches = 3

// EventContext is the window of events around a target event.
type EventContext struct {
	EventsBefore []*digest.Event
	EventsAfter  []*digest.Event
}

// Store provides read access to events and room state.
type Store interface {
	// Events resolves a batch of event ids. Unknown ids are simply
	// absent from the result.
	Events(ctx context.Context, ids []string) (map[string]*digest.Event, error)
	// Event resolves a single event id; unknown ids are an error.
	Event(ctx context.Context, id string) (*digest.Event, error)
	// EventsAround returns the events surrounding a target event.
	EventsAround(ctx context.Context, roomID, eventID string, beforeLimit, afterLimit int) (*EventContext, error)
	// CurrentStateIDs returns the current-state snapshot for a room.
	CurrentStateIDs(ctx context.Context, roomID string) (digest.RoomState, error)
	// StateForEvent returns the historical state entries matching keys
	// as of the given event.
	StateForEvent(ctx context.Context, eventID string, keys []digest.StateKey) (map[digest.StateKey]*digest.Event, error)
	// ProfileDisplayName looks up a user's profile display name.
	ProfileDisplayName(ctx context.Context, localpart string) (string, error)
}

// RoomNamer computes human-readable names from room state.
type RoomNamer interface {
	// CalculateRoomName returns a display name for a room, or "" when
	// none can be derived. With fallbackToMembers a name generated from
	// the member list is acceptable.
	CalculateRoomName(ctx context.Context, state digest.RoomState, userID string, fallbackToMembers bool) (string, error)
	// DescriptorFromMemberEvents describes a set of members in prose.
	DescriptorFromMemberEvents(events []*digest.Event) string
}

// Visibility strips events the user is not permitted to see.
type Visibility interface {
	FilterEventsForClient(ctx context.Context, userID string, events []*digest.Event) ([]*digest.Event, error)
}

// TokenSource mints unsubscribe tokens for a pusher.
type TokenSource interface {
	UnsubscribeToken(userID, appID, email string) string
}

// Config holds per-service settings for digest building.
type Config struct {
	AppName       string
	BaseURL       string // Public base URL, for unsubscribe links
	ClientBaseURL string // Web client base URL, for room and event deep links
	Subjects      SubjectConfig
}

// Builder builds notification digests for one service configuration.
type Builder struct {
	store  Store
	namer  RoomNamer
	vis    Visibility
	tokens TokenSource
	logger *slog.Logger
	cfg    Config
}

// New creates a digest builder.
func New(store Store, namer RoomNamer, vis Visibility, tokens TokenSource, cfg Config, logger *slog.Logger) *Builder {
	return &Builder{
		store:  store,
		namer:  namer,
		vis:    vis,
		tokens: tokens,
		logger: logger,
		cfg:    cfg,
	}
}

// BuildDigest resolves a batch of pending push actions for one user into a
// fully rendered digest structure. Any state or event fetch failure fails
// the whole build; the caller may retry wholesale since nothing here
// mutates state.
func (b *Builder) BuildDigest(ctx context.Context, userID, appID, email string, pushActions []*digest.PushAction, reason *digest.Reason) (*digest.Digest, error) {
	if len(pushActions) == 0 {
		return nil, errors.New("no push actions")
	}

	roomsInOrder := dedupedRoomIDs(pushActions)

	eventIDs := make([]string, 0, len(pushActions))
	for _, pa := range pushActions {
		eventIDs = append(eventIDs, pa.EventID)
	}
	notifEvents, err := b.store.Events(ctx, eventIDs)
	if err != nil {
		return nil, fmt.Errorf("fetch notification events: %w", err)
	}
	for _, pa := range pushActions {
		if notifEvents[pa.EventID] == nil {
			return nil, fmt.Errorf("notification event %s not found", pa.EventID)
		}
	}

	notifsByRoom := make(map[string][]*digest.PushAction)
	for _, pa := range pushActions {
		notifsByRoom[pa.RoomID] = append(notifsByRoom[pa.RoomID], pa)
	}

	userDisplayName, err := b.store.ProfileDisplayName(ctx, digest.Localpart(userID))
	if err != nil || userDisplayName == "" {
		if err != nil {
			b.logger.Debug("Profile lookup failed, using raw user id", "user_id", userID, "error", err)
		}
		userDisplayName = userID
	}

	// Collect the current state for all rooms with notifications.
	// Results are keyed by room id, so completion order doesn't matter;
	// the room order is recomputed from timestamps below.
	var (
		mu          sync.Mutex
		stateByRoom = make(map[string]digest.RoomState, len(roomsInOrder))
	)
	var g errgroup.Group
	g.SetLimit(maxConcurrentStateFetches)
	for _, roomID := range roomsInOrder {
		g.Go(func() error {
			state, err := b.store.CurrentStateIDs(ctx, roomID)
			if err != nil {
				return fmt.Errorf("fetch state for room %s: %w", roomID, err)
			}
			mu.Lock()
			stateByRoom[roomID] = state
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Most recently active room first; stable so ties keep first-seen order.
	sort.SliceStable(roomsInOrder, func(i, j int) bool {
		ni := notifsByRoom[roomsInOrder[i]]
		nj := notifsByRoom[roomsInOrder[j]]
		return ni[len(ni)-1].ReceivedTS > nj[len(nj)-1].ReceivedTS
	})

	rooms := make([]*digest.RoomDigest, 0, len(roomsInOrder))
	for _, roomID := range roomsInOrder {
		room, err := b.roomDigest(ctx, roomID, userID, notifsByRoom[roomID], notifEvents, stateByRoom[roomID])
		if err != nil {
			return nil, fmt.Errorf("build room section for %s: %w", roomID, err)
		}
		rooms = append(rooms, room)
	}

	reasonName, err := b.namer.CalculateRoomName(ctx, stateByRoom[reason.RoomID], userID, true)
	if err != nil {
		return nil, fmt.Errorf("name reason room %s: %w", reason.RoomID, err)
	}
	reason.RoomName = reasonName

	var summaryText string
	if len(notifsByRoom) == 1 {
		roomID := roomsInOrder[0]
		summaryText, err = b.summaryTextSingleRoom(ctx, roomID, notifsByRoom[roomID], stateByRoom[roomID], notifEvents, userID)
	} else {
		summaryText, err = b.summaryTextMultiRoom(ctx, notifsByRoom, stateByRoom, notifEvents, reason)
	}
	if err != nil {
		return nil, fmt.Errorf("build summary text: %w", err)
	}

	b.logger.Info("Digest built",
		"user_id", userID,
		"room_count", len(rooms),
		"notif_count", len(pushActions),
		"summary", summaryText)

	return &digest.Digest{
		UserDisplayName: userDisplayName,
		UnsubscribeLink: b.unsubscribeLink(userID, appID, email),
		SummaryText:     summaryText,
		Rooms:           rooms,
		Reason:          reason,
	}, nil
}

// dedupedRoomIDs returns the distinct room ids in first-seen order.
func dedupedRoomIDs(pushActions []*digest.PushAction) []string {
	seen := make(map[string]struct{}, len(pushActions))
	ids := make([]string, 0, len(pushActions))
	for _, pa := range pushActions {
		if _, ok := seen[pa.RoomID]; ok {
			continue
		}
		seen[pa.RoomID] = struct{}{}
		ids = append(ids, pa.RoomID)
	}
	return ids
}
