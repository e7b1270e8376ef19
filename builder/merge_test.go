package builder

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"digest-notifier/pkg/digest"
)

func msg(id string, historical bool) *digest.MessageVar {
	return &digest.MessageVar{ID: id, IsHistorical: historical}
}

func ids(entry *digest.NotifEntry) []string {
	out := make([]string, 0, len(entry.Messages))
	for _, m := range entry.Messages {
		out = append(out, m.ID)
	}
	return out
}

func TestMergeOverlap(t *testing.T) {
	tests := []struct {
		name       string
		prev       []*digest.MessageVar
		candidate  []*digest.MessageVar
		wantMerged bool
		wantIDs    []string
	}{
		{
			name:       "no overlap keeps entries separate",
			prev:       []*digest.MessageVar{msg("$a", true), msg("$b", false)},
			candidate:  []*digest.MessageVar{msg("$c", true), msg("$d", false)},
			wantMerged: false,
			wantIDs:    []string{"$a", "$b"},
		},
		{
			name:       "overlapping window absorbed with tail appended",
			prev:       []*digest.MessageVar{msg("$a", true), msg("$b", false)},
			candidate:  []*digest.MessageVar{msg("$b", true), msg("$c", false)},
			wantMerged: true,
			wantIDs:    []string{"$a", "$b", "$c"},
		},
		{
			name:       "identical window absorbed without duplicates",
			prev:       []*digest.MessageVar{msg("$a", true), msg("$b", false)},
			candidate:  []*digest.MessageVar{msg("$a", true), msg("$b", true)},
			wantMerged: true,
			wantIDs:    []string{"$a", "$b"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entries := []*digest.NotifEntry{{Messages: tt.prev}}
			candidate := &digest.NotifEntry{Messages: tt.candidate}

			merged := mergeOverlap(entries, candidate)
			if merged != tt.wantMerged {
				t.Fatalf("mergeOverlap() = %v, want %v", merged, tt.wantMerged)
			}

			got := ids(entries[0])
			if len(got) != len(tt.wantIDs) {
				t.Fatalf("merged ids = %v, want %v", got, tt.wantIDs)
			}
			for i := range got {
				if got[i] != tt.wantIDs[i] {
					t.Errorf("merged ids = %v, want %v", got, tt.wantIDs)
					break
				}
			}
		})
	}
}

func TestMergeOverlapPromotesTargetMessage(t *testing.T) {
	// $b was historical context in the candidate window but is the target
	// of the previous notification; merging must never demote it.
	entries := []*digest.NotifEntry{{Messages: []*digest.MessageVar{msg("$a", true), msg("$b", false)}}}
	candidate := &digest.NotifEntry{Messages: []*digest.MessageVar{msg("$b", true), msg("$c", false)}}

	if !mergeOverlap(entries, candidate) {
		t.Fatal("expected candidate to merge")
	}

	for _, m := range entries[0].Messages {
		switch m.ID {
		case "$a":
			if !m.IsHistorical {
				t.Error("$a should remain historical")
			}
		case "$b", "$c":
			if m.IsHistorical {
				t.Errorf("%s should not be historical", m.ID)
			}
		}
	}
}

func TestMergeOverlapPromotesHistoricalToTarget(t *testing.T) {
	// The reverse: the candidate's target already appears as historical
	// context in the previous entry and must be promoted.
	entries := []*digest.NotifEntry{{Messages: []*digest.MessageVar{msg("$a", false), msg("$b", true)}}}
	candidate := &digest.NotifEntry{Messages: []*digest.MessageVar{msg("$a", true), msg("$b", false)}}

	if !mergeOverlap(entries, candidate) {
		t.Fatal("expected candidate to merge")
	}
	for _, m := range entries[0].Messages {
		if m.IsHistorical {
			t.Errorf("%s should not be historical after merge", m.ID)
		}
	}
}

func TestDedupedRoomIDs(t *testing.T) {
	actions := []*digest.PushAction{
		{RoomID: "!a", EventID: "$1"},
		{RoomID: "!b", EventID: "$2"},
		{RoomID: "!a", EventID: "$3"},
		{RoomID: "!c", EventID: "$4"},
		{RoomID: "!b", EventID: "$5"},
	}

	got := dedupedRoomIDs(actions)
	want := []string{"!a", "!b", "!c"}
	if len(got) != len(want) {
		t.Fatalf("dedupedRoomIDs() = %v, want %v", got, want)
	}
	for i := range got {
		if got[i] != want[i] {
			t.Errorf("dedupedRoomIDs() = %v, want %v", got, want)
			break
		}
	}
}

// countingStore tracks how many state fetches run at once.
type countingStore struct {
	events   map[string]*digest.Event
	inFlight atomic.Int32
	maxSeen  atomic.Int32
}

func (s *countingStore) Events(_ context.Context, eventIDs []string) (map[string]*digest.Event, error) {
	out := make(map[string]*digest.Event, len(eventIDs))
	for _, id := range eventIDs {
		out[id] = s.events[id]
	}
	return out, nil
}

func (s *countingStore) Event(_ context.Context, id string) (*digest.Event, error) {
	ev, ok := s.events[id]
	if !ok {
		return nil, fmt.Errorf("event %s not found", id)
	}
	return ev, nil
}

func (s *countingStore) EventsAround(context.Context, string, string, int, int) (*EventContext, error) {
	return &EventContext{}, nil
}

func (s *countingStore) CurrentStateIDs(_ context.Context, _ string) (digest.RoomState, error) {
	n := s.inFlight.Add(1)
	for {
		seen := s.maxSeen.Load()
		if n <= seen || s.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	s.inFlight.Add(-1)
	return digest.RoomState{}, nil
}

func (s *countingStore) StateForEvent(_ context.Context, _ string, _ []digest.StateKey) (map[digest.StateKey]*digest.Event, error) {
	return map[digest.StateKey]*digest.Event{}, nil
}

func (s *countingStore) ProfileDisplayName(context.Context, string) (string, error) {
	return "", nil
}

type stubNamer struct{}

func (stubNamer) CalculateRoomName(context.Context, digest.RoomState, string, bool) (string, error) {
	return "Room", nil
}

func (stubNamer) DescriptorFromMemberEvents([]*digest.Event) string { return "somebody" }

type passVisibility struct{}

func (passVisibility) FilterEventsForClient(_ context.Context, _ string, events []*digest.Event) ([]*digest.Event, error) {
	return events, nil
}

type stubTokens struct{}

func (stubTokens) UnsubscribeToken(string, string, string) string { return "token" }

func TestBuildDigestBoundsStateFetchConcurrency(t *testing.T) {
	const roomCount = 12

	cs := &countingStore{events: make(map[string]*digest.Event)}
	var actions []*digest.PushAction
	for i := range roomCount {
		roomID := fmt.Sprintf("!room%d:example.com", i)
		eventID := fmt.Sprintf("$event%d", i)
		cs.events[eventID] = &digest.Event{
			ID:             eventID,
			RoomID:         roomID,
			Type:           digest.EventTypeMessage,
			Sender:         "@bob:example.com",
			OriginServerTS: int64(1000 + i),
			Content:        digest.EventContent{MsgType: digest.MsgTypeText, Body: "hi"},
		}
		actions = append(actions, &digest.PushAction{
			RoomID:     roomID,
			EventID:    eventID,
			ReceivedTS: int64(1000 + i),
		})
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	b := New(cs, stubNamer{}, passVisibility{}, stubTokens{}, Config{
		AppName:  "Test",
		BaseURL:  "http://localhost:8080",
		Subjects: DefaultSubjects(),
	}, logger)

	d, err := b.BuildDigest(context.Background(), "@alice:example.com", "app", "alice@example.com", actions, &digest.Reason{
		RoomID:  actions[len(actions)-1].RoomID,
		EventID: actions[len(actions)-1].EventID,
	})
	if err != nil {
		t.Fatalf("BuildDigest() error = %v", err)
	}
	if len(d.Rooms) != roomCount {
		t.Errorf("got %d rooms, want %d", len(d.Rooms), roomCount)
	}
	if maxSeen := cs.maxSeen.Load(); maxSeen > maxConcurrentStateFetches {
		t.Errorf("observed %d concurrent state fetches, want at most %d", maxSeen, maxConcurrentStateFetches)
	}
}
