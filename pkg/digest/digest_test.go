package digest

import (
	"testing"
)

func TestStringOrdinalTotal(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want int
	}{
		{
			name: "empty string",
			in:   "",
			want: 0,
		},
		{
			name: "single character",
			in:   "a",
			want: 97,
		},
		{
			name: "ascii user id",
			in:   "abc",
			want: 97 + 98 + 99,
		},
		{
			name: "multibyte rune counts as one code point",
			in:   "é",
			want: 233,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StringOrdinalTotal(tt.in); got != tt.want {
				t.Errorf("StringOrdinalTotal(%q) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestLocalpart(t *testing.T) {
	tests := []struct {
		name   string
		userID string
		want   string
	}{
		{
			name:   "full user id",
			userID: "@alice:example.com",
			want:   "alice",
		},
		{
			name:   "no sigil",
			userID: "alice:example.com",
			want:   "alice",
		},
		{
			name:   "no server part",
			userID: "@alice",
			want:   "alice",
		},
		{
			name:   "port in server name",
			userID: "@bob:example.com:8448",
			want:   "bob",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Localpart(tt.userID); got != tt.want {
				t.Errorf("Localpart(%q) = %q, want %q", tt.userID, got, tt.want)
			}
		})
	}
}

func TestNameFromMemberEvent(t *testing.T) {
	tests := []struct {
		name string
		ev   *Event
		want string
	}{
		{
			name: "display name set",
			ev: &Event{
				StateKey: "@bob:example.com",
				Content:  EventContent{DisplayName: "Bob"},
			},
			want: "Bob",
		},
		{
			name: "falls back to state key",
			ev: &Event{
				StateKey: "@bob:example.com",
			},
			want: "@bob:example.com",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NameFromMemberEvent(tt.ev); got != tt.want {
				t.Errorf("NameFromMemberEvent() = %q, want %q", got, tt.want)
			}
		})
	}
}
