package render

import (
	"strings"
	"testing"

	"digest-notifier/pkg/digest"
)

func testDigest() *digest.Digest {
	return &digest.Digest{
		UserDisplayName: "Alice",
		UnsubscribeLink: "http://localhost:8080/unsubscribe?access_token=abc",
		SummaryText:     "message from Bob in Project",
		Rooms: []*digest.RoomDigest{
			{
				Title: "Project",
				Link:  "https://matrix.to/#/!r:example.com",
				Notifs: []*digest.NotifEntry{
					{
						Link: "https://matrix.to/#/!r:example.com/$m1",
						TS:   1700000000000,
						Messages: []*digest.MessageVar{
							{
								EventType:     digest.EventTypeMessage,
								IsHistorical:  true,
								ID:            "$ctx",
								TS:            1700000000000,
								SenderName:    "Bob",
								MsgType:       digest.MsgTypeText,
								BodyTextHTML:  "earlier <b>words</b>",
								BodyTextPlain: "earlier words",
							},
							{
								EventType:     digest.EventTypeMessage,
								ID:            "$m1",
								TS:            1700000060000,
								SenderName:    "Bob",
								MsgType:       digest.MsgTypeText,
								BodyTextHTML:  "hello",
								BodyTextPlain: "hello",
							},
						},
					},
				},
			},
		},
		Reason: &digest.Reason{RoomID: "!r:example.com", EventID: "$m1", RoomName: "Project"},
	}
}

func TestHTML(t *testing.T) {
	r, err := New("Test App", "example.com")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	out, err := r.HTML(testDigest())
	if err != nil {
		t.Fatalf("HTML() error = %v", err)
	}

	for _, want := range []string{
		"Hi Alice,",
		"message from Bob in Project",
		"Project",
		// Sanitized markup must be injected verbatim, not re-escaped.
		"earlier <b>words</b>",
		`class="message historical"`,
		"http://localhost:8080/unsubscribe?access_token=abc",
		"Test App",
		"example.com",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("HTML output missing %q", want)
		}
	}
}

func TestHTMLInviteRoom(t *testing.T) {
	r, err := New("Test App", "example.com")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	d := testDigest()
	d.Rooms = []*digest.RoomDigest{{
		Title:  "",
		Invite: true,
		Link:   "https://matrix.to/#/!inv:example.com",
	}}

	out, err := r.HTML(d)
	if err != nil {
		t.Fatalf("HTML() error = %v", err)
	}
	if !strings.Contains(out, "Unnamed room") {
		t.Error("HTML output missing unnamed room placeholder")
	}
	if !strings.Contains(out, "You have been invited to this room") {
		t.Error("HTML output missing invite block")
	}
}

func TestHTMLEncryptedMessage(t *testing.T) {
	r, err := New("Test App", "example.com")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	d := testDigest()
	d.Rooms[0].Notifs[0].Messages = []*digest.MessageVar{{
		EventType:  digest.EventTypeEncrypted,
		ID:         "$enc",
		TS:         1700000000000,
		SenderName: "Bob",
	}}

	out, err := r.HTML(d)
	if err != nil {
		t.Fatalf("HTML() error = %v", err)
	}
	if !strings.Contains(out, "An encrypted message.") {
		t.Error("HTML output missing encrypted message placeholder")
	}
}

func TestText(t *testing.T) {
	r, err := New("Test App", "example.com")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	out, err := r.Text(testDigest())
	if err != nil {
		t.Fatalf("Text() error = %v", err)
	}

	for _, want := range []string{
		"Hi Alice,",
		"message from Bob in Project",
		"earlier words",
		"hello",
		"Unsubscribe: http://localhost:8080/unsubscribe?access_token=abc",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("Text output missing %q", want)
		}
	}
	if strings.Contains(out, "<b>") {
		t.Error("Text output contains markup")
	}
}
