package mail

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"digest-notifier/pkg/digest"
	"digest-notifier/render"
)

type captureProvider struct {
	to       string
	subject  string
	htmlBody string
	textBody string
}

func (c *captureProvider) Send(_ context.Context, to, subject, htmlBody, textBody string) error {
	c.to = to
	c.subject = subject
	c.htmlBody = htmlBody
	c.textBody = textBody
	return nil
}

func TestSendDigest(t *testing.T) {
	renderer, err := render.New("Test App", "example.com")
	if err != nil {
		t.Fatalf("render.New() error = %v", err)
	}

	provider := &captureProvider{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sender := NewSender(provider, renderer, logger)

	d := &digest.Digest{
		UserDisplayName: "Alice",
		UnsubscribeLink: "http://localhost:8080/unsubscribe?access_token=abc",
		SummaryText:     "messages in Project",
		Rooms: []*digest.RoomDigest{{
			Title: "Project",
			Link:  "https://matrix.to/#/!r:example.com",
		}},
		Reason: &digest.Reason{RoomID: "!r:example.com", EventID: "$m1"},
	}

	if err := sender.SendDigest(context.Background(), "alice@example.com", d); err != nil {
		t.Fatalf("SendDigest() error = %v", err)
	}

	if provider.to != "alice@example.com" {
		t.Errorf("to = %q, want alice@example.com", provider.to)
	}
	if provider.subject != "messages in Project" {
		t.Errorf("subject = %q, want the digest summary", provider.subject)
	}
	if !strings.Contains(provider.htmlBody, "Hi Alice,") {
		t.Error("html body missing greeting")
	}
	if !strings.Contains(provider.textBody, "Hi Alice,") {
		t.Error("text body missing greeting")
	}
}
