// Package mail sends rendered digest emails via pluggable providers.
package mail

import (
	"context"
	"fmt"
	"log/slog"

	"digest-notifier/pkg/digest"
	"digest-notifier/render"
)

// Provider defines the interface for email sending implementations.
type Provider interface {
	// Send sends an email with both plain and HTML alternatives.
	Send(ctx context.Context, to, subject, htmlBody, textBody string) error
}

// Sender renders digests and sends them through a provider.
type Sender struct {
	provider Provider
	renderer *render.Renderer
	logger   *slog.Logger
}

// NewSender creates a digest email sender.
func NewSender(provider Provider, renderer *render.Renderer, logger *slog.Logger) *Sender {
	return &Sender{
		provider: provider,
		renderer: renderer,
		logger:   logger,
	}
}

// SendDigest renders and sends one digest email. The summary text doubles
// as the subject line.
func (s *Sender) SendDigest(ctx context.Context, to string, d *digest.Digest) error {
	htmlBody, err := s.renderer.HTML(d)
	if err != nil {
		return fmt.Errorf("render digest: %w", err)
	}
	textBody, err := s.renderer.Text(d)
	if err != nil {
		return fmt.Errorf("render digest text: %w", err)
	}

	s.logger.Info("Sending digest email",
		"to", to,
		"room_count", len(d.Rooms),
		"subject", d.SummaryText)

	return s.provider.Send(ctx, to, d.SummaryText, htmlBody, textBody)
}
