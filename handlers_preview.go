package main

import (
	"io"
	"net/http"

	"digest-notifier/builder"
	"digest-notifier/fixture"
	"digest-notifier/pkg/digest"
)

// Cap on fixture upload size. Digest fixtures are a handful of events;
// anything bigger is a mistake or abuse.
const maxFixtureBytes = 1 << 20

// buildFromFixture parses an uploaded fixture document and runs the digest
// builder against it.
func (s *Service) buildFromFixture(r *http.Request) (*digest.Digest, *fixture.Document, error) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxFixtureBytes))
	if err != nil {
		return nil, nil, err
	}

	doc, err := fixture.Load(data)
	if err != nil {
		return nil, nil, err
	}

	src := fixture.New(doc)
	b := builder.New(src, src, src, s.pushers, s.cfg, s.logger)
	d, err := b.BuildDigest(r.Context(), doc.UserID, doc.AppID, doc.Email, doc.PushActions, doc.Reason)
	if err != nil {
		return nil, nil, err
	}
	return d, doc, nil
}

// handlePreview renders a fixture document to the digest email HTML without
// sending anything. Useful for template work and for eyeballing headline
// selection.
func (s *Service) handlePreview(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	d, _, err := s.buildFromFixture(r)
	if err != nil {
		s.logger.Warn("Preview build failed", "error", err)
		http.Error(w, "Failed to build digest: "+err.Error(), http.StatusBadRequest)
		return
	}

	htmlBody, err := s.renderer.HTML(d)
	if err != nil {
		s.logger.Error("Preview render failed", "error", err)
		http.Error(w, "Failed to render digest", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(htmlBody)); err != nil {
		s.logger.Warn("Failed to write response", "error", err)
	}
}

// handleSend builds a digest from a fixture document and delivers it to the
// document's email address through the configured provider.
func (s *Service) handleSend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	d, doc, err := s.buildFromFixture(r)
	if err != nil {
		s.logger.Warn("Send build failed", "error", err)
		http.Error(w, "Failed to build digest: "+err.Error(), http.StatusBadRequest)
		return
	}

	if doc.Email == "" {
		http.Error(w, "Fixture missing email", http.StatusBadRequest)
		return
	}

	if err := s.sender.SendDigest(r.Context(), doc.Email, d); err != nil {
		s.logger.Error("Digest send failed", "to", doc.Email, "error", err)
		http.Error(w, "Failed to send digest", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(`{"status":"sent"}`)); err != nil {
		s.logger.Warn("Failed to write response", "error", err)
	}
}
