package main

import (
	"crypto/hmac"
	"encoding/json"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"digest-notifier/store"
)

type subscribeRequest struct {
	UserID string `json:"user_id"`
	AppID  string `json:"app_id"`
	Email  string `json:"email"`
}

// handleSubscribe registers an email pusher for a user.
func (s *Service) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req subscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	req.UserID = strings.TrimSpace(req.UserID)
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))

	if !strings.HasPrefix(req.UserID, "@") || !strings.Contains(req.UserID, ":") {
		http.Error(w, "Invalid user id", http.StatusBadRequest)
		return
	}
	if req.AppID == "" {
		http.Error(w, "Missing app id", http.StatusBadRequest)
		return
	}
	if _, err := mail.ParseAddress(req.Email); err != nil {
		http.Error(w, "Invalid email address", http.StatusBadRequest)
		return
	}

	pusher := &store.Pusher{
		CreatedAt: time.Now().UTC(),
		UserID:    req.UserID,
		AppID:     req.AppID,
		Email:     req.Email,
	}
	if err := s.pushers.Save(r.Context(), pusher); err != nil {
		s.logger.Error("Failed to save pusher", "user_id", req.UserID, "error", err)
		http.Error(w, "Failed to create subscription", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(map[string]string{"status": "subscribed"}); err != nil {
		s.logger.Warn("Failed to write response", "error", err)
	}
}

// handleUnsubscribe removes a pusher using the token from a digest email's
// unsubscribe link.
func (s *Service) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	token := r.URL.Query().Get("access_token")
	appID := r.URL.Query().Get("app_id")
	email := r.URL.Query().Get("pushkey")

	pusher, err := s.pushers.LoadByToken(r.Context(), token)
	if err != nil {
		if store.IsNotFound(err) {
			http.Error(w, "Unknown or expired unsubscribe link", http.StatusNotFound)
			return
		}
		s.logger.Error("Failed to load pusher", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	// The link binds the token to a specific pusher; reject links that
	// were stitched together from mismatched parts.
	if appID != pusher.AppID || !strings.EqualFold(email, pusher.Email) {
		http.Error(w, "Unknown or expired unsubscribe link", http.StatusNotFound)
		return
	}
	expected := s.pushers.UnsubscribeToken(pusher.UserID, pusher.AppID, pusher.Email)
	if !hmac.Equal([]byte(expected), []byte(token)) {
		http.Error(w, "Unknown or expired unsubscribe link", http.StatusNotFound)
		return
	}

	if err := s.pushers.Delete(r.Context(), pusher.UserID, pusher.AppID, pusher.Email); err != nil {
		s.logger.Error("Failed to delete pusher", "user_id", pusher.UserID, "error", err)
		http.Error(w, "Failed to unsubscribe", http.StatusInternalServerError)
		return
	}

	s.logger.Info("Pusher unsubscribed", "user_id", pusher.UserID, "app_id", pusher.AppID)

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("You have been unsubscribed from email notifications.\n")); err != nil {
		s.logger.Warn("Failed to write response", "error", err)
	}
}
