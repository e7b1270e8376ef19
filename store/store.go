// Package store handles persistence of email pushers: which users get
// notification digests, at which address, and the token that lets them
// unsubscribe.
package store

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/codeGROOVE-dev/retry"
	"google.golang.org/api/iterator"
)

// Pusher records one user's email notification subscription.
type Pusher struct {
	CreatedAt time.Time `json:"created_at"` // Subscription timestamp
	UserID    string    `json:"user_id"`    // Notified user
	AppID     string    `json:"app_id"`     // Application receiving notifications
	Email     string    `json:"email"`      // Destination address
}

// Store handles pusher persistence in Cloud Storage or a local directory.
type Store struct {
	client    *storage.Client
	logger    *slog.Logger
	localPath string
	bucket    string
	salt      []byte
}

// New creates a new storage handler.
func New(client *storage.Client, bucket string, localPath string, salt []byte, logger *slog.Logger) *Store {
	return &Store{
		client:    client,
		logger:    logger,
		salt:      salt,
		localPath: localPath,
		bucket:    bucket,
	}
}

// UnsubscribeToken derives a deterministic, unguessable token for a
// pusher. Uses HMAC-SHA256 with a secret salt so tokens cannot be guessed
// without the salt.
func (s *Store) UnsubscribeToken(userID, appID, email string) string {
	h := hmac.New(sha256.New, s.salt)
	h.Write([]byte(strings.ToLower(strings.TrimSpace(userID))))
	h.Write([]byte{0})
	h.Write([]byte(appID))
	h.Write([]byte{0})
	h.Write([]byte(strings.ToLower(strings.TrimSpace(email))))
	return hex.EncodeToString(h.Sum(nil))
}

// PusherKey generates a stable object name from a token. Validates that
// the token is a safe hex string to prevent path traversal, in constant
// time to avoid a timing oracle.
func PusherKey(token string) string {
	if len(token) != 64 {
		return ""
	}

	valid := 1
	for _, c := range token {
		isHexDigit := (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')
		if !isHexDigit {
			valid = 0
		}
	}
	if valid == 0 {
		return ""
	}

	return fmt.Sprintf("pusher-%s.json", token)
}

// Save saves a pusher.
func (s *Store) Save(ctx context.Context, p *Pusher) error {
	key := PusherKey(s.UnsubscribeToken(p.UserID, p.AppID, p.Email))
	if key == "" {
		return errors.New("invalid token format")
	}
	s.logger.Debug("Saving pusher", "key", key, "user_id", p.UserID)

	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal pusher: %w", err)
	}

	// Local filesystem storage
	if s.localPath != "" {
		filePath := filepath.Join(s.localPath, key)
		if err := os.WriteFile(filePath, data, 0o600); err != nil {
			return fmt.Errorf("write to local storage: %w", err)
		}

		s.logger.Info("Pusher saved to local storage", "path", filePath, "user_id", p.UserID)
		return nil
	}

	// Cloud Storage with retry logic for reliability
	err = retry.Do(
		func() error {
			w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
			if _, writeErr := w.Write(data); writeErr != nil {
				if closeErr := w.Close(); closeErr != nil {
					s.logger.Warn("Failed to close writer after error", "error", closeErr)
				}
				return fmt.Errorf("write to storage: %w", writeErr)
			}
			if closeErr := w.Close(); closeErr != nil {
				return fmt.Errorf("close storage writer: %w", closeErr)
			}
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(2*time.Minute),
		retry.MaxJitter(10*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, retryErr error) {
			s.logger.Info("Retrying save operation after error", "attempt", n, "key", key, "error", retryErr)
		}),
	)
	if err != nil {
		return fmt.Errorf("save after retries: %w", err)
	}

	s.logger.Info("Pusher saved", "key", key, "user_id", p.UserID)
	return nil
}

// Load loads a pusher by object key.
func (s *Store) Load(ctx context.Context, key string) (*Pusher, error) {
	if key == "" {
		return nil, errors.New("invalid key format")
	}

	var data []byte

	// Local filesystem storage
	if s.localPath != "" {
		var err error
		filePath := filepath.Join(s.localPath, key)
		data, err = os.ReadFile(filePath)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, errors.New("storage: object doesn't exist")
			}
			return nil, fmt.Errorf("read from local storage: %w", err)
		}
	} else {
		// Cloud Storage with retry logic for reliability
		var readData []byte
		err := retry.Do(
			func() error {
				r, openErr := s.client.Bucket(s.bucket).Object(key).NewReader(ctx)
				if openErr != nil {
					// Don't retry on "not found" errors
					if errors.Is(openErr, storage.ErrObjectNotExist) {
						return retry.Unrecoverable(fmt.Errorf("open storage reader: %w", openErr))
					}
					return fmt.Errorf("open storage reader: %w", openErr)
				}
				defer func() {
					if closeErr := r.Close(); closeErr != nil {
						s.logger.Warn("Failed to close storage reader", "error", closeErr)
					}
				}()

				var readErr error
				readData, readErr = io.ReadAll(r)
				if readErr != nil {
					return fmt.Errorf("read from storage: %w", readErr)
				}
				return nil
			},
			retry.Attempts(3),
			retry.Delay(time.Second),
			retry.MaxDelay(2*time.Minute),
			retry.MaxJitter(10*time.Second),
			retry.Context(ctx),
			retry.OnRetry(func(n uint, retryErr error) {
				s.logger.Info("Retrying load operation after error", "attempt", n, "key", key, "error", retryErr)
			}),
		)
		if err != nil {
			return nil, fmt.Errorf("load after retries: %w", err)
		}
		data = readData
	}

	var p Pusher
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("unmarshal pusher: %w", err)
	}

	return &p, nil
}

// LoadByToken loads a pusher by its unsubscribe token. O(1) since the
// token is the object name; the format is validated first so an invalid
// token is indistinguishable from a missing one.
func (s *Store) LoadByToken(ctx context.Context, token string) (*Pusher, error) {
	key := PusherKey(token)
	if key == "" {
		return nil, errors.New("storage: object doesn't exist")
	}
	return s.Load(ctx, key)
}

// Delete removes a pusher.
func (s *Store) Delete(ctx context.Context, userID, appID, email string) error {
	key := PusherKey(s.UnsubscribeToken(userID, appID, email))
	if key == "" {
		return errors.New("invalid token format")
	}
	s.logger.Debug("Deleting pusher", "key", key, "user_id", userID)

	// Local filesystem storage
	if s.localPath != "" {
		filePath := filepath.Join(s.localPath, key)
		if err := os.Remove(filePath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("delete from local storage: %w", err)
		}
		s.logger.Info("Pusher deleted from local storage", "path", filePath, "user_id", userID)
		return nil
	}

	// Cloud Storage with retry logic for reliability
	err := retry.Do(
		func() error {
			if deleteErr := s.client.Bucket(s.bucket).Object(key).Delete(ctx); deleteErr != nil {
				// Deletion is idempotent, don't retry on "not found"
				if errors.Is(deleteErr, storage.ErrObjectNotExist) {
					return retry.Unrecoverable(fmt.Errorf("delete from storage: %w", deleteErr))
				}
				return fmt.Errorf("delete from storage: %w", deleteErr)
			}
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(2*time.Minute),
		retry.MaxJitter(10*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, retryErr error) {
			s.logger.Info("Retrying delete operation after error", "attempt", n, "key", key, "error", retryErr)
		}),
	)
	if err != nil {
		return fmt.Errorf("delete after retries: %w", err)
	}

	s.logger.Info("Pusher deleted", "key", key, "user_id", userID)
	return nil
}

// List lists all pushers.
func (s *Store) List(ctx context.Context) ([]*Pusher, error) {
	var pushers []*Pusher

	// Local filesystem storage
	if s.localPath != "" {
		entries, err := os.ReadDir(s.localPath)
		if err != nil {
			return nil, fmt.Errorf("read local storage directory: %w", err)
		}

		for _, entry := range entries {
			if entry.IsDir() || !strings.HasPrefix(entry.Name(), "pusher-") || !strings.HasSuffix(entry.Name(), ".json") {
				continue
			}

			p, err := s.Load(ctx, entry.Name())
			if err != nil {
				s.logger.Warn("Failed to load pusher", "file", entry.Name(), "error", err)
				continue
			}

			pushers = append(pushers, p)
		}

		return pushers, nil
	}

	// Cloud Storage
	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{
		Prefix: "pusher-",
	})

	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iterate storage: %w", err)
		}

		p, err := s.Load(ctx, attrs.Name)
		if err != nil {
			s.logger.Warn("Failed to load pusher", "key", attrs.Name, "error", err)
			continue
		}

		pushers = append(pushers, p)
	}

	return pushers, nil
}

// IsNotFound checks if an error indicates a pusher was not found.
func IsNotFound(err error) bool {
	return err != nil && strings.Contains(err.Error(), "storage: object doesn't exist")
}
