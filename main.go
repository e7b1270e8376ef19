// Package main implements a Cloud Run service that builds room notification
// digests and delivers them by email.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"digest-notifier/builder"
	"digest-notifier/mail"
	"digest-notifier/render"
	"digest-notifier/store"
)

// Service wires the digest builder, renderer, pusher store, and email
// provider behind the HTTP surface.
type Service struct {
	pushers  *store.Store
	renderer *render.Renderer
	sender   *mail.Sender
	logger   *slog.Logger
	cfg      builder.Config
}

func main() {
	ctx := context.Background()

	// Initialize structured logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	localStorage := os.Getenv("LOCAL_STORAGE")
	bucket := os.Getenv("STORAGE_BUCKET")
	baseURL := os.Getenv("BASE_URL")

	appName := os.Getenv("APP_NAME")
	if appName == "" {
		appName = "Digest Notifier"
	}
	serverName := os.Getenv("SERVER_NAME")
	clientBaseURL := os.Getenv("CLIENT_BASE_URL")

	salt := []byte(os.Getenv("TOKEN_SALT"))
	if len(salt) == 0 {
		logger.Error("TOKEN_SALT environment variable required")
		os.Exit(1)
	}

	// Default to local development mode if no bucket specified
	if bucket == "" && localStorage == "" {
		localStorage = "./data"
		logger.Info("No STORAGE_BUCKET set, defaulting to local development mode", "storage_path", localStorage)
	}

	var storageClient *storage.Client
	if localStorage != "" {
		logger.Info("Running in local development mode", "storage_path", localStorage)
		if baseURL == "" {
			baseURL = "http://localhost:8080"
		}

		if err := os.MkdirAll(localStorage, 0o755); err != nil {
			logger.Error("Failed to create local storage directory", "error", err)
			os.Exit(1)
		}
	} else {
		if baseURL == "" {
			logger.Error("BASE_URL environment variable required (e.g., https://your-service.run.app)")
			os.Exit(1)
		}

		var err error
		storageClient, err = storage.NewClient(ctx)
		if err != nil {
			logger.Error("Failed to initialize Storage client", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := storageClient.Close(); err != nil {
				logger.Warn("Failed to close storage client", "error", err)
			}
		}()
	}

	provider := initProvider(ctx, logger)
	renderer, err := render.New(appName, serverName)
	if err != nil {
		logger.Error("Failed to parse email templates", "error", err)
		os.Exit(1)
	}

	svc := &Service{
		pushers:  store.New(storageClient, bucket, localStorage, salt, logger),
		renderer: renderer,
		sender:   mail.NewSender(provider, renderer, logger),
		logger:   logger,
		cfg: builder.Config{
			AppName:       appName,
			BaseURL:       baseURL,
			ClientBaseURL: clientBaseURL,
			Subjects:      builder.DefaultSubjects(),
		},
	}

	startServer(svc, logger)
}

func startServer(svc *Service, logger *slog.Logger) {
	http.HandleFunc("/health", svc.handleHealth)
	http.HandleFunc("/preview", svc.handlePreview)
	http.HandleFunc("/send", svc.handleSend)
	http.HandleFunc("/subscribe", svc.handleSubscribe)
	http.HandleFunc("/unsubscribe", svc.handleUnsubscribe)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	logger.Info("Starting HTTP server", "port", port)
	if err := http.ListenAndServe(":"+port, nil); err != nil {
		logger.Error("Server failed", "error", err)
		os.Exit(1)
	}
}

// initProvider selects an email provider: Brevo when an API key is set,
// then Gmail, falling back to mock delivery for local development.
func initProvider(ctx context.Context, logger *slog.Logger) mail.Provider {
	if apiKey := os.Getenv("BREVO_API_KEY"); apiKey != "" {
		fromAddr := os.Getenv("MAIL_FROM")
		fromName := os.Getenv("MAIL_FROM_NAME")
		logger.Info("Using Brevo email provider", "from", fromAddr)
		return mail.NewBrevoProvider(apiKey, fromAddr, fromName, logger)
	}

	gmailService, err := initGmailService(ctx)
	if err != nil {
		logger.Warn("Failed to initialize Gmail service, using mock email", "error", err)
		return mail.NewMockProvider(logger)
	}
	logger.Info("Using Gmail email provider")
	return mail.NewGmailProvider(gmailService, logger)
}

// isCloudRun checks if we're running in a GCP environment by querying the metadata server.
func isCloudRun(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://metadata.google.internal/computeMetadata/v1/project/project-id", nil)
	if err != nil {
		return false
	}
	req.Header.Set("Metadata-Flavor", "Google")

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	return resp.StatusCode == http.StatusOK
}

func initGmailService(ctx context.Context) (*gmail.Service, error) {
	// Try explicit credentials first (for local development or specific use cases)
	credsJSON := os.Getenv("GOOGLE_CREDENTIALS_JSON")
	if credsJSON != "" {
		return gmail.NewService(ctx, option.WithCredentialsJSON([]byte(credsJSON)))
	}

	// If running in Cloud Run, use Application Default Credentials (ADC)
	// This automatically uses the service account
	// The service account needs Gmail API access (gmail.send scope)
	if isCloudRun(ctx) {
		return gmail.NewService(ctx)
	}

	// Not in Cloud Run and no explicit credentials
	return nil, errors.New("GOOGLE_CREDENTIALS_JSON required when not running in Cloud Run")
}
