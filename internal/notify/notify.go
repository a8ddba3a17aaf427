// Package notify delivers best-effort reports of backup outcomes over email
// and webhooks. Nothing in this package may fail a backup: every error stops
// at this boundary and surfaces only as log output.
package notify

import (
	"context"
	"log/slog"
	"time"
)

// timeRounding keeps reported durations readable.
const timeRounding = 100 * time.Millisecond

// Outcome is one terminal backup result plus its delivery targets. Targets
// left empty disable the corresponding channel for this outcome.
type Outcome struct {
	BackupID   int64
	Type       string
	Success    bool
	Size       int64
	Duration   time.Duration
	Error      string
	Email      string
	WebhookURL string
}

// Service fans one outcome out to the configured channels.
type Service struct {
	email   *EmailClient
	webhook *WebhookSender
	logger  *slog.Logger
}

func NewService(email *EmailClient, webhook *WebhookSender, logger *slog.Logger) *Service {
	return &Service{email: email, webhook: webhook, logger: logger}
}

// BackupOutcome is fire-and-forget: delivery failures are logged, never
// returned.
func (s *Service) BackupOutcome(ctx context.Context, o Outcome) {
	if o.Email != "" && s.email != nil {
		if err := s.email.SendBackupReport(o.Email, o); err != nil {
			s.logger.Warn("email notification failed", "to", o.Email, "error", err)
		}
	}
	if o.WebhookURL != "" && s.webhook != nil {
		if err := s.webhook.Send(ctx, o.WebhookURL, o); err != nil {
			s.logger.Warn("webhook notification failed", "url", o.WebhookURL, "error", err)
		}
	}
}
