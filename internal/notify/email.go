package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/dustin/go-humanize"
)

// EmailClient sends transactional mail through Postmark.
type EmailClient struct {
	serverToken string
	fromEmail   string
	baseURL     string
	httpClient  *http.Client
}

type EmailOption func(*EmailClient)

func WithHTTPClient(c *http.Client) EmailOption {
	return func(cl *EmailClient) {
		cl.httpClient = c
	}
}

// WithBaseURL overrides the Postmark API endpoint, used by tests.
func WithBaseURL(u string) EmailOption {
	return func(cl *EmailClient) {
		cl.baseURL = u
	}
}

func NewEmailClient(serverToken, fromEmail string, opts ...EmailOption) *EmailClient {
	c := &EmailClient{
		serverToken: serverToken,
		fromEmail:   fromEmail,
		baseURL:     "https://api.postmarkapp.com",
		httpClient:  http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Configured returns true if the server token is set.
func (c *EmailClient) Configured() bool {
	return c.serverToken != ""
}

type postmarkEmail struct {
	From     string `json:"From"`
	To       string `json:"To"`
	Subject  string `json:"Subject"`
	TextBody string `json:"TextBody"`
}

// SendBackupReport mails a plain-text summary of one backup outcome.
func (c *EmailClient) SendBackupReport(toEmail string, o Outcome) error {
	if !c.Configured() {
		return fmt.Errorf("email client not configured: missing server token")
	}

	var subject, body string
	if o.Success {
		subject = fmt.Sprintf("Backup #%d completed", o.BackupID)
		body = fmt.Sprintf("Backup #%d (%s) completed in %s.\nArchive size: %s.",
			o.BackupID, o.Type, o.Duration.Round(timeRounding), humanize.Bytes(uint64(o.Size)))
	} else {
		subject = fmt.Sprintf("Backup #%d failed", o.BackupID)
		body = fmt.Sprintf("Backup #%d (%s) failed after %s.\nError: %s",
			o.BackupID, o.Type, o.Duration.Round(timeRounding), o.Error)
	}

	payload := postmarkEmail{
		From:     c.fromEmail,
		To:       toEmail,
		Subject:  subject,
		TextBody: body,
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal email: %w", err)
	}

	req, err := http.NewRequest("POST", c.baseURL+"/email", bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Postmark-Server-Token", c.serverToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("postmark API error: status %d", resp.StatusCode)
	}

	return nil
}
