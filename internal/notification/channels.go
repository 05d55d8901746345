package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/smtp"
	"strings"
	"time"

	"github.com/fleetsentry-systems/fleetsentry/internal/config"
	"github.com/fleetsentry-systems/fleetsentry/internal/contacts"
	"github.com/fleetsentry-systems/fleetsentry/internal/models"
)

// Channel dispatches one message to one recipient on one delivery medium.
type Channel interface {
	Type() string
	Send(ctx context.Context, recipient contacts.Recipient, message string) error
}

// transientError wraps a delivery failure that is worth retrying.
type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// IsTransient reports whether a delivery error may succeed on retry.
func IsTransient(err error) bool {
	var te *transientError
	return errors.As(err, &te)
}

// providerChannel delivers sms, whatsapp, and voice messages through the
// uniform messaging provider HTTP API. The three channels differ only in the
// channel field of the request.
type providerChannel struct {
	channelType string
	baseURL     string
	token       string
	client      *http.Client
}

// NewProviderChannel creates an sms, whatsapp, or voice channel backed by
// the messaging provider endpoint.
func NewProviderChannel(channelType, baseURL, token string, timeout time.Duration) Channel {
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &providerChannel{
		channelType: channelType,
		baseURL:     baseURL,
		token:       token,
		client:      &http.Client{Timeout: timeout},
	}
}

func (c *providerChannel) Type() string { return c.channelType }

func (c *providerChannel) Send(ctx context.Context, recipient contacts.Recipient, message string) error {
	payload := map[string]string{
		"channel": c.channelType,
		"to":      recipient.Address,
		"body":    message,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal provider request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create provider request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return &transientError{err: fmt.Errorf("provider request failed: %w", err)}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 500:
		return &transientError{err: fmt.Errorf("provider returned status %d", resp.StatusCode)}
	default:
		return fmt.Errorf("provider rejected message: status %d", resp.StatusCode)
	}
}

// emailChannel delivers email through SMTP.
type emailChannel struct {
	cfg  config.SMTPConfig
	auth smtp.Auth
}

// NewEmailChannel creates the email channel.
func NewEmailChannel(cfg config.SMTPConfig) Channel {
	var auth smtp.Auth
	if cfg.User != "" && cfg.Password != "" {
		auth = smtp.PlainAuth("", cfg.User, cfg.Password, cfg.Host)
	}
	return &emailChannel{cfg: cfg, auth: auth}
}

func (c *emailChannel) Type() string { return models.ChannelEmail }

func (c *emailChannel) Send(_ context.Context, recipient contacts.Recipient, message string) error {
	addr := fmt.Sprintf("%s:%s", c.cfg.Host, c.cfg.Port)

	fromHeader := c.cfg.From
	if strings.TrimSpace(c.cfg.FromName) != "" {
		fromHeader = fmt.Sprintf("%s <%s>", c.cfg.FromName, c.cfg.From)
	}

	to := sanitizeHeader(recipient.Address)
	msg := []string{
		fmt.Sprintf("From: %s", sanitizeHeader(fromHeader)),
		fmt.Sprintf("To: %s", to),
		"Subject: Fleet safety alert",
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=UTF-8",
		"",
		message,
	}

	if err := smtp.SendMail(addr, c.auth, c.cfg.From, []string{recipient.Address},
		[]byte(strings.Join(msg, "\r\n"))); err != nil {
		return &transientError{err: fmt.Errorf("smtp send: %w", err)}
	}
	return nil
}

// sanitizeHeader strips CR and LF to prevent header injection.
func sanitizeHeader(s string) string {
	s = strings.ReplaceAll(s, "\r", "")
	return strings.ReplaceAll(s, "\n", "")
}

// webhookChannel POSTs the alert message as JSON to a configured endpoint.
type webhookChannel struct {
	url    string
	client *http.Client
}

// NewWebhookChannel creates the webhook channel.
func NewWebhookChannel(url string, timeout time.Duration) Channel {
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &webhookChannel{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

func (c *webhookChannel) Type() string { return models.ChannelWebhook }

func (c *webhookChannel) Send(ctx context.Context, recipient contacts.Recipient, message string) error {
	target := c.url
	if recipient.Address != "" {
		target = recipient.Address
	}

	payload := map[string]string{
		"recipient": recipient.Name,
		"message":   message,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return &transientError{err: fmt.Errorf("webhook request failed: %w", err)}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 500:
		return &transientError{err: fmt.Errorf("webhook returned status %d", resp.StatusCode)}
	default:
		return fmt.Errorf("webhook rejected payload: status %d", resp.StatusCode)
	}
}
