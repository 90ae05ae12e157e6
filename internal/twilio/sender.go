// ABOUTME: Outbound plain-text messages over the Twilio REST API
// ABOUTME: Form-encoded POST to the account's Messages resource with basic auth

package twilio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultAPIBase is the Twilio REST API root.
const DefaultAPIBase = "https://api.twilio.com/2010-04-01"

// MaxBodyLength is the longest message body Twilio accepts.
const MaxBodyLength = 1600

// ErrNotConfigured is returned by Send when credentials are missing.
var ErrNotConfigured = errors.New("twilio sender not configured")

// APIError is a non-2xx answer from the REST API.
type APIError struct {
	Status  int
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("twilio: status %d", e.Status)
	}
	return fmt.Sprintf("twilio: status %d: %s (code %d)", e.Status, e.Message, e.Code)
}

// SenderOptions configures a Sender.
type SenderOptions struct {
	AccountSID string
	AuthToken  string
	From       string // e.g. "whatsapp:+14155238886"

	APIBase    string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Sender sends messages from one configured number.
type Sender struct {
	accountSID string
	authToken  string
	from       string
	apiBase    string
	client     *http.Client
	logger     *slog.Logger
}

// NewSender creates a Sender.
func NewSender(opts SenderOptions) *Sender {
	s := &Sender{
		accountSID: opts.AccountSID,
		authToken:  opts.AuthToken,
		from:       opts.From,
		apiBase:    strings.TrimSuffix(opts.APIBase, "/"),
		client:     opts.HTTPClient,
		logger:     opts.Logger,
	}
	if s.apiBase == "" {
		s.apiBase = DefaultAPIBase
	}
	if s.client == nil {
		s.client = &http.Client{Timeout: 15 * time.Second}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("component", "twilio")
	return s
}

// Configured reports whether Send can be used.
func (s *Sender) Configured() bool {
	return s.accountSID != "" && s.authToken != "" && s.from != ""
}

// Send delivers body to the given address and returns the message SID.
// Bodies longer than MaxBodyLength are clipped. A WhatsApp sender number
// gets the whatsapp: prefix added to a bare recipient.
func (s *Sender) Send(ctx context.Context, to, body string) (string, error) {
	if !s.Configured() {
		return "", ErrNotConfigured
	}
	if to == "" {
		return "", errors.New("recipient is required")
	}
	if strings.HasPrefix(s.from, "whatsapp:") && !strings.HasPrefix(to, "whatsapp:") {
		to = "whatsapp:" + to
	}

	form := url.Values{}
	form.Set("From", s.from)
	form.Set("To", to)
	form.Set("Body", Clip(body, MaxBodyLength))

	endpoint := fmt.Sprintf("%s/Accounts/%s/Messages.json", s.apiBase, url.PathEscape(s.accountSID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}
	req.SetBasicAuth(s.accountSID, s.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("sending message: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		_ = json.Unmarshal(data, apiErr)
		return "", apiErr
	}

	var msg struct {
		SID    string `json:"sid"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}

	s.logger.Info("message sent", "sid", msg.SID, "status", msg.Status)
	return msg.SID, nil
}

// Clip shortens text to at most limit runes, ending with "..." when cut.
func Clip(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	if limit <= 3 {
		return string(runes[:limit])
	}
	return string(runes[:limit-3]) + "..."
}
