// ABOUTME: JSON-over-HTTP implementation of the attendance service Client
// ABOUTME: Wraps each call in an overall timeout and the retry policy

package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// maxResponseBytes caps how much of a response body is read.
const maxResponseBytes = 4 << 20

// HTTPClientOptions configures an HTTPClient. Zero values get defaults.
type HTTPClientOptions struct {
	// Timeout bounds one whole call, retries and backoff included. Default 30s.
	Timeout time.Duration
	Retry   RetryPolicy
	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client
	Logger     *slog.Logger
	// Now stamps newly created sessions. Default time.Now.
	Now func() time.Time
}

// HTTPClient talks to the attendance service REST API.
type HTTPClient struct {
	baseURL string
	client  *http.Client
	timeout time.Duration
	retry   RetryPolicy
	logger  *slog.Logger
	now     func() time.Time
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient creates a client for the service at baseURL.
func NewHTTPClient(baseURL string, opts HTTPClientOptions) *HTTPClient {
	c := &HTTPClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  opts.HTTPClient,
		timeout: opts.Timeout,
		retry:   opts.Retry,
		logger:  opts.Logger,
		now:     opts.Now,
	}
	if c.client == nil {
		c.client = &http.Client{}
	}
	if c.timeout <= 0 {
		c.timeout = 30 * time.Second
	}
	if c.retry.MaxAttempts <= 0 {
		c.retry = DefaultRetryPolicy()
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	c.logger = c.logger.With("component", "backend")
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

// response is a fully read HTTP response.
type response struct {
	status int
	body   []byte
}

// do performs one logical call with timeout and retries. Only transport
// failures come back as errors; any HTTP status is returned to the caller.
func (c *HTTPClient) do(ctx context.Context, op, method, path, token string, payload any) (*response, error) {
	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("%s: marshaling request: %w", op, err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var resp *response
	err := c.retry.Do(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("creating request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}

		httpResp, err := c.client.Do(req)
		if err != nil {
			return Retryable(fmt.Errorf("sending request: %w", err))
		}
		defer httpResp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
		if err != nil {
			return Retryable(fmt.Errorf("reading response: %w", err))
		}
		resp = &response{status: httpResp.StatusCode, body: data}
		return nil
	}, func(attempt int, err error) {
		c.logger.Warn("request failed, retrying", "op", op, "attempt", attempt, "error", err)
	})
	if err != nil {
		c.logger.Error("request failed", "op", op, "path", path, "error", err)
		return nil, fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
	}

	c.logger.Debug("request completed", "op", op, "status", resp.status)
	return resp, nil
}

// checkStatus turns a non-2xx status into an error.
func checkStatus(op string, resp *response) error {
	if resp.status >= 200 && resp.status < 300 {
		return nil
	}
	if resp.status == http.StatusUnauthorized || resp.status == http.StatusForbidden {
		return fmt.Errorf("%s: %w", op, ErrUnauthorized)
	}
	return &StatusError{Op: op, StatusCode: resp.status, Message: errorMessage(resp.body)}
}

// errorMessage extracts {"message": ...} or {"msg": ...} from an error body.
func errorMessage(body []byte) string {
	var e struct {
		Message string `json:"message"`
		Msg     string `json:"msg"`
	}
	if json.Unmarshal(body, &e) != nil {
		return ""
	}
	if e.Message != "" {
		return e.Message
	}
	return e.Msg
}

func decode(op string, resp *response, v any) error {
	if err := json.Unmarshal(resp.body, v); err != nil {
		return fmt.Errorf("%s: %w: decoding response: %v", op, ErrUnavailable, err)
	}
	return nil
}

// loginResponse accepts both flat and {"data": {...}} shaped login responses.
type loginResponse struct {
	Token       string `json:"token"`
	AccessToken string `json:"access_token"`
	User        *User  `json:"user"`
	Data        *struct {
		Token string `json:"token"`
		User  *User  `json:"user"`
	} `json:"data"`
}

func (r loginResponse) result() (*AuthResult, bool) {
	token := r.Token
	if token == "" {
		token = r.AccessToken
	}
	user := r.User
	if r.Data != nil {
		if token == "" {
			token = r.Data.Token
		}
		if user == nil {
			user = r.Data.User
		}
	}
	if token == "" || user == nil {
		return nil, false
	}
	return &AuthResult{Token: token, User: *user}, true
}

// Authenticate exchanges email and password for a bearer token.
func (c *HTTPClient) Authenticate(ctx context.Context, email, password string) (*AuthResult, error) {
	const op = "authenticate"
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
	}

	resp, err := c.do(ctx, op, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email":    email,
		"password": password,
	})
	if err != nil {
		return nil, err
	}

	switch {
	case resp.status == http.StatusBadRequest || resp.status == http.StatusUnauthorized:
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
	case resp.status != http.StatusOK:
		return nil, checkStatus(op, resp)
	}

	var lr loginResponse
	if err := decode(op, resp, &lr); err != nil {
		return nil, err
	}
	result, ok := lr.result()
	if !ok {
		return nil, fmt.Errorf("%s: %w: response missing token or user", op, ErrUnavailable)
	}
	c.logger.Info("authenticated", "email", email, "role", result.User.Role)
	return result, nil
}

// ListAssignments returns the teacher's active teaching assignments.
func (c *HTTPClient) ListAssignments(ctx context.Context, token string) ([]TeachingAssignment, error) {
	const op = "list assignments"
	resp, err := c.do(ctx, op, http.MethodGet, "/api/teachers/assignments", token, nil)
	if err != nil {
		return nil, err
	}
	if err := checkStatus(op, resp); err != nil {
		return nil, err
	}
	var out []TeachingAssignment
	if err := decode(op, resp, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListSessions returns the class sessions of an assignment, newest first.
func (c *HTTPClient) ListSessions(ctx context.Context, assignmentID, token string) ([]ClassSession, error) {
	const op = "list sessions"
	resp, err := c.do(ctx, op, http.MethodGet, "/api/teachers/sessions/"+url.PathEscape(assignmentID), token, nil)
	if err != nil {
		return nil, err
	}
	if err := checkStatus(op, resp); err != nil {
		return nil, err
	}
	var out []ClassSession
	if err := decode(op, resp, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateSession creates a class session dated now with the given topic.
func (c *HTTPClient) CreateSession(ctx context.Context, assignmentID, token, topic string) (*ClassSession, error) {
	const op = "create session"
	resp, err := c.do(ctx, op, http.MethodPost, "/api/teachers/sessions", token, map[string]string{
		"assignmentId": assignmentID,
		"date":         c.now().UTC().Format(time.RFC3339),
		"topic":        strings.TrimSpace(topic),
	})
	if err != nil {
		return nil, err
	}
	if err := checkStatus(op, resp); err != nil {
		return nil, err
	}
	var out ClassSession
	if err := decode(op, resp, &out); err != nil {
		return nil, err
	}
	if out.ID == "" {
		return nil, fmt.Errorf("%s: %w: response missing id", op, ErrUnavailable)
	}
	c.logger.Info("created class session", "session_id", out.ID, "assignment_id", assignmentID)
	return &out, nil
}

// GetAttendance returns the roster of a class session with present flags.
func (c *HTTPClient) GetAttendance(ctx context.Context, classSessionID, token string) ([]AttendanceRecord, error) {
	const op = "get attendance"
	path := "/api/teachers/sessions/" + url.PathEscape(classSessionID) + "/attendance"
	resp, err := c.do(ctx, op, http.MethodGet, path, token, nil)
	if err != nil {
		return nil, err
	}
	if err := checkStatus(op, resp); err != nil {
		return nil, err
	}
	var out []AttendanceRecord
	if err := decode(op, resp, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// MarkAttendanceBatch writes updates for a class session. A 2xx response whose
// body carries no per-record results confirms every update.
func (c *HTTPClient) MarkAttendanceBatch(ctx context.Context, classSessionID string, updates []AttendanceUpdate, token string) ([]BatchResult, error) {
	const op = "mark attendance"
	if len(updates) == 0 {
		return nil, nil
	}
	path := "/api/teachers/attendance/batch/" + url.PathEscape(classSessionID)
	resp, err := c.do(ctx, op, http.MethodPut, path, token, map[string]any{
		"attendanceRecords": updates,
	})
	if err != nil {
		return nil, err
	}
	if err := checkStatus(op, resp); err != nil {
		return nil, err
	}

	var results []BatchResult
	if json.Unmarshal(resp.body, &results) != nil || len(results) == 0 {
		results = make([]BatchResult, len(updates))
		for i, u := range updates {
			results[i] = BatchResult{StudentID: u.StudentID, Status: BatchStatusSuccess}
		}
	}
	c.logger.Info("marked attendance", "session_id", classSessionID, "updates", len(updates))
	return results, nil
}
