// ABOUTME: Tests for the JSON message API used by frontend bridges
// ABOUTME: Covers validation, bearer auth, redelivery and request parsing

package gateway

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/rollcall-gateway/internal/config"
)

func decodeMessageResponse(t *testing.T, body string) MessageResponse {
	t.Helper()
	var resp MessageResponse
	require.NoError(t, json.Unmarshal([]byte(body), &resp), body)
	return resp
}

func TestHandleMessage_Login(t *testing.T) {
	env := newTestEnv(t)

	rec := env.postJSON(t, messagePath, MessageRequest{UserID: "@ada:school.edu", Text: loginText, MessageID: "$evt1"}, "")

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decodeMessageResponse(t, rec.Body.String())
	assert.Contains(t, resp.ReplyText, "Welcome")
	assert.Equal(t, "authenticated", resp.State)
	assert.False(t, resp.Duplicate)
}

func TestHandleMessage_Redelivery(t *testing.T) {
	env := newTestEnv(t)
	req := MessageRequest{UserID: "@ada:school.edu", Text: loginText, MessageID: "$evt1"}

	first := decodeMessageResponse(t, env.postJSON(t, messagePath, req, "").Body.String())
	second := decodeMessageResponse(t, env.postJSON(t, messagePath, req, "").Body.String())

	assert.Equal(t, first.ReplyText, second.ReplyText)
	assert.True(t, second.Duplicate)
	assert.Equal(t, 1, env.client.CallCount("Authenticate"))
}

func TestHandleMessage_BadRequests(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{"invalid json", "{not json", "invalid JSON body"},
		{"missing user", `{"text":"help"}`, "user_id is required"},
		{"blank user", `{"user_id":"   ","text":"help"}`, "user_id is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := newJSONRequest(http.MethodPost, messagePath, tt.body)
			rec := env.do(t, req)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.wantErr)
		})
	}
	assert.Zero(t, env.gw.sessions.Len())
}

func TestHandleMessage_RequiresTokenWhenConfigured(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) { c.Auth.JWTSecret = testSecret })
	body := MessageRequest{UserID: "@ada:school.edu", Text: "help"}

	rec := env.postJSON(t, messagePath, body, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.postJSON(t, messagePath, body, "not-a-jwt")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	token, err := env.gw.verifier.Generate("matrix-bridge", time.Hour)
	require.NoError(t, err)
	rec = env.postJSON(t, messagePath, body, token)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestParseMessageRequest(t *testing.T) {
	req, err := parseMessageRequest(strings.NewReader(`{"user_id":"  u1 ","text":"","message_id":"m"}`))
	require.NoError(t, err)
	assert.Equal(t, "u1", req.UserID)
	assert.Equal(t, "", req.Text, "empty text is left to the dialogue service")
	assert.Equal(t, "m", req.MessageID)
}
