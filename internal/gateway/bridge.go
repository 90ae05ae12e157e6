// ABOUTME: JSON message API used by frontend bridges (Matrix) and the chat console
// ABOUTME: One message in, the plain-text reply out; redelivered message IDs get the first reply

package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/2389/rollcall-gateway/internal/auth"
	"github.com/2389/rollcall-gateway/internal/conversation"
)

// maxMessageBytes caps the JSON request body.
const maxMessageBytes = 64 << 10

// MessageRequest is the JSON request body for POST /api/message.
// Each frontend provides its own stable identifiers:
//   - Matrix: user_id is the sender MXID, message_id the event ID
//   - chat console: user_id from --as, message_id generated per line
type MessageRequest struct {
	UserID    string `json:"user_id"`
	Text      string `json:"text"`
	MessageID string `json:"message_id,omitempty"`
}

// MessageResponse is the JSON response for POST /api/message.
type MessageResponse struct {
	ReplyText string `json:"reply_text"`
	State     string `json:"state,omitempty"`
	Duplicate bool   `json:"duplicate,omitempty"`
}

// parseMessageRequest decodes and validates a MessageRequest.
// An empty text is allowed and answered by the dialogue service.
func parseMessageRequest(r io.Reader) (*MessageRequest, error) {
	var req MessageRequest
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return nil, errors.New("invalid JSON body")
	}
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" {
		return nil, errors.New("user_id is required")
	}
	return &req, nil
}

// handleMessage handles POST /api/message.
func (g *Gateway) handleMessage(w http.ResponseWriter, r *http.Request) {
	req, err := parseMessageRequest(http.MaxBytesReader(w, r.Body, maxMessageBytes))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	caller := "anonymous"
	if c := auth.CallerFrom(r.Context()); c != nil {
		caller = c.Subject
	}
	g.logger.Debug("api message",
		"request_id", requestIDFrom(r.Context()),
		"caller", caller,
		"user_id", req.UserID,
		"message_id", req.MessageID)

	reply := g.service.HandleMessage(r.Context(), conversation.Inbound{
		UserID:    req.UserID,
		Text:      req.Text,
		MessageID: req.MessageID,
	})

	writeJSON(w, http.StatusOK, MessageResponse{
		ReplyText: reply.Text,
		State:     string(reply.State),
		Duplicate: reply.Duplicate,
	})
}
