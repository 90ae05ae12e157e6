// ABOUTME: Twilio messaging webhook: form POST in, TwiML out
// ABOUTME: Replies inline, or acknowledges at once and sends the reply over REST

package gateway

import (
	"context"
	"net/http"
	"strings"

	"github.com/2389/rollcall-gateway/internal/config"
	"github.com/2389/rollcall-gateway/internal/conversation"
	"github.com/2389/rollcall-gateway/internal/twilio"
)

// Webhook replies that never reach the dialogue service.
const (
	replyMissingSender = "❌ Invalid request: missing phone number"
	replyBadForm       = "❌ Sorry, there was an error processing your message. Please try again."
)

// maxWebhookBytes caps the webhook form body.
const maxWebhookBytes = 64 << 10

// handleTwilioWebhook handles POST /webhook/twilio.
func (g *Gateway) handleTwilioWebhook(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBytes)
	if err := r.ParseForm(); err != nil {
		g.logger.Warn("invalid webhook form", "error", err)
		writeTwiML(w, http.StatusBadRequest, twilio.MessageResponse(replyBadForm))
		return
	}

	if g.config.Twilio.ValidateSignature {
		sig := r.Header.Get(twilio.SignatureHeader)
		if !twilio.ValidSignature(g.config.Twilio.AuthToken, g.config.Twilio.PublicURL, r.PostForm, sig) {
			g.logger.Warn("rejected webhook with bad signature", "remote", r.RemoteAddr)
			http.Error(w, "invalid signature", http.StatusForbidden)
			return
		}
	}

	from := strings.TrimSpace(r.PostForm.Get("From"))
	if from == "" {
		g.logger.Error("missing phone number in webhook")
		writeTwiML(w, http.StatusOK, twilio.MessageResponse(replyMissingSender))
		return
	}

	in := conversation.Inbound{
		UserID:    from,
		Text:      r.PostForm.Get("Body"),
		MessageID: r.PostForm.Get("MessageSid"),
	}

	if g.config.Twilio.ReplyMode == config.ReplyModeREST {
		g.replyLater(in)
		writeTwiML(w, http.StatusOK, twilio.EmptyResponse())
		return
	}

	reply := g.service.HandleMessage(r.Context(), in)
	writeTwiML(w, http.StatusOK, twilio.MessageResponse(reply.Text))
}

// replyLater handles in off the request path and sends the reply over the
// REST API. A redelivered message is not sent twice.
func (g *Gateway) replyLater(in conversation.Inbound) {
	g.background.Go(func() {
		ctx, cancel := context.WithTimeout(context.Background(), g.config.Bot.MessageDeadline+sendTimeout)
		defer cancel()

		reply := g.service.HandleMessage(ctx, in)
		if reply.Duplicate {
			g.logger.Debug("duplicate webhook, reply already sent", "user_id", in.UserID, "message_id", in.MessageID)
			return
		}
		if _, err := g.sender.Send(ctx, in.UserID, reply.Text); err != nil {
			g.logger.Error("failed to send reply", "user_id", in.UserID, "error", err)
		}
	})
}

func writeTwiML(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", twilio.ContentType)
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
