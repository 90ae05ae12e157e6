// ABOUTME: Best-effort audit of handled messages to the ledger and the live broadcaster
// ABOUTME: Passwords are redacted before anything leaves the dispatcher

package conversation

import (
	"context"
	"time"

	"github.com/2389/rollcall-gateway/internal/auth"
	"github.com/2389/rollcall-gateway/internal/store"
)

// ledgerTimeout bounds each ledger write; it does not use the message context.
const ledgerTimeout = 5 * time.Second

// record appends the exchange and any attendance commit. Failures are
// logged and never reach the user.
func (s *Service) record(in Inbound, out outcome, took time.Duration) {
	if s.ledger == nil && s.broadcaster == nil {
		return
	}

	e := &store.Exchange{
		UserID:      in.UserID,
		MessageID:   in.MessageID,
		Inbound:     auth.Redact(in.Text),
		Reply:       out.reply,
		StateBefore: string(out.before),
		StateAfter:  string(out.after),
		Duration:    took,
		CreatedAt:   s.now().UTC(),
	}

	if s.ledger != nil {
		ctx, cancel := context.WithTimeout(context.Background(), ledgerTimeout)
		defer cancel()

		if err := s.ledger.AppendExchange(ctx, e); err != nil {
			s.logger.Error("failed to record exchange", "user_id", in.UserID, "error", err)
		}
		if out.commit != nil {
			if err := s.ledger.AppendAttendanceCommit(ctx, out.commit); err != nil {
				s.logger.Error("failed to record attendance commit",
					"user_id", in.UserID,
					"class_session_id", out.commit.ClassSessionID,
					"error", err)
			}
		}
	}

	if s.broadcaster != nil {
		s.broadcaster.Publish(e)
	}
}
