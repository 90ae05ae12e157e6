// ABOUTME: Exchange log: every inbound message with the reply and the state change it caused
// ABOUTME: Used by the debug ledger endpoint to reconstruct a user's conversation

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// AppendExchange appends an exchange. Generates ID and CreatedAt if not set.
func (s *SQLiteStore) AppendExchange(ctx context.Context, e *Exchange) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO exchanges (exchange_id, user_id, message_id, inbound, reply, state_before, state_after, duration_ms, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		e.ID,
		e.UserID,
		nullString(e.MessageID),
		e.Inbound,
		e.Reply,
		e.StateBefore,
		e.StateAfter,
		e.Duration.Milliseconds(),
		formatTime(e.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting exchange: %w", err)
	}

	s.logger.Debug("appended exchange",
		"id", e.ID,
		"user_id", e.UserID,
		"transition", e.StateBefore+"->"+e.StateAfter,
	)
	return nil
}

// scanExchange scans a row into an Exchange.
func scanExchange(scanner interface{ Scan(dest ...any) error }) (*Exchange, error) {
	var e Exchange
	var messageID sql.NullString
	var durationMS int64
	var ts string

	if err := scanner.Scan(
		&e.ID,
		&e.UserID,
		&messageID,
		&e.Inbound,
		&e.Reply,
		&e.StateBefore,
		&e.StateAfter,
		&durationMS,
		&ts,
	); err != nil {
		return nil, err
	}

	e.MessageID = messageID.String
	e.Duration = time.Duration(durationMS) * time.Millisecond
	e.CreatedAt = parseTime(ts)
	return &e, nil
}

const exchangeColumns = `exchange_id, user_id, message_id, inbound, reply, state_before, state_after, duration_ms, ts`

// GetExchange retrieves an exchange by ID.
// Returns ErrNotFound if the exchange doesn't exist.
func (s *SQLiteStore) GetExchange(ctx context.Context, id string) (*Exchange, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+exchangeColumns+` FROM exchanges WHERE exchange_id = ?`, id)
	e, err := scanExchange(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying exchange: %w", err)
	}
	return e, nil
}

// ListExchanges returns exchanges newest first.
func (s *SQLiteStore) ListExchanges(ctx context.Context, f ExchangeFilter) ([]*Exchange, error) {
	var where []string
	var args []any
	if f.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, f.UserID)
	}
	if f.Since != nil {
		where = append(where, "ts >= ?")
		args = append(args, formatTime(*f.Since))
	}

	query := `SELECT ` + exchangeColumns + ` FROM exchanges`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY ts DESC LIMIT ?`
	args = append(args, normalizeLimit(f.Limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying exchanges: %w", err)
	}
	defer rows.Close()

	var out []*Exchange
	for rows.Next() {
		e, err := scanExchange(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning exchange: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating exchanges: %w", err)
	}
	return out, nil
}
