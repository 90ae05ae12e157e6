// ABOUTME: Attendance commit log: one row per confirmed batch write
// ABOUTME: Records which roll numbers the service accepted and rejected

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AppendAttendanceCommit appends a commit. Generates ID and CreatedAt if not set.
func (s *SQLiteStore) AppendAttendanceCommit(ctx context.Context, c *AttendanceCommit) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}

	marked, err := json.Marshal(nonNil(c.Marked))
	if err != nil {
		return fmt.Errorf("marshaling marked roll numbers: %w", err)
	}
	var failed *string
	if len(c.Failed) > 0 {
		data, err := json.Marshal(c.Failed)
		if err != nil {
			return fmt.Errorf("marshaling failed roll numbers: %w", err)
		}
		str := string(data)
		failed = &str
	}

	query := `
		INSERT INTO attendance_commits (commit_id, user_id, assignment_id, class_session_id, marked_json, failed_json, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query,
		c.ID,
		c.UserID,
		c.AssignmentID,
		c.ClassSessionID,
		string(marked),
		failed,
		formatTime(c.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting attendance commit: %w", err)
	}

	s.logger.Debug("appended attendance commit",
		"id", c.ID,
		"class_session_id", c.ClassSessionID,
		"marked", len(c.Marked),
		"failed", len(c.Failed),
	)
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// ListAttendanceCommits returns the commits for a class session, newest first.
func (s *SQLiteStore) ListAttendanceCommits(ctx context.Context, classSessionID string, limit int) ([]*AttendanceCommit, error) {
	query := `
		SELECT commit_id, user_id, assignment_id, class_session_id, marked_json, failed_json, ts
		FROM attendance_commits
		WHERE class_session_id = ?
		ORDER BY ts DESC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, classSessionID, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("querying attendance commits: %w", err)
	}
	defer rows.Close()

	var out []*AttendanceCommit
	for rows.Next() {
		var c AttendanceCommit
		var markedJSON string
		var failedJSON sql.NullString
		var ts string
		if err := rows.Scan(&c.ID, &c.UserID, &c.AssignmentID, &c.ClassSessionID, &markedJSON, &failedJSON, &ts); err != nil {
			return nil, fmt.Errorf("scanning attendance commit: %w", err)
		}
		if err := json.Unmarshal([]byte(markedJSON), &c.Marked); err != nil {
			return nil, fmt.Errorf("decoding marked roll numbers: %w", err)
		}
		if failedJSON.Valid {
			if err := json.Unmarshal([]byte(failedJSON.String), &c.Failed); err != nil {
				return nil, fmt.Errorf("decoding failed roll numbers: %w", err)
			}
		}
		c.CreatedAt = parseTime(ts)
		out = append(out, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating attendance commits: %w", err)
	}
	return out, nil
}
