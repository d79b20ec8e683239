package storage

import (
	"context"
	"database/sql"
	"time"
)

// AppendPublishLog records one delivery attempt. Entries are append-only and
// never mutated.
func (s *Store) AppendPublishLog(ctx context.Context, e PublishLogEntry) error {
	if e.TS.IsZero() {
		e.TS = time.Now()
	}
	if e.Platform == "" {
		e.Platform = "telegram"
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO publish_log(attempt_id, tenant_id, project_id, post_id, ts, platform, result, message_id, error_note)
		 VALUES(?,?,?,?,?,?,?,?,?)`,
		e.AttemptID, e.TenantID, e.ProjectPK, e.PostID,
		fmtTime(e.TS), e.Platform, e.Result,
		nullInt(int64(e.MessageID)), nullStr(e.ErrorNote),
	)
	return err
}

// ListPublishLog returns a post's delivery attempts, oldest first.
func (s *Store) ListPublishLog(ctx context.Context, postID int64) ([]PublishLogEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, attempt_id, tenant_id, project_id, post_id, ts, platform, result, message_id, error_note
		 FROM publish_log WHERE post_id = ? ORDER BY id`, postID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PublishLogEntry
	for rows.Next() {
		var (
			e         PublishLogEntry
			ts        string
			messageID sql.NullInt64
			errNote   sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.AttemptID, &e.TenantID, &e.ProjectPK, &e.PostID,
			&ts, &e.Platform, &e.Result, &messageID, &errNote); err != nil {
			return nil, err
		}
		e.TS = parseTime(ts)
		e.MessageID = int(messageID.Int64)
		e.ErrorNote = errNote.String
		out = append(out, e)
	}
	return out, rows.Err()
}
