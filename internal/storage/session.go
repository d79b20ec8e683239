package storage

import (
	"context"
	"database/sql"
	"errors"
)

// GetSession returns the user's working context, creating an empty row on
// first use so later partial updates always have something to merge into.
func (s *Store) GetSession(ctx context.Context, userID int64) (Session, error) {
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO user_ctx(user_id) VALUES(?) ON CONFLICT(user_id) DO NOTHING`,
		userID); err != nil {
		return Session{}, err
	}

	var (
		tenant, project sql.NullInt64
		week            sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT current_tenant_id, current_project_pk, current_week_label
		 FROM user_ctx WHERE user_id = ?`, userID).
		Scan(&tenant, &project, &week)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{UserID: userID}, nil
	}
	if err != nil {
		return Session{}, err
	}
	return Session{
		UserID:    userID,
		TenantID:  tenant.Int64,
		ProjectPK: project.Int64,
		WeekLabel: week.String,
	}, nil
}

// SaveSession persists the user's working context as-is.
func (s *Store) SaveSession(ctx context.Context, sess Session) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_ctx(user_id, current_tenant_id, current_project_pk, current_week_label)
		 VALUES(?,?,?,?)
		 ON CONFLICT(user_id) DO UPDATE SET
		   current_tenant_id=excluded.current_tenant_id,
		   current_project_pk=excluded.current_project_pk,
		   current_week_label=excluded.current_week_label`,
		sess.UserID, nullInt(sess.TenantID), nullInt(sess.ProjectPK), nullStr(sess.WeekLabel),
	)
	return err
}
