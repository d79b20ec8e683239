package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

const weekCols = `id, tenant_id, project_id, week_label, start_date, status, created_at, updated_at`

// UpsertWeek returns the week for (tenant, project, label), creating it in
// draft status when missing. Re-deriving the label for the same start date is
// idempotent, so repeated calls return the same row.
func (s *Store) UpsertWeek(ctx context.Context, tenantID, projectPK int64, label string, startDate time.Time) (Week, error) {
	w, err := s.WeekByLabel(ctx, tenantID, projectPK, label)
	if err == nil {
		return w, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Week{}, err
	}

	now := time.Now()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO weeks(tenant_id, project_id, week_label, start_date, status, created_at, updated_at)
		 VALUES(?,?,?,?,'draft',?,?)`,
		tenantID, projectPK, label, startDate.Format("2006-01-02"), fmtTime(now), fmtTime(now),
	)
	if err != nil {
		return Week{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Week{}, err
	}
	return Week{
		ID: id, TenantID: tenantID, ProjectPK: projectPK,
		Label: label, StartDate: dateOnly(startDate), Status: StatusDraft,
		CreatedAt: now.UTC().Truncate(time.Second),
		UpdatedAt: now.UTC().Truncate(time.Second),
	}, nil
}

func (s *Store) WeekByLabel(ctx context.Context, tenantID, projectPK int64, label string) (Week, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+weekCols+` FROM weeks
		 WHERE tenant_id = ? AND project_id = ? AND week_label = ?`,
		tenantID, projectPK, label)
	return weekFromScan(row.Scan)
}

// LatestWeek returns the most recently created week of a project.
func (s *Store) LatestWeek(ctx context.Context, projectPK int64) (Week, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+weekCols+` FROM weeks
		 WHERE project_id = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT 1`, projectPK)
	return weekFromScan(row.Scan)
}

func (s *Store) SetWeekStatus(ctx context.Context, weekID int64, status Status) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE weeks SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), fmtTime(time.Now()), weekID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrNotFound
	}
	return err
}

func weekFromScan(scan func(dest ...any) error) (Week, error) {
	var (
		w                       Week
		start, created, updated string
		status                  string
	)
	err := scan(&w.ID, &w.TenantID, &w.ProjectPK, &w.Label, &start, &status, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return Week{}, ErrNotFound
	}
	if err != nil {
		return Week{}, err
	}
	w.Status = Status(status)
	if t, perr := time.Parse("2006-01-02", start); perr == nil {
		w.StartDate = t
	}
	w.CreatedAt = parseTime(created)
	w.UpdatedAt = parseTime(updated)
	return w, nil
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
