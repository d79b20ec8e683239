package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

const projectCols = `id, tenant_id, project_id, name, tz, channel_id, allow_id_join, owner_user_id, status, created_at, updated_at`

// CreateProject inserts a project with the next free numeric external ID
// (max+1, starting above the reserved floor). The ID assignment and insert
// run in one transaction so concurrent creates cannot collide.
func (s *Store) CreateProject(ctx context.Context, tenantID int64, name, tz string) (Project, error) {
	var p Project
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var maxID int64
		if err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(project_id), ?) FROM projects`, ProjectIDFloor,
		).Scan(&maxID); err != nil {
			return err
		}
		now := time.Now()
		res, err := tx.ExecContext(ctx,
			`INSERT INTO projects(tenant_id, project_id, name, tz, allow_id_join, status, created_at, updated_at)
			 VALUES(?,?,?,?,1,'active',?,?)`,
			tenantID, maxID+1, name, tz, fmtTime(now), fmtTime(now),
		)
		if err != nil {
			return err
		}
		pk, err := res.LastInsertId()
		if err != nil {
			return err
		}
		p = Project{
			ID: pk, TenantID: tenantID, ProjectID: maxID + 1,
			Name: name, TZ: tz, AllowIDJoin: true, Status: "active",
			CreatedAt: now.UTC().Truncate(time.Second),
			UpdatedAt: now.UTC().Truncate(time.Second),
		}
		return nil
	})
	return p, err
}

// ProjectByExternalID looks a project up by its numeric public ID.
func (s *Store) ProjectByExternalID(ctx context.Context, projectID int64) (Project, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+projectCols+` FROM projects WHERE project_id = ?`, projectID)
	return scanProject(row)
}

func (s *Store) ProjectByPK(ctx context.Context, pk int64) (Project, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+projectCols+` FROM projects WHERE id = ?`, pk)
	return scanProject(row)
}

// ListUserProjects returns active projects the user is a member of, newest first.
func (s *Store) ListUserProjects(ctx context.Context, userID int64) ([]Project, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT p.id, p.tenant_id, p.project_id, p.name, p.tz, p.channel_id, p.allow_id_join, p.owner_user_id, p.status, p.created_at, p.updated_at
		 FROM projects p
		 JOIN memberships m ON m.tenant_id = p.tenant_id
		 WHERE m.user_id = ? AND m.status = 'active' AND p.status = 'active'
		 ORDER BY p.created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectProjects(rows)
}

// ListActiveProjects returns every active project (backup cadence input).
func (s *Store) ListActiveProjects(ctx context.Context) ([]Project, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+projectCols+` FROM projects WHERE status = 'active' ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectProjects(rows)
}

func (s *Store) SetProjectChannel(ctx context.Context, pk int64, channel string) error {
	return s.touchProject(ctx, pk, `channel_id = ?`, channel)
}

func (s *Store) SetProjectOwner(ctx context.Context, pk, ownerUserID int64) error {
	return s.touchProject(ctx, pk, `owner_user_id = ?`, ownerUserID)
}

func (s *Store) SetAllowIDJoin(ctx context.Context, pk int64, allow bool) error {
	v := 0
	if allow {
		v = 1
	}
	return s.touchProject(ctx, pk, `allow_id_join = ?`, v)
}

// DeactivateProject disables a project; records are never hard-deleted.
func (s *Store) DeactivateProject(ctx context.Context, pk int64) error {
	return s.touchProject(ctx, pk, `status = 'disabled'`)
}

func (s *Store) touchProject(ctx context.Context, pk int64, setClause string, args ...any) error {
	args = append(args, fmtTime(time.Now()), pk)
	res, err := s.db.ExecContext(ctx,
		`UPDATE projects SET `+setClause+`, updated_at = ? WHERE id = ?`, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrNotFound
	}
	return err
}

func scanProject(row *sql.Row) (Project, error) {
	return projectFromScan(row.Scan)
}

func projectFromScan(scan func(dest ...any) error) (Project, error) {
	var (
		p                Project
		channel          sql.NullString
		owner            sql.NullInt64
		allow            int
		created, updated string
	)
	err := scan(&p.ID, &p.TenantID, &p.ProjectID, &p.Name, &p.TZ, &channel, &allow, &owner, &p.Status, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return Project{}, ErrNotFound
	}
	if err != nil {
		return Project{}, err
	}
	p.Channel = channel.String
	p.OwnerUserID = owner.Int64
	p.AllowIDJoin = allow != 0
	p.CreatedAt = parseTime(created)
	p.UpdatedAt = parseTime(updated)
	return p, nil
}

func collectProjects(rows *sql.Rows) ([]Project, error) {
	var out []Project
	for rows.Next() {
		p, err := projectFromScan(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
