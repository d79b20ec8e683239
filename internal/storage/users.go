package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// GetOrCreateUser resolves a Telegram user to the local record, creating it
// on first contact.
func (s *Store) GetOrCreateUser(ctx context.Context, tgUserID int64, username, firstName, lastName string) (User, error) {
	u, err := s.userByTGID(ctx, tgUserID)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return User{}, err
	}

	now := time.Now()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users(tg_user_id, username, first_name, last_name, created_at)
		 VALUES(?,?,?,?,?)`,
		tgUserID, nullStr(username), nullStr(firstName), nullStr(lastName), fmtTime(now),
	)
	if err != nil {
		return User{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return User{}, err
	}
	return User{
		ID: id, TGUserID: tgUserID,
		Username: username, FirstName: firstName, LastName: lastName,
		CreatedAt: now.UTC().Truncate(time.Second),
	}, nil
}

func (s *Store) userByTGID(ctx context.Context, tgUserID int64) (User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, tg_user_id, username, first_name, last_name, created_at
		 FROM users WHERE tg_user_id = ?`, tgUserID)
	return scanUser(row)
}

func (s *Store) UserByID(ctx context.Context, id int64) (User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, tg_user_id, username, first_name, last_name, created_at
		 FROM users WHERE id = ?`, id)
	return scanUser(row)
}

func scanUser(row *sql.Row) (User, error) {
	var (
		u                     User
		username, first, last sql.NullString
		created               string
	)
	err := row.Scan(&u.ID, &u.TGUserID, &username, &first, &last, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, err
	}
	u.Username = username.String
	u.FirstName = first.String
	u.LastName = last.String
	u.CreatedAt = parseTime(created)
	return u, nil
}

func (s *Store) CreateTenant(ctx context.Context, name string) (Tenant, error) {
	now := time.Now()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO tenants(name, status, created_at) VALUES(?, 'active', ?)`,
		name, fmtTime(now),
	)
	if err != nil {
		return Tenant{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Tenant{}, err
	}
	return Tenant{ID: id, Name: name, Status: "active", CreatedAt: now.UTC().Truncate(time.Second)}, nil
}

// UpsertMembership grants (or refreshes) a user's role in a tenant.
func (s *Store) UpsertMembership(ctx context.Context, tenantID, userID int64, role Role) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO memberships(tenant_id, user_id, role, status)
		 VALUES(?,?,?,'active')
		 ON CONFLICT(tenant_id, user_id) DO UPDATE SET role=excluded.role, status='active'`,
		tenantID, userID, string(role),
	)
	return err
}

func (s *Store) HasRole(ctx context.Context, userID, tenantID int64, roles ...Role) (bool, error) {
	var role string
	err := s.db.QueryRowContext(ctx,
		`SELECT role FROM memberships
		 WHERE tenant_id = ? AND user_id = ? AND status = 'active'`,
		tenantID, userID).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	for _, r := range roles {
		if Role(role) == r {
			return true, nil
		}
	}
	return false, nil
}

// FirstActiveMember returns the tenant's highest-priority active member
// (owner before admin). Used as the backup delivery fallback.
func (s *Store) FirstActiveMember(ctx context.Context, tenantID int64) (User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT u.id, u.tg_user_id, u.username, u.first_name, u.last_name, u.created_at
		 FROM memberships m
		 JOIN users u ON u.id = m.user_id
		 WHERE m.tenant_id = ? AND m.role IN ('owner','admin') AND m.status = 'active'
		 ORDER BY CASE WHEN m.role = 'owner' THEN 0 ELSE 1 END, u.id
		 LIMIT 1`, tenantID)
	return scanUser(row)
}
