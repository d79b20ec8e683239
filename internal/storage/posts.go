package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const postCols = `id, tenant_id, project_id, week_label, post_no, status, title, lead, body, cta_text, cta_url, tags, cover_url, publish_at, message_id, error_note, created_at, updated_at`

// CountWeekPosts returns how many posts exist for the week.
func (s *Store) CountWeekPosts(ctx context.Context, tenantID, projectPK int64, label string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM posts WHERE tenant_id = ? AND project_id = ? AND week_label = ?`,
		tenantID, projectPK, label).Scan(&n)
	return n, err
}

// InsertPosts inserts a batch of posts in one transaction. Used by week
// generation so a partial skeleton can never be observed.
func (s *Store) InsertPosts(ctx context.Context, posts []Post) error {
	if len(posts) == 0 {
		return nil
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		now := fmtTime(time.Now())
		for i := range posts {
			p := &posts[i]
			res, err := tx.ExecContext(ctx,
				`INSERT INTO posts(tenant_id, project_id, week_label, post_no, status, title, lead, body, cta_text, cta_url, tags, cover_url, publish_at, created_at, updated_at)
				 VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
				p.TenantID, p.ProjectPK, p.WeekLabel, p.Number, string(p.Status),
				nullStr(p.Title), nullStr(p.Lead), nullStr(p.Body),
				nullStr(p.CTAText), nullStr(p.CTAURL), nullStr(p.Tags), nullStr(p.CoverURL),
				nullTime(p.PublishAt), now, now,
			)
			if err != nil {
				return err
			}
			id, err := res.LastInsertId()
			if err != nil {
				return err
			}
			p.ID = id
		}
		return nil
	})
}

// ListWeekPosts returns the week's posts ordered by post number ascending.
func (s *Store) ListWeekPosts(ctx context.Context, tenantID, projectPK int64, label string) ([]Post, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+postCols+` FROM posts
		 WHERE tenant_id = ? AND project_id = ? AND week_label = ?
		 ORDER BY post_no`,
		tenantID, projectPK, label)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Post
	for rows.Next() {
		p, err := postFromScan(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) PostByID(ctx context.Context, id int64) (Post, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+postCols+` FROM posts WHERE id = ?`, id)
	return postFromScan(row.Scan)
}

func (s *Store) PostByNumber(ctx context.Context, tenantID, projectPK int64, label string, number int) (Post, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+postCols+` FROM posts
		 WHERE tenant_id = ? AND project_id = ? AND week_label = ? AND post_no = ?`,
		tenantID, projectPK, label, number)
	return postFromScan(row.Scan)
}

// UpdatePostContent persists the operator-editable fields. Concurrent edits
// are last-write-wins.
func (s *Store) UpdatePostContent(ctx context.Context, p Post) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE posts SET title=?, lead=?, body=?, cta_text=?, cta_url=?, tags=?, cover_url=?, publish_at=?, updated_at=?
		 WHERE id = ?`,
		nullStr(p.Title), nullStr(p.Lead), nullStr(p.Body),
		nullStr(p.CTAText), nullStr(p.CTAURL), nullStr(p.Tags), nullStr(p.CoverURL),
		nullTime(p.PublishAt), fmtTime(time.Now()), p.ID,
	)
	if err != nil {
		return err
	}
	return affected(res)
}

func (s *Store) SetPostStatus(ctx context.Context, id int64, status Status) error {
	if !ValidStatus(status) {
		return fmt.Errorf("invalid post status %q", status)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE posts SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), fmtTime(time.Now()), id)
	if err != nil {
		return err
	}
	return affected(res)
}

// MarkPostPublished records a successful delivery.
func (s *Store) MarkPostPublished(ctx context.Context, id int64, messageID int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE posts SET status = ?, message_id = ?, error_note = NULL, updated_at = ? WHERE id = ?`,
		string(StatusPublished), messageID, fmtTime(time.Now()), id)
	if err != nil {
		return err
	}
	return affected(res)
}

// MarkPostFailed records a failed delivery with its (pre-truncated) error note.
func (s *Store) MarkPostFailed(ctx context.Context, id int64, note string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE posts SET status = ?, error_note = ?, updated_at = ? WHERE id = ?`,
		string(StatusFailed), nullStr(note), fmtTime(time.Now()), id)
	if err != nil {
		return err
	}
	return affected(res)
}

func (s *Store) SetPostPublishAt(ctx context.Context, id int64, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE posts SET publish_at = ?, updated_at = ? WHERE id = ?`,
		nullTime(at), fmtTime(time.Now()), id)
	if err != nil {
		return err
	}
	return affected(res)
}

// SubmitWeekForReview moves the week and its draft posts to review in one
// transaction. Posts already past draft keep their status.
func (s *Store) SubmitWeekForReview(ctx context.Context, tenantID, projectPK int64, label string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		now := fmtTime(time.Now())
		if _, err := tx.ExecContext(ctx,
			`UPDATE posts SET status = ?, updated_at = ?
			 WHERE tenant_id = ? AND project_id = ? AND week_label = ? AND status = ?`,
			string(StatusReview), now, tenantID, projectPK, label, string(StatusDraft),
		); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`UPDATE weeks SET status = ?, updated_at = ?
			 WHERE tenant_id = ? AND project_id = ? AND week_label = ? AND status = ?`,
			string(StatusReview), now, tenantID, projectPK, label, string(StatusDraft))
		return err
	})
}

// ApproveWeekPosts transitions all posts of the week to approved in one
// transaction and returns them in post-number order. The all-or-nothing gate
// (exactly seven posts, all valid) is enforced by the caller before this.
func (s *Store) ApproveWeekPosts(ctx context.Context, tenantID, projectPK int64, label string) ([]Post, error) {
	var out []Post
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		now := fmtTime(time.Now())
		if _, err := tx.ExecContext(ctx,
			`UPDATE posts SET status = ?, updated_at = ?
			 WHERE tenant_id = ? AND project_id = ? AND week_label = ?`,
			string(StatusApproved), now, tenantID, projectPK, label,
		); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE weeks SET status = ?, updated_at = ?
			 WHERE tenant_id = ? AND project_id = ? AND week_label = ?`,
			string(StatusApproved), now, tenantID, projectPK, label,
		); err != nil {
			return err
		}
		rows, err := tx.QueryContext(ctx,
			`SELECT `+postCols+` FROM posts
			 WHERE tenant_id = ? AND project_id = ? AND week_label = ?
			 ORDER BY post_no`,
			tenantID, projectPK, label)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			p, err := postFromScan(rows.Scan)
			if err != nil {
				return err
			}
			out = append(out, p)
		}
		return rows.Err()
	})
	return out, err
}

// ShiftWeekPublishAt advances every scheduled post of the week by delta in
// one transaction and returns the updated posts. Posts without a publish
// instant are untouched. Pending jobs are NOT rescheduled here; callers
// re-run scheduling explicitly if jobs were already queued.
func (s *Store) ShiftWeekPublishAt(ctx context.Context, tenantID, projectPK int64, label string, delta time.Duration) ([]Post, error) {
	var out []Post
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT id, publish_at FROM posts
			 WHERE tenant_id = ? AND project_id = ? AND week_label = ? AND publish_at IS NOT NULL
			 ORDER BY post_no`,
			tenantID, projectPK, label)
		if err != nil {
			return err
		}
		type shift struct {
			id int64
			at time.Time
		}
		var shifts []shift
		for rows.Next() {
			var (
				id int64
				at string
			)
			if err := rows.Scan(&id, &at); err != nil {
				rows.Close()
				return err
			}
			shifts = append(shifts, shift{id: id, at: parseTime(at).Add(delta)})
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		now := fmtTime(time.Now())
		for _, sh := range shifts {
			if _, err := tx.ExecContext(ctx,
				`UPDATE posts SET publish_at = ?, updated_at = ? WHERE id = ?`,
				fmtTime(sh.at), now, sh.id,
			); err != nil {
				return err
			}
		}

		for _, sh := range shifts {
			row := tx.QueryRowContext(ctx, `SELECT `+postCols+` FROM posts WHERE id = ?`, sh.id)
			p, err := postFromScan(row.Scan)
			if err != nil {
				return err
			}
			out = append(out, p)
		}
		return nil
	})
	return out, err
}

func postFromScan(scan func(dest ...any) error) (Post, error) {
	var (
		p                                  Post
		title, lead, body, ctaText, ctaURL sql.NullString
		tags, cover, publishAt, errNote    sql.NullString
		messageID                          sql.NullInt64
		status, created, updated           string
	)
	err := scan(&p.ID, &p.TenantID, &p.ProjectPK, &p.WeekLabel, &p.Number, &status,
		&title, &lead, &body, &ctaText, &ctaURL, &tags, &cover,
		&publishAt, &messageID, &errNote, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return Post{}, ErrNotFound
	}
	if err != nil {
		return Post{}, err
	}
	p.Status = Status(status)
	p.Title = title.String
	p.Lead = lead.String
	p.Body = body.String
	p.CTAText = ctaText.String
	p.CTAURL = ctaURL.String
	p.Tags = tags.String
	p.CoverURL = cover.String
	p.PublishAt = parseTime(publishAt.String)
	p.MessageID = int(messageID.Int64)
	p.ErrorNote = errNote.String
	p.CreatedAt = parseTime(created)
	p.UpdatedAt = parseTime(updated)
	return p, nil
}

func affected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrNotFound
	}
	return err
}
