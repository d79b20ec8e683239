package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"planbot/pkg/logx"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(Config{Path: filepath.Join(t.TempDir(), "test.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func seed(t *testing.T, st *Store) (Tenant, Project) {
	t.Helper()
	ctx := context.Background()
	tenant, err := st.CreateTenant(ctx, "acme")
	if err != nil {
		t.Fatalf("tenant: %v", err)
	}
	project, err := st.CreateProject(ctx, tenant.ID, "newsroom", "Europe/Moscow")
	if err != nil {
		t.Fatalf("project: %v", err)
	}
	return tenant, project
}

func TestOpenRequiresPath(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{}, logx.Nop()); err == nil {
		t.Fatalf("empty path accepted")
	}
}

func TestGetOrCreateUser(t *testing.T) {
	t.Parallel()

	st := newStore(t)
	ctx := context.Background()

	first, err := st.GetOrCreateUser(ctx, 123, "alice", "Alice", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	again, err := st.GetOrCreateUser(ctx, 123, "alice_renamed", "Alice", "")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if first.ID != again.ID {
		t.Fatalf("same telegram user produced two rows: %d and %d", first.ID, again.ID)
	}

	if _, err := st.UserByID(ctx, 9999); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing user err = %v, want ErrNotFound", err)
	}
}

func TestProjectIDAllocation(t *testing.T) {
	t.Parallel()

	st := newStore(t)
	ctx := context.Background()
	tenant, err := st.CreateTenant(ctx, "acme")
	if err != nil {
		t.Fatalf("tenant: %v", err)
	}

	first, err := st.CreateProject(ctx, tenant.ID, "a", "UTC")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if first.ProjectID != ProjectIDFloor+1 {
		t.Fatalf("first id = %d, want %d", first.ProjectID, ProjectIDFloor+1)
	}
	second, err := st.CreateProject(ctx, tenant.ID, "b", "UTC")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if second.ProjectID != first.ProjectID+1 {
		t.Fatalf("second id = %d, want %d", second.ProjectID, first.ProjectID+1)
	}

	got, err := st.ProjectByExternalID(ctx, first.ProjectID)
	if err != nil || got.ID != first.ID {
		t.Fatalf("lookup by external id: %+v err=%v", got, err)
	}
}

func TestMembershipUpsertAndRoles(t *testing.T) {
	t.Parallel()

	st := newStore(t)
	ctx := context.Background()
	tenant, _ := seed(t, st)
	user, err := st.GetOrCreateUser(ctx, 5, "u", "", "")
	if err != nil {
		t.Fatalf("user: %v", err)
	}

	if err := st.UpsertMembership(ctx, tenant.ID, user.ID, RoleAdmin); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	ok, err := st.HasRole(ctx, user.ID, tenant.ID, RoleOwner)
	if err != nil || ok {
		t.Fatalf("admin matched owner check (ok=%v err=%v)", ok, err)
	}

	// Same pair again promotes instead of duplicating.
	if err := st.UpsertMembership(ctx, tenant.ID, user.ID, RoleOwner); err != nil {
		t.Fatalf("promote: %v", err)
	}
	ok, err = st.HasRole(ctx, user.ID, tenant.ID, RoleOwner)
	if err != nil || !ok {
		t.Fatalf("promotion lost (ok=%v err=%v)", ok, err)
	}
}

func TestFirstActiveMemberRanksOwnerFirst(t *testing.T) {
	t.Parallel()

	st := newStore(t)
	ctx := context.Background()
	tenant, _ := seed(t, st)

	admin, _ := st.GetOrCreateUser(ctx, 1, "admin", "", "")
	if err := st.UpsertMembership(ctx, tenant.ID, admin.ID, RoleAdmin); err != nil {
		t.Fatalf("admin: %v", err)
	}
	got, err := st.FirstActiveMember(ctx, tenant.ID)
	if err != nil || got.ID != admin.ID {
		t.Fatalf("lone admin not returned: %+v err=%v", got, err)
	}

	owner, _ := st.GetOrCreateUser(ctx, 2, "owner", "", "")
	if err := st.UpsertMembership(ctx, tenant.ID, owner.ID, RoleOwner); err != nil {
		t.Fatalf("owner: %v", err)
	}
	got, err = st.FirstActiveMember(ctx, tenant.ID)
	if err != nil || got.ID != owner.ID {
		t.Fatalf("owner not ranked first: %+v err=%v", got, err)
	}
}

func TestUpsertWeekIsGetOrCreate(t *testing.T) {
	t.Parallel()

	st := newStore(t)
	ctx := context.Background()
	_, project := seed(t, st)
	start := time.Date(2025, 9, 8, 0, 0, 0, 0, time.UTC)

	w1, err := st.UpsertWeek(ctx, project.TenantID, project.ID, "W37-2025", start)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	w2, err := st.UpsertWeek(ctx, project.TenantID, project.ID, "W37-2025", start)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if w1.ID != w2.ID {
		t.Fatalf("duplicate week rows: %d and %d", w1.ID, w2.ID)
	}
	if w1.Status != StatusDraft {
		t.Fatalf("new week status = %q, want draft", w1.Status)
	}
}

func TestLatestWeekPicksNewest(t *testing.T) {
	t.Parallel()

	st := newStore(t)
	ctx := context.Background()
	_, project := seed(t, st)

	if _, err := st.LatestWeek(ctx, project.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("empty project err = %v, want ErrNotFound", err)
	}

	for i, label := range []string{"W37-2025", "W38-2025", "W39-2025"} {
		start := time.Date(2025, 9, 8+7*i, 0, 0, 0, 0, time.UTC)
		if _, err := st.UpsertWeek(ctx, project.TenantID, project.ID, label, start); err != nil {
			t.Fatalf("week %s: %v", label, err)
		}
	}
	got, err := st.LatestWeek(ctx, project.ID)
	if err != nil || got.Label != "W39-2025" {
		t.Fatalf("latest = %+v err=%v, want W39-2025", got, err)
	}
}

func TestPostsOrderedAndUnique(t *testing.T) {
	t.Parallel()

	st := newStore(t)
	ctx := context.Background()
	_, project := seed(t, st)
	start := time.Date(2025, 9, 8, 0, 0, 0, 0, time.UTC)
	if _, err := st.UpsertWeek(ctx, project.TenantID, project.ID, "W37-2025", start); err != nil {
		t.Fatalf("week: %v", err)
	}

	// Insert out of order; reads come back by post number.
	var posts []Post
	for _, n := range []int{3, 1, 2} {
		posts = append(posts, Post{
			TenantID: project.TenantID, ProjectPK: project.ID,
			WeekLabel: "W37-2025", Number: n, Status: StatusDraft, Title: "t",
		})
	}
	if err := st.InsertPosts(ctx, posts); err != nil {
		t.Fatalf("insert: %v", err)
	}
	got, err := st.ListWeekPosts(ctx, project.TenantID, project.ID, "W37-2025")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	for i, p := range got {
		if p.Number != i+1 {
			t.Fatalf("position %d holds post %d", i, p.Number)
		}
		if p.ID == 0 {
			t.Fatalf("insert did not backfill id")
		}
	}

	// The (tenant, project, week, number) tuple is unique.
	err = st.InsertPosts(ctx, []Post{{
		TenantID: project.TenantID, ProjectPK: project.ID,
		WeekLabel: "W37-2025", Number: 1, Status: StatusDraft,
	}})
	if err == nil {
		t.Fatalf("duplicate post number accepted")
	}
}

func TestMarkPublishedClearsErrorNote(t *testing.T) {
	t.Parallel()

	st := newStore(t)
	ctx := context.Background()
	_, project := seed(t, st)
	if _, err := st.UpsertWeek(ctx, project.TenantID, project.ID, "W37-2025", time.Date(2025, 9, 8, 0, 0, 0, 0, time.UTC)); err != nil {
		t.Fatalf("week: %v", err)
	}
	posts := []Post{{
		TenantID: project.TenantID, ProjectPK: project.ID,
		WeekLabel: "W37-2025", Number: 1, Status: StatusApproved, Title: "t",
	}}
	if err := st.InsertPosts(ctx, posts); err != nil {
		t.Fatalf("insert: %v", err)
	}
	id := posts[0].ID

	if err := st.MarkPostFailed(ctx, id, "boom"); err != nil {
		t.Fatalf("fail: %v", err)
	}
	got, _ := st.PostByID(ctx, id)
	if got.Status != StatusFailed || got.ErrorNote != "boom" {
		t.Fatalf("after fail: %+v", got)
	}

	if err := st.MarkPostPublished(ctx, id, 77); err != nil {
		t.Fatalf("publish: %v", err)
	}
	got, _ = st.PostByID(ctx, id)
	if got.Status != StatusPublished || got.MessageID != 77 || got.ErrorNote != "" {
		t.Fatalf("after publish: %+v", got)
	}
}

func TestSetPostStatusRejectsUnknown(t *testing.T) {
	t.Parallel()

	st := newStore(t)
	if err := st.SetPostStatus(context.Background(), 1, Status("weird")); err == nil {
		t.Fatalf("unknown status accepted")
	}
	if err := st.SetPostStatus(context.Background(), 424242, StatusReview); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing post err = %v, want ErrNotFound", err)
	}
}

func TestPublishAtRoundTripsTimezone(t *testing.T) {
	t.Parallel()

	st := newStore(t)
	ctx := context.Background()
	_, project := seed(t, st)
	if _, err := st.UpsertWeek(ctx, project.TenantID, project.ID, "W37-2025", time.Date(2025, 9, 8, 0, 0, 0, 0, time.UTC)); err != nil {
		t.Fatalf("week: %v", err)
	}
	loc, _ := time.LoadLocation("Europe/Moscow")
	at := time.Date(2025, 9, 8, 10, 0, 0, 0, loc)
	posts := []Post{{
		TenantID: project.TenantID, ProjectPK: project.ID,
		WeekLabel: "W37-2025", Number: 1, Status: StatusDraft, PublishAt: at,
	}}
	if err := st.InsertPosts(ctx, posts); err != nil {
		t.Fatalf("insert: %v", err)
	}
	got, _ := st.PostByID(ctx, posts[0].ID)
	if !got.PublishAt.Equal(at) {
		t.Fatalf("publish at %s, want instant equal to %s", got.PublishAt, at)
	}
	if got.PublishAt.Location() != time.UTC {
		t.Fatalf("stored instant not normalized to UTC: %s", got.PublishAt.Location())
	}
}

func TestSessionUpsert(t *testing.T) {
	t.Parallel()

	st := newStore(t)
	ctx := context.Background()
	_, project := seed(t, st)
	user, _ := st.GetOrCreateUser(ctx, 9, "u", "", "")

	sess, err := st.GetSession(ctx, user.ID)
	if err != nil {
		t.Fatalf("fresh session: %v", err)
	}
	if sess.ProjectPK != 0 {
		t.Fatalf("fresh session points at project %d", sess.ProjectPK)
	}

	if err := st.SaveSession(ctx, Session{UserID: user.ID, TenantID: project.TenantID, ProjectPK: project.ID, WeekLabel: "W37-2025"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	sess, err = st.GetSession(ctx, user.ID)
	if err != nil || sess.ProjectPK != project.ID || sess.WeekLabel != "W37-2025" {
		t.Fatalf("session = %+v err=%v", sess, err)
	}

	if err := st.SaveSession(ctx, Session{UserID: user.ID, TenantID: project.TenantID, ProjectPK: project.ID}); err != nil {
		t.Fatalf("resave: %v", err)
	}
	sess, _ = st.GetSession(ctx, user.ID)
	if sess.WeekLabel != "" {
		t.Fatalf("week label survived overwrite: %q", sess.WeekLabel)
	}
}

func TestPublishLogAppendOnlyOrder(t *testing.T) {
	t.Parallel()

	st := newStore(t)
	ctx := context.Background()
	_, project := seed(t, st)
	if _, err := st.UpsertWeek(ctx, project.TenantID, project.ID, "W37-2025", time.Date(2025, 9, 8, 0, 0, 0, 0, time.UTC)); err != nil {
		t.Fatalf("week: %v", err)
	}
	posts := []Post{{
		TenantID: project.TenantID, ProjectPK: project.ID,
		WeekLabel: "W37-2025", Number: 1, Status: StatusApproved,
	}}
	if err := st.InsertPosts(ctx, posts); err != nil {
		t.Fatalf("insert: %v", err)
	}
	id := posts[0].ID

	for i, res := range []string{ResultFailed, ResultOK} {
		e := PublishLogEntry{
			AttemptID: string(rune('a' + i)),
			TenantID:  project.TenantID,
			ProjectPK: project.ID,
			PostID:    id,
			Result:    res,
		}
		if err := st.AppendPublishLog(ctx, e); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	log, err := st.ListPublishLog(ctx, id)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(log) != 2 || log[0].Result != ResultFailed || log[1].Result != ResultOK {
		t.Fatalf("log = %+v, want FAILED then OK in append order", log)
	}
	if log[0].Platform == "" || log[0].TS.IsZero() {
		t.Fatalf("defaults not applied: %+v", log[0])
	}
}
