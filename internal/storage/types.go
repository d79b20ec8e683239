package storage

import (
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("record not found")
)

// Status is the shared lifecycle vocabulary for weeks and posts.
//
// Weeks move draft -> review -> approved -> published.
// Posts additionally may land in failed, which is not terminal: a manual
// publish or the single retry can still move a failed post to published.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusReview    Status = "review"
	StatusApproved  Status = "approved"
	StatusPublished Status = "published"
	StatusFailed    Status = "failed"
)

// ValidStatus reports whether s is a known lifecycle status.
func ValidStatus(s Status) bool {
	switch s {
	case StatusDraft, StatusReview, StatusApproved, StatusPublished, StatusFailed:
		return true
	}
	return false
}

type Role string

const (
	RoleOwner Role = "owner"
	RoleAdmin Role = "admin"
)

// ProjectIDFloor is the reserved floor for numeric external project IDs;
// the first project ever created gets ProjectIDFloor+1.
const ProjectIDFloor = 100000

type User struct {
	ID        int64
	TGUserID  int64
	Username  string
	FirstName string
	LastName  string
	CreatedAt time.Time
}

type Tenant struct {
	ID        int64
	Name      string
	Status    string
	CreatedAt time.Time
}

type Membership struct {
	TenantID int64
	UserID   int64
	Role     Role
	Status   string
}

// Project is a tenant-owned publishing destination. Projects are never
// hard-deleted, only disabled.
type Project struct {
	ID          int64 // internal pk
	TenantID    int64
	ProjectID   int64 // numeric external ID, unique, > ProjectIDFloor
	Name        string
	TZ          string // IANA timezone name
	Channel     string // chat id or @username; empty until bound
	AllowIDJoin bool
	OwnerUserID int64 // 0 when unset
	Status      string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (p Project) Active() bool { return p.Status == "active" }

type Week struct {
	ID        int64
	TenantID  int64
	ProjectPK int64
	Label     string
	StartDate time.Time // local calendar date, midnight UTC in storage
	Status    Status
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Post struct {
	ID        int64
	TenantID  int64
	ProjectPK int64
	WeekLabel string
	Number    int // 1..7
	Status    Status
	Title     string
	Lead      string
	Body      string
	CTAText   string
	CTAURL    string
	Tags      string
	CoverURL  string
	PublishAt time.Time // UTC; zero means unscheduled
	MessageID int
	ErrorNote string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Scheduled reports whether the post has a publish instant.
func (p Post) Scheduled() bool { return !p.PublishAt.IsZero() }

// PublishLogEntry is one append-only delivery attempt record.
type PublishLogEntry struct {
	ID        int64
	AttemptID string // uuid
	TenantID  int64
	ProjectPK int64
	PostID    int64
	TS        time.Time
	Platform  string
	Result    string // "OK" | "FAILED"
	MessageID int
	ErrorNote string
}

const (
	ResultOK     = "OK"
	ResultFailed = "FAILED"
)

// Session is a user's explicit working context, threaded through operations
// instead of process-global current-selection state.
type Session struct {
	UserID    int64
	TenantID  int64
	ProjectPK int64
	WeekLabel string
}
