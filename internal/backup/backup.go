// Package backup exports each active project's latest week as a JSON
// document and delivers it to the project owner once a day. The export is
// lossless: the document round-trips back into the same week and post
// records.
package backup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"planbot/internal/storage"
	"planbot/internal/transport"
	"planbot/pkg/logx"
)

// Document is the export payload for one project week.
type Document struct {
	DocID      string     `json:"doc_id"`
	ExportedAt time.Time  `json:"exported_at"`
	Project    ProjectRef `json:"project"`
	Week       WeekInfo   `json:"week"`
	Posts      []PostInfo `json:"posts"`
}

type ProjectRef struct {
	ProjectID int64  `json:"project_id"`
	TenantID  int64  `json:"tenant_id"`
	Name      string `json:"name"`
	Timezone  string `json:"timezone"`
	Channel   string `json:"channel,omitempty"`
}

type WeekInfo struct {
	Label     string    `json:"label"`
	StartDate string    `json:"start_date"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

type PostInfo struct {
	Number    int        `json:"number"`
	Status    string     `json:"status"`
	Title     string     `json:"title"`
	Lead      string     `json:"lead,omitempty"`
	Body      string     `json:"body,omitempty"`
	CTAText   string     `json:"cta_text,omitempty"`
	CTAURL    string     `json:"cta_url,omitempty"`
	Tags      string     `json:"tags,omitempty"`
	CoverURL  string     `json:"cover_url,omitempty"`
	PublishAt *time.Time `json:"publish_at,omitempty"`
	MessageID int        `json:"message_id,omitempty"`
	ErrorNote string     `json:"error_note,omitempty"`
}

type Cfg struct {
	AdminIDs []int64 // last-resort recipients when a project has no members
}

type Service struct {
	store  *storage.Store
	sender transport.Sender
	cfg    Cfg
	log    logx.Logger
}

func New(store *storage.Store, sender transport.Sender, cfg Cfg, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{store: store, sender: sender, cfg: cfg, log: log}
}

// Run exports every active project once. Per-project failures are logged and
// swallowed so one broken project never blocks the rest of the sweep. Run is
// registered as a daily job; it must always return nil.
func (s *Service) Run(ctx context.Context) error {
	projects, err := s.store.ListActiveProjects(ctx)
	if err != nil {
		s.log.Error("backup sweep aborted", logx.Err(err))
		return nil
	}
	sent := 0
	for _, pr := range projects {
		if err := s.backupProject(ctx, pr); err != nil {
			s.log.Warn("project backup failed",
				logx.Int64("project", pr.ProjectID),
				logx.Err(err))
			continue
		}
		sent++
	}
	s.log.Info("backup sweep done", logx.Int("projects", len(projects)), logx.Int("sent", sent))
	return nil
}

func (s *Service) backupProject(ctx context.Context, pr storage.Project) error {
	week, err := s.store.LatestWeek(ctx, pr.ID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil // nothing to export yet
	}
	if err != nil {
		return err
	}
	posts, err := s.store.ListWeekPosts(ctx, pr.TenantID, pr.ID, week.Label)
	if err != nil {
		return err
	}

	doc := Export(pr, week, posts)
	payload, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}

	to, err := s.recipient(ctx, pr)
	if err != nil {
		return err
	}
	name := fmt.Sprintf("backup-%d-%s.json", pr.ProjectID, week.Label)
	caption := fmt.Sprintf("Weekly backup: %s, week %s", pr.Name, week.Label)
	_, err = s.sender.SendDocument(ctx, to, name, payload, caption)
	return err
}

// recipient picks the delivery target: the project owner's DM, else the
// first active member with owner ranked before admin, else a configured
// admin.
func (s *Service) recipient(ctx context.Context, pr storage.Project) (transport.ChatTarget, error) {
	if pr.OwnerUserID != 0 {
		owner, err := s.store.UserByID(ctx, pr.OwnerUserID)
		if err == nil {
			return transport.UserTarget(owner.TGUserID), nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return transport.ChatTarget{}, err
		}
	}
	member, err := s.store.FirstActiveMember(ctx, pr.TenantID)
	if err == nil {
		return transport.UserTarget(member.TGUserID), nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return transport.ChatTarget{}, err
	}
	if len(s.cfg.AdminIDs) > 0 {
		return transport.UserTarget(s.cfg.AdminIDs[0]), nil
	}
	return transport.ChatTarget{}, fmt.Errorf("project %d has no backup recipient", pr.ProjectID)
}

// Export builds the document for one week. Zero publish instants export as
// absent, not as the zero time.
func Export(pr storage.Project, week storage.Week, posts []storage.Post) Document {
	doc := Document{
		DocID:      uuid.NewString(),
		ExportedAt: time.Now().UTC(),
		Project: ProjectRef{
			ProjectID: pr.ProjectID,
			TenantID:  pr.TenantID,
			Name:      pr.Name,
			Timezone:  pr.TZ,
			Channel:   pr.Channel,
		},
		Week: WeekInfo{
			Label:     week.Label,
			StartDate: week.StartDate.Format("2006-01-02"),
			Status:    string(week.Status),
			CreatedAt: week.CreatedAt,
		},
		Posts: make([]PostInfo, 0, len(posts)),
	}
	for _, p := range posts {
		pi := PostInfo{
			Number:    p.Number,
			Status:    string(p.Status),
			Title:     p.Title,
			Lead:      p.Lead,
			Body:      p.Body,
			CTAText:   p.CTAText,
			CTAURL:    p.CTAURL,
			Tags:      p.Tags,
			CoverURL:  p.CoverURL,
			MessageID: p.MessageID,
			ErrorNote: p.ErrorNote,
		}
		if p.Scheduled() {
			at := p.PublishAt
			pi.PublishAt = &at
		}
		doc.Posts = append(doc.Posts, pi)
	}
	return doc
}

// Restore maps a document back into week and post records. It is the
// round-trip counterpart of Export and exists so the export format stays
// lossless.
func Restore(doc Document) (storage.Week, []storage.Post, error) {
	start, err := time.Parse("2006-01-02", doc.Week.StartDate)
	if err != nil {
		return storage.Week{}, nil, fmt.Errorf("week start date: %w", err)
	}
	week := storage.Week{
		TenantID:  doc.Project.TenantID,
		Label:     doc.Week.Label,
		StartDate: start,
		Status:    storage.Status(doc.Week.Status),
		CreatedAt: doc.Week.CreatedAt,
	}
	posts := make([]storage.Post, 0, len(doc.Posts))
	for _, pi := range doc.Posts {
		p := storage.Post{
			TenantID:  doc.Project.TenantID,
			WeekLabel: doc.Week.Label,
			Number:    pi.Number,
			Status:    storage.Status(pi.Status),
			Title:     pi.Title,
			Lead:      pi.Lead,
			Body:      pi.Body,
			CTAText:   pi.CTAText,
			CTAURL:    pi.CTAURL,
			Tags:      pi.Tags,
			CoverURL:  pi.CoverURL,
			MessageID: pi.MessageID,
			ErrorNote: pi.ErrorNote,
		}
		if pi.PublishAt != nil {
			p.PublishAt = *pi.PublishAt
		}
		posts = append(posts, p)
	}
	return week, posts, nil
}
