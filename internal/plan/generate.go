package plan

import (
	"context"
	"fmt"
	"time"

	"planbot/internal/storage"
	"planbot/pkg/logx"
)

const postsPerWeek = 7

// Service runs the week lifecycle on top of the store. Approved posts are
// handed to the scheduler through the PostScheduler hook.
type Service struct {
	store *storage.Store
	sched PostScheduler
	log   logx.Logger
}

// PostScheduler queues delivery of an approved post at its publish instant.
type PostScheduler interface {
	SchedulePost(ctx context.Context, post storage.Post) error
}

func NewService(store *storage.Store, sched PostScheduler, log logx.Logger) *Service {
	return &Service{store: store, sched: sched, log: log}
}

// GenerateWeek ensures a week row exists for the ISO week containing
// startDate and fills it with seven placeholder drafts, one per day, each
// scheduled at the default hour local to the project's timezone. Generation
// is idempotent: if the week already has posts, nothing is written and the
// existing week is returned unchanged.
func (s *Service) GenerateWeek(ctx context.Context, project storage.Project, startDate time.Time) (storage.Week, []storage.Post, error) {
	label := WeekLabel(startDate)

	week, err := s.store.UpsertWeek(ctx, project.TenantID, project.ID, label, startDate)
	if err != nil {
		return storage.Week{}, nil, fmt.Errorf("upsert week %s: %w", label, err)
	}

	n, err := s.store.CountWeekPosts(ctx, project.TenantID, project.ID, label)
	if err != nil {
		return storage.Week{}, nil, err
	}
	if n > 0 {
		posts, err := s.store.ListWeekPosts(ctx, project.TenantID, project.ID, label)
		return week, posts, err
	}

	schedule, err := DefaultSchedule(startDate, project.TZ)
	if err != nil {
		return storage.Week{}, nil, err
	}

	posts := make([]storage.Post, 0, postsPerWeek)
	for i := 0; i < postsPerWeek; i++ {
		posts = append(posts, storage.Post{
			TenantID:  project.TenantID,
			ProjectPK: project.ID,
			WeekLabel: label,
			Number:    i + 1,
			Status:    storage.StatusDraft,
			Title:     fmt.Sprintf("Draft post #%d", i+1),
			Lead:      "One-sentence hook for the reader.",
			Body:      "Main text goes here.",
			Tags:      "#weekly",
			PublishAt: schedule[i],
		})
	}
	if err := s.store.InsertPosts(ctx, posts); err != nil {
		return storage.Week{}, nil, fmt.Errorf("insert drafts for %s: %w", label, err)
	}

	s.log.Info("week generated",
		logx.Int64("project", project.ProjectID),
		logx.String("week", label),
		logx.Int("posts", len(posts)))
	return week, posts, nil
}

// ShiftWeek moves every scheduled post in the week by delta. Unscheduled
// posts are untouched. Pending delivery jobs are not rescheduled here; the
// caller re-queues the returned posts if the week is already approved.
func (s *Service) ShiftWeek(ctx context.Context, project storage.Project, label string, delta time.Duration) ([]storage.Post, error) {
	posts, err := s.store.ShiftWeekPublishAt(ctx, project.TenantID, project.ID, label, delta)
	if err != nil {
		return nil, err
	}
	s.log.Info("week shifted",
		logx.Int64("project", project.ProjectID),
		logx.String("week", label),
		logx.Duration("delta", delta),
		logx.Int("posts", len(posts)))
	return posts, nil
}
