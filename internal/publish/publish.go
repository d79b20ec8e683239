// Package publish delivers approved posts to their project channel and keeps
// the append-only delivery log. A failed delivery marks the post failed and
// queues exactly one retry; a second failure waits for manual intervention.
package publish

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"planbot/internal/storage"
	"planbot/internal/transport"
	"planbot/pkg/logx"
)

const maxErrorNote = 500

// JobQueue is the slice of the scheduler the publisher needs: named one-shot
// jobs with upsert-by-name dedup.
type JobQueue interface {
	AddOnce(name string, at time.Time, job func(ctx context.Context) error) error
	Cancel(name string) bool
}

type Cfg struct {
	RetryDelay time.Duration // delay before the single automatic retry
	RatePerSec float64       // outbound send budget, 0 disables limiting
}

type Service struct {
	store   *storage.Store
	sender  transport.Sender
	jobs    JobQueue
	cfg     Cfg
	log     logx.Logger
	limiter *rate.Limiter
}

func New(store *storage.Store, sender transport.Sender, jobs JobQueue, cfg Cfg, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 3 * time.Minute
	}
	var limiter *rate.Limiter
	if cfg.RatePerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), 1)
	}
	return &Service{store: store, sender: sender, jobs: jobs, cfg: cfg, log: log, limiter: limiter}
}

// PublishJobName is the dedup key for a post's delivery job. Scheduling the
// same post twice replaces the pending job instead of duplicating it.
func PublishJobName(tenantID, projectPK, postID int64) string {
	return fmt.Sprintf("%d-%d-pub-%d", tenantID, projectPK, postID)
}

// RetryJobName names the single automatic retry after a failed delivery.
func RetryJobName(tenantID, projectPK, postID int64) string {
	return fmt.Sprintf("%d-%d-retry-%d", tenantID, projectPK, postID)
}

// SchedulePost queues delivery of the post at its publish instant. An
// unscheduled post is rejected. Past-due instants fire immediately; the
// queue clamps the delay rather than dropping the job.
func (s *Service) SchedulePost(ctx context.Context, post storage.Post) error {
	if !post.Scheduled() {
		return fmt.Errorf("post %d has no publish time", post.Number)
	}
	id := post.ID
	name := PublishJobName(post.TenantID, post.ProjectPK, id)
	return s.jobs.AddOnce(name, post.PublishAt, func(jobCtx context.Context) error {
		return s.Publish(jobCtx, id)
	})
}

// CancelPost drops any pending delivery or retry job for the post.
func (s *Service) CancelPost(post storage.Post) {
	s.jobs.Cancel(PublishJobName(post.TenantID, post.ProjectPK, post.ID))
	s.jobs.Cancel(RetryJobName(post.TenantID, post.ProjectPK, post.ID))
}

// Recover re-queues delivery jobs for every approved scheduled post. Run at
// startup: job state lives in memory, the store is the source of truth.
func (s *Service) Recover(ctx context.Context) error {
	projects, err := s.store.ListActiveProjects(ctx)
	if err != nil {
		return err
	}
	queued := 0
	for _, pr := range projects {
		week, err := s.store.LatestWeek(ctx, pr.ID)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		posts, err := s.store.ListWeekPosts(ctx, pr.TenantID, pr.ID, week.Label)
		if err != nil {
			return err
		}
		for _, p := range posts {
			if p.Status != storage.StatusApproved || !p.Scheduled() {
				continue
			}
			if err := s.SchedulePost(ctx, p); err != nil {
				return err
			}
			queued++
		}
	}
	s.log.Info("delivery jobs recovered", logx.Int("queued", queued))
	return nil
}

// Publish delivers one post now. When the project has no channel bound the
// call is a silent no-op: that is a configuration gap, not a delivery
// failure, so no log entry is written. A transport failure marks the post
// failed, records the attempt and queues one retry. The retry itself does
// not queue further retries; after two failures the post stays failed until
// someone republishes it.
func (s *Service) Publish(ctx context.Context, postID int64) error {
	return s.attempt(ctx, postID, true)
}

func (s *Service) attempt(ctx context.Context, postID int64, allowRetry bool) error {
	post, err := s.store.PostByID(ctx, postID)
	if err != nil {
		return fmt.Errorf("load post %d: %w", postID, err)
	}
	project, err := s.store.ProjectByPK(ctx, post.ProjectPK)
	if err != nil {
		return fmt.Errorf("load project %d: %w", post.ProjectPK, err)
	}
	if strings.TrimSpace(project.Channel) == "" {
		s.log.Debug("no channel bound, skipping",
			logx.Int64("project", project.ProjectID),
			logx.Int("post", post.Number))
		return nil
	}
	dest, err := transport.ParseTarget(project.Channel)
	if err != nil {
		return fmt.Errorf("channel ref %q: %w", project.Channel, err)
	}

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	text := AssembleText(post)
	var ref transport.MessageRef
	if strings.TrimSpace(post.CoverURL) != "" {
		ref, err = s.sender.SendPhoto(ctx, dest, post.CoverURL, text, nil)
	} else {
		ref, err = s.sender.SendText(ctx, dest, text, nil)
	}
	if err != nil {
		return s.onFailure(ctx, post, err, allowRetry)
	}
	return s.onSuccess(ctx, post, ref)
}

func (s *Service) onSuccess(ctx context.Context, post storage.Post, ref transport.MessageRef) error {
	if err := s.store.MarkPostPublished(ctx, post.ID, ref.MessageID); err != nil {
		return fmt.Errorf("mark published: %w", err)
	}
	if err := s.store.AppendPublishLog(ctx, storage.PublishLogEntry{
		AttemptID: uuid.NewString(),
		TenantID:  post.TenantID,
		ProjectPK: post.ProjectPK,
		PostID:    post.ID,
		Result:    storage.ResultOK,
		MessageID: ref.MessageID,
	}); err != nil {
		return fmt.Errorf("append log: %w", err)
	}
	s.log.Info("post published",
		logx.Int64("post_id", post.ID),
		logx.Int("post", post.Number),
		logx.String("week", post.WeekLabel),
		logx.Int("message_id", ref.MessageID))
	s.maybeCompleteWeek(ctx, post)
	return nil
}

// maybeCompleteWeek marks the week published once every one of its posts is.
// Best effort: a failure here never fails the delivery that triggered it.
func (s *Service) maybeCompleteWeek(ctx context.Context, post storage.Post) {
	posts, err := s.store.ListWeekPosts(ctx, post.TenantID, post.ProjectPK, post.WeekLabel)
	if err != nil || len(posts) == 0 {
		return
	}
	for _, p := range posts {
		if p.Status != storage.StatusPublished {
			return
		}
	}
	week, err := s.store.WeekByLabel(ctx, post.TenantID, post.ProjectPK, post.WeekLabel)
	if err != nil || week.Status == storage.StatusPublished {
		return
	}
	if err := s.store.SetWeekStatus(ctx, week.ID, storage.StatusPublished); err != nil {
		s.log.Warn("week completion update failed",
			logx.String("week", post.WeekLabel), logx.Err(err))
		return
	}
	s.log.Info("week fully published", logx.String("week", post.WeekLabel))
}

func (s *Service) onFailure(ctx context.Context, post storage.Post, sendErr error, allowRetry bool) error {
	note := truncateNote(sendErr.Error())
	if err := s.store.MarkPostFailed(ctx, post.ID, note); err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	if err := s.store.AppendPublishLog(ctx, storage.PublishLogEntry{
		AttemptID: uuid.NewString(),
		TenantID:  post.TenantID,
		ProjectPK: post.ProjectPK,
		PostID:    post.ID,
		Result:    storage.ResultFailed,
		ErrorNote: note,
	}); err != nil {
		return fmt.Errorf("append log: %w", err)
	}

	if allowRetry {
		id := post.ID
		at := time.Now().Add(s.cfg.RetryDelay)
		name := RetryJobName(post.TenantID, post.ProjectPK, id)
		// The retry runs with allowRetry off, so a second failure stops
		// here instead of chaining.
		if err := s.jobs.AddOnce(name, at, func(jobCtx context.Context) error {
			return s.attempt(jobCtx, id, false)
		}); err != nil {
			s.log.Error("retry scheduling failed", logx.Int64("post_id", id), logx.Err(err))
		}
	}

	s.log.Warn("delivery failed",
		logx.Int64("post_id", post.ID),
		logx.Int("post", post.Number),
		logx.String("week", post.WeekLabel),
		logx.Bool("retry", allowRetry),
		logx.Err(sendErr))
	return nil
}

// AssembleText builds the outbound message body. Non-empty fields are joined
// by blank lines in a fixed order; the CTA line appears only when both its
// parts are present.
func AssembleText(p storage.Post) string {
	var parts []string
	if t := strings.TrimSpace(p.Title); t != "" {
		parts = append(parts, t)
	}
	if l := strings.TrimSpace(p.Lead); l != "" {
		parts = append(parts, l)
	}
	if b := strings.TrimSpace(p.Body); b != "" {
		parts = append(parts, b)
	}
	ctaText, ctaURL := strings.TrimSpace(p.CTAText), strings.TrimSpace(p.CTAURL)
	if ctaText != "" && ctaURL != "" {
		parts = append(parts, ctaText+" — "+ctaURL)
	}
	if tags := strings.TrimSpace(p.Tags); tags != "" {
		parts = append(parts, tags)
	}
	return strings.Join(parts, "\n\n")
}

func truncateNote(s string) string {
	r := []rune(s)
	if len(r) <= maxErrorNote {
		return s
	}
	return string(r[:maxErrorNote])
}
