package plan

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"planbot/internal/storage"
	"planbot/pkg/logx"
)

// ErrWeekIncomplete is returned when approval runs on a week that does not
// have all seven posts yet.
var ErrWeekIncomplete = errors.New("week is incomplete, generate drafts first")

// DefectReport maps post number to that post's validation defects. A nil
// report means the week passed.
type DefectReport map[int][]string

// Numbers returns the defective post numbers in ascending order.
func (r DefectReport) Numbers() []int {
	nums := make([]int, 0, len(r))
	for n := range r {
		nums = append(nums, n)
	}
	sort.Ints(nums)
	return nums
}

// SubmitWeek hands a complete week of drafts over to review. It requires
// all seven posts to exist but does not validate content; that happens at
// approval.
func (s *Service) SubmitWeek(ctx context.Context, project storage.Project, label string) error {
	n, err := s.store.CountWeekPosts(ctx, project.TenantID, project.ID, label)
	if err != nil {
		return err
	}
	if n != postsPerWeek {
		return fmt.Errorf("%w: have %d of %d posts", ErrWeekIncomplete, n, postsPerWeek)
	}
	if err := s.store.SubmitWeekForReview(ctx, project.TenantID, project.ID, label); err != nil {
		return err
	}
	s.log.Info("week submitted for review",
		logx.Int64("project", project.ProjectID),
		logx.String("week", label))
	return nil
}

// ApproveWeek runs the all-or-nothing approval gate. It requires exactly
// seven posts, validates every one, and on any defect returns the full
// report without touching state. A clean week is approved atomically and
// every post is queued with the scheduler. Re-approving an approved week is
// safe: posts keep their publish instants and are simply re-queued.
func (s *Service) ApproveWeek(ctx context.Context, project storage.Project, label string) (DefectReport, error) {
	posts, err := s.store.ListWeekPosts(ctx, project.TenantID, project.ID, label)
	if err != nil {
		return nil, err
	}
	if len(posts) != postsPerWeek {
		return nil, fmt.Errorf("%w: have %d of %d posts", ErrWeekIncomplete, len(posts), postsPerWeek)
	}

	report := DefectReport{}
	for _, p := range posts {
		if defects := Validate(p); len(defects) > 0 {
			report[p.Number] = defects
		}
	}
	if len(report) > 0 {
		s.log.Info("approval blocked",
			logx.Int64("project", project.ProjectID),
			logx.String("week", label),
			logx.Int("defective", len(report)))
		return report, nil
	}

	approved, err := s.store.ApproveWeekPosts(ctx, project.TenantID, project.ID, label)
	if err != nil {
		return nil, fmt.Errorf("approve week %s: %w", label, err)
	}

	for _, p := range approved {
		if err := s.sched.SchedulePost(ctx, p); err != nil {
			return nil, fmt.Errorf("schedule post %d: %w", p.Number, err)
		}
	}

	s.log.Info("week approved",
		logx.Int64("project", project.ProjectID),
		logx.String("week", label),
		logx.Int("posts", len(approved)))
	return nil, nil
}

// UpdatePost applies an edit to a post's content fields. Edits are accepted
// in draft and review; the last write wins. Validation runs only at approval
// time, never here.
func (s *Service) UpdatePost(ctx context.Context, p storage.Post) error {
	return s.store.UpdatePostContent(ctx, p)
}

// Reschedule sets a single post's publish instant from a local date, time
// and zone. Invalid zones are rejected before any write.
func (s *Service) Reschedule(ctx context.Context, postID int64, dateStr, hhmm, tz string) error {
	at, err := ParseLocalDateTime(dateStr, hhmm, tz)
	if err != nil {
		return err
	}
	return s.store.SetPostPublishAt(ctx, postID, at)
}
