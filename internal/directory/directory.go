// Package directory manages projects and who belongs to them: creation,
// activation by numeric ID, channel binding and member roles.
package directory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"planbot/internal/plan"
	"planbot/internal/storage"
	"planbot/internal/transport"
	"planbot/pkg/logx"
)

var (
	// ErrJoinClosed is returned when a project exists but does not accept
	// activation by its numeric ID.
	ErrJoinClosed = errors.New("project does not accept joining by ID")

	// ErrChannelRejected is returned when the bot cannot post to a channel
	// that a user tries to bind.
	ErrChannelRejected = errors.New("bot cannot post to this channel")
)

type Service struct {
	store   *storage.Store
	checker transport.ChannelChecker
	log     logx.Logger
}

func New(store *storage.Store, checker transport.ChannelChecker, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{store: store, checker: checker, log: log}
}

// CreateProject makes a tenant, a project in it and an owner membership in
// one step. The caller becomes both tenant owner and project owner. The
// project's numeric ID is allocated by the store and is what other users
// activate with.
func (s *Service) CreateProject(ctx context.Context, user storage.User, name, tz string) (storage.Project, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return storage.Project{}, errors.New("project name required")
	}
	if _, err := plan.LoadZone(tz); err != nil {
		return storage.Project{}, err
	}

	tenant, err := s.store.CreateTenant(ctx, name)
	if err != nil {
		return storage.Project{}, fmt.Errorf("create tenant: %w", err)
	}
	project, err := s.store.CreateProject(ctx, tenant.ID, name, tz)
	if err != nil {
		return storage.Project{}, fmt.Errorf("create project: %w", err)
	}
	if err := s.store.UpsertMembership(ctx, tenant.ID, user.ID, storage.RoleOwner); err != nil {
		return storage.Project{}, fmt.Errorf("owner membership: %w", err)
	}
	if err := s.store.SetProjectOwner(ctx, project.ID, user.ID); err != nil {
		return storage.Project{}, fmt.Errorf("set owner: %w", err)
	}
	project.OwnerUserID = user.ID

	s.log.Info("project created",
		logx.Int64("project", project.ProjectID),
		logx.String("name", name),
		logx.String("tz", tz))
	return project, nil
}

// Activate joins a user to a project by its numeric ID. An ownerless project
// is claimed: the caller becomes its owner. Otherwise the project must allow
// joining by ID, and the caller joins as admin. The user's session switches
// to the activated project either way.
func (s *Service) Activate(ctx context.Context, user storage.User, projectID int64) (storage.Project, error) {
	project, err := s.store.ProjectByExternalID(ctx, projectID)
	if err != nil {
		return storage.Project{}, err
	}
	if !project.Active() {
		return storage.Project{}, storage.ErrNotFound
	}

	switch {
	case project.OwnerUserID == 0:
		if err := s.store.UpsertMembership(ctx, project.TenantID, user.ID, storage.RoleOwner); err != nil {
			return storage.Project{}, err
		}
		if err := s.store.SetProjectOwner(ctx, project.ID, user.ID); err != nil {
			return storage.Project{}, err
		}
		project.OwnerUserID = user.ID
		s.log.Info("project claimed",
			logx.Int64("project", project.ProjectID),
			logx.Int64("user", user.TGUserID))
	case project.OwnerUserID == user.ID:
		// Owner reactivating their own project just switches the session.
	case project.AllowIDJoin:
		if err := s.store.UpsertMembership(ctx, project.TenantID, user.ID, storage.RoleAdmin); err != nil {
			return storage.Project{}, err
		}
		s.log.Info("member joined",
			logx.Int64("project", project.ProjectID),
			logx.Int64("user", user.TGUserID))
	default:
		return storage.Project{}, ErrJoinClosed
	}

	if err := s.store.SaveSession(ctx, storage.Session{
		UserID:    user.ID,
		TenantID:  project.TenantID,
		ProjectPK: project.ID,
	}); err != nil {
		return storage.Project{}, err
	}
	return project, nil
}

// Lookup resolves a project by its numeric ID.
func (s *Service) Lookup(ctx context.Context, projectID int64) (storage.Project, error) {
	return s.store.ProjectByExternalID(ctx, projectID)
}

// BindChannel verifies the bot can post to the channel, then stores it as
// the project's delivery target. The check runs before the write so a
// rejected channel never replaces a working one.
func (s *Service) BindChannel(ctx context.Context, project storage.Project, channel string) (transport.ChannelAccess, error) {
	target, err := transport.ParseTarget(channel)
	if err != nil {
		return transport.ChannelAccess{}, err
	}
	access, err := s.checker.CheckChannel(ctx, target)
	if err != nil {
		return transport.ChannelAccess{}, fmt.Errorf("check channel %s: %w", channel, err)
	}
	if !access.BotIsAdmin || !access.CanPost {
		return access, ErrChannelRejected
	}
	if err := s.store.SetProjectChannel(ctx, project.ID, strings.TrimSpace(channel)); err != nil {
		return access, err
	}
	s.log.Info("channel bound",
		logx.Int64("project", project.ProjectID),
		logx.String("channel", channel),
		logx.String("title", access.Title))
	return access, nil
}

// SetOwner hands project ownership to another member of the tenant.
func (s *Service) SetOwner(ctx context.Context, project storage.Project, newOwner storage.User) error {
	ok, err := s.store.HasRole(ctx, newOwner.ID, project.TenantID, storage.RoleOwner, storage.RoleAdmin)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("user is not a member of project %d", project.ProjectID)
	}
	if err := s.store.UpsertMembership(ctx, project.TenantID, newOwner.ID, storage.RoleOwner); err != nil {
		return err
	}
	return s.store.SetProjectOwner(ctx, project.ID, newOwner.ID)
}

// ToggleIDJoin flips whether the project accepts activation by numeric ID.
func (s *Service) ToggleIDJoin(ctx context.Context, project storage.Project) (bool, error) {
	next := !project.AllowIDJoin
	if err := s.store.SetAllowIDJoin(ctx, project.ID, next); err != nil {
		return project.AllowIDJoin, err
	}
	return next, nil
}

// Deactivate disables a project. Its data stays; scheduling and backups
// stop picking it up.
func (s *Service) Deactivate(ctx context.Context, project storage.Project) error {
	return s.store.DeactivateProject(ctx, project.ID)
}

// ListUserProjects returns the active projects the user belongs to.
func (s *Service) ListUserProjects(ctx context.Context, user storage.User) ([]storage.Project, error) {
	return s.store.ListUserProjects(ctx, user.ID)
}

// Current resolves the user's session to a project, or ErrNotFound when the
// session points nowhere.
func (s *Service) Current(ctx context.Context, user storage.User) (storage.Project, error) {
	sess, err := s.store.GetSession(ctx, user.ID)
	if err != nil {
		return storage.Project{}, err
	}
	if sess.ProjectPK == 0 {
		return storage.Project{}, storage.ErrNotFound
	}
	return s.store.ProjectByPK(ctx, sess.ProjectPK)
}
