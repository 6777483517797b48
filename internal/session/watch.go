package session

import (
	"context"

	"github.com/good-yellow-bee/katler/internal/apperr"
	"github.com/good-yellow-bee/katler/internal/models"
	"github.com/good-yellow-bee/katler/internal/realtime"
)

// Predicates run on the publisher's goroutine and must not touch session
// state.

// watchPrincipal follows the principal's own profile, invites addressed to
// it, memberships granted to it and renames of projects.
func (s *Session) watchPrincipal(ctx context.Context) error {
	principal := s.principal

	profiles, err := s.subscribe(ctx, realtime.Filter{
		Table: realtime.TableProfiles,
		Kinds: []realtime.EventKind{realtime.EventUpdate},
		Predicate: func(c realtime.Change) bool {
			var p models.Profile
			return c.Decode(&p) == nil && p.ID == principal.ID
		},
	})
	if err != nil {
		return err
	}

	invites, err := s.subscribe(ctx, realtime.Filter{
		Table: realtime.TableInvites,
		Predicate: func(c realtime.Change) bool {
			var invite models.Invite
			return c.Decode(&invite) == nil && invite.AddressedTo(principal)
		},
	})
	if err != nil {
		return err
	}
	memberships, err := s.subscribe(ctx, realtime.Filter{
		Table: realtime.TableMemberships,
		Kinds: []realtime.EventKind{realtime.EventInsert},
		Predicate: func(c realtime.Change) bool {
			var m models.Membership
			return c.Decode(&m) == nil && m.UserID == principal.ID
		},
	})
	if err != nil {
		return err
	}
	projects, err := s.subscribe(ctx, realtime.Filter{
		Table: realtime.TableProjects,
		Kinds: []realtime.EventKind{realtime.EventUpdate},
	})
	if err != nil {
		return err
	}

	s.follow(profiles, func(c realtime.Change) {
		var profile models.Profile
		if err := c.Decode(&profile); err != nil {
			s.logger.Warn("discard profile change", "error", err)
			return
		}
		s.setProfile(&profile)
	})
	s.follow(invites, func(realtime.Change) {
		if err := s.refreshInvites(s.ctx); err != nil {
			s.logger.Warn("refresh invites failed", "error", err)
		}
	})
	s.follow(memberships, func(realtime.Change) {
		if err := s.refreshProjects(s.ctx); err != nil {
			s.logger.Warn("refresh projects failed", "error", err)
		}
	})
	s.follow(projects, func(c realtime.Change) {
		var project models.Project
		if err := c.Decode(&project); err != nil || !s.sees(project.ID) {
			return
		}
		if err := s.refreshProjects(s.ctx); err != nil {
			s.logger.Warn("refresh projects failed", "error", err)
		}
	})
	return nil
}

// watchProject follows the owner views of the active project. It is
// replaced on every project switch.
func (s *Session) watchProject(ctx context.Context, projectID string) error {
	members, err := s.open(ctx, realtime.Filter{
		Table: realtime.TableMemberships,
		Kinds: []realtime.EventKind{realtime.EventInsert},
		Predicate: func(c realtime.Change) bool {
			var m models.Membership
			return c.Decode(&m) == nil && m.ProjectID == projectID
		},
	})
	if err != nil {
		return err
	}
	entries, err := s.open(ctx, realtime.Filter{
		Table: realtime.TableEntryLogs,
		Kinds: []realtime.EventKind{realtime.EventInsert},
		Predicate: func(c realtime.Change) bool {
			var e models.EntryLog
			return c.Decode(&e) == nil && e.ProjectID == projectID
		},
	})
	if err != nil {
		members.Close()
		return err
	}

	s.mu.Lock()
	if s.activeID != projectID {
		s.mu.Unlock()
		members.Close()
		entries.Close()
		return nil
	}
	s.scopeWatch = []*realtime.Subscription{members, entries}
	s.mu.Unlock()

	refresh := func(realtime.Change) {
		if err := s.refreshOwnerViews(s.ctx, projectID); err != nil {
			if apperr.IsKind(err, apperr.KindAuthorization) {
				return
			}
			s.logger.Warn("refresh owner views failed", "project_id", projectID, "error", err)
		}
	}
	s.follow(members, refresh)
	s.follow(entries, refresh)
	return nil
}

// subscribe opens a principal-scoped subscription that lives until Close.
func (s *Session) subscribe(ctx context.Context, filter realtime.Filter) (*realtime.Subscription, error) {
	sub, err := s.open(ctx, filter)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.watches = append(s.watches, sub)
	s.mu.Unlock()
	return sub, nil
}

func (s *Session) open(ctx context.Context, filter realtime.Filter) (*realtime.Subscription, error) {
	sub, err := s.deps.Broker.Subscribe(ctx, filter)
	if err != nil {
		return nil, apperr.Transport(err, "subscribe to %s", filter.Table)
	}
	return sub, nil
}

// follow runs fn for every change on sub until the session closes.
func (s *Session) follow(sub *realtime.Subscription, fn func(realtime.Change)) {
	go func() {
		for {
			select {
			case <-s.ctx.Done():
				return
			case change, ok := <-sub.C():
				if !ok {
					return
				}
				fn(change)
			}
		}
	}()
}

func (s *Session) sees(projectID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.projects {
		if p.ID == projectID {
			return true
		}
	}
	return false
}
