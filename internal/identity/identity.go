// Package identity resolves authenticated principals to profiles and
// enforces the username gate.
package identity

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/good-yellow-bee/katler/internal/apperr"
	"github.com/good-yellow-bee/katler/internal/models"
	"github.com/good-yellow-bee/katler/internal/realtime"
	"github.com/good-yellow-bee/katler/internal/storage"
)

// UnknownAuthor is shown for authors whose profile has no usable name.
const UnknownAuthor = "unknown"

// Resolver maps principals to profiles and caches author display names.
type Resolver struct {
	profiles storage.ProfileRepository
	logger   *slog.Logger

	mu    sync.RWMutex
	names map[string]string
	group singleflight.Group
}

// NewResolver creates a resolver backed by the profile repository.
func NewResolver(profiles storage.ProfileRepository, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		profiles: profiles,
		logger:   logger,
		names:    make(map[string]string),
	}
}

// ResolveProfile returns the principal's profile, creating it without a
// username on first contact. A concurrent create collapses to a re-read.
func (r *Resolver) ResolveProfile(ctx context.Context, principal models.Principal) (*models.Profile, error) {
	if principal.ID == "" {
		return nil, apperr.Validation("principal id is required")
	}

	profile, err := r.profiles.GetByID(ctx, principal.ID)
	if err != nil {
		return nil, apperr.Transport(err, "load profile")
	}

	if profile == nil {
		profile = models.NewProfile(principal.ID, principal.Email)
		err := r.profiles.Create(ctx, profile)
		switch {
		case err == nil:
			r.logger.Info("profile created", "user_id", principal.ID)
			return profile, nil
		case errors.Is(err, storage.ErrDuplicate):
			profile, err = r.profiles.GetByID(ctx, principal.ID)
			if err != nil {
				return nil, apperr.Transport(err, "reload profile")
			}
			if profile == nil {
				return nil, apperr.Transport(errors.New("profile vanished after duplicate create"), "resolve profile")
			}
		default:
			return nil, apperr.Transport(err, "create profile")
		}
	}

	email := models.NormalizeEmail(principal.Email)
	if email != "" && email != profile.Email {
		profile.Email = email
		profile.UpdatedAt = time.Now().UTC()
		if err := r.profiles.Update(ctx, profile); err != nil {
			return nil, apperr.Transport(err, "refresh profile email")
		}
	}

	return profile, nil
}

// SetUsername assigns a username to the principal's profile.
func (r *Resolver) SetUsername(ctx context.Context, principalID, candidate string) (*models.Profile, error) {
	username := models.NormalizeUsername(candidate)
	if err := models.ValidateUsername(username); err != nil {
		return nil, err
	}

	profile, err := r.profiles.GetByID(ctx, principalID)
	if err != nil {
		return nil, apperr.Transport(err, "load profile")
	}
	if profile == nil {
		return nil, apperr.NotFound("profile not found")
	}
	if profile.Handle() == username {
		return profile, nil
	}

	owner, err := r.profiles.GetByUsername(ctx, username)
	if err != nil {
		return nil, apperr.Transport(err, "check username")
	}
	if owner != nil && owner.ID != principalID {
		return nil, apperr.Conflict("username %q is already taken", username)
	}

	previous := profile.Username
	profile.Username = &username
	profile.UpdatedAt = time.Now().UTC()
	if err := r.profiles.Update(ctx, profile); err != nil {
		profile.Username = previous
		if errors.Is(err, storage.ErrDuplicate) {
			return nil, apperr.Conflict("username %q is already taken", username)
		}
		return nil, apperr.Transport(err, "update username")
	}

	r.remember(profile)
	r.logger.Info("username set", "user_id", principalID, "username", username)
	return profile, nil
}

// RequireUsername is the gate every project, message and invite command
// passes first.
func RequireUsername(profile *models.Profile) error {
	if !profile.HasUsername() {
		return apperr.ErrUsernameRequired
	}
	return nil
}

// LookupByUsername finds a profile by its (normalized) username.
func (r *Resolver) LookupByUsername(ctx context.Context, username string) (*models.Profile, error) {
	username = models.NormalizeUsername(username)
	profile, err := r.profiles.GetByUsername(ctx, username)
	if err != nil {
		return nil, apperr.Transport(err, "lookup username")
	}
	if profile == nil {
		return nil, apperr.NotFound("no user named %q", username)
	}
	return profile, nil
}

// DisplayName returns the author name for userID. Concurrent lookups for
// the same user share one store read.
func (r *Resolver) DisplayName(ctx context.Context, userID string) (string, error) {
	r.mu.RLock()
	name, ok := r.names[userID]
	r.mu.RUnlock()
	if ok {
		return name, nil
	}

	v, err, _ := r.group.Do(userID, func() (any, error) {
		profile, err := r.profiles.GetByID(ctx, userID)
		if err != nil {
			return "", apperr.Transport(err, "load author")
		}
		if profile == nil {
			return "", apperr.NotFound("author %s not found", userID)
		}
		return r.remember(profile), nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Watch keeps the display-name cache current with profile updates until
// ctx is done.
func (r *Resolver) Watch(ctx context.Context, subscriber realtime.Subscriber) error {
	sub, err := subscriber.Subscribe(ctx, realtime.Filter{Table: realtime.TableProfiles})
	if err != nil {
		return apperr.Transport(err, "subscribe to profiles")
	}
	go func() {
		defer sub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case change, ok := <-sub.C():
				if !ok {
					return
				}
				var profile models.Profile
				if err := change.Decode(&profile); err != nil {
					r.logger.Warn("discard profile change", "error", err)
					continue
				}
				r.remember(&profile)
			}
		}
	}()
	return nil
}

// remember caches the display name of profile and returns it. Profiles
// without a username are not cached so a later assignment is picked up.
func (r *Resolver) remember(profile *models.Profile) string {
	name := profile.Handle()
	if name == "" {
		if profile.DisplayName != "" {
			return profile.DisplayName
		}
		return UnknownAuthor
	}
	r.mu.Lock()
	r.names[profile.ID] = name
	r.mu.Unlock()
	return name
}
