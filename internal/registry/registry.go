// Package registry manages the projects a principal can see and own.
package registry

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/good-yellow-bee/katler/internal/apperr"
	"github.com/good-yellow-bee/katler/internal/models"
	"github.com/good-yellow-bee/katler/internal/storage"
)

// Patch is a partial project update. Nil fields are left unchanged.
type Patch struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
}

// Registry is the project registry.
type Registry struct {
	projects storage.ProjectRepository
	logger   *slog.Logger
}

// New creates a registry over the project repository.
func New(projects storage.ProjectRepository, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{projects: projects, logger: logger}
}

// ListVisible returns the projects principalID is a member of, newest first.
func (r *Registry) ListVisible(ctx context.Context, principalID string) ([]*models.Project, error) {
	projects, err := r.projects.ListForUser(ctx, principalID)
	if err != nil {
		return nil, apperr.Transport(err, "list projects")
	}
	if projects == nil {
		projects = []*models.Project{}
	}
	return projects, nil
}

// Create stores a project with ownerID as its owner and first member.
func (r *Registry) Create(ctx context.Context, ownerID, name, description string) (*models.Project, error) {
	if err := models.ValidateProjectName(name); err != nil {
		return nil, err
	}

	project := models.NewProject(ownerID, name, description)
	project.ID = uuid.New().String()

	if err := r.projects.CreateWithOwner(ctx, project); err != nil {
		return nil, apperr.Transport(err, "create project")
	}

	r.logger.Info("project created", "project_id", project.ID, "owner_id", ownerID)
	return project, nil
}

// Get returns the project if requesterID is a member of it.
func (r *Registry) Get(ctx context.Context, projectID, requesterID string) (*models.Project, error) {
	project, err := r.load(ctx, projectID)
	if err != nil {
		return nil, err
	}
	membership, err := r.projects.GetMembership(ctx, projectID, requesterID)
	if err != nil {
		return nil, apperr.Transport(err, "check membership")
	}
	if membership == nil {
		return nil, apperr.Authorization("not a member of this project")
	}
	return project, nil
}

// Update applies patch to the project. Only the owner may update it.
func (r *Registry) Update(ctx context.Context, projectID, requesterID string, patch Patch) (*models.Project, error) {
	project, err := r.load(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if project.OwnerID != requesterID {
		return nil, apperr.Authorization("only the project owner can update it")
	}

	if patch.Name != nil {
		if err := models.ValidateProjectName(*patch.Name); err != nil {
			return nil, err
		}
		project.Name = strings.TrimSpace(*patch.Name)
	}
	if patch.Description != nil {
		project.Description = strings.TrimSpace(*patch.Description)
	}
	project.UpdatedAt = time.Now().UTC()

	if err := r.projects.Update(ctx, project); err != nil {
		return nil, apperr.Transport(err, "update project")
	}

	r.logger.Info("project updated", "project_id", project.ID, "name", project.Name)
	return project, nil
}

// RepairOwnerships restores missing owner membership rows.
func (r *Registry) RepairOwnerships(ctx context.Context) (int, error) {
	n, err := r.projects.RepairOwnerships(ctx)
	if err != nil {
		return 0, apperr.Transport(err, "repair ownerships")
	}
	if n > 0 {
		r.logger.Info("owner memberships repaired", "count", n)
	}
	return n, nil
}

func (r *Registry) load(ctx context.Context, projectID string) (*models.Project, error) {
	project, err := r.projects.GetByID(ctx, projectID)
	if err != nil {
		return nil, apperr.Transport(err, "load project")
	}
	if project == nil {
		return nil, apperr.NotFound("project not found")
	}
	return project, nil
}
