package registry

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/good-yellow-bee/katler/internal/apperr"
	"github.com/good-yellow-bee/katler/internal/models"
	"github.com/good-yellow-bee/katler/internal/storage"
)

func setupStore(t *testing.T) *storage.SQLiteStorage {
	t.Helper()
	store := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "test.db"), nil, nil)
	if err := store.Open(); err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate database: %v", err)
	}
	return store
}

func addProfile(t *testing.T, store storage.Storage, id, username string) {
	t.Helper()
	p := models.NewProfile(id, id+"@example.com")
	p.Username = &username
	if err := store.Profiles().Create(context.Background(), p); err != nil {
		t.Fatalf("create profile: %v", err)
	}
}

func TestRegistry_CreateAndList(t *testing.T) {
	store := setupStore(t)
	addProfile(t, store, "p", "pat")
	reg := New(store.Projects(), nil)
	ctx := context.Background()

	project, err := reg.Create(ctx, "p", "  Launch ", "first")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if project.Name != "Launch" {
		t.Errorf("name = %q, want trimmed", project.Name)
	}

	visible, err := reg.ListVisible(ctx, "p")
	if err != nil {
		t.Fatalf("ListVisible: %v", err)
	}
	if len(visible) != 1 || visible[0].ID != project.ID {
		t.Fatalf("ListVisible = %v, want the new project", visible)
	}

	membership, err := store.Projects().GetMembership(ctx, project.ID, "p")
	if err != nil || membership == nil || membership.Role != models.RoleOwner {
		t.Errorf("owner membership = %+v, %v", membership, err)
	}

	empty, err := reg.ListVisible(ctx, "stranger")
	if err != nil {
		t.Fatalf("ListVisible stranger: %v", err)
	}
	if empty == nil || len(empty) != 0 {
		t.Error("stranger should see an empty, non-nil list")
	}
}

func TestRegistry_CreateValidation(t *testing.T) {
	store := setupStore(t)
	addProfile(t, store, "p", "pat")
	reg := New(store.Projects(), nil)

	for _, name := range []string{"", "   ", strings.Repeat("n", models.MaxProjectNameLength+1)} {
		if _, err := reg.Create(context.Background(), "p", name, ""); !apperr.IsKind(err, apperr.KindValidation) {
			t.Errorf("Create(%q) error = %v, want validation", name, err)
		}
	}
}

func TestRegistry_CreateFailureIsTransport(t *testing.T) {
	store := setupStore(t)
	reg := New(store.Projects(), nil)

	// No profile row for the owner
	_, err := reg.Create(context.Background(), "ghost", "Launch", "")
	if !apperr.IsKind(err, apperr.KindTransport) {
		t.Fatalf("error = %v, want transport", err)
	}
	visible, _ := reg.ListVisible(context.Background(), "ghost")
	if len(visible) != 0 {
		t.Error("failed create must not leave a project behind")
	}
}

func TestRegistry_Update(t *testing.T) {
	store := setupStore(t)
	addProfile(t, store, "p", "pat")
	addProfile(t, store, "q", "quinn")
	reg := New(store.Projects(), nil)
	ctx := context.Background()

	project, err := reg.Create(ctx, "p", "Launch", "")
	if err != nil {
		t.Fatal(err)
	}

	name := "Liftoff"
	desc := "renamed"
	updated, err := reg.Update(ctx, project.ID, "p", Patch{Name: &name, Description: &desc})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Name != "Liftoff" || updated.Description != "renamed" {
		t.Errorf("updated = %+v", updated)
	}

	tests := []struct {
		name      string
		projectID string
		requester string
		patch     Patch
		kind      apperr.Kind
	}{
		{"not owner", project.ID, "q", Patch{Name: &name}, apperr.KindAuthorization},
		{"missing", "nope", "p", Patch{Name: &name}, apperr.KindNotFound},
		{"empty name", project.ID, "p", Patch{Name: new(string)}, apperr.KindValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := reg.Update(ctx, tt.projectID, tt.requester, tt.patch)
			if !apperr.IsKind(err, tt.kind) {
				t.Errorf("Update error = %v, want %s", err, tt.kind)
			}
		})
	}
}

func TestRegistry_GetMembersOnly(t *testing.T) {
	store := setupStore(t)
	addProfile(t, store, "p", "pat")
	addProfile(t, store, "q", "quinn")
	reg := New(store.Projects(), nil)
	ctx := context.Background()

	project, err := reg.Create(ctx, "p", "Launch", "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := reg.Get(ctx, project.ID, "p"); err != nil {
		t.Errorf("owner Get: %v", err)
	}
	if _, err := reg.Get(ctx, project.ID, "q"); !apperr.IsKind(err, apperr.KindAuthorization) {
		t.Errorf("non-member Get error = %v, want authorization", err)
	}
}

func TestRegistry_RepairOwnerships(t *testing.T) {
	store := setupStore(t)
	addProfile(t, store, "p", "pat")
	reg := New(store.Projects(), nil)
	ctx := context.Background()

	if _, err := reg.Create(ctx, "p", "Launch", ""); err != nil {
		t.Fatal(err)
	}
	n, err := reg.RepairOwnerships(ctx)
	if err != nil {
		t.Fatalf("RepairOwnerships: %v", err)
	}
	if n != 0 {
		t.Errorf("healthy data repaired %d rows", n)
	}
}
