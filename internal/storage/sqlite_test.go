package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/good-yellow-bee/katler/internal/models"
	"github.com/good-yellow-bee/katler/internal/realtime"
)

func setupTestDB(t *testing.T) (*SQLiteStorage, func()) {
	t.Helper()
	return setupTestDBWithBroker(t, nil)
}

func setupTestDBWithBroker(t *testing.T, publisher realtime.Publisher) (*SQLiteStorage, func()) {
	t.Helper()

	// Create temp directory for test database
	tmpDir, err := os.MkdirTemp("", "katler-test-*")
	if err != nil {
		t.Fatalf("create temp dir: %v", err)
	}

	dbPath := filepath.Join(tmpDir, "test.db")

	store := NewSQLiteStorage(dbPath, publisher, nil)
	if err := store.Open(); err != nil {
		os.RemoveAll(tmpDir)
		t.Fatalf("open database: %v", err)
	}

	if err := store.Migrate(); err != nil {
		store.Close()
		os.RemoveAll(tmpDir)
		t.Fatalf("migrate database: %v", err)
	}

	cleanup := func() {
		store.Close()
		os.RemoveAll(tmpDir)
	}

	return store, cleanup
}

func createProfile(t *testing.T, store *SQLiteStorage, username, email string) *models.Profile {
	t.Helper()
	profile := models.NewProfile(uuid.New().String(), email)
	if username != "" {
		profile.Username = &username
	}
	if err := store.Profiles().Create(context.Background(), profile); err != nil {
		t.Fatalf("create profile %s: %v", username, err)
	}
	return profile
}

func createProject(t *testing.T, store *SQLiteStorage, ownerID, name string) *models.Project {
	t.Helper()
	project := models.NewProject(ownerID, name, "")
	project.ID = uuid.New().String()
	if err := store.Projects().CreateWithOwner(context.Background(), project); err != nil {
		t.Fatalf("create project %s: %v", name, err)
	}
	return project
}

func TestSQLiteStorage_OpenClose(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	// Verify storage is open
	if store.db == nil {
		t.Fatal("database should be open")
	}
}

func TestSQLiteStorage_Migrate(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	// Verify tables exist by querying them
	tables := []string{"profiles", "projects", "project_members", "invites", "messages", "entry_logs", "schema_migrations"}
	for _, table := range tables {
		var count int
		err := store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&count)
		if err != nil {
			t.Errorf("table %s should exist: %v", table, err)
		}
	}

	// Running again is a no-op
	if err := store.Migrate(); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}

func TestProfileRepository_CRUD(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	profile := createProfile(t, store, "", "Alice@Example.com")

	got, err := store.Profiles().GetByID(ctx, profile.ID)
	if err != nil {
		t.Fatalf("get profile: %v", err)
	}
	if got == nil {
		t.Fatal("profile should exist")
	}
	if got.HasUsername() {
		t.Error("new profile should have no username")
	}
	if got.Email != "alice@example.com" {
		t.Errorf("email = %q, want normalized", got.Email)
	}

	name := "alice"
	got.Username = &name
	got.UpdatedAt = time.Now().UTC()
	if err := store.Profiles().Update(ctx, got); err != nil {
		t.Fatalf("update profile: %v", err)
	}

	byName, err := store.Profiles().GetByUsername(ctx, "alice")
	if err != nil {
		t.Fatalf("get by username: %v", err)
	}
	if byName == nil || byName.ID != profile.ID {
		t.Fatalf("get by username = %+v, want %s", byName, profile.ID)
	}

	byEmail, err := store.Profiles().GetByEmail(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("get by email: %v", err)
	}
	if byEmail == nil || byEmail.ID != profile.ID {
		t.Fatal("get by email should find the profile")
	}

	missing, err := store.Profiles().GetByID(ctx, "nope")
	if err != nil {
		t.Fatalf("get missing profile: %v", err)
	}
	if missing != nil {
		t.Error("missing profile should be nil")
	}
}

func TestProfileRepository_UsernameUnique(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	createProfile(t, store, "alice", "alice@example.com")
	other := createProfile(t, store, "", "other@example.com")

	taken := "alice"
	other.Username = &taken
	err := store.Profiles().Update(ctx, other)
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("update with taken username: got %v, want ErrDuplicate", err)
	}

	// Two profiles without usernames do not collide
	createProfile(t, store, "", "third@example.com")
}

func TestProjectRepository_CreateWithOwner(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	owner := createProfile(t, store, "alice", "alice@example.com")
	first := createProject(t, store, owner.ID, "Launch")
	second := createProject(t, store, owner.ID, "Second")

	membership, err := store.Projects().GetMembership(ctx, first.ID, owner.ID)
	if err != nil {
		t.Fatalf("get membership: %v", err)
	}
	if membership == nil || membership.Role != models.RoleOwner {
		t.Fatalf("owner membership = %+v, want owner row", membership)
	}

	projects, err := store.Projects().ListForUser(ctx, owner.ID)
	if err != nil {
		t.Fatalf("list projects: %v", err)
	}
	if len(projects) != 2 {
		t.Fatalf("expected 2 projects, got %d", len(projects))
	}
	if projects[0].ID != second.ID || projects[1].ID != first.ID {
		t.Error("projects should be listed newest first")
	}
}

func TestProjectRepository_CreateWithOwnerRollsBack(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	// Owner profile is missing, so the composite write fails.
	project := models.NewProject("ghost", "Orphan", "")
	project.ID = uuid.New().String()
	if err := store.Projects().CreateWithOwner(ctx, project); err == nil {
		t.Fatal("expected error for missing owner profile")
	}

	got, err := store.Projects().GetByID(ctx, project.ID)
	if err != nil {
		t.Fatalf("get project: %v", err)
	}
	if got != nil {
		t.Error("project row should have been rolled back")
	}
}

func TestProjectRepository_UpdateMissing(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	project := models.NewProject("x", "Nothing", "")
	project.ID = uuid.New().String()
	if err := store.Projects().Update(context.Background(), project); !errors.Is(err, ErrNotFound) {
		t.Fatalf("update missing project: got %v, want ErrNotFound", err)
	}
}

func TestProjectRepository_Members(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	owner := createProfile(t, store, "zed", "zed@example.com")
	alice := createProfile(t, store, "alice", "alice@example.com")
	bob := createProfile(t, store, "bob", "bob@example.com")
	project := createProject(t, store, owner.ID, "Launch")

	for _, id := range []string{bob.ID, alice.ID} {
		inserted, err := store.Projects().AddMember(ctx, project.ID, id, models.RoleMember)
		if err != nil {
			t.Fatalf("add member: %v", err)
		}
		if !inserted {
			t.Error("first add should insert")
		}
	}

	inserted, err := store.Projects().AddMember(ctx, project.ID, alice.ID, models.RoleMember)
	if err != nil {
		t.Fatalf("re-add member: %v", err)
	}
	if inserted {
		t.Error("second add should be a no-op")
	}

	members, err := store.Projects().ListMembers(ctx, project.ID)
	if err != nil {
		t.Fatalf("list members: %v", err)
	}
	want := []string{"zed", "alice", "bob"}
	if len(members) != len(want) {
		t.Fatalf("expected %d members, got %d", len(want), len(members))
	}
	for i, m := range members {
		if m.Username != want[i] {
			t.Errorf("members[%d] = %s, want %s", i, m.Username, want[i])
		}
	}
	if members[0].Role != models.RoleOwner {
		t.Error("owner should be listed first")
	}

	// A second owner row is rejected by the partial unique index
	_, err = store.db.ExecContext(ctx,
		`UPDATE project_members SET role = 'owner' WHERE project_id = ? AND user_id = ?`,
		project.ID, alice.ID)
	if err == nil {
		t.Error("second owner should violate the one-owner index")
	}
}

func TestProjectRepository_RepairOwnerships(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	owner := createProfile(t, store, "alice", "alice@example.com")
	project := createProject(t, store, owner.ID, "Legacy")

	if _, err := store.db.ExecContext(ctx, `DELETE FROM project_members WHERE project_id = ?`, project.ID); err != nil {
		t.Fatalf("delete owner row: %v", err)
	}

	repaired, err := store.Projects().RepairOwnerships(ctx)
	if err != nil {
		t.Fatalf("repair: %v", err)
	}
	if repaired != 1 {
		t.Errorf("repaired = %d, want 1", repaired)
	}

	repaired, err = store.Projects().RepairOwnerships(ctx)
	if err != nil {
		t.Fatalf("second repair: %v", err)
	}
	if repaired != 0 {
		t.Errorf("second repair = %d, want 0", repaired)
	}

	membership, _ := store.Projects().GetMembership(ctx, project.ID, owner.ID)
	if membership == nil || membership.Role != models.RoleOwner {
		t.Error("owner membership should be restored")
	}
}

func newTestInvite(t *testing.T, projectID, inviterID, userID, email string) *models.Invite {
	t.Helper()
	invite, err := models.NewInvite(projectID, inviterID, userID, email)
	if err != nil {
		t.Fatalf("new invite: %v", err)
	}
	invite.ID = uuid.New().String()
	return invite
}

func TestInviteRepository_PendingUnion(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	owner := createProfile(t, store, "owner", "owner@example.com")
	alice := createProfile(t, store, "alice", "alice@example.com")
	p1 := createProject(t, store, owner.ID, "One")
	p2 := createProject(t, store, owner.ID, "Two")

	byID := newTestInvite(t, p1.ID, owner.ID, alice.ID, "")
	if err := store.Invites().Create(ctx, byID); err != nil {
		t.Fatalf("create invite: %v", err)
	}
	byEmail := newTestInvite(t, p2.ID, owner.ID, "", "alice@example.com")
	byEmail.CreatedAt = byID.CreatedAt.Add(time.Second)
	if err := store.Invites().Create(ctx, byEmail); err != nil {
		t.Fatalf("create invite: %v", err)
	}

	pending, err := store.Invites().ListPendingFor(ctx, alice.ID, alice.Email)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("expected 2 pending invites, got %d", len(pending))
	}
	if pending[0].ID != byEmail.ID || pending[0].ProjectName != "Two" {
		t.Errorf("first pending = %+v, want newest invite for Two", pending[0])
	}
	if pending[1].InviterUsername != "owner" {
		t.Errorf("inviter username = %q", pending[1].InviterUsername)
	}

	found, err := store.Invites().FindPending(ctx, p2.ID, alice.ID, alice.Email)
	if err != nil {
		t.Fatalf("find pending: %v", err)
	}
	if found == nil || found.ID != byEmail.ID {
		t.Error("find pending should match by email")
	}

	none, err := store.Invites().ListPendingFor(ctx, "someone-else", "")
	if err != nil {
		t.Fatalf("list pending for stranger: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("stranger should have no invites, got %d", len(none))
	}
}

func TestInviteRepository_RespondAccept(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	owner := createProfile(t, store, "owner", "owner@example.com")
	alice := createProfile(t, store, "alice", "alice@example.com")
	project := createProject(t, store, owner.ID, "Launch")

	invite := newTestInvite(t, project.ID, owner.ID, "", "alice@example.com")
	if err := store.Invites().Create(ctx, invite); err != nil {
		t.Fatalf("create invite: %v", err)
	}

	got, err := store.Invites().Respond(ctx, invite.ID, models.InviteAccepted, alice.ID)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if got.Status != models.InviteAccepted || got.RespondedAt == nil {
		t.Errorf("accepted invite = %+v", got)
	}

	// Repeated accept succeeds without a second row
	if _, err := store.Invites().Respond(ctx, invite.ID, models.InviteAccepted, alice.ID); err != nil {
		t.Fatalf("repeat accept: %v", err)
	}
	var count int
	if err := store.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM project_members WHERE project_id = ? AND user_id = ?`,
		project.ID, alice.ID).Scan(&count); err != nil {
		t.Fatalf("count members: %v", err)
	}
	if count != 1 {
		t.Errorf("membership rows = %d, want 1", count)
	}

	if _, err := store.Invites().Respond(ctx, invite.ID, models.InviteDeclined, alice.ID); !errors.Is(err, ErrInviteClosed) {
		t.Errorf("decline after accept: got %v, want ErrInviteClosed", err)
	}

	if _, err := store.Invites().Respond(ctx, "missing", models.InviteAccepted, alice.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("respond to missing invite: got %v, want ErrNotFound", err)
	}
}

func TestInviteRepository_ConcurrentAccept(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	owner := createProfile(t, store, "owner", "owner@example.com")
	alice := createProfile(t, store, "alice", "alice@example.com")
	project := createProject(t, store, owner.ID, "Launch")

	invite := newTestInvite(t, project.ID, owner.ID, alice.ID, "")
	if err := store.Invites().Create(ctx, invite); err != nil {
		t.Fatalf("create invite: %v", err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Invites().Respond(ctx, invite.ID, models.InviteAccepted, alice.ID)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Errorf("concurrent accept: %v", err)
		}
	}

	members, err := store.Projects().ListMembers(ctx, project.ID)
	if err != nil {
		t.Fatalf("list members: %v", err)
	}
	if len(members) != 2 {
		t.Errorf("expected owner + alice, got %d members", len(members))
	}
}

func TestMessageRepository_ListOrderAndTag(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	owner := createProfile(t, store, "alice", "alice@example.com")
	project := createProject(t, store, owner.ID, "Launch")

	stamp := time.Now().UTC().Truncate(time.Second)
	tags := []models.Tag{models.TagIdea, models.TagDecision, models.TagIdea, models.TagNone}
	var ids []string
	for i, tag := range tags {
		m := models.NewMessage(project.ID, owner.ID, "msg", tag)
		m.ID = uuid.New().String()
		// identical timestamps for the first pair fall back to insertion order
		if i < 2 {
			m.CreatedAt = stamp
		} else {
			m.CreatedAt = stamp.Add(time.Duration(i) * time.Second)
		}
		if err := store.Messages().Create(ctx, m); err != nil {
			t.Fatalf("create message: %v", err)
		}
		ids = append(ids, m.ID)
	}

	all, err := store.Messages().List(ctx, MessageFilter{ProjectID: project.ID})
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(all) != len(ids) {
		t.Fatalf("expected %d messages, got %d", len(ids), len(all))
	}
	for i, m := range all {
		if m.ID != ids[i] {
			t.Errorf("messages[%d] out of order", i)
		}
	}

	idea := models.TagIdea
	ideas, err := store.Messages().List(ctx, MessageFilter{ProjectID: project.ID, Tag: &idea})
	if err != nil {
		t.Fatalf("list idea messages: %v", err)
	}
	if len(ideas) != 2 || ideas[0].ID != ids[0] || ideas[1].ID != ids[2] {
		t.Error("tag filter should keep the ordered idea subsequence")
	}
}

func TestEntryLogRepository_ListRecent(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	owner := createProfile(t, store, "alice", "alice@example.com")
	project := createProject(t, store, owner.ID, "Launch")

	base := time.Now().UTC()
	for i := range 5 {
		entry := models.NewEntryLog(project.ID, owner.ID)
		entry.ID = uuid.New().String()
		entry.EnteredAt = base.Add(time.Duration(i) * time.Minute)
		if err := store.EntryLogs().Create(ctx, entry); err != nil {
			t.Fatalf("create entry log: %v", err)
		}
	}

	entries, err := store.EntryLogs().ListRecent(ctx, project.ID, 3)
	if err != nil {
		t.Fatalf("list entry logs: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if !entries[0].EnteredAt.After(entries[1].EnteredAt) {
		t.Error("entries should be newest first")
	}
	if entries[0].Username != "alice" {
		t.Errorf("username = %q, want alice", entries[0].Username)
	}
}

func TestChangeFeed_PublishesAfterCommit(t *testing.T) {
	broker := realtime.NewMemoryBroker()
	defer broker.Close()
	store, cleanup := setupTestDBWithBroker(t, broker)
	defer cleanup()
	ctx := context.Background()

	sub, err := broker.Subscribe(ctx, realtime.Filter{Table: realtime.TableMemberships})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	owner := createProfile(t, store, "alice", "alice@example.com")
	project := createProject(t, store, owner.ID, "Launch")

	select {
	case change := <-sub.C():
		var m models.Membership
		if err := change.Decode(&m); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if m.ProjectID != project.ID || m.Role != models.RoleOwner {
			t.Errorf("membership change = %+v", m)
		}
	case <-time.After(time.Second):
		t.Fatal("expected membership change")
	}
}
