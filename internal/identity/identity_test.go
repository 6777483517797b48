package identity

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/good-yellow-bee/katler/internal/apperr"
	"github.com/good-yellow-bee/katler/internal/models"
	"github.com/good-yellow-bee/katler/internal/realtime"
	"github.com/good-yellow-bee/katler/internal/storage"
)

// mockProfileRepo is an in-memory storage.ProfileRepository.
type mockProfileRepo struct {
	mu       sync.Mutex
	profiles map[string]models.Profile
	reads    atomic.Int32
	// createHook runs before Create stores the row.
	createHook func(p *models.Profile)
	failReads  error
}

func newMockProfileRepo() *mockProfileRepo {
	return &mockProfileRepo{profiles: make(map[string]models.Profile)}
}

func (m *mockProfileRepo) Create(ctx context.Context, p *models.Profile) error {
	if m.createHook != nil {
		m.createHook(p)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.profiles[p.ID]; ok {
		return storage.ErrDuplicate
	}
	m.profiles[p.ID] = *p
	return nil
}

func (m *mockProfileRepo) GetByID(ctx context.Context, id string) (*models.Profile, error) {
	m.reads.Add(1)
	if m.failReads != nil {
		return nil, m.failReads
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (m *mockProfileRepo) GetByUsername(ctx context.Context, username string) (*models.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.profiles {
		if p.Handle() == username {
			return &p, nil
		}
	}
	return nil, nil
}

func (m *mockProfileRepo) GetByEmail(ctx context.Context, email string) (*models.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.profiles {
		if p.Email == email {
			return &p, nil
		}
	}
	return nil, nil
}

func (m *mockProfileRepo) Update(ctx context.Context, p *models.Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.profiles[p.ID]; !ok {
		return storage.ErrNotFound
	}
	for id, other := range m.profiles {
		if id != p.ID && p.Handle() != "" && other.Handle() == p.Handle() {
			return storage.ErrDuplicate
		}
	}
	m.profiles[p.ID] = *p
	return nil
}

func TestResolveProfile_CreatesLazily(t *testing.T) {
	repo := newMockProfileRepo()
	r := NewResolver(repo, nil)
	ctx := context.Background()

	profile, err := r.ResolveProfile(ctx, models.Principal{ID: "u1", Email: "Alice@Example.com"})
	if err != nil {
		t.Fatalf("ResolveProfile: %v", err)
	}
	if profile.HasUsername() {
		t.Error("new profile should have no username")
	}
	if err := RequireUsername(profile); !errors.Is(err, apperr.ErrUsernameRequired) {
		t.Errorf("RequireUsername = %v, want ErrUsernameRequired", err)
	}

	again, err := r.ResolveProfile(ctx, models.Principal{ID: "u1", Email: "new@example.com"})
	if err != nil {
		t.Fatalf("second ResolveProfile: %v", err)
	}
	if again.Email != "new@example.com" {
		t.Errorf("email = %q, want refreshed", again.Email)
	}
	if len(repo.profiles) != 1 {
		t.Errorf("expected 1 stored profile, got %d", len(repo.profiles))
	}
}

func TestResolveProfile_ConcurrentCreate(t *testing.T) {
	repo := newMockProfileRepo()
	// Another session stores the same principal between our read and create.
	repo.createHook = func(p *models.Profile) {
		repo.mu.Lock()
		repo.profiles[p.ID] = models.Profile{ID: p.ID, Email: p.Email}
		repo.mu.Unlock()
		repo.createHook = nil
	}
	r := NewResolver(repo, nil)

	profile, err := r.ResolveProfile(context.Background(), models.Principal{ID: "u1", Email: "a@example.com"})
	if err != nil {
		t.Fatalf("ResolveProfile should collapse to a re-read: %v", err)
	}
	if profile.ID != "u1" {
		t.Errorf("profile id = %q", profile.ID)
	}
}

func TestResolveProfile_TransportError(t *testing.T) {
	repo := newMockProfileRepo()
	repo.failReads = errors.New("database is locked")
	r := NewResolver(repo, nil)

	_, err := r.ResolveProfile(context.Background(), models.Principal{ID: "u1"})
	if !apperr.IsKind(err, apperr.KindTransport) {
		t.Errorf("error = %v, want transport", err)
	}
}

func TestSetUsername(t *testing.T) {
	repo := newMockProfileRepo()
	r := NewResolver(repo, nil)
	ctx := context.Background()

	for _, id := range []string{"u1", "u2"} {
		if _, err := r.ResolveProfile(ctx, models.Principal{ID: id}); err != nil {
			t.Fatalf("resolve %s: %v", id, err)
		}
	}

	profile, err := r.SetUsername(ctx, "u1", "  @Alice ")
	if err != nil {
		t.Fatalf("SetUsername: %v", err)
	}
	if profile.Handle() != "alice" {
		t.Errorf("username = %q, want alice", profile.Handle())
	}
	if err := RequireUsername(profile); err != nil {
		t.Errorf("gate should pass: %v", err)
	}

	// Idempotent for the same owner
	if _, err := r.SetUsername(ctx, "u1", "alice"); err != nil {
		t.Errorf("repeat SetUsername: %v", err)
	}

	if _, err := r.SetUsername(ctx, "u2", "alice"); !apperr.IsKind(err, apperr.KindConflict) {
		t.Errorf("taken username: got %v, want conflict", err)
	}

	if _, err := r.SetUsername(ctx, "u2", "a"); !apperr.IsKind(err, apperr.KindValidation) {
		t.Errorf("short username: got %v, want validation", err)
	}

	if _, err := r.SetUsername(ctx, "ghost", "ghost"); !apperr.IsKind(err, apperr.KindNotFound) {
		t.Errorf("missing profile: got %v, want not found", err)
	}
}

func TestLookupByUsername(t *testing.T) {
	repo := newMockProfileRepo()
	r := NewResolver(repo, nil)
	ctx := context.Background()

	if _, err := r.ResolveProfile(ctx, models.Principal{ID: "u1"}); err != nil {
		t.Fatal(err)
	}
	if _, err := r.SetUsername(ctx, "u1", "alice"); err != nil {
		t.Fatal(err)
	}

	got, err := r.LookupByUsername(ctx, "@ALICE")
	if err != nil || got.ID != "u1" {
		t.Errorf("LookupByUsername = %v, %v", got, err)
	}
	if _, err := r.LookupByUsername(ctx, "bob"); !apperr.IsKind(err, apperr.KindNotFound) {
		t.Errorf("missing user: got %v, want not found", err)
	}
}

func TestDisplayName_Cached(t *testing.T) {
	repo := newMockProfileRepo()
	name := "alice"
	repo.profiles["u1"] = models.Profile{ID: "u1", Username: &name}
	r := NewResolver(repo, nil)
	ctx := context.Background()

	for range 3 {
		got, err := r.DisplayName(ctx, "u1")
		if err != nil {
			t.Fatalf("DisplayName: %v", err)
		}
		if got != "alice" {
			t.Errorf("DisplayName = %q, want alice", got)
		}
	}
	if n := repo.reads.Load(); n != 1 {
		t.Errorf("store reads = %d, want 1", n)
	}

	if _, err := r.DisplayName(ctx, "missing"); !apperr.IsKind(err, apperr.KindNotFound) {
		t.Errorf("missing author: got %v, want not found", err)
	}
}

func TestWatch_RefreshesCache(t *testing.T) {
	repo := newMockProfileRepo()
	name := "alice"
	repo.profiles["u1"] = models.Profile{ID: "u1", Username: &name}
	r := NewResolver(repo, nil)

	broker := realtime.NewMemoryBroker()
	defer broker.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := r.Watch(ctx, broker); err != nil {
		t.Fatalf("Watch: %v", err)
	}
	if _, err := r.DisplayName(ctx, "u1"); err != nil {
		t.Fatal(err)
	}

	renamed := "alicia"
	change, err := realtime.NewChange(realtime.TableProfiles, realtime.EventUpdate, models.Profile{ID: "u1", Username: &renamed})
	if err != nil {
		t.Fatal(err)
	}
	if err := broker.Publish(ctx, change); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if got, _ := r.DisplayName(ctx, "u1"); got == "alicia" {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Error("cache should pick up the rename")
}
