package sharing

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/crosspost/internal/audit"
	"github.com/MarcoPoloResearchLab/crosspost/internal/collectives"
	"github.com/MarcoPoloResearchLab/crosspost/internal/retry"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type sequentialIDs struct {
	mu   sync.Mutex
	next int
}

func (s *sequentialIDs) NewID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	return fmt.Sprintf("intent-%03d", s.next), nil
}

// failingDeleteStore fails every removal with a database error.
type failingDeleteStore struct {
	Store
	deleteCalls int
}

func (s *failingDeleteStore) DeleteAssociations(context.Context, string, []string) (int64, error) {
	s.deleteCalls++
	return 0, retry.New(retry.KindDatabase, "delete", "constraint violation on post_collectives")
}

type testHarness struct {
	db        *gorm.DB
	directory *collectives.Directory
	store     *GormStore
	recorder  *audit.Recorder
	executor  *retry.Executor
	service   *Service
}

func openTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open("file:"+name+"?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := db.AutoMigrate(&collectives.Collective{}, &collectives.Membership{}, &Post{}, &Association{}, &Intent{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	return db
}

func noSleep(context.Context, time.Duration) error {
	return nil
}

func newTestHarness(t *testing.T, wrap func(Store) Store) *testHarness {
	t.Helper()
	db := openTestDatabase(t)
	directory, err := collectives.NewDirectory(db)
	if err != nil {
		t.Fatalf("failed to build directory: %v", err)
	}
	store, err := NewGormStore(db)
	if err != nil {
		t.Fatalf("failed to build store: %v", err)
	}
	recorder := audit.NewRecorder(audit.RecorderConfig{})
	executor := retry.NewExecutor(retry.ExecutorConfig{Policy: retry.DefaultPolicy(), Sleep: noSleep})
	oracle, err := collectives.NewOracle(collectives.OracleConfig{Database: db, Recorder: recorder})
	if err != nil {
		t.Fatalf("failed to build oracle: %v", err)
	}

	var serviceStore Store = store
	if wrap != nil {
		serviceStore = wrap(store)
	}
	service, err := NewService(ServiceConfig{
		Store:       serviceStore,
		Permissions: oracle,
		Recorder:    recorder,
		Executor:    executor,
		Clock:       func() time.Time { return time.Unix(1700000000, 0).UTC() },
		IDProvider:  &sequentialIDs{},
	})
	if err != nil {
		t.Fatalf("failed to build service: %v", err)
	}
	return &testHarness{db: db, directory: directory, store: store, recorder: recorder, executor: executor, service: service}
}

func (h *testHarness) seedCollective(t *testing.T, id, name, ownerID string) {
	t.Helper()
	err := h.directory.CreateCollective(context.Background(), collectives.Collective{
		ID:      id,
		Slug:    id + "-slug",
		Name:    name,
		OwnerID: ownerID,
	})
	if err != nil {
		t.Fatalf("failed to create collective %s: %v", id, err)
	}
}

func (h *testHarness) grant(t *testing.T, groupID, memberID string, role collectives.Role) {
	t.Helper()
	if err := h.directory.SetRole(context.Background(), groupID, memberID, role); err != nil {
		t.Fatalf("failed to grant %s in %s: %v", role, groupID, err)
	}
}

func (h *testHarness) seedPost(t *testing.T, id, authorID string, status PostStatus) {
	t.Helper()
	post := Post{ID: id, AuthorID: authorID, Status: status, CreatedAtSeconds: 1699990000, UpdatedAtSeconds: 1699990000}
	if err := h.db.Create(&post).Error; err != nil {
		t.Fatalf("failed to seed post %s: %v", id, err)
	}
}

func (h *testHarness) associationGroups(t *testing.T, postID string) []string {
	t.Helper()
	rows, err := h.store.ListAssociations(context.Background(), postID)
	if err != nil {
		t.Fatalf("failed to list associations: %v", err)
	}
	return groupIDsOf(rows)
}

// blockingLoadStore parks the first LoadPost call until release is closed.
type blockingLoadStore struct {
	Store
	mu      sync.Mutex
	loads   int
	entered chan struct{}
	release chan struct{}
}

func newBlockingLoadStore() *blockingLoadStore {
	return &blockingLoadStore{entered: make(chan struct{}), release: make(chan struct{})}
}

func (s *blockingLoadStore) LoadPost(ctx context.Context, postID string) (Post, error) {
	s.mu.Lock()
	s.loads++
	first := s.loads == 1
	s.mu.Unlock()
	if first {
		close(s.entered)
		<-s.release
	}
	return s.Store.LoadPost(ctx, postID)
}

func (s *blockingLoadStore) loadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loads
}

func (h *testHarness) seedPendingIntent(t *testing.T, intent Intent) {
	t.Helper()
	intent.Status = IntentStatusPending
	if err := h.store.BeginIntent(context.Background(), intent); err != nil {
		t.Fatalf("failed to seed intent %s: %v", intent.IntentID, err)
	}
}

func (h *testHarness) intentStatus(t *testing.T, intentID string) IntentStatus {
	t.Helper()
	var intent Intent
	if err := h.db.Where("intent_id = ?", intentID).Take(&intent).Error; err != nil {
		t.Fatalf("failed to load intent %s: %v", intentID, err)
	}
	return intent.Status
}
