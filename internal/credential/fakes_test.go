package credential

import (
	"context"
	"path/filepath"
	"slices"
	"sync"
	"testing"

	"github.com/nerrad567/mqtt-access/internal/broker"
	"github.com/nerrad567/mqtt-access/internal/infrastructure/config"
	"github.com/nerrad567/mqtt-access/internal/infrastructure/database"
	_ "github.com/nerrad567/mqtt-access/migrations"
)

// fakeAdmin is an in-memory broker.AdminPort that counts calls.
type fakeAdmin struct {
	mu         sync.Mutex
	principals map[string]string
	rules      map[string][]broker.Rule
	calls      map[string]int

	// failOn makes a method fail for every username.
	failOn map[string]error
	// failFor makes every method fail for one username.
	failFor map[string]error
}

func newFakeAdmin() *fakeAdmin {
	return &fakeAdmin{
		principals: make(map[string]string),
		rules:      make(map[string][]broker.Rule),
		calls:      make(map[string]int),
		failOn:     make(map[string]error),
		failFor:    make(map[string]error),
	}
}

func (f *fakeAdmin) enter(method, username string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[method]++
	if err := f.failFor[username]; err != nil {
		return err
	}
	return f.failOn[method]
}

func (f *fakeAdmin) count(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

func (f *fakeAdmin) mutations() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls["CreatePrincipal"] + f.calls["ReplaceRules"] + f.calls["DeletePrincipal"]
}

func (f *fakeAdmin) resetCalls() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = make(map[string]int)
}

func (f *fakeAdmin) setFailOn(method string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failOn[method] = err
}

func (f *fakeAdmin) hasPrincipal(username string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.principals[username]
	return ok
}

func (f *fakeAdmin) rulesOf(username string) []broker.Rule {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.rules[username])
}

func (f *fakeAdmin) FindPrincipal(_ context.Context, username string) (*broker.Principal, error) {
	if err := f.enter("FindPrincipal", username); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.principals[username]; !ok {
		return nil, nil
	}
	return &broker.Principal{Username: username}, nil
}

func (f *fakeAdmin) CreatePrincipal(_ context.Context, username, password string) (*broker.Principal, error) {
	if err := f.enter("CreatePrincipal", username); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.principals[username] = password
	return &broker.Principal{Username: username}, nil
}

func (f *fakeAdmin) ListRules(_ context.Context, username string) ([]broker.Rule, error) {
	if err := f.enter("ListRules", username); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.rules[username]), nil
}

func (f *fakeAdmin) ReplaceRules(_ context.Context, username string, rules []broker.Rule) error {
	if err := f.enter("ReplaceRules", username); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules[username] = slices.Clone(rules)
	return nil
}

func (f *fakeAdmin) DeletePrincipal(_ context.Context, username string) error {
	if err := f.enter("DeletePrincipal", username); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.principals, username)
	delete(f.rules, username)
	return nil
}

// testStore opens a migrated temporary credential database.
func testStore(t *testing.T) *SQLiteStore {
	t.Helper()
	db, err := database.Open(config.DatabaseConfig{
		Path:        filepath.Join(t.TempDir(), "credentials.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // test cleanup

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("migrating test db: %v", err)
	}
	return NewSQLiteStore(db.DB)
}

// recordingAuditor keeps every event; err makes Record fail.
type recordingAuditor struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (a *recordingAuditor) Record(_ context.Context, ev Event) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, ev)
	return a.err
}

func (a *recordingAuditor) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.events))
	for i, ev := range a.events {
		out[i] = ev.Action
	}
	return out
}
