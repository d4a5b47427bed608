package audit

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/nerrad567/mqtt-access/internal/broker"
	"github.com/nerrad567/mqtt-access/internal/credential"
	"github.com/nerrad567/mqtt-access/internal/infrastructure/config"
	"github.com/nerrad567/mqtt-access/internal/infrastructure/database"
	_ "github.com/nerrad567/mqtt-access/migrations"
)

// nopAdmin accepts every broker call.
type nopAdmin struct{}

func (nopAdmin) FindPrincipal(context.Context, string) (*broker.Principal, error) { return nil, nil }
func (nopAdmin) CreatePrincipal(_ context.Context, username, _ string) (*broker.Principal, error) {
	return &broker.Principal{Username: username}, nil
}
func (nopAdmin) ListRules(context.Context, string) ([]broker.Rule, error)  { return nil, nil }
func (nopAdmin) ReplaceRules(context.Context, string, []broker.Rule) error { return nil }
func (nopAdmin) DeletePrincipal(context.Context, string) error            { return nil }

func testRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	db, err := database.Open(config.DatabaseConfig{
		Path:        filepath.Join(t.TempDir(), "audit.db"),
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // test cleanup

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("migrating test db: %v", err)
	}
	return NewSQLiteRepository(db.DB)
}

func TestRecord(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	err := repo.Record(ctx, credential.Event{
		Action:       credential.ActionCreate,
		CredentialID: "mqc-1",
		UserID:       "u1",
		Username:     "mqtt_u1_abcde",
		Details:      map[string]any{"roles": []string{"ACCOUNT_DEVICE_DATA_READ"}},
	})
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	res, err := repo.List(ctx, Filter{EntityID: "mqc-1"})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if res.Total != 1 || len(res.Entries) != 1 {
		t.Fatalf("List() = %+v, want one entry", res)
	}
	e := res.Entries[0]
	if e.Action != credential.ActionCreate || e.EntityType != EntityCredential || e.Source != Source {
		t.Errorf("entry = %+v", e)
	}
	if e.UserID != "u1" || e.Username != "mqtt_u1_abcde" {
		t.Errorf("entry identity = %q/%q", e.UserID, e.Username)
	}
	roles, ok := e.Details["roles"].([]any)
	if !ok || len(roles) != 1 || roles[0] != "ACCOUNT_DEVICE_DATA_READ" {
		t.Errorf("details = %#v", e.Details)
	}
	if len(e.ID) != len("aud-")+8 {
		t.Errorf("ID = %q", e.ID)
	}
}

func TestList_FilterAndPaging(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	for i, action := range []string{"create", "sync", "sync", "delete", "sync"} {
		if err := repo.Create(ctx, &Entry{
			Action:     action,
			EntityType: EntityCredential,
			EntityID:   "mqc-1",
			CreatedAt:  base.Add(time.Duration(i) * time.Minute),
		}); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	res, err := repo.List(ctx, Filter{Action: "sync", Limit: 2})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if res.Total != 3 || len(res.Entries) != 2 {
		t.Fatalf("total/len = %d/%d, want 3/2", res.Total, len(res.Entries))
	}
	if !res.Entries[0].CreatedAt.Equal(base.Add(4 * time.Minute)) {
		t.Errorf("first entry at %v, want newest first", res.Entries[0].CreatedAt)
	}

	res, err = repo.List(ctx, Filter{Action: "sync", Limit: 2, Offset: 2})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(res.Entries) != 1 || !res.Entries[0].CreatedAt.Equal(base.Add(time.Minute)) {
		t.Errorf("second page = %+v", res.Entries)
	}
}

func TestList_Clamp(t *testing.T) {
	repo := testRepo(t)

	res, err := repo.List(context.Background(), Filter{Limit: 10000, Offset: -3})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if res.Limit != MaxLimit || res.Offset != 0 {
		t.Errorf("limit/offset = %d/%d, want %d/0", res.Limit, res.Offset, MaxLimit)
	}
	if res.Entries == nil || res.Total != 0 {
		t.Errorf("empty result = %+v, want non-nil empty entries", res)
	}
}

func TestService_WritesAuditTrail(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	svc := credential.NewService(credential.NewSQLiteStore(repo.db), nopAdmin{}, credential.ServiceConfig{})
	svc.SetAuditor(repo)

	cred, err := svc.Create(ctx, "u1", "", []credential.Role{credential.RoleAccountDeviceDataRead})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	res, err := repo.List(ctx, Filter{UserID: "u1"})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if res.Total != 1 || res.Entries[0].EntityID != cred.ID {
		t.Fatalf("audit trail = %+v, want create of %s", res.Entries, cred.ID)
	}
}
