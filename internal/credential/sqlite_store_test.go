package credential

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"testing"
	"time"
)

func saveCredential(t *testing.T, store *SQLiteStore, id, userID string, created time.Time, roles ...Role) *Credential {
	t.Helper()
	cred := &Credential{
		ID:        id,
		UserID:    userID,
		Username:  "mqtt_" + userID + "_" + id[len(id)-5:],
		Password:  "pw-" + id,
		Roles:     roles,
		CreatedAt: created,
	}
	if err := store.Save(context.Background(), cred); err != nil {
		t.Fatalf("Save(%s) error = %v", id, err)
	}
	return cred
}

func TestSQLiteStore_SaveAndGet(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	cred := &Credential{
		ID:          "mqc-0000abcd",
		UserID:      "u1",
		Username:    "mqtt_u1_abcd1",
		Password:    "secret",
		Description: "grafana",
		Roles:       []Role{RoleGlobalDeviceDataWrite, RoleAccountDeviceDataRead},
		CreatedAt:   created,
	}
	if err := store.Save(ctx, cred); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	for name, get := range map[string]func() (*Credential, error){
		"by id":       func() (*Credential, error) { return store.GetByID(ctx, cred.ID) },
		"by username": func() (*Credential, error) { return store.GetByUsername(ctx, cred.Username) },
	} {
		t.Run(name, func(t *testing.T) {
			got, err := get()
			if err != nil {
				t.Fatalf("get error = %v", err)
			}
			if got.UserID != "u1" || got.Password != "secret" || got.Description != "grafana" {
				t.Errorf("got = %+v", got)
			}
			if !got.CreatedAt.Equal(created) {
				t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, created)
			}
			if !slices.Equal(got.Roles, cred.Roles) {
				t.Errorf("Roles = %v, want %v", got.Roles, cred.Roles)
			}
		})
	}
}

func TestSQLiteStore_NotFound(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	if _, err := store.GetByID(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetByID() error = %v, want ErrNotFound", err)
	}
	if _, err := store.GetByUsername(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetByUsername() error = %v, want ErrNotFound", err)
	}
	if err := store.Delete(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Delete() error = %v, want ErrNotFound", err)
	}
}

func TestSQLiteStore_UsernameUnique(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	saveCredential(t, store, "mqc-0000aaaaa", "u1", time.Now().UTC(), RoleAccountDeviceDataRead)

	dup := &Credential{ID: "mqc-other", UserID: "u1", Username: "mqtt_u1_aaaaa", Password: "x",
		Roles: []Role{RoleAccountDeviceDataRead}}
	if err := store.Save(ctx, dup); err == nil {
		t.Error("Save() with duplicate username should fail")
	}
	if _, err := store.GetByID(ctx, "mqc-other"); !errors.Is(err, ErrNotFound) {
		t.Error("failed save must not leave a partial row")
	}
}

func TestSQLiteStore_DeleteCascadesRoles(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	cred := saveCredential(t, store, "mqc-0000bbbbb", "u1", time.Now().UTC(), RoleGlobalDeviceDataWrite)

	if err := store.Delete(ctx, cred.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	var n int
	if err := store.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM mqtt_credential_roles WHERE credential_id = ?", cred.ID,
	).Scan(&n); err != nil {
		t.Fatalf("counting roles: %v", err)
	}
	if n != 0 {
		t.Errorf("%d role rows left after delete", n)
	}
}

func TestSQLiteStore_ListByUserAndRole(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	saveCredential(t, store, "mqc-0000c0003", "u1", base.Add(3*time.Hour), RoleAccountDeviceDataRead)
	saveCredential(t, store, "mqc-0000c0001", "u1", base.Add(1*time.Hour), RoleAccountDeviceDataRead, RoleGlobalDeviceDataWrite)
	saveCredential(t, store, "mqc-0000c0002", "u2", base.Add(2*time.Hour), RoleGlobalDeviceDataWrite)

	mine, err := store.ListByUser(ctx, "u1", Page{})
	if err != nil {
		t.Fatalf("ListByUser() error = %v", err)
	}
	if len(mine) != 2 || mine[0].ID != "mqc-0000c0001" || mine[1].ID != "mqc-0000c0003" {
		t.Errorf("ListByUser() = %v", ids(mine))
	}
	if len(mine[0].Roles) != 2 {
		t.Errorf("roles not loaded: %v", mine[0].Roles)
	}

	writers, err := store.ListByRole(ctx, RoleGlobalDeviceDataWrite)
	if err != nil {
		t.Fatalf("ListByRole() error = %v", err)
	}
	if got := ids(writers); !slices.Equal(got, []string{"mqc-0000c0001", "mqc-0000c0002"}) {
		t.Errorf("ListByRole() = %v", got)
	}
}

func TestSQLiteStore_StreamVisitsEveryCredentialOnce(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	// More than two batches, with timestamp ties across a batch boundary.
	const total = 2*streamBatchSize + 17
	for i := range total {
		id := fmt.Sprintf("mqc-%09d", i)
		saveCredential(t, store, id, "u1", base.Add(time.Duration(i/7)*time.Second), RoleAccountDeviceDataRead)
	}

	seen := make(map[string]int)
	err := store.Stream(ctx, func(c *Credential) error {
		seen[c.ID]++
		if len(c.Roles) != 1 {
			return fmt.Errorf("%s has roles %v", c.ID, c.Roles)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	if len(seen) != total {
		t.Errorf("visited %d credentials, want %d", len(seen), total)
	}
	for id, n := range seen {
		if n != 1 {
			t.Errorf("%s visited %d times", id, n)
		}
	}
}

func TestSQLiteStore_StreamStopsOnError(t *testing.T) {
	store := testStore(t)
	now := time.Now().UTC()
	saveCredential(t, store, "mqc-0000d0001", "u1", now, RoleAccountDeviceDataRead)
	saveCredential(t, store, "mqc-0000d0002", "u1", now, RoleAccountDeviceDataRead)

	stop := errors.New("stop")
	calls := 0
	err := store.Stream(context.Background(), func(*Credential) error {
		calls++
		return stop
	})
	if !errors.Is(err, stop) || calls != 1 {
		t.Errorf("Stream() = %v after %d calls, want stop after 1", err, calls)
	}
}

func ids(creds []Credential) []string {
	out := make([]string, len(creds))
	for i, c := range creds {
		out[i] = c.ID
	}
	return out
}
