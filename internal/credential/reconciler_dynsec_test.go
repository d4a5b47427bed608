package credential

import (
	"context"
	"slices"
	"testing"

	"github.com/nerrad567/mqtt-access/internal/broker/dynsec"
	"github.com/nerrad567/mqtt-access/internal/broker/dynsec/dynsectest"
)

func TestReconciler_DynsecRepairsExternalDrift(t *testing.T) {
	mb := dynsectest.NewMemoryBroker()
	r := NewReconciler(dynsec.NewAdmin(mb))
	cred := readCredential()
	ctx := context.Background()

	attached := func() bool {
		return slices.Contains(mb.ClientRoles(cred.Username), cred.Username)
	}

	if _, err := r.Sync(ctx, cred); err != nil {
		t.Fatalf("first Sync() error = %v", err)
	}
	if !attached() {
		t.Fatalf("roles after first sync = %v", mb.ClientRoles(cred.Username))
	}

	t.Run("client deleted, role kept", func(t *testing.T) {
		mb.DeleteClient(cred.Username)

		result, err := r.Sync(ctx, cred)
		if err != nil {
			t.Fatalf("Sync() error = %v", err)
		}
		if !result.PrincipalCreated || !result.RulesReplaced {
			t.Errorf("Sync() result = %+v, want principal created and rules replaced", result)
		}
		if !attached() {
			t.Errorf("roles = %v, want role re-attached", mb.ClientRoles(cred.Username))
		}
	})

	t.Run("role detached", func(t *testing.T) {
		mb.DetachRole(cred.Username, cred.Username)

		result, err := r.Sync(ctx, cred)
		if err != nil {
			t.Fatalf("Sync() error = %v", err)
		}
		if result.PrincipalCreated || !result.RulesReplaced {
			t.Errorf("Sync() result = %+v, want rules replaced only", result)
		}
		if !attached() {
			t.Errorf("roles = %v, want role re-attached", mb.ClientRoles(cred.Username))
		}
	})

	t.Run("converged", func(t *testing.T) {
		result, err := r.Sync(ctx, cred)
		if err != nil {
			t.Fatalf("Sync() error = %v", err)
		}
		if result.Changed() {
			t.Errorf("Sync() result = %+v, want no change", result)
		}
	})
}
