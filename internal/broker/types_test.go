package broker

import (
	"errors"
	"fmt"
	"testing"
)

func TestRulesEqual(t *testing.T) {
	write := Rule{Topic: "users/+/devices/#", Permission: PermissionAllow, Action: ActionAll}
	read := Rule{Topic: "users/u1/devices/#", Permission: PermissionAllow, Action: ActionSubscribe}
	deny := Rule{Topic: "users/u1/devices/#", Permission: PermissionDeny, Action: ActionSubscribe}

	tests := []struct {
		name string
		a, b []Rule
		want bool
	}{
		{"both empty", nil, []Rule{}, true},
		{"same order", []Rule{write, read}, []Rule{write, read}, true},
		{"reordered", []Rule{write, read}, []Rule{read, write}, true},
		{"duplicates ignored", []Rule{write, write, read}, []Rule{read, write}, true},
		{"missing rule", []Rule{write, read}, []Rule{write}, false},
		{"permission differs", []Rule{read}, []Rule{deny}, false},
		{"extra stray rule", []Rule{read}, []Rule{read, deny}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RulesEqual(tt.a, tt.b); got != tt.want {
				t.Errorf("RulesEqual() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDedupeRules(t *testing.T) {
	a := Rule{Topic: "a", Permission: PermissionAllow, Action: ActionAll}
	b := Rule{Topic: "b", Permission: PermissionAllow, Action: ActionPublish}

	got := DedupeRules([]Rule{a, b, a, b, a})
	if len(got) != 2 || got[0] != a || got[1] != b {
		t.Errorf("DedupeRules() = %v, want [%v %v]", got, a, b)
	}
}

func TestRuleString(t *testing.T) {
	r := Rule{Topic: "users/+/devices/#", Permission: PermissionAllow, Action: ActionAll}
	if got := r.String(); got != "allow all users/+/devices/#" {
		t.Errorf("String() = %q", got)
	}
}

func TestRemoteAPIError(t *testing.T) {
	err := fmt.Errorf("listing rules: %w", &RemoteAPIError{
		Method: "GET", Path: "/api/v5/login", Status: 401, Code: "BAD_USERNAME_OR_PWD", Message: "auth failed",
	})

	var apiErr *RemoteAPIError
	if !errors.As(err, &apiErr) {
		t.Fatal("errors.As() should find *RemoteAPIError")
	}
	if apiErr.Status != 401 {
		t.Errorf("Status = %d, want 401", apiErr.Status)
	}
	if apiErr.Error() == "" {
		t.Error("Error() should not be empty")
	}
}
