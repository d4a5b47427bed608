package broker

import (
	"context"
	"fmt"
	"slices"
)

// Permission decides whether a matching operation is allowed or denied.
type Permission string

const (
	PermissionAllow Permission = "allow"
	PermissionDeny  Permission = "deny"
)

// Action is the MQTT operation a rule applies to.
type Action string

const (
	ActionPublish   Action = "publish"
	ActionSubscribe Action = "subscribe"
	ActionAll       Action = "all"
)

// Rule is a single authorization rule attached to a principal.
type Rule struct {
	Topic      string     `json:"topic"`
	Permission Permission `json:"permission"`
	Action     Action     `json:"action"`
}

// String renders the rule as "permission action topic", e.g. "allow all users/+/devices/#".
func (r Rule) String() string {
	return fmt.Sprintf("%s %s %s", r.Permission, r.Action, r.Topic)
}

// Principal is a broker-side identity. It only exists remotely.
type Principal struct {
	Username string
	// Superuser reports whether the broker grants this principal
	// privileges beyond its rule set.
	Superuser bool
}

// AdminPort is the capability both broker control planes provide.
//
// Implementations must recover "not found" locally: FindPrincipal returns
// (nil, nil) for an absent principal, ListRules returns an empty slice for a
// principal without rules, and DeletePrincipal succeeds when the principal is
// already gone.
type AdminPort interface {
	// FindPrincipal looks up a principal by username.
	FindPrincipal(ctx context.Context, username string) (*Principal, error)

	// CreatePrincipal creates a principal with the given password.
	CreatePrincipal(ctx context.Context, username, password string) (*Principal, error)

	// ListRules returns the rules currently attached to the principal.
	ListRules(ctx context.Context, username string) ([]Rule, error)

	// ReplaceRules replaces the principal's rule set wholesale.
	ReplaceRules(ctx context.Context, username string, rules []Rule) error

	// DeletePrincipal removes the principal together with its rules.
	DeletePrincipal(ctx context.Context, username string) error
}

// RulesEqual reports whether a and b contain the same rules, ignoring order
// and duplicates.
func RulesEqual(a, b []Rule) bool {
	setA := ruleSet(a)
	setB := ruleSet(b)
	if len(setA) != len(setB) {
		return false
	}
	for r := range setA {
		if _, ok := setB[r]; !ok {
			return false
		}
	}
	return true
}

// DedupeRules returns rules with duplicates removed, keeping first occurrence order.
func DedupeRules(rules []Rule) []Rule {
	seen := make(map[Rule]struct{}, len(rules))
	out := make([]Rule, 0, len(rules))
	for _, r := range rules {
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	return slices.Clip(out)
}

func ruleSet(rules []Rule) map[Rule]struct{} {
	set := make(map[Rule]struct{}, len(rules))
	for _, r := range rules {
		set[r] = struct{}{}
	}
	return set
}
