package credential

import (
	"fmt"
	"slices"
	"time"
)

// Role grants a credential a fixed slice of the device topic space.
type Role string

// Roles in declaration order. Expected rules follow this order.
const (
	// RoleGlobalDeviceDataWrite may publish and subscribe on every user's
	// device topics. Held by the ingestion writer.
	RoleGlobalDeviceDataWrite Role = "GLOBAL_DEVICE_DATA_WRITE"

	// RoleAccountDeviceDataRead may subscribe to its own user's device topics.
	RoleAccountDeviceDataRead Role = "ACCOUNT_DEVICE_DATA_READ"
)

var allRoles = []Role{RoleGlobalDeviceDataWrite, RoleAccountDeviceDataRead}

// AllRoles returns every role in declaration order.
func AllRoles() []Role {
	return slices.Clone(allRoles)
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return slices.Contains(allRoles, r)
}

// ParseRole converts s to a Role.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidRole, s)
	}
	return r, nil
}

// NormaliseRoles validates roles and returns them de-duplicated in
// declaration order.
func NormaliseRoles(roles []Role) ([]Role, error) {
	if len(roles) == 0 {
		return nil, fmt.Errorf("%w: at least one role is required", ErrInvalidRole)
	}
	for _, r := range roles {
		if !r.Valid() {
			return nil, fmt.Errorf("%w: %q", ErrInvalidRole, r)
		}
	}

	out := make([]Role, 0, len(roles))
	for _, r := range allRoles {
		if slices.Contains(roles, r) {
			out = append(out, r)
		}
	}
	return out, nil
}

// Credential is a broker login issued to a user.
//
// Password is stored in plaintext: the broker principal is re-created from
// it whenever a sync finds the principal missing.
type Credential struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Username    string    `json:"username"`
	Password    string    `json:"-"`
	Description string    `json:"description,omitempty"`
	Roles       []Role    `json:"roles"`
	CreatedAt   time.Time `json:"created_at"`
}

// HasRole reports whether the credential carries r.
func (c *Credential) HasRole(r Role) bool {
	return slices.Contains(c.Roles, r)
}

// Page selects a window of a listing.
type Page struct {
	Limit  int
	Offset int
}

const (
	DefaultPageLimit = 50
	MaxPageLimit     = 500
)

// Normalise clamps the page to sane bounds.
func (p Page) Normalise() Page {
	if p.Limit <= 0 {
		p.Limit = DefaultPageLimit
	}
	if p.Limit > MaxPageLimit {
		p.Limit = MaxPageLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}
