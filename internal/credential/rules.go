package credential

import (
	"fmt"
	"strings"

	"github.com/nerrad567/mqtt-access/internal/broker"
)

// Device topic patterns.
const (
	allDevicesTopic  = "users/+/devices/#"
	userDevicesTopic = "users/%s/devices/#"
)

// RuleFor returns the single rule a role grants to userID.
func RuleFor(role Role, userID string) (broker.Rule, error) {
	switch role {
	case RoleGlobalDeviceDataWrite:
		return broker.Rule{
			Topic:      allDevicesTopic,
			Permission: broker.PermissionAllow,
			Action:     broker.ActionAll,
		}, nil
	case RoleAccountDeviceDataRead:
		return broker.Rule{
			Topic:      fmt.Sprintf(userDevicesTopic, userID),
			Permission: broker.PermissionAllow,
			Action:     broker.ActionSubscribe,
		}, nil
	default:
		return broker.Rule{}, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
}

// ExpectedRules returns the rules cred should hold at the broker, in role
// declaration order without duplicates.
func ExpectedRules(cred *Credential) ([]broker.Rule, error) {
	roles, err := NormaliseRoles(cred.Roles)
	if err != nil {
		return nil, err
	}

	rules := make([]broker.Rule, 0, len(roles))
	for _, role := range roles {
		rule, err := RuleFor(role, cred.UserID)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return broker.DedupeRules(rules), nil
}

// ValidateUserID checks that userID can be embedded in a username and in a
// topic level.
func ValidateUserID(userID string) error {
	if userID == "" {
		return fmt.Errorf("%w: empty", ErrInvalidUserID)
	}
	if strings.ContainsAny(userID, "+#/\x00") {
		return fmt.Errorf("%w: %q contains topic wildcard or separator", ErrInvalidUserID, userID)
	}
	for _, r := range userID {
		if r <= ' ' || r == 0x7f {
			return fmt.Errorf("%w: %q contains whitespace or control characters", ErrInvalidUserID, userID)
		}
	}
	return nil
}
