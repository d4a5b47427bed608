package credential

import (
	"context"
	"fmt"

	"github.com/nerrad567/mqtt-access/internal/broker"
)

// Logger defines the logging interface used by this package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// SyncResult describes what a sync changed at the broker.
type SyncResult struct {
	PrincipalCreated bool
	RulesReplaced    bool
}

// Changed reports whether the sync wrote anything.
func (r SyncResult) Changed() bool {
	return r.PrincipalCreated || r.RulesReplaced
}

// Reconciler converges one credential into broker state.
//
// It holds no state of its own. Concurrent syncs of the same principal
// race at the broker and the last ReplaceRules wins; both write the same
// expected set.
type Reconciler struct {
	admin  broker.AdminPort
	logger Logger
}

// NewReconciler creates a Reconciler on top of admin.
func NewReconciler(admin broker.AdminPort) *Reconciler {
	return &Reconciler{admin: admin, logger: noopLogger{}}
}

// SetLogger sets the logger for sync decisions.
func (r *Reconciler) SetLogger(logger Logger) {
	r.logger = logger
}

// Sync makes the broker hold exactly the expected rules for cred.
//
// The principal is created if missing; an existing principal keeps its
// password. Rules are read back and replaced only if they differ as a set.
// Broker errors are returned unchanged, wrapped with the username.
func (r *Reconciler) Sync(ctx context.Context, cred *Credential) (SyncResult, error) {
	var result SyncResult

	expected, err := ExpectedRules(cred)
	if err != nil {
		return result, fmt.Errorf("credential %s: %w", cred.ID, err)
	}

	_, created, err := r.Provision(ctx, cred)
	if err != nil {
		return result, err
	}
	result.PrincipalCreated = created

	actual, err := r.admin.ListRules(ctx, cred.Username)
	if err != nil {
		return result, fmt.Errorf("listing rules for %s: %w", cred.Username, err)
	}

	if broker.RulesEqual(actual, expected) {
		r.logger.Debug("broker rules up to date", "username", cred.Username, "rules", len(expected))
		return result, nil
	}

	if err := r.admin.ReplaceRules(ctx, cred.Username, expected); err != nil {
		return result, fmt.Errorf("replacing rules for %s: %w", cred.Username, err)
	}
	result.RulesReplaced = true

	r.logger.Info("broker rules replaced",
		"username", cred.Username,
		"previous", len(actual),
		"expected", len(expected),
	)
	return result, nil
}

// Provision returns the broker principal for cred, creating it when absent.
func (r *Reconciler) Provision(ctx context.Context, cred *Credential) (*broker.Principal, bool, error) {
	principal, err := r.admin.FindPrincipal(ctx, cred.Username)
	if err != nil {
		return nil, false, fmt.Errorf("finding principal %s: %w", cred.Username, err)
	}

	if principal != nil {
		if principal.Superuser {
			r.logger.Warn("broker principal has elevated privileges", "username", cred.Username)
		}
		return principal, false, nil
	}

	principal, err = r.admin.CreatePrincipal(ctx, cred.Username, cred.Password)
	if err != nil {
		return nil, false, fmt.Errorf("creating principal %s: %w", cred.Username, err)
	}
	r.logger.Info("broker principal created", "username", cred.Username, "user_id", cred.UserID)
	return principal, true, nil
}

// Deprovision removes cred's principal and its rules from the broker.
// An already absent principal is not an error.
func (r *Reconciler) Deprovision(ctx context.Context, cred *Credential) error {
	if err := r.admin.DeletePrincipal(ctx, cred.Username); err != nil {
		return fmt.Errorf("deleting principal %s: %w", cred.Username, err)
	}
	r.logger.Info("broker principal deleted", "username", cred.Username)
	return nil
}
