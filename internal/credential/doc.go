// Package credential issues MQTT credentials to users and keeps the
// broker's view of them converged.
//
// A Credential is a generated username/password pair with a set of roles.
// Each role maps to exactly one broker.Rule (see RuleFor). The Reconciler
// provisions the broker principal and replaces its rules only when they
// differ from the expected set, so repeated syncs of an unchanged credential
// make no remote writes.
//
// The Service owns the lifecycle:
//
//   - Create syncs the broker first and persists only on success.
//   - Delete deprovisions the broker first and removes the local record only
//     on success.
//   - SyncAll re-syncs every stored credential with bounded concurrency and
//     never stops early on a per-credential failure.
//
// Creates, deletes and syncs that changed the broker or failed are reported
// to the Auditor set with SetAuditor (see the audit package).
//
// Thread Safety:
//
// Service and Reconciler are safe for concurrent use if the Store and
// broker.AdminPort they wrap are.
package credential
