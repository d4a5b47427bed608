package credential

import "context"

// Audit actions emitted by the Service.
const (
	ActionCreate = "create"
	ActionDelete = "delete"
	ActionSync   = "sync"
)

// Event is a credential lifecycle change worth keeping a record of.
type Event struct {
	Action       string
	CredentialID string
	UserID       string
	Username     string
	Details      map[string]any
}

// Auditor records lifecycle events. A failing Auditor never fails the
// operation that produced the event.
type Auditor interface {
	Record(ctx context.Context, ev Event) error
}

type noopAuditor struct{}

func (noopAuditor) Record(context.Context, Event) error { return nil }

func eventFor(action string, cred *Credential, details map[string]any) Event {
	return Event{
		Action:       action,
		CredentialID: cred.ID,
		UserID:       cred.UserID,
		Username:     cred.Username,
		Details:      details,
	}
}

func syncDetails(result SyncResult, err error) map[string]any {
	details := map[string]any{
		"principal_created": result.PrincipalCreated,
		"rules_replaced":    result.RulesReplaced,
	}
	if err != nil {
		details["error"] = err.Error()
	}
	return details
}
