package credential

import "context"

// Store persists credentials.
//
// Get and Delete return ErrNotFound for an unknown ID. Stream and ListByRole
// hand out credentials oldest first.
type Store interface {
	Save(ctx context.Context, cred *Credential) error
	GetByID(ctx context.Context, id string) (*Credential, error)
	GetByUsername(ctx context.Context, username string) (*Credential, error)
	ListByUser(ctx context.Context, userID string, page Page) ([]Credential, error)
	ListByRole(ctx context.Context, role Role) ([]Credential, error)
	Delete(ctx context.Context, id string) error

	// Stream calls fn for every stored credential. A non-nil error from fn
	// stops the stream and is returned.
	Stream(ctx context.Context, fn func(*Credential) error) error
}
