package credential

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// streamBatchSize is how many credentials Stream reads per query. The
// connection is released between batches.
const streamBatchSize = 100

const credentialColumns = `id, user_id, username, password, description, created_at`

// SQLiteStore implements Store on the mqtt_credentials and
// mqtt_credential_roles tables.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a SQLite-backed credential store.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Save inserts cred and its roles in one transaction.
func (s *SQLiteStore) Save(ctx context.Context, cred *Credential) error {
	if cred.CreatedAt.IsZero() {
		cred.CreatedAt = time.Now().UTC().Truncate(time.Second)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning save transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO mqtt_credentials (`+credentialColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		cred.ID, cred.UserID, cred.Username, cred.Password,
		nullString(cred.Description),
		cred.CreatedAt.UTC().Format(time.RFC3339),
	); err != nil {
		return fmt.Errorf("inserting credential: %w", err)
	}

	for i, role := range cred.Roles {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO mqtt_credential_roles (credential_id, role, position) VALUES (?, ?, ?)`,
			cred.ID, string(role), i,
		); err != nil {
			return fmt.Errorf("inserting credential role %s: %w", role, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing credential: %w", err)
	}
	return nil
}

// GetByID returns the credential with the given ID.
func (s *SQLiteStore) GetByID(ctx context.Context, id string) (*Credential, error) {
	return s.getOne(ctx, `SELECT `+credentialColumns+` FROM mqtt_credentials WHERE id = ?`, id)
}

// GetByUsername returns the credential with the given broker username.
func (s *SQLiteStore) GetByUsername(ctx context.Context, username string) (*Credential, error) {
	return s.getOne(ctx, `SELECT `+credentialColumns+` FROM mqtt_credentials WHERE username = ?`, username)
}

func (s *SQLiteStore) getOne(ctx context.Context, query string, arg string) (*Credential, error) {
	cred, err := scanCredential(s.db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting credential: %w", err)
	}

	creds := []Credential{*cred}
	if err := s.attachRoles(ctx, creds); err != nil {
		return nil, err
	}
	return &creds[0], nil
}

// ListByUser returns userID's credentials, oldest first.
func (s *SQLiteStore) ListByUser(ctx context.Context, userID string, page Page) ([]Credential, error) {
	page = page.Normalise()
	return s.list(ctx,
		`SELECT `+credentialColumns+` FROM mqtt_credentials
		 WHERE user_id = ? ORDER BY created_at, id LIMIT ? OFFSET ?`,
		userID, page.Limit, page.Offset,
	)
}

// ListByRole returns every credential carrying role, oldest first.
func (s *SQLiteStore) ListByRole(ctx context.Context, role Role) ([]Credential, error) {
	return s.list(ctx,
		`SELECT c.id, c.user_id, c.username, c.password, c.description, c.created_at
		 FROM mqtt_credentials c
		 JOIN mqtt_credential_roles r ON r.credential_id = c.id
		 WHERE r.role = ? ORDER BY c.created_at, c.id`,
		string(role),
	)
}

// Delete removes the credential; its roles go with it.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM mqtt_credentials WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting credential: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking delete result: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Stream walks all credentials in (created_at, id) order, one batch at a time.
func (s *SQLiteStore) Stream(ctx context.Context, fn func(*Credential) error) error {
	var lastCreated, lastID string
	for {
		batch, err := s.list(ctx,
			`SELECT `+credentialColumns+` FROM mqtt_credentials
			 WHERE (created_at, id) > (?, ?)
			 ORDER BY created_at, id LIMIT ?`,
			lastCreated, lastID, streamBatchSize,
		)
		if err != nil {
			return err
		}

		for i := range batch {
			cred := batch[i]
			if err := fn(&cred); err != nil {
				return err
			}
		}

		if len(batch) < streamBatchSize {
			return nil
		}
		last := batch[len(batch)-1]
		lastCreated, lastID = last.CreatedAt.UTC().Format(time.RFC3339), last.ID
	}
}

func (s *SQLiteStore) list(ctx context.Context, query string, args ...any) ([]Credential, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing credentials: %w", err)
	}
	defer rows.Close()

	var creds []Credential
	for rows.Next() {
		cred, err := scanCredential(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning credential: %w", err)
		}
		creds = append(creds, *cred)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating credentials: %w", err)
	}
	// Release the connection before the roles query.
	rows.Close()

	if err := s.attachRoles(ctx, creds); err != nil {
		return nil, err
	}
	return creds, nil
}

// attachRoles fills Roles for every credential in creds.
func (s *SQLiteStore) attachRoles(ctx context.Context, creds []Credential) error {
	if len(creds) == 0 {
		return nil
	}

	index := make(map[string]int, len(creds))
	args := make([]any, len(creds))
	for i, c := range creds {
		index[c.ID] = i
		args[i] = c.ID
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(creds)), ",")

	rows, err := s.db.QueryContext(ctx,
		`SELECT credential_id, role FROM mqtt_credential_roles
		 WHERE credential_id IN (`+placeholders+`) ORDER BY credential_id, position`,
		args...,
	)
	if err != nil {
		return fmt.Errorf("loading credential roles: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id, role string
		if err := rows.Scan(&id, &role); err != nil {
			return fmt.Errorf("scanning credential role: %w", err)
		}
		i := index[id]
		creds[i].Roles = append(creds[i].Roles, Role(role))
	}
	return rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCredential(row rowScanner) (*Credential, error) {
	var c Credential
	var description sql.NullString
	var createdAt string

	if err := row.Scan(&c.ID, &c.UserID, &c.Username, &c.Password, &description, &createdAt); err != nil {
		return nil, err
	}
	if description.Valid {
		c.Description = description.String
	}
	c.CreatedAt, _ = time.Parse(time.RFC3339, createdAt) //nolint:errcheck // format is controlled
	return &c, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
