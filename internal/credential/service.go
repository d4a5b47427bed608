package credential

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/nerrad567/mqtt-access/internal/broker"
)

const (
	usernamePrefix    = "mqtt_"
	usernameSuffixLen = 5
	usernameAlphabet  = "0123456789abcdefghijklmnopqrstuvwxyz"
	passwordBytes     = 32

	// usernameAttempts bounds retries when a generated username is taken.
	usernameAttempts = 5

	// Defaults for SyncAll.
	DefaultSyncConcurrency = 4
)

// ServiceConfig tunes the Service.
type ServiceConfig struct {
	// SyncConcurrency bounds in-flight syncs during SyncAll.
	SyncConcurrency int
	// SyncRatePerSecond paces SyncAll. Zero or negative means unlimited.
	SyncRatePerSecond float64
}

// Service manages the credential lifecycle.
type Service struct {
	store       Store
	reconciler  *Reconciler
	logger      Logger
	auditor     Auditor
	concurrency int
	limiter     *rate.Limiter
}

// NewService creates a Service storing credentials in store and syncing
// them through admin.
func NewService(store Store, admin broker.AdminPort, cfg ServiceConfig) *Service {
	concurrency := cfg.SyncConcurrency
	if concurrency <= 0 {
		concurrency = DefaultSyncConcurrency
	}
	limit := rate.Inf
	if cfg.SyncRatePerSecond > 0 {
		limit = rate.Limit(cfg.SyncRatePerSecond)
	}

	return &Service{
		store:       store,
		reconciler:  NewReconciler(admin),
		logger:      noopLogger{},
		auditor:     noopAuditor{},
		concurrency: concurrency,
		limiter:     rate.NewLimiter(limit, 1),
	}
}

// SetLogger sets the logger for the service and its reconciler.
func (s *Service) SetLogger(logger Logger) {
	s.logger = logger
	s.reconciler.SetLogger(logger)
}

// SetAuditor sets where lifecycle events are recorded.
func (s *Service) SetAuditor(auditor Auditor) {
	s.auditor = auditor
}

func (s *Service) audit(ctx context.Context, ev Event) {
	if err := s.auditor.Record(ctx, ev); err != nil {
		s.logger.Warn("recording audit event failed",
			"action", ev.Action,
			"credential_id", ev.CredentialID,
			"error", err,
		)
	}
}

// Create issues a credential for userID with the given roles.
//
// The broker is synced before anything is stored: if the sync fails the
// error is returned and no record exists.
func (s *Service) Create(ctx context.Context, userID, description string, roles []Role) (*Credential, error) {
	if err := ValidateUserID(userID); err != nil {
		return nil, err
	}
	roles, err := NormaliseRoles(roles)
	if err != nil {
		return nil, err
	}

	username, err := s.freshUsername(ctx, userID)
	if err != nil {
		return nil, err
	}
	password, err := GeneratePassword()
	if err != nil {
		return nil, err
	}

	cred := &Credential{
		ID:          "mqc-" + uuid.NewString()[:8],
		UserID:      userID,
		Username:    username,
		Password:    password,
		Description: description,
		Roles:       roles,
		CreatedAt:   time.Now().UTC().Truncate(time.Second),
	}

	if _, err := s.reconciler.Sync(ctx, cred); err != nil {
		return nil, fmt.Errorf("syncing new credential: %w", err)
	}

	if err := s.store.Save(ctx, cred); err != nil {
		s.logger.Error("credential provisioned at broker but not saved",
			"username", cred.Username,
			"user_id", userID,
			"error", err,
		)
		return nil, fmt.Errorf("saving credential: %w", err)
	}

	s.logger.Info("credential created",
		"credential_id", cred.ID,
		"user_id", userID,
		"username", cred.Username,
		"roles", roles,
	)
	s.audit(ctx, eventFor(ActionCreate, cred, map[string]any{
		"roles":       roles,
		"description": description,
	}))
	return cred, nil
}

// Get returns the credential id if it belongs to userID.
func (s *Service) Get(ctx context.Context, id, userID string) (*Credential, error) {
	cred, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if cred.UserID != userID {
		return nil, ErrNotOwned
	}
	return cred, nil
}

// ListByUser returns a page of userID's credentials.
func (s *Service) ListByUser(ctx context.Context, userID string, page Page) ([]Credential, error) {
	return s.store.ListByUser(ctx, userID, page.Normalise())
}

// Delete removes the credential id owned by userID.
//
// The broker principal is removed first. If that fails the local record is
// kept and the error returned, so local and broker state never diverge.
func (s *Service) Delete(ctx context.Context, id, userID string) error {
	cred, err := s.Get(ctx, id, userID)
	if err != nil {
		return err
	}

	if err := s.reconciler.Deprovision(ctx, cred); err != nil {
		return fmt.Errorf("deprovisioning credential %s: %w", id, err)
	}

	if err := s.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("deleting credential %s: %w", id, err)
	}

	s.logger.Info("credential deleted", "credential_id", id, "username", cred.Username)
	s.audit(ctx, eventFor(ActionDelete, cred, nil))
	return nil
}

// Sync converges a single stored credential.
func (s *Service) Sync(ctx context.Context, id string) (SyncResult, error) {
	cred, err := s.store.GetByID(ctx, id)
	if err != nil {
		return SyncResult{}, err
	}
	result, err := s.reconciler.Sync(ctx, cred)
	if result.Changed() || err != nil {
		s.audit(ctx, eventFor(ActionSync, cred, syncDetails(result, err)))
	}
	return result, err
}

// SyncFailure pins a sync error to its credential.
type SyncFailure struct {
	CredentialID string
	Username     string
	Err          error
}

// SyncReport summarises a SyncAll run.
type SyncReport struct {
	Total     int
	Created   int
	Updated   int
	Unchanged int
	Failures  []SyncFailure
	Duration  time.Duration

	mu sync.Mutex
}

func (r *SyncReport) record(cred *Credential, result SyncResult, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.Total++
	switch {
	case err != nil:
		r.Failures = append(r.Failures, SyncFailure{CredentialID: cred.ID, Username: cred.Username, Err: err})
	case result.PrincipalCreated:
		r.Created++
	case result.RulesReplaced:
		r.Updated++
	default:
		r.Unchanged++
	}
}

// Failed returns the number of credentials that could not be synced.
func (r *SyncReport) Failed() int {
	return len(r.Failures)
}

// Err joins the per-credential errors, or returns nil when all succeeded.
func (r *SyncReport) Err() error {
	errs := make([]error, len(r.Failures))
	for i, f := range r.Failures {
		errs[i] = fmt.Errorf("credential %s: %w", f.CredentialID, f.Err)
	}
	return errors.Join(errs...)
}

// SyncAll syncs every stored credential.
//
// A failing credential is logged and recorded in the report; the rest are
// still attempted. The returned error is reserved for a store failure or
// ctx ending, in which case the partial report is returned too.
func (s *Service) SyncAll(ctx context.Context) (*SyncReport, error) {
	start := time.Now()
	report := &SyncReport{}

	var g errgroup.Group
	g.SetLimit(s.concurrency)

	streamErr := s.store.Stream(ctx, func(cred *Credential) error {
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}
		g.Go(func() error {
			result, err := s.reconciler.Sync(ctx, cred)
			if err != nil {
				s.logger.Warn("credential sync failed",
					"credential_id", cred.ID,
					"username", cred.Username,
					"error", err,
				)
			}
			if result.Changed() || err != nil {
				s.audit(ctx, eventFor(ActionSync, cred, syncDetails(result, err)))
			}
			report.record(cred, result, err)
			return nil
		})
		return nil
	})
	_ = g.Wait() //nolint:errcheck // workers record failures instead of returning them

	report.Duration = time.Since(start)

	if streamErr != nil {
		return report, fmt.Errorf("streaming credentials: %w", streamErr)
	}

	s.logger.Info("credential sync complete",
		"total", report.Total,
		"created", report.Created,
		"updated", report.Updated,
		"unchanged", report.Unchanged,
		"failed", report.Failed(),
		"duration", report.Duration,
	)
	return report, nil
}

// RunPeriodicSync calls SyncAll every interval until ctx is done.
// A non-positive interval disables the loop.
func (s *Service) RunPeriodicSync(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		s.logger.Info("periodic credential sync disabled")
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.SyncAll(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("periodic credential sync failed", "error", err)
			}
		}
	}
}

// GlobalWriteCredential returns the credential carrying
// GLOBAL_DEVICE_DATA_WRITE. With several, the oldest wins.
func (s *Service) GlobalWriteCredential(ctx context.Context) (*Credential, error) {
	creds, err := s.store.ListByRole(ctx, RoleGlobalDeviceDataWrite)
	if err != nil {
		return nil, fmt.Errorf("listing global write credentials: %w", err)
	}
	if len(creds) == 0 {
		return nil, ErrGlobalWriterMissing
	}
	if len(creds) > 1 {
		s.logger.Warn("multiple global write credentials, using the oldest",
			"count", len(creds),
			"credential_id", creds[0].ID,
		)
	}
	return &creds[0], nil
}

// EnsureGlobalWriteCredential returns the global write credential, creating
// one for userID when none exists. The bool reports whether it was created.
func (s *Service) EnsureGlobalWriteCredential(ctx context.Context, userID string) (*Credential, bool, error) {
	cred, err := s.GlobalWriteCredential(ctx)
	if err == nil {
		return cred, false, nil
	}
	if !errors.Is(err, ErrGlobalWriterMissing) {
		return nil, false, err
	}

	cred, err = s.Create(ctx, userID, "global device data writer", []Role{RoleGlobalDeviceDataWrite})
	if err != nil {
		return nil, false, fmt.Errorf("creating global write credential: %w", err)
	}
	return cred, true, nil
}

// freshUsername generates a username not yet used by a stored credential.
func (s *Service) freshUsername(ctx context.Context, userID string) (string, error) {
	for range usernameAttempts {
		username, err := GenerateUsername(userID)
		if err != nil {
			return "", err
		}
		_, err = s.store.GetByUsername(ctx, username)
		if errors.Is(err, ErrNotFound) {
			return username, nil
		}
		if err != nil {
			return "", fmt.Errorf("checking username: %w", err)
		}
	}
	return "", fmt.Errorf("no free username for user %s after %d attempts", userID, usernameAttempts)
}

// GenerateUsername returns "mqtt_<userID>_" followed by five random
// characters from [0-9a-z].
func GenerateUsername(userID string) (string, error) {
	suffix := make([]byte, usernameSuffixLen)
	buf := make([]byte, 1)
	for i := 0; i < len(suffix); {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("generating username: %w", err)
		}
		// Reject the tail of the byte range so every character is equally likely.
		if int(buf[0]) >= 256-256%len(usernameAlphabet) {
			continue
		}
		suffix[i] = usernameAlphabet[int(buf[0])%len(usernameAlphabet)]
		i++
	}
	return usernamePrefix + userID + "_" + string(suffix), nil
}

// GeneratePassword returns 256 random bits, hex encoded.
func GeneratePassword() (string, error) {
	b := make([]byte, passwordBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating password: %w", err)
	}
	return hex.EncodeToString(b), nil
}
