package driven

import (
	"context"
	"time"

	"github.com/cleeistaken/vcf-credential-manager/internal/domain/model"
)

// SyncStatusUpdate carries the environment status fields a sync run
// persists alongside its credential mutations. A nil error pointer leaves
// the stored per-source error untouched (the source was out of scope); a
// pointer to the empty string clears it.
type SyncStatusUpdate struct {
	Status         model.SyncStatus
	LastSync       time.Time
	InstallerError *string
	ManagerError   *string
}

// CredentialStore defines the driven port for stored credentials and
// their password history.
type CredentialStore interface {
	// ListByEnvironment returns all stored credentials for an
	// environment. source narrows to one source when non-empty.
	ListByEnvironment(ctx context.Context, envID int64, source model.Source) ([]model.StoredCredential, error)
	CountByEnvironment(ctx context.Context, envID int64) (int, error)
	// GetByID returns nil, nil when no credential has the given id.
	GetByID(ctx context.Context, id int64) (*model.StoredCredential, error)
	// HistoryByCredential returns history entries newest first.
	HistoryByCredential(ctx context.Context, credID int64) ([]model.PasswordHistoryEntry, error)

	// ApplySync applies a reconciliation plan and the sync status fields
	// in a single transaction. A failure rolls the whole batch back.
	ApplySync(ctx context.Context, envID int64, plan model.SyncPlan, status SyncStatusUpdate) error
	// RecordSyncFailure writes only the status fields, in its own
	// transaction. It is the fallback when ApplySync cannot commit.
	RecordSyncFailure(ctx context.Context, envID int64, status SyncStatusUpdate) error
}
