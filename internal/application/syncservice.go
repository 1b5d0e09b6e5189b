package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/cleeistaken/vcf-credential-manager/internal/domain/model"
	"github.com/cleeistaken/vcf-credential-manager/internal/domain/port/driven"
)

// ErrEnvironmentNotFound is returned by RunSync for an unknown
// environment id.
var ErrEnvironmentNotFound = errors.New("environment not found")

// SyncOutcome is the result of one sync run, returned to manual callers
// and logged for scheduled ones.
type SyncOutcome struct {
	RunID          string
	Status         model.SyncStatus
	InstallerError string
	ManagerError   string
	Counts         model.SyncCounts
}

// SyncService coordinates one sync run per call: it fetches each in-scope
// configured source independently, derives the overall status from the
// per-source outcomes, reconciles whatever was fetched against the store,
// and commits the result atomically. Inserts and updates are applied even
// when a source failed; deletions follow the conservative rule enforced
// by Reconcile.
type SyncService struct {
	client    driven.VCFClient
	envStore  driven.EnvironmentStore
	credStore driven.CredentialStore

	// now is swappable for tests.
	now func() time.Time
}

// NewSyncService creates a SyncService with all required dependencies.
func NewSyncService(client driven.VCFClient, envStore driven.EnvironmentStore, credStore driven.CredentialStore) *SyncService {
	return &SyncService{
		client:    client,
		envStore:  envStore,
		credStore: credStore,
		now:       time.Now,
	}
}

// sourceResult is the outcome of fetching one source.
type sourceResult struct {
	attempted bool
	ok        bool
	errMsg    string
	records   []model.CredentialRecord
}

// RunSync executes one sync for the environment, covering the sources the
// scope selects. It returns an error only for invocation-level problems
// (unknown environment, store failure that also defeated the fallback
// status write); remote failures are folded into the outcome.
func (s *SyncService) RunSync(ctx context.Context, envID int64, scope model.SyncScope) (SyncOutcome, error) {
	start := s.now()
	runID := uuid.NewString()
	logger := slog.With("run_id", runID, "environment_id", envID, "scope", scope)

	env, err := s.envStore.GetByID(ctx, envID)
	if err != nil {
		return SyncOutcome{}, fmt.Errorf("load environment %d: %w", envID, err)
	}
	if env == nil {
		return SyncOutcome{}, ErrEnvironmentNotFound
	}

	logger.Info("sync run starting", "environment", env.Name)

	installer := s.fetchSource(ctx, logger, env.Installer, model.SourceInstaller, scope)
	manager := s.fetchSource(ctx, logger, env.Manager, model.SourceManager, scope)

	status := deriveStatus(scope, installer, manager)
	allowDeletes := deletesAllowed(scope, status, installer, manager)

	fetched := append(installer.records, manager.records...)

	stored, err := s.loadSnapshot(ctx, envID, scope)
	if err != nil {
		return s.failRun(ctx, logger, envID, scope, installer, manager, start,
			fmt.Errorf("load stored credentials: %w", err))
	}

	now := s.now()
	plan, counts := Reconcile(envID, scope, fetched, stored, allowDeletes, now)

	update := driven.SyncStatusUpdate{
		Status:         status,
		LastSync:       start,
		InstallerError: errField(installer),
		ManagerError:   errField(manager),
	}

	if err := s.credStore.ApplySync(ctx, envID, plan, update); err != nil {
		return s.failRun(ctx, logger, envID, scope, installer, manager, start,
			fmt.Errorf("commit sync result: %w", err))
	}

	elapsed := s.now().Sub(start)
	observeSyncRun(scope, status, counts, elapsed)

	logger.Info("sync run complete",
		"status", status,
		"new", counts.New,
		"updated", counts.Updated,
		"removed", counts.Removed,
		"password_changes", counts.PasswordChanges,
		"duration", elapsed.Round(time.Millisecond),
	)

	return SyncOutcome{
		RunID:          runID,
		Status:         status,
		InstallerError: installer.errMsg,
		ManagerError:   manager.errMsg,
		Counts:         counts,
	}, nil
}

// TestConnection verifies that a source configuration can authenticate.
// It returns a friendly message either way.
func (s *SyncService) TestConnection(ctx context.Context, host, username, password string, verifyTLS bool) (bool, string) {
	if host == "" || username == "" {
		return false, "host and username are required"
	}
	if _, err := s.client.Authenticate(ctx, host, username, password, verifyTLS); err != nil {
		return false, operatorMessage(err)
	}
	return true, "Connection successful"
}

// fetchSource attempts authenticate+fetch for one source when it is both
// in scope and configured. A failure here never prevents the other
// source's fetch.
func (s *SyncService) fetchSource(ctx context.Context, logger *slog.Logger, cfg model.SourceConfig, src model.Source, scope model.SyncScope) sourceResult {
	if !scope.Includes(src) {
		return sourceResult{}
	}
	if !cfg.Configured() {
		// A narrowed sync explicitly naming an unconfigured source is an
		// operator mistake worth surfacing; a full sync just skips it.
		if _, single := scope.SingleSource(); single {
			return sourceResult{attempted: true, errMsg: "source is not configured"}
		}
		return sourceResult{}
	}

	token, err := s.client.Authenticate(ctx, cfg.Host, cfg.Username, cfg.Password, cfg.SSLVerify)
	if err != nil {
		logger.Error("authentication failed", "source", src, "host", cfg.Host, "error", err)
		return sourceResult{attempted: true, errMsg: operatorMessage(err)}
	}

	var records []model.CredentialRecord
	if src == model.SourceInstaller {
		records, err = s.client.FetchInstallerCredentials(ctx, cfg.Host, token, cfg.SSLVerify)
	} else {
		records, err = s.client.FetchManagerCredentials(ctx, cfg.Host, token, cfg.SSLVerify)
	}
	if err != nil {
		logger.Error("credential fetch failed", "source", src, "host", cfg.Host, "error", err)
		return sourceResult{attempted: true, errMsg: operatorMessage(err)}
	}

	logger.Info("source fetched", "source", src, "host", cfg.Host, "records", len(records))
	return sourceResult{attempted: true, ok: true, records: records}
}

// deriveStatus computes the overall run status from the per-source
// results.
func deriveStatus(scope model.SyncScope, installer, manager sourceResult) model.SyncStatus {
	if src, single := scope.SingleSource(); single {
		res := installer
		if src == model.SourceManager {
			res = manager
		}
		if res.ok {
			return model.SyncStatusSuccess
		}
		return model.SyncStatusFailed
	}

	switch {
	case installer.attempted && manager.attempted:
		switch {
		case installer.ok && manager.ok:
			return model.SyncStatusSuccess
		case installer.ok || manager.ok:
			return model.SyncStatusPartial
		default:
			return model.SyncStatusFailed
		}
	case installer.attempted:
		if installer.ok {
			return model.SyncStatusSuccess
		}
		return model.SyncStatusFailed
	case manager.attempted:
		if manager.ok {
			return model.SyncStatusSuccess
		}
		return model.SyncStatusFailed
	}
	return model.SyncStatusFailed
}

// deletesAllowed implements the asymmetric deletion safety rule: a
// successful single-source sync may always delete within its source; a
// full sync may delete only when the whole run succeeded.
func deletesAllowed(scope model.SyncScope, status model.SyncStatus, installer, manager sourceResult) bool {
	if src, single := scope.SingleSource(); single {
		if src == model.SourceInstaller {
			return installer.ok
		}
		return manager.ok
	}
	return status == model.SyncStatusSuccess
}

// errField produces the persisted error pointer for a source: nil when
// the source was out of scope this run (stored value stays untouched),
// empty when it succeeded, the message when it failed.
func errField(res sourceResult) *string {
	if !res.attempted {
		return nil
	}
	msg := res.errMsg
	return &msg
}

func (s *SyncService) loadSnapshot(ctx context.Context, envID int64, scope model.SyncScope) ([]model.StoredCredential, error) {
	if src, single := scope.SingleSource(); single {
		return s.credStore.ListByEnvironment(ctx, envID, src)
	}
	return s.credStore.ListByEnvironment(ctx, envID, "")
}

// failRun records a failed status in an isolated transaction after the
// main path broke. If even that write fails the failure is only visible
// in logs; status merely lags reality until the next successful run.
func (s *SyncService) failRun(
	ctx context.Context,
	logger *slog.Logger,
	envID int64,
	scope model.SyncScope,
	installer, manager sourceResult,
	start time.Time,
	cause error,
) (SyncOutcome, error) {
	logger.Error("sync run failed", "error", cause)

	update := driven.SyncStatusUpdate{
		Status:         model.SyncStatusFailed,
		LastSync:       start,
		InstallerError: errField(installer),
		ManagerError:   errField(manager),
	}
	if err := s.credStore.RecordSyncFailure(ctx, envID, update); err != nil {
		logger.Error("fallback status write failed", "error", err)
	}

	observeSyncRun(scope, model.SyncStatusFailed, model.SyncCounts{}, s.now().Sub(start))
	return SyncOutcome{}, cause
}

// operatorMessage extracts the short operator-facing message from a
// client error, falling back to a generic string so raw error chains
// never reach the environment error fields.
func operatorMessage(err error) string {
	var om driven.OperatorMessage
	if errors.As(err, &om) {
		return om.OperatorMessage()
	}
	if errors.Is(err, context.Canceled) {
		return "Sync canceled"
	}
	return "Unexpected error during sync"
}
