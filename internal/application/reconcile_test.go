package application_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleeistaken/vcf-credential-manager/internal/application"
	"github.com/cleeistaken/vcf-credential-manager/internal/domain/model"
)

var reconcileNow = time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)

func fetchedRecord(hostname, username, password string, src model.Source) model.CredentialRecord {
	return model.CredentialRecord{
		Hostname:       hostname,
		Username:       username,
		Password:       password,
		CredentialType: "SSH",
		AccountType:    "USER",
		Source:         src,
	}
}

func storedRecord(id int64, hostname, username, password string, src model.Source, lastUpdated time.Time) model.StoredCredential {
	return model.StoredCredential{
		ID:             id,
		EnvironmentID:  1,
		Hostname:       hostname,
		Username:       username,
		Password:       password,
		CredentialType: "SSH",
		AccountType:    "USER",
		Source:         src,
		LastUpdated:    lastUpdated,
	}
}

func TestReconcile_FirstSyncInsertsEverything(t *testing.T) {
	fetched := []model.CredentialRecord{
		fetchedRecord("h1", "root", "p1", model.SourceInstaller),
		fetchedRecord("h2", "root", "p2", model.SourceManager),
	}

	plan, counts := application.Reconcile(1, model.ScopeAll, fetched, nil, true, reconcileNow)

	assert.Equal(t, model.SyncCounts{New: 2}, counts)
	require.Len(t, plan.Inserts, 2)
	assert.Empty(t, plan.Updates)
	assert.Empty(t, plan.History)
	assert.Empty(t, plan.DeleteIDs)

	assert.Equal(t, int64(1), plan.Inserts[0].EnvironmentID)
	assert.Equal(t, reconcileNow, plan.Inserts[0].LastUpdated)
}

func TestReconcile_UnchangedRecordRefreshesWithoutCounting(t *testing.T) {
	fetched := []model.CredentialRecord{fetchedRecord("h1", "root", "p1", model.SourceInstaller)}
	stored := []model.StoredCredential{
		storedRecord(10, "h1", "root", "p1", model.SourceInstaller, reconcileNow.Add(-time.Hour)),
	}

	plan, counts := application.Reconcile(1, model.ScopeAll, fetched, stored, true, reconcileNow)

	// The row still gets its last-sync refresh, but nothing changed so
	// the operator counts stay at zero.
	assert.Equal(t, model.SyncCounts{}, counts)
	require.Len(t, plan.Updates, 1)
	assert.Equal(t, int64(10), plan.Updates[0].ID)
	assert.Equal(t, reconcileNow, plan.Updates[0].LastUpdated)
	assert.Empty(t, plan.History)
}

func TestReconcile_MetadataChangeCountsAsUpdated(t *testing.T) {
	fetched := []model.CredentialRecord{fetchedRecord("h1", "root", "p1", model.SourceInstaller)}
	fetched[0].DomainName = "vsphere.local"
	stored := []model.StoredCredential{
		storedRecord(10, "h1", "root", "p1", model.SourceInstaller, reconcileNow.Add(-time.Hour)),
	}

	plan, counts := application.Reconcile(1, model.ScopeAll, fetched, stored, true, reconcileNow)

	assert.Equal(t, model.SyncCounts{Updated: 1}, counts)
	require.Len(t, plan.Updates, 1)
	assert.Equal(t, "vsphere.local", plan.Updates[0].DomainName)
	assert.Empty(t, plan.History)
}

func TestReconcile_PasswordChangeWritesHistory(t *testing.T) {
	prev := reconcileNow.Add(-24 * time.Hour)
	fetched := []model.CredentialRecord{fetchedRecord("h1", "root", "p2", model.SourceInstaller)}
	stored := []model.StoredCredential{
		storedRecord(10, "h1", "root", "p1", model.SourceInstaller, prev),
	}

	plan, counts := application.Reconcile(1, model.ScopeAll, fetched, stored, true, reconcileNow)

	assert.Equal(t, model.SyncCounts{Updated: 1, PasswordChanges: 1}, counts)
	require.Len(t, plan.History, 1)

	// History holds the superseded value, timestamped with the old
	// record's last update.
	entry := plan.History[0]
	assert.Equal(t, int64(10), entry.CredentialID)
	assert.Equal(t, "p1", entry.Password)
	assert.Equal(t, prev, entry.ChangedAt)
	assert.Equal(t, model.ChangedBySync, entry.ChangedBy)

	require.Len(t, plan.Updates, 1)
	assert.Equal(t, "p2", plan.Updates[0].Password)
}

func TestReconcile_EmptyOldPasswordSkipsHistory(t *testing.T) {
	fetched := []model.CredentialRecord{fetchedRecord("h1", "root", "p2", model.SourceInstaller)}
	stored := []model.StoredCredential{
		storedRecord(10, "h1", "root", "", model.SourceInstaller, reconcileNow.Add(-time.Hour)),
	}

	plan, counts := application.Reconcile(1, model.ScopeAll, fetched, stored, true, reconcileNow)

	assert.Equal(t, model.SyncCounts{Updated: 1}, counts)
	assert.Empty(t, plan.History)
}

func TestReconcile_ZeroLastUpdatedFallsBackToNow(t *testing.T) {
	fetched := []model.CredentialRecord{fetchedRecord("h1", "root", "p2", model.SourceInstaller)}
	stored := []model.StoredCredential{
		storedRecord(10, "h1", "root", "p1", model.SourceInstaller, time.Time{}),
	}

	plan, _ := application.Reconcile(1, model.ScopeAll, fetched, stored, true, reconcileNow)

	require.Len(t, plan.History, 1)
	assert.Equal(t, reconcileNow, plan.History[0].ChangedAt)
}

func TestReconcile_DuplicateKeyKeepsFirst(t *testing.T) {
	fetched := []model.CredentialRecord{
		fetchedRecord("h1", "root", "first", model.SourceInstaller),
		fetchedRecord("h1", "root", "second", model.SourceInstaller),
	}

	plan, counts := application.Reconcile(1, model.ScopeAll, fetched, nil, true, reconcileNow)

	assert.Equal(t, model.SyncCounts{New: 1}, counts)
	require.Len(t, plan.Inserts, 1)
	assert.Equal(t, "first", plan.Inserts[0].Password)
}

func TestReconcile_SameIdentityDifferentSourcesCoexist(t *testing.T) {
	fetched := []model.CredentialRecord{
		fetchedRecord("h1", "root", "p1", model.SourceInstaller),
		fetchedRecord("h1", "root", "p2", model.SourceManager),
	}

	_, counts := application.Reconcile(1, model.ScopeAll, fetched, nil, true, reconcileNow)
	assert.Equal(t, model.SyncCounts{New: 2}, counts)
}

func TestReconcile_IncompleteRecordsSkipped(t *testing.T) {
	fetched := []model.CredentialRecord{
		{Hostname: "", Username: "root", CredentialType: "SSH", Source: model.SourceInstaller},
		{Hostname: "h1", Username: "", CredentialType: "SSH", Source: model.SourceInstaller},
		fetchedRecord("h2", "root", "p", model.SourceInstaller),
	}

	plan, counts := application.Reconcile(1, model.ScopeAll, fetched, nil, true, reconcileNow)

	assert.Equal(t, model.SyncCounts{New: 1}, counts)
	require.Len(t, plan.Inserts, 1)
	assert.Equal(t, "h2", plan.Inserts[0].Hostname)
}

func TestReconcile_MissingTypesDefaultToUser(t *testing.T) {
	fetched := []model.CredentialRecord{
		{Hostname: "h1", Username: "root", Password: "p", Source: model.SourceManager},
	}

	plan, counts := application.Reconcile(1, model.ScopeAll, fetched, nil, true, reconcileNow)

	assert.Equal(t, model.SyncCounts{New: 1}, counts)
	assert.Equal(t, "USER", plan.Inserts[0].CredentialType)
	assert.Equal(t, "USER", plan.Inserts[0].AccountType)
}

func TestReconcile_Deletions(t *testing.T) {
	stored := []model.StoredCredential{
		storedRecord(10, "gone", "root", "p", model.SourceInstaller, reconcileNow.Add(-time.Hour)),
	}

	t.Run("allowed", func(t *testing.T) {
		plan, counts := application.Reconcile(1, model.ScopeAll, nil, stored, true, reconcileNow)
		assert.Equal(t, model.SyncCounts{Removed: 1}, counts)
		assert.Equal(t, []int64{10}, plan.DeleteIDs)
	})

	t.Run("suppressed", func(t *testing.T) {
		plan, counts := application.Reconcile(1, model.ScopeAll, nil, stored, false, reconcileNow)
		assert.Equal(t, model.SyncCounts{}, counts)
		assert.Empty(t, plan.DeleteIDs)
	})
}

func TestReconcile_ScopeExcludesOtherSource(t *testing.T) {
	stored := []model.StoredCredential{
		storedRecord(10, "h1", "root", "p", model.SourceInstaller, reconcileNow.Add(-time.Hour)),
		storedRecord(11, "h2", "root", "p", model.SourceManager, reconcileNow.Add(-time.Hour)),
	}

	// An installer-only sync with nothing fetched must never touch
	// manager-sourced rows.
	plan, counts := application.Reconcile(1, model.ScopeInstaller, nil, stored, true, reconcileNow)

	assert.Equal(t, model.SyncCounts{Removed: 1}, counts)
	assert.Equal(t, []int64{10}, plan.DeleteIDs)
}

func TestReconcile_Idempotent(t *testing.T) {
	fetched := []model.CredentialRecord{fetchedRecord("h1", "root", "p1", model.SourceInstaller)}

	plan, _ := application.Reconcile(1, model.ScopeAll, fetched, nil, true, reconcileNow)
	require.Len(t, plan.Inserts, 1)

	// Feed the insert back as the stored snapshot: the second pass only
	// refreshes and reports zero counts across the board.
	stored := plan.Inserts
	stored[0].ID = 10

	plan2, counts2 := application.Reconcile(1, model.ScopeAll, fetched, stored, true, reconcileNow)
	assert.Equal(t, model.SyncCounts{}, counts2)
	assert.Empty(t, plan2.History)
	assert.Empty(t, plan2.DeleteIDs)
	assert.Empty(t, plan2.Inserts)
}
