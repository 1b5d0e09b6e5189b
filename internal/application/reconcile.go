// Package application contains use-case orchestration services.
package application

import (
	"log/slog"
	"time"

	"github.com/cleeistaken/vcf-credential-manager/internal/domain/model"
)

// identityKey is the composite reconciliation identity of a credential
// within one environment.
type identityKey struct {
	hostname       string
	credentialType string
	username       string
	source         model.Source
}

func keyOfRecord(r model.CredentialRecord) identityKey {
	return identityKey{
		hostname:       r.Hostname,
		credentialType: r.CredentialType,
		username:       r.Username,
		source:         r.Source,
	}
}

func keyOfStored(c model.StoredCredential) identityKey {
	return identityKey{
		hostname:       c.Hostname,
		credentialType: c.CredentialType,
		username:       c.Username,
		source:         c.Source,
	}
}

// Reconcile diffs a freshly fetched credential batch against the stored
// snapshot for one environment and scope, producing the mutation plan and
// operator-facing counts.
//
// Records missing hostname, username, or credential type are skipped with
// a logged reason. Duplicate identity keys within the batch keep the first
// occurrence only. Matched records always get a LastUpdated refresh, but
// only those whose fields actually differ count toward Updated, so an
// unchanged second run reports zero counts. Stored records in scope but
// absent from the batch
// become deletions only when allowDeletes is set: the caller passes true
// for a successful single-source sync, and for a full sync only when the
// overall run status is success. Absence observed during a failed or
// partial run is never treated as removal.
func Reconcile(
	envID int64,
	scope model.SyncScope,
	fetched []model.CredentialRecord,
	stored []model.StoredCredential,
	allowDeletes bool,
	now time.Time,
) (model.SyncPlan, model.SyncCounts) {
	var plan model.SyncPlan
	var counts model.SyncCounts

	remaining := make(map[identityKey]model.StoredCredential, len(stored))
	for _, sc := range stored {
		if !scope.Includes(sc.Source) {
			continue
		}
		remaining[keyOfStored(sc)] = sc
	}

	seen := make(map[identityKey]bool, len(fetched))
	for _, rec := range fetched {
		rec = rec.Normalized()

		if !rec.Complete() {
			slog.Warn("skipping incomplete credential record",
				"environment_id", envID,
				"hostname", rec.Hostname,
				"username", rec.Username,
				"source", rec.Source,
			)
			continue
		}

		key := keyOfRecord(rec)
		if seen[key] {
			slog.Warn("duplicate identity key in fetched batch, keeping first occurrence",
				"environment_id", envID,
				"hostname", rec.Hostname,
				"username", rec.Username,
				"credential_type", rec.CredentialType,
				"source", rec.Source,
			)
			continue
		}
		seen[key] = true

		if existing, ok := remaining[key]; ok {
			changed := existing.Password != rec.Password ||
				existing.AccountType != rec.AccountType ||
				existing.ResourceType != rec.ResourceType ||
				existing.DomainName != rec.DomainName

			if existing.Password != rec.Password && existing.Password != "" {
				changedAt := existing.LastUpdated
				if changedAt.IsZero() {
					changedAt = now
				}
				plan.History = append(plan.History, model.PasswordHistoryEntry{
					CredentialID: existing.ID,
					Password:     existing.Password,
					ChangedAt:    changedAt,
					ChangedBy:    model.ChangedBySync,
				})
				counts.PasswordChanges++
			}

			existing.Password = rec.Password
			existing.AccountType = rec.AccountType
			existing.ResourceType = rec.ResourceType
			existing.DomainName = rec.DomainName
			existing.Source = rec.Source
			existing.LastUpdated = now
			plan.Updates = append(plan.Updates, existing)
			if changed {
				counts.Updated++
			}

			delete(remaining, key)
			continue
		}

		plan.Inserts = append(plan.Inserts, model.StoredCredential{
			EnvironmentID:  envID,
			Hostname:       rec.Hostname,
			Username:       rec.Username,
			Password:       rec.Password,
			CredentialType: rec.CredentialType,
			AccountType:    rec.AccountType,
			ResourceType:   rec.ResourceType,
			DomainName:     rec.DomainName,
			Source:         rec.Source,
			LastUpdated:    now,
		})
		counts.New++
	}

	if allowDeletes {
		for key, sc := range remaining {
			plan.DeleteIDs = append(plan.DeleteIDs, sc.ID)
			counts.Removed++
			slog.Info("credential no longer reported by source, removing",
				"environment_id", envID,
				"hostname", key.hostname,
				"username", key.username,
				"source", key.source,
			)
		}
	} else if len(remaining) > 0 {
		slog.Info("deletions suppressed for this run",
			"environment_id", envID,
			"scope", scope,
			"candidates", len(remaining),
		)
	}

	return plan, counts
}
