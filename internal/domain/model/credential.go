// Package model contains the domain entities shared across ports,
// adapters, and application services.
package model

import "time"

// CredentialRecord is a transient credential produced by a fetch from one
// of the remote sources. It has no identity of its own until reconciled
// against the store.
type CredentialRecord struct {
	Hostname       string
	Username       string
	Password       string
	CredentialType string
	AccountType    string
	ResourceType   string
	DomainName     string
	Source         Source
}

// Complete reports whether the record carries the three identity fields
// reconciliation requires. Incomplete records are skipped, never stored.
func (r CredentialRecord) Complete() bool {
	return r.Hostname != "" && r.Username != "" && r.CredentialType != ""
}

// Normalized returns a copy with the upstream defaulting rules applied:
// missing credential and account types default to USER.
func (r CredentialRecord) Normalized() CredentialRecord {
	if r.CredentialType == "" {
		r.CredentialType = "USER"
	}
	if r.AccountType == "" {
		r.AccountType = "USER"
	}
	return r
}

// StoredCredential is a persisted credential owned by one environment.
// Its reconciliation identity is (hostname, credential type, username,
// source); no two rows for the same environment may share that tuple.
type StoredCredential struct {
	ID             int64
	EnvironmentID  int64
	Hostname       string
	Username       string
	Password       string
	CredentialType string
	AccountType    string
	ResourceType   string
	DomainName     string
	Source         Source
	LastUpdated    time.Time
}

// PasswordHistoryEntry is an append-only record of a superseded password.
// Password holds the old value; ChangedAt is the previous LastUpdated of
// the owning credential.
type PasswordHistoryEntry struct {
	ID           int64
	CredentialID int64
	Password     string
	ChangedAt    time.Time
	ChangedBy    string
}

// SyncPlan is the set of store mutations one reconciliation produced.
// It is applied atomically: either the whole plan commits or none of it.
type SyncPlan struct {
	Inserts   []StoredCredential
	Updates   []StoredCredential
	History   []PasswordHistoryEntry
	DeleteIDs []int64
}

// SyncCounts summarizes a reconciliation for operator-facing logging.
type SyncCounts struct {
	New             int
	Updated         int
	Removed         int
	PasswordChanges int
}
