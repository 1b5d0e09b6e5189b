package model

// Source identifies which remote API a credential was fetched from.
type Source string

const (
	SourceInstaller Source = "VCF_INSTALLER"
	SourceManager   Source = "SDDC_MANAGER"
)

// SyncStatus is the aggregate outcome of the most recent sync run for an
// environment.
type SyncStatus string

const (
	SyncStatusNever   SyncStatus = "never"
	SyncStatusSuccess SyncStatus = "success"
	SyncStatusPartial SyncStatus = "partial"
	SyncStatusFailed  SyncStatus = "failed"
)

// SyncScope selects which sources a sync run covers.
type SyncScope string

const (
	ScopeAll       SyncScope = "all"
	ScopeInstaller SyncScope = "installer"
	ScopeManager   SyncScope = "manager"
)

// Includes reports whether a source falls inside the scope.
func (s SyncScope) Includes(src Source) bool {
	switch s {
	case ScopeAll:
		return true
	case ScopeInstaller:
		return src == SourceInstaller
	case ScopeManager:
		return src == SourceManager
	}
	return false
}

// SingleSource returns the one source a narrowed scope names, or false for
// the full-sync scope.
func (s SyncScope) SingleSource() (Source, bool) {
	switch s {
	case ScopeInstaller:
		return SourceInstaller, true
	case ScopeManager:
		return SourceManager, true
	}
	return "", false
}

// ParseSyncScope maps the wire form of a scope filter ("", "all",
// "installer", "manager") to a SyncScope.
func ParseSyncScope(v string) (SyncScope, bool) {
	switch v {
	case "", "all":
		return ScopeAll, true
	case "installer":
		return ScopeInstaller, true
	case "manager":
		return ScopeManager, true
	}
	return "", false
}

// ChangedBySync marks password history rows written by automatic
// reconciliation.
const ChangedBySync = "SYNC"
