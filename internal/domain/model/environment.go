package model

import "time"

// SourceConfig is the connection and scheduling configuration for one
// remote source of an environment.
type SourceConfig struct {
	Host                string
	Username            string
	Password            string
	SSLVerify           bool
	SyncEnabled         bool
	SyncIntervalMinutes int
}

// Configured reports whether the source has a host to talk to.
func (c SourceConfig) Configured() bool {
	return c.Host != ""
}

// Environment is the aggregate root: one managed VCF deployment with up to
// two credential sources and the status of its most recent sync.
type Environment struct {
	ID          int64
	Name        string
	Description string

	Installer SourceConfig
	Manager   SourceConfig

	// LastSync is the start time of the most recent sync run regardless
	// of its outcome. Zero means the environment has never been synced.
	LastSync       time.Time
	LastSyncStatus SyncStatus

	// Per-source error strings from the last run that had the source in
	// scope. Empty on success; stale values are retained for sources an
	// ensuing narrowed sync did not cover.
	InstallerError string
	ManagerError   string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Source returns the configuration for the named source.
func (e Environment) Source(src Source) SourceConfig {
	if src == SourceInstaller {
		return e.Installer
	}
	return e.Manager
}
