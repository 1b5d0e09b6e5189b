package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/cleeistaken/vcf-credential-manager/internal/domain/model"
	"github.com/cleeistaken/vcf-credential-manager/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.EnvironmentStore = (*EnvironmentRepo)(nil)

// EnvironmentRepo is the SQLite implementation of the EnvironmentStore
// port interface.
type EnvironmentRepo struct {
	db *DB
}

// NewEnvironmentRepo creates a new EnvironmentRepo backed by the given DB.
func NewEnvironmentRepo(db *DB) *EnvironmentRepo {
	return &EnvironmentRepo{db: db}
}

const environmentColumns = `
	id, name, description,
	installer_host, installer_username, installer_password,
	installer_ssl_verify, installer_sync_enabled, installer_sync_interval_minutes,
	manager_host, manager_username, manager_password,
	manager_ssl_verify, manager_sync_enabled, manager_sync_interval_minutes,
	last_sync, last_sync_status, installer_error, manager_error,
	created_at, updated_at
`

// Create persists a new environment and sets env.ID.
func (r *EnvironmentRepo) Create(ctx context.Context, env *model.Environment) error {
	const query = `
		INSERT INTO environments (
			name, description,
			installer_host, installer_username, installer_password,
			installer_ssl_verify, installer_sync_enabled, installer_sync_interval_minutes,
			manager_host, manager_username, manager_password,
			manager_ssl_verify, manager_sync_enabled, manager_sync_interval_minutes,
			last_sync_status
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	res, err := r.db.Writer.ExecContext(ctx, query,
		env.Name, env.Description,
		env.Installer.Host, env.Installer.Username, env.Installer.Password,
		boolToInt(env.Installer.SSLVerify), boolToInt(env.Installer.SyncEnabled), env.Installer.SyncIntervalMinutes,
		env.Manager.Host, env.Manager.Username, env.Manager.Password,
		boolToInt(env.Manager.SSLVerify), boolToInt(env.Manager.SyncEnabled), env.Manager.SyncIntervalMinutes,
		string(model.SyncStatusNever),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return driven.ErrDuplicateName
		}
		return fmt.Errorf("create environment %q: %w", env.Name, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("environment insert id: %w", err)
	}
	env.ID = id
	return nil
}

// Update replaces the environment's configuration fields. Sync status
// fields are owned by the sync path and are not written here.
func (r *EnvironmentRepo) Update(ctx context.Context, env model.Environment) error {
	const query = `
		UPDATE environments SET
			name = ?, description = ?,
			installer_host = ?, installer_username = ?, installer_password = ?,
			installer_ssl_verify = ?, installer_sync_enabled = ?, installer_sync_interval_minutes = ?,
			manager_host = ?, manager_username = ?, manager_password = ?,
			manager_ssl_verify = ?, manager_sync_enabled = ?, manager_sync_interval_minutes = ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`

	_, err := r.db.Writer.ExecContext(ctx, query,
		env.Name, env.Description,
		env.Installer.Host, env.Installer.Username, env.Installer.Password,
		boolToInt(env.Installer.SSLVerify), boolToInt(env.Installer.SyncEnabled), env.Installer.SyncIntervalMinutes,
		env.Manager.Host, env.Manager.Username, env.Manager.Password,
		boolToInt(env.Manager.SSLVerify), boolToInt(env.Manager.SyncEnabled), env.Manager.SyncIntervalMinutes,
		env.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return driven.ErrDuplicateName
		}
		return fmt.Errorf("update environment %d: %w", env.ID, err)
	}
	return nil
}

// Delete removes an environment; credentials and history go with it via
// foreign key cascade.
func (r *EnvironmentRepo) Delete(ctx context.Context, id int64) error {
	if _, err := r.db.Writer.ExecContext(ctx, `DELETE FROM environments WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete environment %d: %w", id, err)
	}
	return nil
}

// GetByID returns nil, nil when no environment has the given id.
func (r *EnvironmentRepo) GetByID(ctx context.Context, id int64) (*model.Environment, error) {
	query := `SELECT ` + environmentColumns + ` FROM environments WHERE id = ?`

	env, err := scanEnvironment(r.db.Reader.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get environment %d: %w", id, err)
	}
	return env, nil
}

// GetByName returns nil, nil when no environment has the given name.
func (r *EnvironmentRepo) GetByName(ctx context.Context, name string) (*model.Environment, error) {
	query := `SELECT ` + environmentColumns + ` FROM environments WHERE name = ?`

	env, err := scanEnvironment(r.db.Reader.QueryRowContext(ctx, query, name))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get environment %q: %w", name, err)
	}
	return env, nil
}

// ListAll returns all environments ordered by name.
func (r *EnvironmentRepo) ListAll(ctx context.Context) ([]model.Environment, error) {
	query := `SELECT ` + environmentColumns + ` FROM environments ORDER BY name`
	return r.queryEnvironments(ctx, query)
}

// ListSyncEnabled returns environments with syncing enabled on at least
// one source, ordered by name.
func (r *EnvironmentRepo) ListSyncEnabled(ctx context.Context) ([]model.Environment, error) {
	query := `SELECT ` + environmentColumns + ` FROM environments
		WHERE installer_sync_enabled = 1 OR manager_sync_enabled = 1
		ORDER BY name`
	return r.queryEnvironments(ctx, query)
}

func (r *EnvironmentRepo) queryEnvironments(ctx context.Context, query string, args ...any) ([]model.Environment, error) {
	rows, err := r.db.Reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query environments: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var envs []model.Environment
	for rows.Next() {
		env, err := scanEnvironment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan environment: %w", err)
		}
		envs = append(envs, *env)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate environments: %w", err)
	}
	return envs, nil
}

// rowScanner abstracts *sql.Row and *sql.Rows for the scan helpers.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanEnvironment(row rowScanner) (*model.Environment, error) {
	var env model.Environment
	var lastSync sql.NullTime
	var installerSSL, installerEnabled, managerSSL, managerEnabled int
	var status string

	err := row.Scan(
		&env.ID, &env.Name, &env.Description,
		&env.Installer.Host, &env.Installer.Username, &env.Installer.Password,
		&installerSSL, &installerEnabled, &env.Installer.SyncIntervalMinutes,
		&env.Manager.Host, &env.Manager.Username, &env.Manager.Password,
		&managerSSL, &managerEnabled, &env.Manager.SyncIntervalMinutes,
		&lastSync, &status, &env.InstallerError, &env.ManagerError,
		&env.CreatedAt, &env.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	env.Installer.SSLVerify = installerSSL != 0
	env.Installer.SyncEnabled = installerEnabled != 0
	env.Manager.SSLVerify = managerSSL != 0
	env.Manager.SyncEnabled = managerEnabled != 0
	if lastSync.Valid {
		env.LastSync = lastSync.Time
	}
	env.LastSyncStatus = model.SyncStatus(status)

	return &env, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
