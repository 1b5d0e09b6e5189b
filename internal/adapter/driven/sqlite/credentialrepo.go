package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/cleeistaken/vcf-credential-manager/internal/domain/model"
	"github.com/cleeistaken/vcf-credential-manager/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.CredentialStore = (*CredentialRepo)(nil)

// CredentialRepo is the SQLite implementation of the CredentialStore port
// interface. ApplySync also writes the owning environment's sync status
// fields so one sync run is one transaction.
type CredentialRepo struct {
	db *DB
}

// NewCredentialRepo creates a new CredentialRepo backed by the given DB.
func NewCredentialRepo(db *DB) *CredentialRepo {
	return &CredentialRepo{db: db}
}

const credentialColumns = `
	id, environment_id, hostname, username, password,
	credential_type, account_type, resource_type, domain_name, source,
	last_updated
`

// ListByEnvironment returns all stored credentials for an environment,
// narrowed to one source when source is non-empty. Ordered by hostname
// then username.
func (r *CredentialRepo) ListByEnvironment(ctx context.Context, envID int64, source model.Source) ([]model.StoredCredential, error) {
	query := `SELECT ` + credentialColumns + ` FROM credentials WHERE environment_id = ?`
	args := []any{envID}
	if source != "" {
		query += ` AND source = ?`
		args = append(args, string(source))
	}
	query += ` ORDER BY hostname, username`

	rows, err := r.db.Reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query credentials for environment %d: %w", envID, err)
	}
	defer func() { _ = rows.Close() }()

	var creds []model.StoredCredential
	for rows.Next() {
		cred, err := scanCredential(rows)
		if err != nil {
			return nil, fmt.Errorf("scan credential: %w", err)
		}
		creds = append(creds, *cred)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate credentials: %w", err)
	}
	return creds, nil
}

// CountByEnvironment returns the number of stored credentials for an
// environment.
func (r *CredentialRepo) CountByEnvironment(ctx context.Context, envID int64) (int, error) {
	var n int
	err := r.db.Reader.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM credentials WHERE environment_id = ?`, envID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count credentials for environment %d: %w", envID, err)
	}
	return n, nil
}

// GetByID returns nil, nil when no credential has the given id.
func (r *CredentialRepo) GetByID(ctx context.Context, id int64) (*model.StoredCredential, error) {
	query := `SELECT ` + credentialColumns + ` FROM credentials WHERE id = ?`

	cred, err := scanCredential(r.db.Reader.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get credential %d: %w", id, err)
	}
	return cred, nil
}

// HistoryByCredential returns password history entries newest first.
func (r *CredentialRepo) HistoryByCredential(ctx context.Context, credID int64) ([]model.PasswordHistoryEntry, error) {
	const query = `
		SELECT id, credential_id, password, changed_at, changed_by
		FROM password_history
		WHERE credential_id = ?
		ORDER BY changed_at DESC, id DESC
	`

	rows, err := r.db.Reader.QueryContext(ctx, query, credID)
	if err != nil {
		return nil, fmt.Errorf("query history for credential %d: %w", credID, err)
	}
	defer func() { _ = rows.Close() }()

	var entries []model.PasswordHistoryEntry
	for rows.Next() {
		var e model.PasswordHistoryEntry
		if err := rows.Scan(&e.ID, &e.CredentialID, &e.Password, &e.ChangedAt, &e.ChangedBy); err != nil {
			return nil, fmt.Errorf("scan history entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return entries, nil
}

// ApplySync applies a reconciliation plan plus the environment's sync
// status fields in a single transaction. A failure anywhere rolls the
// whole batch back so a half-applied sync can never be observed.
func (r *CredentialRepo) ApplySync(ctx context.Context, envID int64, plan model.SyncPlan, status driven.SyncStatusUpdate) error {
	tx, err := r.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin sync transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const insertQuery = `
		INSERT INTO credentials (
			environment_id, hostname, username, password,
			credential_type, account_type, resource_type, domain_name, source,
			last_updated
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	for _, c := range plan.Inserts {
		if _, err := tx.ExecContext(ctx, insertQuery,
			envID, c.Hostname, c.Username, c.Password,
			c.CredentialType, c.AccountType, c.ResourceType, c.DomainName, string(c.Source),
			c.LastUpdated.UTC(),
		); err != nil {
			return fmt.Errorf("insert credential %s:%s: %w", c.Hostname, c.Username, err)
		}
	}

	const updateQuery = `
		UPDATE credentials SET
			password = ?, account_type = ?, resource_type = ?,
			domain_name = ?, source = ?, last_updated = ?
		WHERE id = ?
	`
	for _, c := range plan.Updates {
		if _, err := tx.ExecContext(ctx, updateQuery,
			c.Password, c.AccountType, c.ResourceType,
			c.DomainName, string(c.Source), c.LastUpdated.UTC(),
			c.ID,
		); err != nil {
			return fmt.Errorf("update credential %d: %w", c.ID, err)
		}
	}

	const historyQuery = `
		INSERT INTO password_history (credential_id, password, changed_at, changed_by)
		VALUES (?, ?, ?, ?)
	`
	for _, h := range plan.History {
		if _, err := tx.ExecContext(ctx, historyQuery,
			h.CredentialID, h.Password, h.ChangedAt.UTC(), h.ChangedBy,
		); err != nil {
			return fmt.Errorf("insert history for credential %d: %w", h.CredentialID, err)
		}
	}

	for _, id := range plan.DeleteIDs {
		if _, err := tx.ExecContext(ctx, `DELETE FROM credentials WHERE id = ?`, id); err != nil {
			return fmt.Errorf("delete credential %d: %w", id, err)
		}
	}

	if err := applyStatus(ctx, tx, envID, status); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit sync transaction: %w", err)
	}
	return nil
}

// RecordSyncFailure writes only the sync status fields in an isolated
// transaction. Used as the fallback after ApplySync could not commit.
func (r *CredentialRepo) RecordSyncFailure(ctx context.Context, envID int64, status driven.SyncStatusUpdate) error {
	tx, err := r.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin status transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := applyStatus(ctx, tx, envID, status); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit status transaction: %w", err)
	}
	return nil
}

// applyStatus writes the environment status fields. Per-source error
// columns are only touched when the corresponding pointer is set; a nil
// pointer means that source was out of scope and its stored error must
// stay as it is.
func applyStatus(ctx context.Context, tx *sql.Tx, envID int64, status driven.SyncStatusUpdate) error {
	query := `UPDATE environments SET last_sync = ?, last_sync_status = ?`
	args := []any{status.LastSync.UTC(), string(status.Status)}

	if status.InstallerError != nil {
		query += `, installer_error = ?`
		args = append(args, *status.InstallerError)
	}
	if status.ManagerError != nil {
		query += `, manager_error = ?`
		args = append(args, *status.ManagerError)
	}

	query += ` WHERE id = ?`
	args = append(args, envID)

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update sync status for environment %d: %w", envID, err)
	}
	return nil
}

func scanCredential(row rowScanner) (*model.StoredCredential, error) {
	var c model.StoredCredential
	var source string

	err := row.Scan(
		&c.ID, &c.EnvironmentID, &c.Hostname, &c.Username, &c.Password,
		&c.CredentialType, &c.AccountType, &c.ResourceType, &c.DomainName, &source,
		&c.LastUpdated,
	)
	if err != nil {
		return nil, err
	}

	c.Source = model.Source(source)
	return &c, nil
}
