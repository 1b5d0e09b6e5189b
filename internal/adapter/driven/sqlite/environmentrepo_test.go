package sqlite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleeistaken/vcf-credential-manager/internal/domain/model"
	"github.com/cleeistaken/vcf-credential-manager/internal/domain/port/driven"
)

func sampleEnvironment(name string) model.Environment {
	return model.Environment{
		Name:        name,
		Description: "lab deployment",
		Installer: model.SourceConfig{
			Host:                "installer.lab.local",
			Username:            "admin",
			Password:            "installer-secret",
			SSLVerify:           true,
			SyncEnabled:         true,
			SyncIntervalMinutes: 30,
		},
		Manager: model.SourceConfig{
			Host:                "manager.lab.local",
			Username:            "admin",
			Password:            "manager-secret",
			SSLVerify:           false,
			SyncEnabled:         false,
			SyncIntervalMinutes: 60,
		},
	}
}

func TestEnvironmentRepo_CreateAndGet(t *testing.T) {
	repo := NewEnvironmentRepo(setupTestDB(t))
	ctx := context.Background()

	env := sampleEnvironment("prod")
	require.NoError(t, repo.Create(ctx, &env))
	assert.Positive(t, env.ID)

	got, err := repo.GetByID(ctx, env.ID)
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, "prod", got.Name)
	assert.Equal(t, "lab deployment", got.Description)
	assert.Equal(t, env.Installer, got.Installer)
	assert.Equal(t, env.Manager, got.Manager)
	assert.True(t, got.LastSync.IsZero())
	assert.Equal(t, model.SyncStatusNever, got.LastSyncStatus)
	assert.Empty(t, got.InstallerError)
	assert.Empty(t, got.ManagerError)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestEnvironmentRepo_GetMissing(t *testing.T) {
	repo := NewEnvironmentRepo(setupTestDB(t))
	ctx := context.Background()

	got, err := repo.GetByID(ctx, 999)
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = repo.GetByName(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestEnvironmentRepo_DuplicateName(t *testing.T) {
	repo := NewEnvironmentRepo(setupTestDB(t))
	ctx := context.Background()

	env := sampleEnvironment("prod")
	require.NoError(t, repo.Create(ctx, &env))

	dup := sampleEnvironment("prod")
	err := repo.Create(ctx, &dup)
	assert.ErrorIs(t, err, driven.ErrDuplicateName)
}

func TestEnvironmentRepo_Update(t *testing.T) {
	repo := NewEnvironmentRepo(setupTestDB(t))
	ctx := context.Background()

	env := sampleEnvironment("prod")
	require.NoError(t, repo.Create(ctx, &env))

	env.Description = "renamed"
	env.Installer.Host = "new-installer.lab.local"
	env.Installer.SyncEnabled = false
	require.NoError(t, repo.Update(ctx, env))

	got, err := repo.GetByID(ctx, env.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "renamed", got.Description)
	assert.Equal(t, "new-installer.lab.local", got.Installer.Host)
	assert.False(t, got.Installer.SyncEnabled)
}

func TestEnvironmentRepo_UpdateToDuplicateName(t *testing.T) {
	repo := NewEnvironmentRepo(setupTestDB(t))
	ctx := context.Background()

	a := sampleEnvironment("a")
	b := sampleEnvironment("b")
	require.NoError(t, repo.Create(ctx, &a))
	require.NoError(t, repo.Create(ctx, &b))

	b.Name = "a"
	assert.ErrorIs(t, repo.Update(ctx, b), driven.ErrDuplicateName)
}

func TestEnvironmentRepo_Delete(t *testing.T) {
	db := setupTestDB(t)
	repo := NewEnvironmentRepo(db)
	creds := NewCredentialRepo(db)
	ctx := context.Background()

	env := sampleEnvironment("prod")
	require.NoError(t, repo.Create(ctx, &env))

	plan := model.SyncPlan{Inserts: []model.StoredCredential{
		{Hostname: "h1", Username: "root", Password: "p", CredentialType: "SSH", Source: model.SourceInstaller},
	}}
	require.NoError(t, creds.ApplySync(ctx, env.ID, plan, successStatus()))

	require.NoError(t, repo.Delete(ctx, env.ID))

	got, err := repo.GetByID(ctx, env.ID)
	require.NoError(t, err)
	assert.Nil(t, got)

	// Credentials cascade with the environment.
	n, err := creds.CountByEnvironment(ctx, env.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestEnvironmentRepo_ListSyncEnabled(t *testing.T) {
	repo := NewEnvironmentRepo(setupTestDB(t))
	ctx := context.Background()

	enabled := sampleEnvironment("enabled")
	require.NoError(t, repo.Create(ctx, &enabled))

	disabled := sampleEnvironment("disabled")
	disabled.Installer.SyncEnabled = false
	disabled.Manager.SyncEnabled = false
	require.NoError(t, repo.Create(ctx, &disabled))

	all, err := repo.ListAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	syncable, err := repo.ListSyncEnabled(ctx)
	require.NoError(t, err)
	require.Len(t, syncable, 1)
	assert.Equal(t, "enabled", syncable[0].Name)
}
