// Package driven defines the outbound port interfaces the application
// layer depends on.
package driven

import (
	"context"
	"errors"

	"github.com/cleeistaken/vcf-credential-manager/internal/domain/model"
)

// ErrDuplicateName is returned when creating or renaming an environment
// would violate the unique name constraint.
var ErrDuplicateName = errors.New("environment name already in use")

// EnvironmentStore defines the driven port for environment persistence.
type EnvironmentStore interface {
	// Create persists a new environment and sets env.ID.
	Create(ctx context.Context, env *model.Environment) error
	Update(ctx context.Context, env model.Environment) error
	// Delete removes an environment and, by cascade, its credentials and
	// their password history.
	Delete(ctx context.Context, id int64) error
	// GetByID returns nil, nil when no environment has the given id.
	GetByID(ctx context.Context, id int64) (*model.Environment, error)
	// GetByName returns nil, nil when no environment has the given name.
	GetByName(ctx context.Context, name string) (*model.Environment, error)
	ListAll(ctx context.Context) ([]model.Environment, error)
	// ListSyncEnabled returns environments with at least one source that
	// has syncing enabled.
	ListSyncEnabled(ctx context.Context) ([]model.Environment, error)
}
