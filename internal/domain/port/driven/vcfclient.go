package driven

import (
	"context"

	"github.com/cleeistaken/vcf-credential-manager/internal/domain/model"
)

// VCFClient defines the driven port for the two remote credential APIs.
// Implementations surface failures as errors that may additionally carry
// an operator-facing message (see OperatorMessage); callers fall back to
// a generic string otherwise.
type VCFClient interface {
	// Authenticate obtains a bearer token from either API shape.
	Authenticate(ctx context.Context, host, username, password string, verifyTLS bool) (string, error)
	// FetchInstallerCredentials lists the installer's SDDCs, fetches each
	// deployment spec, and extracts credential records from it. A failure
	// on one SDDC spec skips that SDDC only.
	FetchInstallerCredentials(ctx context.Context, host, token string, verifyTLS bool) ([]model.CredentialRecord, error)
	// FetchManagerCredentials lists the manager's credential inventory.
	FetchManagerCredentials(ctx context.Context, host, token string, verifyTLS bool) ([]model.CredentialRecord, error)
}

// OperatorMessage is implemented by client errors that can describe
// themselves in a short string fit for an environment's error field.
type OperatorMessage interface {
	OperatorMessage() string
}
