package httphandler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/cleeistaken/vcf-credential-manager/internal/application"
	"github.com/cleeistaken/vcf-credential-manager/internal/domain/model"
)

// writeJSON marshals v to JSON and writes it to the response with the given
// status code. If marshaling fails, a 500 error is written instead.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError writes a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// errorResponse is the standard error response body.
type errorResponse struct {
	Error string `json:"error"`
}

// SourceConfigRequest is the JSON body for one source of an environment.
// An empty password on update keeps the stored one.
type SourceConfigRequest struct {
	Host                string `json:"host" validate:"omitempty,hostname_rfc1123|ip"`
	Username            string `json:"username" validate:"max=100"`
	Password            string `json:"password" validate:"max=255"`
	SSLVerify           *bool  `json:"ssl_verify"`
	SyncEnabled         bool   `json:"sync_enabled"`
	SyncIntervalMinutes int    `json:"sync_interval_minutes" validate:"omitempty,gte=1,lte=10080"`
}

// EnvironmentRequest is the JSON body for creating or updating an environment.
type EnvironmentRequest struct {
	Name        string              `json:"name" validate:"required,max=100"`
	Description string              `json:"description" validate:"max=1000"`
	Installer   SourceConfigRequest `json:"installer"`
	Manager     SourceConfigRequest `json:"manager"`
}

// TestConnectionRequest carries candidate source configurations to verify
// before saving.
type TestConnectionRequest struct {
	Installer *SourceConfigRequest `json:"installer"`
	Manager   *SourceConfigRequest `json:"manager"`
}

// TestConnectionResult is the outcome for one tested source.
type TestConnectionResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// TestConnectionResponse aggregates per-source connection test outcomes.
type TestConnectionResponse struct {
	Success   bool                  `json:"success"`
	Installer *TestConnectionResult `json:"installer,omitempty"`
	Manager   *TestConnectionResult `json:"manager,omitempty"`
}

// SourceConfigResponse is the JSON representation of one source's
// configuration. Passwords are never echoed.
type SourceConfigResponse struct {
	Host                string `json:"host"`
	Username            string `json:"username"`
	SSLVerify           bool   `json:"ssl_verify"`
	SyncEnabled         bool   `json:"sync_enabled"`
	SyncIntervalMinutes int    `json:"sync_interval_minutes"`
}

// EnvironmentResponse is the JSON representation of an environment.
type EnvironmentResponse struct {
	ID              int64                `json:"id"`
	Name            string               `json:"name"`
	Description     string               `json:"description"`
	Installer       SourceConfigResponse `json:"installer"`
	Manager         SourceConfigResponse `json:"manager"`
	LastSync        string               `json:"last_sync,omitempty"`
	LastSyncStatus  string               `json:"last_sync_status"`
	InstallerError  string               `json:"installer_error,omitempty"`
	ManagerError    string               `json:"manager_error,omitempty"`
	CredentialCount int                  `json:"credential_count"`
	CreatedAt       string               `json:"created_at"`
	UpdatedAt       string               `json:"updated_at"`
}

// CredentialResponse is the JSON representation of a stored credential.
type CredentialResponse struct {
	ID             int64  `json:"id"`
	Hostname       string `json:"hostname"`
	Username       string `json:"username"`
	Password       string `json:"password"`
	CredentialType string `json:"credential_type"`
	AccountType    string `json:"account_type"`
	ResourceType   string `json:"resource_type"`
	DomainName     string `json:"domain_name"`
	Source         string `json:"source"`
	LastUpdated    string `json:"last_updated"`
}

// HistoryEntryResponse is one superseded password.
type HistoryEntryResponse struct {
	Password  string `json:"password"`
	ChangedAt string `json:"changed_at"`
	ChangedBy string `json:"changed_by"`
}

// HistoryResponse pairs a credential with its password history.
type HistoryResponse struct {
	Credential CredentialResponse     `json:"credential"`
	History    []HistoryEntryResponse `json:"history"`
}

// SyncResponse is the outcome of a manual sync run.
type SyncResponse struct {
	RunID           string `json:"run_id"`
	Status          string `json:"status"`
	InstallerError  string `json:"installer_error,omitempty"`
	ManagerError    string `json:"manager_error,omitempty"`
	New             int    `json:"new"`
	Updated         int    `json:"updated"`
	Removed         int    `json:"removed"`
	PasswordChanges int    `json:"password_changes"`
}

// JobResponse describes one scheduled recurring sync job.
type JobResponse struct {
	EnvironmentID int64  `json:"environment_id"`
	Source        string `json:"source"`
	Interval      string `json:"interval"`
	NextRun       string `json:"next_run"`
	Running       bool   `json:"running"`
}

// HealthResponse is the JSON representation of the health check endpoint.
type HealthResponse struct {
	Status string `json:"status"`
	Time   string `json:"time"`
}

func toSourceConfigResponse(c model.SourceConfig) SourceConfigResponse {
	return SourceConfigResponse{
		Host:                c.Host,
		Username:            c.Username,
		SSLVerify:           c.SSLVerify,
		SyncEnabled:         c.SyncEnabled,
		SyncIntervalMinutes: c.SyncIntervalMinutes,
	}
}

func toEnvironmentResponse(env model.Environment, credentialCount int) EnvironmentResponse {
	resp := EnvironmentResponse{
		ID:              env.ID,
		Name:            env.Name,
		Description:     env.Description,
		Installer:       toSourceConfigResponse(env.Installer),
		Manager:         toSourceConfigResponse(env.Manager),
		LastSyncStatus:  string(env.LastSyncStatus),
		InstallerError:  env.InstallerError,
		ManagerError:    env.ManagerError,
		CredentialCount: credentialCount,
		CreatedAt:       env.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:       env.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if !env.LastSync.IsZero() {
		resp.LastSync = env.LastSync.UTC().Format(time.RFC3339)
	}
	return resp
}

func toCredentialResponse(c model.StoredCredential) CredentialResponse {
	return CredentialResponse{
		ID:             c.ID,
		Hostname:       c.Hostname,
		Username:       c.Username,
		Password:       c.Password,
		CredentialType: c.CredentialType,
		AccountType:    c.AccountType,
		ResourceType:   c.ResourceType,
		DomainName:     c.DomainName,
		Source:         string(c.Source),
		LastUpdated:    c.LastUpdated.UTC().Format(time.RFC3339),
	}
}

func toHistoryEntryResponse(e model.PasswordHistoryEntry) HistoryEntryResponse {
	return HistoryEntryResponse{
		Password:  e.Password,
		ChangedAt: e.ChangedAt.UTC().Format(time.RFC3339),
		ChangedBy: e.ChangedBy,
	}
}

func toSyncResponse(outcome application.SyncOutcome) SyncResponse {
	return SyncResponse{
		RunID:           outcome.RunID,
		Status:          string(outcome.Status),
		InstallerError:  outcome.InstallerError,
		ManagerError:    outcome.ManagerError,
		New:             outcome.Counts.New,
		Updated:         outcome.Counts.Updated,
		Removed:         outcome.Counts.Removed,
		PasswordChanges: outcome.Counts.PasswordChanges,
	}
}

func toJobResponse(j application.JobStatus) JobResponse {
	return JobResponse{
		EnvironmentID: j.Key.EnvironmentID,
		Source:        string(j.Key.Source),
		Interval:      j.Interval.String(),
		NextRun:       j.NextRun.UTC().Format(time.RFC3339),
		Running:       j.Running,
	}
}
