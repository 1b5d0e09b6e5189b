// Package httphandler is the HTTP driving adapter. It translates the
// REST API onto the application services and driven ports.
package httphandler

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cleeistaken/vcf-credential-manager/internal/application"
	"github.com/cleeistaken/vcf-credential-manager/internal/domain/model"
	"github.com/cleeistaken/vcf-credential-manager/internal/domain/port/driven"
)

// Handler is the HTTP driving adapter that serves the REST API.
type Handler struct {
	envStore  driven.EnvironmentStore
	credStore driven.CredentialStore
	syncSvc   *application.SyncService
	scheduler *application.Scheduler
	validate  *validator.Validate
	logger    *slog.Logger
}

// NewHandler creates a Handler with all required dependencies.
func NewHandler(
	envStore driven.EnvironmentStore,
	credStore driven.CredentialStore,
	syncSvc *application.SyncService,
	scheduler *application.Scheduler,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		envStore:  envStore,
		credStore: credStore,
		syncSvc:   syncSvc,
		scheduler: scheduler,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		logger:    logger,
	}
}

// NewServeMux creates an http.Handler with all routes registered and wrapped
// with logging and recovery middleware.
func NewServeMux(h *Handler, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/environments", h.ListEnvironments)
	mux.HandleFunc("POST /api/v1/environments", h.CreateEnvironment)
	mux.HandleFunc("GET /api/v1/environments/{id}", h.GetEnvironment)
	mux.HandleFunc("PUT /api/v1/environments/{id}", h.UpdateEnvironment)
	mux.HandleFunc("DELETE /api/v1/environments/{id}", h.DeleteEnvironment)
	mux.HandleFunc("POST /api/v1/environments/{id}/sync", h.SyncEnvironment)
	mux.HandleFunc("GET /api/v1/environments/{id}/credentials", h.ListCredentials)
	mux.HandleFunc("GET /api/v1/environments/{id}/export/csv", h.ExportCSV)
	mux.HandleFunc("GET /api/v1/credentials/{id}/history", h.CredentialHistory)
	mux.HandleFunc("POST /api/v1/test-connection", h.TestConnection)
	mux.HandleFunc("GET /api/v1/jobs", h.ListJobs)
	mux.HandleFunc("GET /api/v1/health", h.Health)
	mux.Handle("GET /metrics", promhttp.Handler())

	// Recovery innermost so panics are caught before logging.
	wrapped := recoveryMiddleware(logger, mux)
	wrapped = loggingMiddleware(logger, wrapped)

	return wrapped
}

// ListEnvironments returns all environments with their credential counts.
func (h *Handler) ListEnvironments(w http.ResponseWriter, r *http.Request) {
	envs, err := h.envStore.ListAll(r.Context())
	if err != nil {
		h.logger.Error("failed to list environments", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := make([]EnvironmentResponse, 0, len(envs))
	for _, env := range envs {
		count, err := h.credStore.CountByEnvironment(r.Context(), env.ID)
		if err != nil {
			h.logger.Error("failed to count credentials", "environment_id", env.ID, "error", err)
			writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		resp = append(resp, toEnvironmentResponse(env, count))
	}

	writeJSON(w, http.StatusOK, resp)
}

// CreateEnvironment creates a new environment and schedules its sync jobs.
func (h *Handler) CreateEnvironment(w http.ResponseWriter, r *http.Request) {
	var req EnvironmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	env := model.Environment{
		Name:           strings.TrimSpace(req.Name),
		Description:    req.Description,
		Installer:      applySourceConfig(model.SourceConfig{}, req.Installer, true),
		Manager:        applySourceConfig(model.SourceConfig{}, req.Manager, true),
		LastSyncStatus: model.SyncStatusNever,
	}

	if err := h.envStore.Create(r.Context(), &env); err != nil {
		if errors.Is(err, driven.ErrDuplicateName) {
			writeError(w, http.StatusConflict, "an environment with that name already exists")
			return
		}
		h.logger.Error("failed to create environment", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.scheduler.ScheduleEnvironment(env)
	h.logger.Info("environment created", "environment_id", env.ID, "name", env.Name)

	writeJSON(w, http.StatusCreated, toEnvironmentResponse(env, 0))
}

// GetEnvironment returns a single environment by id.
func (h *Handler) GetEnvironment(w http.ResponseWriter, r *http.Request) {
	env, ok := h.loadEnvironment(w, r)
	if !ok {
		return
	}

	count, err := h.credStore.CountByEnvironment(r.Context(), env.ID)
	if err != nil {
		h.logger.Error("failed to count credentials", "environment_id", env.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, toEnvironmentResponse(*env, count))
}

// UpdateEnvironment replaces an environment's configuration. Blank
// passwords in the request keep the stored values, so clients can edit an
// environment without re-entering secrets.
func (h *Handler) UpdateEnvironment(w http.ResponseWriter, r *http.Request) {
	env, ok := h.loadEnvironment(w, r)
	if !ok {
		return
	}

	var req EnvironmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	env.Name = strings.TrimSpace(req.Name)
	env.Description = req.Description
	env.Installer = applySourceConfig(env.Installer, req.Installer, false)
	env.Manager = applySourceConfig(env.Manager, req.Manager, false)

	if err := h.envStore.Update(r.Context(), *env); err != nil {
		if errors.Is(err, driven.ErrDuplicateName) {
			writeError(w, http.StatusConflict, "an environment with that name already exists")
			return
		}
		h.logger.Error("failed to update environment", "environment_id", env.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.scheduler.ScheduleEnvironment(*env)
	h.logger.Info("environment updated", "environment_id", env.ID, "name", env.Name)

	count, err := h.credStore.CountByEnvironment(r.Context(), env.ID)
	if err != nil {
		h.logger.Error("failed to count credentials", "environment_id", env.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, toEnvironmentResponse(*env, count))
}

// DeleteEnvironment removes an environment, its credentials, and their
// password history, and unschedules its sync jobs.
func (h *Handler) DeleteEnvironment(w http.ResponseWriter, r *http.Request) {
	env, ok := h.loadEnvironment(w, r)
	if !ok {
		return
	}

	if err := h.envStore.Delete(r.Context(), env.ID); err != nil {
		h.logger.Error("failed to delete environment", "environment_id", env.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.scheduler.UnscheduleEnvironment(env.ID)
	h.logger.Info("environment deleted", "environment_id", env.ID, "name", env.Name)

	w.WriteHeader(http.StatusNoContent)
}

// SyncEnvironment triggers an immediate sync run. The optional source
// query parameter narrows the run to one source.
func (h *Handler) SyncEnvironment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	scope, ok := model.ParseSyncScope(r.URL.Query().Get("source"))
	if !ok {
		writeError(w, http.StatusBadRequest, "source must be one of: all, installer, manager")
		return
	}

	outcome, err := h.syncSvc.RunSync(r.Context(), id, scope)
	if err != nil {
		if errors.Is(err, application.ErrEnvironmentNotFound) {
			writeError(w, http.StatusNotFound, "environment not found")
			return
		}
		h.logger.Error("sync run failed", "environment_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "sync failed")
		return
	}

	writeJSON(w, http.StatusOK, toSyncResponse(outcome))
}

// ListCredentials returns an environment's stored credentials, optionally
// narrowed to one source.
func (h *Handler) ListCredentials(w http.ResponseWriter, r *http.Request) {
	env, ok := h.loadEnvironment(w, r)
	if !ok {
		return
	}

	source, ok := sourceFilter(r.URL.Query().Get("source"))
	if !ok {
		writeError(w, http.StatusBadRequest, "source must be one of: installer, manager")
		return
	}

	creds, err := h.credStore.ListByEnvironment(r.Context(), env.ID, source)
	if err != nil {
		h.logger.Error("failed to list credentials", "environment_id", env.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := make([]CredentialResponse, 0, len(creds))
	for _, c := range creds {
		resp = append(resp, toCredentialResponse(c))
	}

	writeJSON(w, http.StatusOK, resp)
}

// CredentialHistory returns a credential and its password history, newest
// first.
func (h *Handler) CredentialHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	cred, err := h.credStore.GetByID(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to get credential", "credential_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if cred == nil {
		writeError(w, http.StatusNotFound, "credential not found")
		return
	}

	history, err := h.credStore.HistoryByCredential(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to get password history", "credential_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	entries := make([]HistoryEntryResponse, 0, len(history))
	for _, e := range history {
		entries = append(entries, toHistoryEntryResponse(e))
	}

	writeJSON(w, http.StatusOK, HistoryResponse{
		Credential: toCredentialResponse(*cred),
		History:    entries,
	})
}

// ExportCSV streams an environment's credentials as a CSV download.
func (h *Handler) ExportCSV(w http.ResponseWriter, r *http.Request) {
	env, ok := h.loadEnvironment(w, r)
	if !ok {
		return
	}

	creds, err := h.credStore.ListByEnvironment(r.Context(), env.ID, "")
	if err != nil {
		h.logger.Error("failed to list credentials", "environment_id", env.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	filename := fmt.Sprintf("%s_credentials_%s.csv",
		sanitizeFilename(env.Name), time.Now().UTC().Format("20060102_150405"))
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))

	cw := csv.NewWriter(w)
	_ = cw.Write([]string{
		"hostname", "username", "password", "credential_type",
		"account_type", "resource_type", "domain_name", "source", "last_updated",
	})
	for _, c := range creds {
		_ = cw.Write([]string{
			c.Hostname, c.Username, c.Password, c.CredentialType,
			c.AccountType, c.ResourceType, c.DomainName,
			string(c.Source), c.LastUpdated.UTC().Format(time.RFC3339),
		})
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		h.logger.Error("csv export write failed", "environment_id", env.ID, "error", err)
	}
}

// TestConnection verifies candidate source configurations without saving
// anything.
func (h *Handler) TestConnection(w http.ResponseWriter, r *http.Request) {
	var req TestConnectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Installer == nil && req.Manager == nil {
		writeError(w, http.StatusBadRequest, "at least one source is required")
		return
	}

	resp := TestConnectionResponse{Success: true}
	for _, probe := range []struct {
		cfg *SourceConfigRequest
		out **TestConnectionResult
	}{
		{req.Installer, &resp.Installer},
		{req.Manager, &resp.Manager},
	} {
		if probe.cfg == nil {
			continue
		}
		verify := probe.cfg.SSLVerify == nil || *probe.cfg.SSLVerify
		ok, msg := h.syncSvc.TestConnection(r.Context(),
			probe.cfg.Host, probe.cfg.Username, probe.cfg.Password, verify)
		*probe.out = &TestConnectionResult{Success: ok, Message: msg}
		if !ok {
			resp.Success = false
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// ListJobs returns the currently scheduled recurring sync jobs.
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	jobs := h.scheduler.Jobs()
	resp := make([]JobResponse, 0, len(jobs))
	for _, j := range jobs {
		resp = append(resp, toJobResponse(j))
	}
	writeJSON(w, http.StatusOK, resp)
}

// Health returns a simple health response.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status: "ok",
		Time:   time.Now().UTC().Format(time.RFC3339),
	})
}

// loadEnvironment parses the id path segment and loads the environment,
// writing the error response itself when either step fails.
func (h *Handler) loadEnvironment(w http.ResponseWriter, r *http.Request) (*model.Environment, bool) {
	id, ok := pathID(w, r)
	if !ok {
		return nil, false
	}

	env, err := h.envStore.GetByID(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to get environment", "environment_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return nil, false
	}
	if env == nil {
		writeError(w, http.StatusNotFound, "environment not found")
		return nil, false
	}
	return env, true
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}

// applySourceConfig merges a request onto an existing configuration.
// create controls the ssl_verify default when the field is absent; on
// update a blank password keeps the stored one.
func applySourceConfig(current model.SourceConfig, req SourceConfigRequest, create bool) model.SourceConfig {
	next := model.SourceConfig{
		Host:                strings.TrimSpace(req.Host),
		Username:            req.Username,
		Password:            req.Password,
		SSLVerify:           true,
		SyncEnabled:         req.SyncEnabled,
		SyncIntervalMinutes: req.SyncIntervalMinutes,
	}
	if req.SSLVerify != nil {
		next.SSLVerify = *req.SSLVerify
	} else if !create {
		next.SSLVerify = current.SSLVerify
	}
	if !create && next.Password == "" {
		next.Password = current.Password
	}
	return next
}

// sourceFilter maps the credentials list source query parameter to a
// store filter. Empty selects both sources.
func sourceFilter(v string) (model.Source, bool) {
	switch v {
	case "":
		return "", true
	case "installer":
		return model.SourceInstaller, true
	case "manager":
		return model.SourceManager, true
	}
	return "", false
}

// validationMessage flattens a validator error into a single operator
// readable string.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return "invalid request"
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %s validation", fe.Namespace(), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}

// sanitizeFilename keeps the export filename safe across platforms.
func sanitizeFilename(name string) string {
	mapped := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		case r == ' ':
			return '_'
		}
		return -1
	}, name)
	if mapped == "" {
		return "environment"
	}
	return mapped
}
