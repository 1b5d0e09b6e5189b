// Package vcf implements the VCFClient port against the VCF Installer and
// SDDC Manager REST APIs.
package vcf

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cleeistaken/vcf-credential-manager/internal/domain/model"
	"github.com/cleeistaken/vcf-credential-manager/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.VCFClient = (*Client)(nil)

// DefaultTimeout bounds every outbound request. Retry policy belongs to
// the sync schedule, not the client.
const DefaultTimeout = 30 * time.Second

// Client talks to both API shapes. It keeps two underlying http.Clients,
// one verifying TLS and one skipping verification, selected per call by
// the environment's per-source setting.
type Client struct {
	verified *http.Client
	insecure *http.Client
	scheme   string
}

// NewClient creates a Client with the given per-request timeout. A
// non-positive timeout falls back to DefaultTimeout.
func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	insecureTransport := http.DefaultTransport.(*http.Transport).Clone()
	insecureTransport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} // #nosec G402 -- operator opt-in per source

	return &Client{
		verified: &http.Client{Timeout: timeout},
		insecure: &http.Client{Timeout: timeout, Transport: insecureTransport},
		scheme:   "https",
	}
}

// NewClientWithScheme creates a Client that builds plain-scheme URLs.
// Intended for tests against httptest servers.
func NewClientWithScheme(scheme string, timeout time.Duration) *Client {
	c := NewClient(timeout)
	c.scheme = scheme
	return c
}

func (c *Client) httpClient(verifyTLS bool) *http.Client {
	if verifyTLS {
		return c.verified
	}
	return c.insecure
}

func (c *Client) url(host, path string) string {
	return fmt.Sprintf("%s://%s%s", c.scheme, host, path)
}

// Authenticate obtains a bearer token via POST /v1/tokens.
func (c *Client) Authenticate(ctx context.Context, host, username, password string, verifyTLS bool) (string, error) {
	payload, err := json.Marshal(map[string]string{
		"username": username,
		"password": password,
	})
	if err != nil {
		return "", fmt.Errorf("marshal token request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(host, "/v1/tokens"), bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var body struct {
		AccessToken string `json:"accessToken"`
	}
	if err := c.do(req, host, verifyTLS, &body); err != nil {
		return "", err
	}
	if body.AccessToken == "" {
		return "", &APIError{Kind: KindUnknown, Host: host, Err: fmt.Errorf("token response missing accessToken")}
	}

	slog.Debug("token obtained", "host", host)
	return body.AccessToken, nil
}

// ListInstallerSDDCs returns the ids of the installer's SDDC deployments.
func (c *Client) ListInstallerSDDCs(ctx context.Context, host, token string, verifyTLS bool) ([]string, error) {
	var body struct {
		Elements []struct {
			ID string `json:"id"`
		} `json:"elements"`
	}
	if err := c.get(ctx, host, "/v1/sddcs", token, verifyTLS, &body); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(body.Elements))
	for _, e := range body.Elements {
		if e.ID != "" {
			ids = append(ids, e.ID)
		}
	}
	return ids, nil
}

// FetchInstallerSpec returns one SDDC's raw deployment spec document.
func (c *Client) FetchInstallerSpec(ctx context.Context, host, token, sddcID string, verifyTLS bool) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := c.get(ctx, host, "/v1/sddcs/"+sddcID+"/spec", token, verifyTLS, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// FetchInstallerCredentials lists SDDCs and extracts credential records
// from each spec. A failure fetching or parsing one spec skips that SDDC
// and continues with the rest.
func (c *Client) FetchInstallerCredentials(ctx context.Context, host, token string, verifyTLS bool) ([]model.CredentialRecord, error) {
	ids, err := c.ListInstallerSDDCs(ctx, host, token, verifyTLS)
	if err != nil {
		return nil, err
	}
	slog.Debug("installer sddcs listed", "host", host, "count", len(ids))

	records := make([]model.CredentialRecord, 0)
	for _, id := range ids {
		spec, err := c.FetchInstallerSpec(ctx, host, token, id, verifyTLS)
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			slog.Error("sddc spec fetch failed, skipping", "host", host, "sddc", id, "error", err)
			continue
		}

		creds := ParseInstallerSpec(spec)
		slog.Debug("sddc spec parsed", "host", host, "sddc", id, "credentials", len(creds))
		records = append(records, creds...)
	}

	return records, nil
}

// managerCredential is the wire shape of one SDDC Manager inventory entry.
type managerCredential struct {
	Username       string `json:"username"`
	Password       string `json:"password"`
	CredentialType string `json:"credentialType"`
	AccountType    string `json:"accountType"`
	Resource       struct {
		ResourceName string `json:"resourceName"`
		ResourceType string `json:"resourceType"`
		DomainName   string `json:"domainName"`
	} `json:"resource"`
}

// FetchManagerCredentials lists the SDDC Manager credential inventory.
// Each element already represents one identity; extraction is a direct
// field projection.
func (c *Client) FetchManagerCredentials(ctx context.Context, host, token string, verifyTLS bool) ([]model.CredentialRecord, error) {
	var body struct {
		Elements []managerCredential `json:"elements"`
	}
	if err := c.get(ctx, host, "/v1/credentials", token, verifyTLS, &body); err != nil {
		return nil, err
	}
	slog.Debug("manager credentials listed", "host", host, "count", len(body.Elements))

	records := make([]model.CredentialRecord, 0, len(body.Elements))
	for _, e := range body.Elements {
		records = append(records, model.CredentialRecord{
			Hostname:       e.Resource.ResourceName,
			Username:       e.Username,
			Password:       e.Password,
			CredentialType: e.CredentialType,
			AccountType:    e.AccountType,
			ResourceType:   e.Resource.ResourceType,
			DomainName:     e.Resource.DomainName,
			Source:         model.SourceManager,
		}.Normalized())
	}

	return records, nil
}

// get performs an authenticated GET and decodes the JSON response.
func (c *Client) get(ctx context.Context, host, path, token string, verifyTLS bool, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url(host, path), nil)
	if err != nil {
		return fmt.Errorf("build request for %s: %w", path, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	return c.do(req, host, verifyTLS, out)
}

// do executes the request, classifies failures, and decodes the body.
func (c *Client) do(req *http.Request, host string, verifyTLS bool, out any) error {
	resp, err := c.httpClient(verifyTLS).Do(req)
	if err != nil {
		return classifyTransport(host, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return classifyStatus(host, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &APIError{Kind: KindUnknown, Host: host, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}
