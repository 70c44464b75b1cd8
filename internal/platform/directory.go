// Package platform holds the HTTP clients for the three external
// collaborators: the account directory, the content variation service, and
// the publish gateway. Each collaborator contract is declared as an
// interface in the package that consumes it; this package provides the real
// implementations and owns the mapping from HTTP failures into the error
// taxonomy.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/talhaakhtargithub/insta-distribution-sub000/internal/config"
	"github.com/talhaakhtargithub/insta-distribution-sub000/internal/domain"
	"github.com/talhaakhtargithub/insta-distribution-sub000/internal/pkg/httpretry"
)

// DirectoryClient talks to the account directory service. It serves both the
// candidate snapshot reads for selection and the auto-pause writes from the
// executor.
type DirectoryClient struct {
	baseURL    string
	httpClient httpretry.HTTPDoer
}

// NewDirectoryClient creates a directory client with retrying transport.
func NewDirectoryClient(cfg config.PlatformConfig) *DirectoryClient {
	return &DirectoryClient{
		baseURL: cfg.DirectoryBaseURL,
		httpClient: httpretry.NewRetryClient(&http.Client{
			Timeout: cfg.Timeout(),
		}, 3),
	}
}

// SetHTTPClient sets a custom HTTP client (useful for testing).
func (c *DirectoryClient) SetHTTPClient(client httpretry.HTTPDoer) {
	c.httpClient = client
}

// Candidates returns the current account pool snapshot, optionally filtered
// by niche.
func (c *DirectoryClient) Candidates(ctx context.Context, niche string) ([]domain.AccountCandidate, error) {
	endpoint := c.baseURL + "/api/accounts"
	if niche != "" {
		endpoint += "?niche=" + url.QueryEscape(niche)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build candidates request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch candidates: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("directory returned status %d: %s", resp.StatusCode, string(body))
	}

	var payload struct {
		Accounts []domain.AccountCandidate `json:"accounts"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode candidates: %w", err)
	}
	return payload.Accounts, nil
}

// SetPaused emits the auto-pause signal for one account. The directory owns
// the state machine; this call is fire-and-report.
func (c *DirectoryClient) SetPaused(ctx context.Context, accountID, reason string) error {
	body, err := json.Marshal(map[string]string{"reason": reason})
	if err != nil {
		return fmt.Errorf("marshal pause request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/api/accounts/%s/pause", c.baseURL, url.PathEscape(accountID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build pause request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("pause account %s: %w", accountID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("directory pause returned status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// Quota introspection for the API layer needs account class and age; the
// directory is also the source for a single account snapshot.
func (c *DirectoryClient) Account(ctx context.Context, accountID string) (*domain.AccountCandidate, error) {
	endpoint := fmt.Sprintf("%s/api/accounts/%s", c.baseURL, url.PathEscape(accountID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build account request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch account %s: %w", accountID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrAccountNotFound
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("directory returned status %d: %s", resp.StatusCode, string(body))
	}

	var acct domain.AccountCandidate
	if err := json.NewDecoder(resp.Body).Decode(&acct); err != nil {
		return nil, fmt.Errorf("decode account: %w", err)
	}
	return &acct, nil
}

// retryAfter parses a Retry-After header into a duration, 0 when absent.
func retryAfter(resp *http.Response) time.Duration {
	s := resp.Header.Get("Retry-After")
	if s == "" {
		return 0
	}
	var secs int
	if _, err := fmt.Sscanf(s, "%d", &secs); err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
