package platform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/talhaakhtargithub/insta-distribution-sub000/internal/config"
	"github.com/talhaakhtargithub/insta-distribution-sub000/internal/pkg/httpretry"
)

var (
	// ErrAccountNotFound is returned when the directory has no such account.
	ErrAccountNotFound = errors.New("account not found")

	// ErrNoVariant is returned when no variant exists for the account.
	ErrNoVariant = errors.New("no variant available for account")
)

// VariationClient resolves the per-account content variant. Every account in
// a run must publish a distinct variant; the variation service owns that
// assignment.
type VariationClient struct {
	baseURL    string
	httpClient httpretry.HTTPDoer
}

// NewVariationClient creates a variation client with retrying transport.
func NewVariationClient(cfg config.PlatformConfig) *VariationClient {
	return &VariationClient{
		baseURL: cfg.VariationBaseURL,
		httpClient: httpretry.NewRetryClient(&http.Client{
			Timeout: cfg.Timeout(),
		}, 3),
	}
}

// SetHTTPClient sets a custom HTTP client (useful for testing).
func (c *VariationClient) SetHTTPClient(client httpretry.HTTPDoer) {
	c.httpClient = client
}

// Variant returns the variant ID assigned to the account for this content.
func (c *VariationClient) Variant(ctx context.Context, contentRef, accountID string) (string, error) {
	endpoint := fmt.Sprintf("%s/api/variants?content_ref=%s&account_id=%s",
		c.baseURL, url.QueryEscape(contentRef), url.QueryEscape(accountID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("build variant request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch variant: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", ErrNoVariant
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("variation service returned status %d: %s", resp.StatusCode, string(body))
	}

	var payload struct {
		VariantID string `json:"variant_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode variant: %w", err)
	}
	if payload.VariantID == "" {
		return "", ErrNoVariant
	}
	return payload.VariantID, nil
}
