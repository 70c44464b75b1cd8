package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/time/rate"

	"github.com/talhaakhtargithub/insta-distribution-sub000/internal/config"
	"github.com/talhaakhtargithub/insta-distribution-sub000/internal/domain"
	"github.com/talhaakhtargithub/insta-distribution-sub000/internal/pkg/httpretry"
)

// PublishClient performs publish attempts against the platform gateway.
//
// It deliberately uses a non-retrying transport: retry policy for publishes
// belongs to the executor, which owns the taxonomy, the backoff schedule,
// and the idempotency key that makes a retry safe. A process-wide rate
// limiter caps aggregate publish pressure regardless of how many workers
// are draining jobs.
type PublishClient struct {
	baseURL    string
	limiter    *rate.Limiter
	httpClient httpretry.HTTPDoer
}

// NewPublishClient creates a publish client with the configured global rate
// ceiling.
func NewPublishClient(cfg config.PlatformConfig) *PublishClient {
	return &PublishClient{
		baseURL: cfg.PublishBaseURL,
		limiter: rate.NewLimiter(rate.Limit(cfg.PublishRatePerSec), cfg.PublishBurst),
		httpClient: &http.Client{
			Timeout: cfg.Timeout(),
		},
	}
}

// SetHTTPClient sets a custom HTTP client (useful for testing).
func (c *PublishClient) SetHTTPClient(client httpretry.HTTPDoer) {
	c.httpClient = client
}

type publishRequest struct {
	AccountID string `json:"account_id"`
	VariantID string `json:"variant_id"`
}

type publishResponse struct {
	PostID string `json:"post_id"`
	Error  struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Publish posts one variant from one account. Failures come back as
// *domain.PublishError carrying the taxonomy category; transport errors are
// returned raw for domain.Classify to handle.
func (c *PublishClient) Publish(ctx context.Context, accountID, variantID, idempotencyKey string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("publish rate wait: %w", err)
	}

	body, err := json.Marshal(publishRequest{AccountID: accountID, VariantID: variantID})
	if err != nil {
		return "", fmt.Errorf("marshal publish request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/publish", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build publish request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", idempotencyKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", domain.NewPublishError(domain.ErrNetwork, "read publish response", err)
	}

	var payload publishResponse
	// An unparseable body on an error status still classifies by status.
	_ = json.Unmarshal(respBody, &payload)

	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated {
		if payload.PostID == "" {
			return "", domain.NewPublishError(domain.ErrUnknown, "publish succeeded without a post id", nil)
		}
		return payload.PostID, nil
	}

	return "", classifyResponse(resp, payload)
}

// classifyResponse maps a non-2xx publish response into the taxonomy. The
// 403 family needs the payload code: the platform reports checkpoint
// challenges and shadowbans with the same status.
func classifyResponse(resp *http.Response, payload publishResponse) *domain.PublishError {
	msg := payload.Error.Message
	if msg == "" {
		msg = fmt.Sprintf("status %d", resp.StatusCode)
	}

	var category domain.ErrorCategory
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		category = domain.ErrRateLimit
		if d := retryAfter(resp); d > 0 {
			msg = fmt.Sprintf("%s (retry after %s)", msg, d)
		}
	case resp.StatusCode == http.StatusUnauthorized:
		category = domain.ErrAuthentication
	case resp.StatusCode == http.StatusForbidden:
		switch payload.Error.Code {
		case "checkpoint_required":
			category = domain.ErrCheckpoint
		case "shadowban":
			category = domain.ErrShadowban
		default:
			category = domain.ErrForbidden
		}
	case resp.StatusCode == http.StatusUnsupportedMediaType,
		resp.StatusCode == http.StatusUnprocessableEntity:
		category = domain.ErrMedia
	case resp.StatusCode >= 500:
		category = domain.ErrNetwork
	default:
		category = domain.ErrUnknown
	}

	return domain.NewPublishError(category, msg, nil)
}
