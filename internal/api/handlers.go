package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/talhaakhtargithub/insta-distribution-sub000/internal/domain"
	"github.com/talhaakhtargithub/insta-distribution-sub000/internal/orchestrator"
	"github.com/talhaakhtargithub/insta-distribution-sub000/internal/platform"
	"github.com/talhaakhtargithub/insta-distribution-sub000/internal/pkg/httputil"
	"github.com/talhaakhtargithub/insta-distribution-sub000/internal/quota"
)

// DistributionService is the orchestrator surface the handlers call.
type DistributionService interface {
	Start(ctx context.Context, req domain.DistributionRequest) (*domain.DistributionRun, error)
	Preview(ctx context.Context, req domain.DistributionRequest) (*domain.RiskAssessment, error)
	Status(ctx context.Context, runID string) (*domain.DistributionRun, error)
	List(ctx context.Context, filter orchestrator.ListFilter) ([]domain.DistributionRun, error)
	Cancel(ctx context.Context, runID string) (*domain.DistributionRun, error)
}

// AccountDirectory supplies single-account snapshots for quota introspection.
type AccountDirectory interface {
	Account(ctx context.Context, accountID string) (*domain.AccountCandidate, error)
}

// QuotaReader reads sliding-window state without consuming it.
type QuotaReader interface {
	Capacity(class domain.AccountClass, ageDays int, w quota.Window) int
	Remaining(ctx context.Context, accountID string, class domain.AccountClass, ageDays int, w quota.Window) (int, error)
}

// Handlers holds the HTTP handlers and their dependencies.
type Handlers struct {
	svc       DistributionService
	directory AccountDirectory
	quota     QuotaReader
}

// NewHandlers creates the handler set.
func NewHandlers(svc DistributionService, directory AccountDirectory, quotaReader QuotaReader) *Handlers {
	return &Handlers{svc: svc, directory: directory, quota: quotaReader}
}

// startRequest is the wire form of a distribution request.
type startRequest struct {
	ContentRef  string   `json:"content_ref"`
	Count       int      `json:"count"`
	Niche       string   `json:"niche"`
	ExcludeIDs  []string `json:"exclude_ids"`
	WindowHours float64  `json:"window_hours"`
}

func (s startRequest) toDomain() domain.DistributionRequest {
	return domain.DistributionRequest{
		ContentRef: s.ContentRef,
		Count:      s.Count,
		Niche:      s.Niche,
		ExcludeIDs: s.ExcludeIDs,
		Window:     time.Duration(s.WindowHours * float64(time.Hour)),
	}
}

// runResponse wraps a run with its window in seconds and a terminal flag so
// pollers don't need to re-derive completion.
type runResponse struct {
	*domain.DistributionRun
	WindowSeconds int  `json:"window_seconds"`
	Terminal      bool `json:"terminal"`
}

func toRunResponse(run *domain.DistributionRun) runResponse {
	return runResponse{
		DistributionRun: run,
		WindowSeconds:   int(run.Window.Seconds()),
		Terminal:        run.Terminal(),
	}
}

// HealthCheck reports liveness.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, map[string]string{"status": "ok", "service": "distribution-core"})
}

// StartDistribution accepts a fan-out request. The work continues after the
// response: 202 carries the run to poll. A risk block is a 400 carrying the
// run and its assessment so the caller can see which factors fired.
func (h *Handlers) StartDistribution(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if !httputil.Decode(w, r, &req) {
		return
	}

	run, err := h.svc.Start(r.Context(), req.toDomain())
	switch {
	case errors.Is(err, orchestrator.ErrRunBlocked):
		httputil.ErrorWithDetails(w, http.StatusBadRequest,
			"distribution blocked by risk assessment", toRunResponse(run))
	case errors.Is(err, domain.ErrInvalidRequest):
		httputil.BadRequest(w, err.Error())
	case err != nil:
		httputil.InternalError(w, err)
	default:
		httputil.Accepted(w, toRunResponse(run))
	}
}

// PreviewDistribution scores a request without creating a run.
func (h *Handlers) PreviewDistribution(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if !httputil.Decode(w, r, &req) {
		return
	}

	assessment, err := h.svc.Preview(r.Context(), req.toDomain())
	switch {
	case errors.Is(err, domain.ErrInvalidRequest):
		httputil.BadRequest(w, err.Error())
	case err != nil:
		httputil.InternalError(w, err)
	default:
		httputil.OK(w, assessment)
	}
}

// GetDistribution returns one run snapshot.
func (h *Handlers) GetDistribution(w http.ResponseWriter, r *http.Request) {
	run, err := h.svc.Status(r.Context(), chi.URLParam(r, "runID"))
	switch {
	case errors.Is(err, orchestrator.ErrRunNotFound):
		httputil.NotFound(w, "distribution run not found")
	case err != nil:
		httputil.InternalError(w, err)
	default:
		httputil.OK(w, toRunResponse(run))
	}
}

// ListDistributions returns runs newest first, optionally filtered by status.
func (h *Handlers) ListDistributions(w http.ResponseWriter, r *http.Request) {
	filter := orchestrator.ListFilter{
		Status: domain.RunStatus(r.URL.Query().Get("status")),
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		filter.Limit, _ = strconv.Atoi(v)
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		filter.Offset, _ = strconv.Atoi(v)
	}

	runs, err := h.svc.List(r.Context(), filter)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}

	out := make([]runResponse, 0, len(runs))
	for i := range runs {
		out = append(out, toRunResponse(&runs[i]))
	}
	httputil.OK(w, map[string]interface{}{"distributions": out, "count": len(out)})
}

// CancelDistribution halts a run. Idempotent: repeated cancels return the
// halted run again.
func (h *Handlers) CancelDistribution(w http.ResponseWriter, r *http.Request) {
	run, err := h.svc.Cancel(r.Context(), chi.URLParam(r, "runID"))
	switch {
	case errors.Is(err, orchestrator.ErrRunNotFound):
		httputil.NotFound(w, "distribution run not found")
	case err != nil:
		httputil.InternalError(w, err)
	default:
		httputil.OK(w, toRunResponse(run))
	}
}

type windowStatus struct {
	Capacity  int `json:"capacity"`
	Remaining int `json:"remaining"`
}

// GetAccountQuota reports how much sliding-window capacity an account has
// left in each window.
func (h *Handlers) GetAccountQuota(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")

	acct, err := h.directory.Account(r.Context(), accountID)
	switch {
	case errors.Is(err, platform.ErrAccountNotFound):
		httputil.NotFound(w, "account not found")
		return
	case err != nil:
		httputil.InternalError(w, err)
		return
	}

	out := map[string]interface{}{"account_id": accountID, "class": acct.Class}
	for _, win := range []quota.Window{quota.Hourly, quota.Daily} {
		remaining, err := h.quota.Remaining(r.Context(), accountID, acct.Class, acct.AgeDays, win)
		if err != nil {
			httputil.InternalError(w, err)
			return
		}
		out[string(win)] = windowStatus{
			Capacity:  h.quota.Capacity(acct.Class, acct.AgeDays, win),
			Remaining: remaining,
		}
	}
	httputil.OK(w, out)
}
