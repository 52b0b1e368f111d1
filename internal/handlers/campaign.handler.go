package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"github.com/fasthttp/router"
	"github.com/reachforge/outreach-engine/internal/model"
	"github.com/reachforge/outreach-engine/internal/repository"
	"github.com/reachforge/outreach-engine/internal/services"
	xhttp "github.com/reachforge/outreach-engine/pkg/http"
)

type CampaignService interface {
	Create(ctx context.Context, p model.CampaignCreateRequest) (*model.Campaign, error)
	Get(ctx context.Context, id int64) (*model.Campaign, error)
	List(ctx context.Context, accountID *int64) ([]*model.Campaign, error)
	Activate(ctx context.Context, id int64) (*model.Campaign, error)
	Pause(ctx context.Context, id int64) (*model.Campaign, error)
	Stop(ctx context.Context, id int64) (*model.Campaign, error)
	Enroll(ctx context.Context, campaignID int64, batch []model.EnrollContact) (int, error)
	Contacts(ctx context.Context, f model.ContactFilter) ([]*model.CampaignContact, error)
	Activities(ctx context.Context, f model.ActivityFilter) ([]*model.CampaignActivity, int64, error)
}

type AccountService interface {
	Create(ctx context.Context, a *model.OutreachAccount) (*model.OutreachAccount, error)
	Get(ctx context.Context, id int64) (*model.OutreachAccount, error)
	UpdateDailyLimit(ctx context.Context, id int64, limit int) (*model.OutreachAccount, error)
}

type DispatchRunner interface {
	Run(ctx context.Context, campaignID int64) (*model.DispatchReport, error)
	RunFollowUps(ctx context.Context, campaignID int64) (*model.FollowUpReport, error)
}

type ReconcileRunner interface {
	Run(ctx context.Context, campaignID int64) (*model.ReconcileReport, error)
}

type StatsReader interface {
	DailyStats(ctx context.Context, campaignID int64, limit int) ([]*model.DailyStat, error)
	Recompute(ctx context.Context, campaignID int64) (*model.CampaignTotals, error)
}

type CampaignHandler struct {
	campaigns CampaignService
	accounts  AccountService
	dispatch  DispatchRunner
	reconcile ReconcileRunner
	stats     StatsReader
}

func RegisterCampaignRoutes(e *router.Group, h *CampaignHandler) {
	e.POST("/accounts", h.CreateAccount)
	e.GET("/accounts/{id}", h.GetAccount)
	e.POST("/accounts/{id}/daily-limit", h.UpdateAccountDailyLimit)

	e.POST("/campaigns", h.CreateCampaign)
	e.GET("/campaigns", h.ListCampaigns)
	e.GET("/campaigns/{id}", h.GetCampaign)
	e.POST("/campaigns/{id}/activate", h.ActivateCampaign)
	e.POST("/campaigns/{id}/pause", h.PauseCampaign)
	e.POST("/campaigns/{id}/stop", h.StopCampaign)
	e.POST("/campaigns/{id}/contacts", h.EnrollContacts)
	e.GET("/campaigns/{id}/contacts", h.ListContacts)
	e.GET("/campaigns/{id}/activities", h.ListActivities)
	e.GET("/campaigns/{id}/stats/daily", h.ListDailyStats)
	e.POST("/campaigns/{id}/dispatch", h.RunDispatch)
	e.POST("/campaigns/{id}/follow-ups", h.RunFollowUps)
	e.POST("/campaigns/{id}/reconcile", h.RunReconcile)
	e.POST("/campaigns/{id}/recompute", h.RecomputeTotals)
}

func NewCampaignHandler(campaigns CampaignService, accounts AccountService, dispatch DispatchRunner, reconcile ReconcileRunner, stats StatsReader) *CampaignHandler {
	return &CampaignHandler{
		campaigns: campaigns,
		accounts:  accounts,
		dispatch:  dispatch,
		reconcile: reconcile,
		stats:     stats,
	}
}

type createAccountRequest struct {
	UserID            int64  `json:"user_id"`
	ProviderAccountID string `json:"provider_account_id"`
	DailyLimit        int    `json:"daily_limit"`
}

type createCampaignRequest struct {
	AccountID         int64  `json:"account_id"`
	Name              string `json:"name"`
	DailyLimit        *int   `json:"daily_limit,omitempty"`
	ConnectionMessage string `json:"connection_message"`
	FollowUpMessage   string `json:"follow_up_message"`
	FollowUpDelayDays int    `json:"follow_up_delay_days"`
	PipelineID        *int64 `json:"pipeline_id,omitempty"`
	Timezone          string `json:"timezone"`
}

type enrollRequest struct {
	Contacts []model.EnrollContact `json:"contacts"`
}

type enrollResponse struct {
	Enrolled int `json:"enrolled"`
	Skipped  int `json:"skipped"`
}

type activityListResponse struct {
	Items []*model.CampaignActivity `json:"items"`
	Total int64                     `json:"total"`
}

/* --------------------------------- Accounts --------------------------------- */

func (h *CampaignHandler) CreateAccount(ctx *xhttp.RequestCtx) {
	var req createAccountRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, 400, "invalid JSON: "+err.Error())
		return
	}

	account, err := h.accounts.Create(ctx, &model.OutreachAccount{
		UserID:            req.UserID,
		ProviderAccountID: req.ProviderAccountID,
		DailyLimit:        req.DailyLimit,
	})
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, 201, account)
}

func (h *CampaignHandler) GetAccount(ctx *xhttp.RequestCtx) {
	id, err := pathInt64(ctx, "id")
	if err != nil {
		writeError(ctx, 400, "invalid account id")
		return
	}
	account, err := h.accounts.Get(ctx, id)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, 200, account)
}

func (h *CampaignHandler) UpdateAccountDailyLimit(ctx *xhttp.RequestCtx) {
	id, err := pathInt64(ctx, "id")
	if err != nil {
		writeError(ctx, 400, "invalid account id")
		return
	}

	var req struct {
		DailyLimit int `json:"daily_limit"`
	}
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, 400, "invalid JSON: "+err.Error())
		return
	}
	if req.DailyLimit < 0 {
		writeError(ctx, 400, "daily_limit must be >= 0")
		return
	}

	account, err := h.accounts.UpdateDailyLimit(ctx, id, req.DailyLimit)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, 200, account)
}

/* --------------------------------- Campaigns -------------------------------- */

func (h *CampaignHandler) CreateCampaign(ctx *xhttp.RequestCtx) {
	var req createCampaignRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, 400, "invalid JSON: "+err.Error())
		return
	}

	campaign, err := h.campaigns.Create(ctx, model.CampaignCreateRequest{
		AccountID:         req.AccountID,
		Name:              req.Name,
		DailyLimit:        req.DailyLimit,
		ConnectionMessage: req.ConnectionMessage,
		FollowUpMessage:   req.FollowUpMessage,
		FollowUpDelayDays: req.FollowUpDelayDays,
		PipelineID:        req.PipelineID,
		Timezone:          req.Timezone,
	})
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, 201, campaign)
}

func (h *CampaignHandler) ListCampaigns(ctx *xhttp.RequestCtx) {
	var accountID *int64
	if v := query(ctx, "account_id"); v != "" {
		if id, e := strconv.ParseInt(v, 10, 64); e == nil {
			accountID = &id
		}
	}
	campaigns, err := h.campaigns.List(ctx, accountID)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, 200, campaigns)
}

func (h *CampaignHandler) GetCampaign(ctx *xhttp.RequestCtx) {
	id, err := pathInt64(ctx, "id")
	if err != nil {
		writeError(ctx, 400, "invalid campaign id")
		return
	}
	campaign, err := h.campaigns.Get(ctx, id)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, 200, campaign)
}

func (h *CampaignHandler) ActivateCampaign(ctx *xhttp.RequestCtx) {
	h.setCampaignStatus(ctx, h.campaigns.Activate)
}

func (h *CampaignHandler) PauseCampaign(ctx *xhttp.RequestCtx) {
	h.setCampaignStatus(ctx, h.campaigns.Pause)
}

func (h *CampaignHandler) StopCampaign(ctx *xhttp.RequestCtx) {
	h.setCampaignStatus(ctx, h.campaigns.Stop)
}

func (h *CampaignHandler) setCampaignStatus(ctx *xhttp.RequestCtx, change func(context.Context, int64) (*model.Campaign, error)) {
	id, err := pathInt64(ctx, "id")
	if err != nil {
		writeError(ctx, 400, "invalid campaign id")
		return
	}
	campaign, err := change(ctx, id)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, 200, campaign)
}

func (h *CampaignHandler) EnrollContacts(ctx *xhttp.RequestCtx) {
	id, err := pathInt64(ctx, "id")
	if err != nil {
		writeError(ctx, 400, "invalid campaign id")
		return
	}

	var req enrollRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, 400, "invalid JSON: "+err.Error())
		return
	}
	if len(req.Contacts) == 0 {
		writeError(ctx, 400, "contacts is required")
		return
	}

	added, err := h.campaigns.Enroll(ctx, id, req.Contacts)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, 200, enrollResponse{Enrolled: added, Skipped: len(req.Contacts) - added})
}

func (h *CampaignHandler) ListContacts(ctx *xhttp.RequestCtx) {
	id, err := pathInt64(ctx, "id")
	if err != nil {
		writeError(ctx, 400, "invalid campaign id")
		return
	}

	f := model.ContactFilter{CampaignID: &id, OldestFirst: true}
	if v := query(ctx, "status"); v != "" {
		for _, part := range strings.Split(v, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			status := model.ContactStatus(part)
			if !status.Valid() {
				writeError(ctx, 400, "invalid status: "+part)
				return
			}
			f.Statuses = append(f.Statuses, status)
		}
	}
	if v := query(ctx, "limit"); v != "" {
		if n, e := strconv.Atoi(v); e == nil {
			f.Limit = n
		}
	}

	contacts, err := h.campaigns.Contacts(ctx, f)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, 200, contacts)
}

func (h *CampaignHandler) ListActivities(ctx *xhttp.RequestCtx) {
	id, err := pathInt64(ctx, "id")
	if err != nil {
		writeError(ctx, 400, "invalid campaign id")
		return
	}

	f := model.ActivityFilter{CampaignID: id}
	if v := query(ctx, "kind"); v != "" {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				f.Kinds = append(f.Kinds, model.ActivityKind(part))
			}
		}
	}
	if v := query(ctx, "limit"); v != "" {
		if n, e := strconv.Atoi(v); e == nil {
			f.Limit = n
		}
	}
	if v := query(ctx, "offset"); v != "" {
		if n, e := strconv.Atoi(v); e == nil {
			f.Offset = n
		}
	}

	items, total, err := h.campaigns.Activities(ctx, f)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, 200, activityListResponse{Items: items, Total: total})
}

func (h *CampaignHandler) ListDailyStats(ctx *xhttp.RequestCtx) {
	id, err := pathInt64(ctx, "id")
	if err != nil {
		writeError(ctx, 400, "invalid campaign id")
		return
	}

	limit := 30
	if v := query(ctx, "limit"); v != "" {
		if n, e := strconv.Atoi(v); e == nil && n > 0 {
			limit = n
		}
	}

	stats, err := h.stats.DailyStats(ctx, id, limit)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, 200, stats)
}

/* ------------------------------ Batch triggers ------------------------------- */

func (h *CampaignHandler) RunDispatch(ctx *xhttp.RequestCtx) {
	id, err := pathInt64(ctx, "id")
	if err != nil {
		writeError(ctx, 400, "invalid campaign id")
		return
	}
	report, err := h.dispatch.Run(ctx, id)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, 200, report)
}

func (h *CampaignHandler) RunFollowUps(ctx *xhttp.RequestCtx) {
	id, err := pathInt64(ctx, "id")
	if err != nil {
		writeError(ctx, 400, "invalid campaign id")
		return
	}
	report, err := h.dispatch.RunFollowUps(ctx, id)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, 200, report)
}

func (h *CampaignHandler) RunReconcile(ctx *xhttp.RequestCtx) {
	id, err := pathInt64(ctx, "id")
	if err != nil {
		writeError(ctx, 400, "invalid campaign id")
		return
	}
	report, err := h.reconcile.Run(ctx, id)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, 200, report)
}

func (h *CampaignHandler) RecomputeTotals(ctx *xhttp.RequestCtx) {
	id, err := pathInt64(ctx, "id")
	if err != nil {
		writeError(ctx, 400, "invalid campaign id")
		return
	}
	totals, err := h.stats.Recompute(ctx, id)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, 200, totals)
}

/* --------------------------------- Helpers ----------------------------------- */

// writeServiceError maps service errors onto HTTP statuses.
func writeServiceError(ctx *xhttp.RequestCtx, err error) {
	switch {
	case errors.Is(err, repository.ErrCampaignNotFound),
		errors.Is(err, repository.ErrAccountNotFound),
		errors.Is(err, repository.ErrContactNotFound):
		writeError(ctx, 404, err.Error())
	case errors.Is(err, services.ErrRunInProgress),
		errors.Is(err, services.ErrCampaignNotActive),
		errors.Is(err, services.ErrInvalidStatusChange),
		errors.Is(err, services.ErrCampaignClosed):
		writeError(ctx, 409, err.Error())
	default:
		writeError(ctx, 400, err.Error())
	}
}

func readJSON(ctx *xhttp.RequestCtx, dst any) error {
	body := ctx.PostBody()
	return json.Unmarshal(body, dst)
}

func writeJSON(ctx *xhttp.RequestCtx, status int, v any) {
	// plain encoder, error strings like ">= 0" must not be HTML-escaped
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
	ctx.Response.Header.Set("Content-Type", "application/json; charset=utf-8")
	ctx.Response.SetStatusCode(status)
	ctx.Response.SetBodyRaw(buf.Bytes())
}

func writeError(ctx *xhttp.RequestCtx, status int, msg string) {
	writeJSON(ctx, status, map[string]string{"error": msg})
}

func pathInt64(ctx *xhttp.RequestCtx, name string) (int64, error) {
	v, _ := ctx.UserValue(name).(string)
	return strconv.ParseInt(v, 10, 64)
}

func query(ctx *xhttp.RequestCtx, key string) string {
	return string(ctx.QueryArgs().Peek(key))
}

