// Package handlers provides HTTP handlers for account operations.
package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/moneta/internal/domain"
	"github.com/aristath/moneta/internal/modules/accounts"
	"github.com/aristath/moneta/internal/modules/activities"
	"github.com/aristath/moneta/internal/modules/lots"
	"github.com/aristath/moneta/internal/modules/securities"
	"github.com/aristath/moneta/internal/modules/valuation"
)

// Handler handles account HTTP requests
type Handler struct {
	service    *accounts.Service
	repo       *accounts.Repository
	activities *activities.Service
	actsRepo   *activities.Repository
	securities *securities.Repository
	dhv        *valuation.Repository
	lots       *lots.Repository
	loc        *time.Location
	log        zerolog.Logger
}

// NewHandler creates a new accounts handler
func NewHandler(
	service *accounts.Service,
	repo *accounts.Repository,
	activitiesService *activities.Service,
	actsRepo *activities.Repository,
	securitiesRepo *securities.Repository,
	dhv *valuation.Repository,
	lotsRepo *lots.Repository,
	loc *time.Location,
	log zerolog.Logger,
) *Handler {
	return &Handler{
		service:    service,
		repo:       repo,
		activities: activitiesService,
		actsRepo:   actsRepo,
		securities: securitiesRepo,
		dhv:        dhv,
		lots:       lotsRepo,
		loc:        loc,
		log:        log.With().Str("handler", "accounts").Logger(),
	}
}

// HoldingView is one holding row on the holdings endpoint: the latest
// daily value joined with its lot summary.
type HoldingView struct {
	SecurityID     string           `json:"security_id"`
	Ticker         string           `json:"ticker"`
	Name           string           `json:"name"`
	Quantity       decimal.Decimal  `json:"quantity"`
	ClosePrice     decimal.Decimal  `json:"close_price"`
	MarketValue    decimal.Decimal  `json:"market_value"`
	CostBasis      *decimal.Decimal `json:"cost_basis,omitempty"`
	AvgCostPerUnit *decimal.Decimal `json:"avg_cost_per_unit,omitempty"`
	OpenLotCount   int              `json:"open_lot_count"`
	UnrealizedGain *decimal.Decimal `json:"unrealized_gain,omitempty"`
	RealizedGain   *decimal.Decimal `json:"realized_gain,omitempty"`
	GainLossPct    *decimal.Decimal `json:"gain_loss_pct,omitempty"`
}

// HoldingsResponse is the payload for GET /api/accounts/{id}/holdings.
type HoldingsResponse struct {
	AccountID     string          `json:"account_id"`
	ValuationDate *domain.Date    `json:"valuation_date,omitempty"`
	TotalValue    decimal.Decimal `json:"total_value"`
	Holdings      []HoldingView   `json:"holdings"`
}

// HandleList handles GET /api/accounts
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	accts, err := h.service.ListWithValues()
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list accounts")
		http.Error(w, "Failed to list accounts", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, accts)
}

// HandleHoldings handles GET /api/accounts/{id}/holdings
func (h *Handler) HandleHoldings(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "id")
	acct, err := h.repo.GetByID(accountID)
	if err != nil {
		h.log.Error().Err(err).Str("account_id", accountID).Msg("Failed to load account")
		http.Error(w, "Failed to load account", http.StatusInternalServerError)
		return
	}
	if acct == nil {
		http.Error(w, "Account not found", http.StatusNotFound)
		return
	}

	rows, err := h.dhv.GetLatestForAccount(accountID)
	if err != nil {
		h.log.Error().Err(err).Str("account_id", accountID).Msg("Failed to load daily values")
		http.Error(w, "Failed to load holdings", http.StatusInternalServerError)
		return
	}
	summaries, err := h.lots.SummarizeAccount(accountID)
	if err != nil {
		h.log.Error().Err(err).Str("account_id", accountID).Msg("Failed to summarize lots")
		http.Error(w, "Failed to load holdings", http.StatusInternalServerError)
		return
	}

	resp := HoldingsResponse{
		AccountID:  accountID,
		TotalValue: decimal.Zero,
		Holdings:   []HoldingView{},
	}
	for _, row := range rows {
		if row.Ticker == domain.ZeroBalanceTicker {
			// A sentinel row means the account holds nothing; report
			// the valuation date with an empty list.
			d := row.ValuationDate
			resp.ValuationDate = &d
			continue
		}
		if resp.ValuationDate == nil {
			d := row.ValuationDate
			resp.ValuationDate = &d
		}

		view := HoldingView{
			SecurityID:  row.SecurityID,
			Ticker:      row.Ticker,
			Quantity:    row.Quantity,
			ClosePrice:  row.ClosePrice,
			MarketValue: row.MarketValue,
		}
		if sec, err := h.securities.GetByID(row.SecurityID); err == nil && sec != nil {
			view.Name = sec.Name
		}
		if summary, ok := summaries[row.SecurityID]; ok {
			cost := summary.CostBasis
			avg := summary.AvgCostPerUnit
			realized := summary.RealizedGain
			unrealized := row.MarketValue.Sub(cost)
			view.CostBasis = &cost
			view.AvgCostPerUnit = &avg
			view.OpenLotCount = summary.OpenLotCount
			view.RealizedGain = &realized
			view.UnrealizedGain = &unrealized
			if cost.IsPositive() {
				pct := unrealized.Div(cost).Mul(decimal.NewFromInt(100)).Round(2)
				view.GainLossPct = &pct
			}
		}
		resp.TotalValue = resp.TotalValue.Add(row.MarketValue)
		resp.Holdings = append(resp.Holdings, view)
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// HandleListActivities handles GET /api/accounts/{id}/activities
func (h *Handler) HandleListActivities(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "id")
	filter := activities.ListFilter{AccountID: accountID, Limit: 100}

	q := r.URL.Query()
	if t := q.Get("type"); t != "" {
		filter.Type = domain.ActivityType(t)
	}
	if rev := q.Get("reviewed"); rev != "" {
		b, err := strconv.ParseBool(rev)
		if err != nil {
			http.Error(w, "Invalid reviewed parameter", http.StatusBadRequest)
			return
		}
		filter.Reviewed = &b
	}
	if from := q.Get("from"); from != "" {
		d, err := domain.ParseDate(from)
		if err != nil {
			http.Error(w, "Invalid from date", http.StatusBadRequest)
			return
		}
		t := d.Time()
		filter.From = &t
	}
	if to := q.Get("to"); to != "" {
		d, err := domain.ParseDate(to)
		if err != nil {
			http.Error(w, "Invalid to date", http.StatusBadRequest)
			return
		}
		// Inclusive end of day.
		t := d.AddDays(1).Time()
		filter.To = &t
	}
	if limit := q.Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 1 || n > 1000 {
			http.Error(w, "Invalid limit parameter", http.StatusBadRequest)
			return
		}
		filter.Limit = n
	}
	if offset := q.Get("offset"); offset != "" {
		n, err := strconv.Atoi(offset)
		if err != nil || n < 0 {
			http.Error(w, "Invalid offset parameter", http.StatusBadRequest)
			return
		}
		filter.Offset = n
	}

	acts, err := h.actsRepo.List(filter)
	if err != nil {
		h.log.Error().Err(err).Str("account_id", accountID).Msg("Failed to list activities")
		http.Error(w, "Failed to list activities", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, acts)
}

// CreateActivityRequest is the body for POST /api/accounts/{id}/activities.
type CreateActivityRequest struct {
	ActivityDate string           `json:"activity_date"`
	Type         string           `json:"type"`
	Amount       decimal.Decimal  `json:"amount"`
	Ticker       *string          `json:"ticker,omitempty"`
	Units        *decimal.Decimal `json:"units,omitempty"`
	Price        *decimal.Decimal `json:"price,omitempty"`
	Currency     string           `json:"currency,omitempty"`
	Fee          *decimal.Decimal `json:"fee,omitempty"`
	Description  *string          `json:"description,omitempty"`
}

// HandleCreateActivity handles POST /api/accounts/{id}/activities
func (h *Handler) HandleCreateActivity(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "id")
	acct, err := h.repo.GetByID(accountID)
	if err != nil {
		h.log.Error().Err(err).Str("account_id", accountID).Msg("Failed to load account")
		http.Error(w, "Failed to load account", http.StatusInternalServerError)
		return
	}
	if acct == nil {
		http.Error(w, "Account not found", http.StatusNotFound)
		return
	}

	var req CreateActivityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Type) == "" {
		http.Error(w, "Activity type is required", http.StatusBadRequest)
		return
	}
	day, err := domain.ParseDate(req.ActivityDate)
	if err != nil {
		http.Error(w, "Invalid activity_date", http.StatusBadRequest)
		return
	}

	act, err := h.activities.CreateManual(activities.CreateManualInput{
		AccountID:    accountID,
		ActivityDate: time.Date(day.Year, day.Month, day.Day, 0, 0, 0, 0, h.loc).UTC(),
		Type:         domain.ActivityType(req.Type),
		Amount:       req.Amount,
		Ticker:       req.Ticker,
		Units:        req.Units,
		Price:        req.Price,
		Currency:     req.Currency,
		Fee:          req.Fee,
		Description:  req.Description,
	})
	if err != nil {
		h.log.Error().Err(err).Str("account_id", accountID).Msg("Failed to create activity")
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	h.writeJSON(w, http.StatusCreated, act)
}

// DeactivateRequest is the body for POST /api/accounts/{id}/deactivate.
type DeactivateRequest struct {
	CreateClosingSnapshot bool    `json:"create_closing_snapshot"`
	SupersededByAccountID *string `json:"superseded_by_account_id,omitempty"`
}

// HandleDeactivate handles POST /api/accounts/{id}/deactivate
func (h *Handler) HandleDeactivate(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "id")

	var req DeactivateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.service.Deactivate(accountID, req.SupersededByAccountID, req.CreateClosingSnapshot); err != nil {
		if strings.Contains(err.Error(), "not found") {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		h.log.Error().Err(err).Str("account_id", accountID).Msg("Failed to deactivate account")
		http.Error(w, "Failed to deactivate account", http.StatusInternalServerError)
		return
	}

	acct, err := h.repo.GetByID(accountID)
	if err != nil || acct == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	h.writeJSON(w, http.StatusOK, acct)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
