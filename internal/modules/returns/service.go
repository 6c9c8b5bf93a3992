package returns

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/moneta/internal/domain"
	"github.com/aristath/moneta/internal/modules/accounts"
	"github.com/aristath/moneta/internal/modules/activities"
	"github.com/aristath/moneta/internal/modules/snapshots"
	"github.com/aristath/moneta/internal/modules/valuation"
)

// ScopePortfolio and ScopeAll are the non-account scope names GetReturns
// accepts; anything else is treated as an account ID.
const (
	ScopeAll       = "all"
	ScopePortfolio = "portfolio"
	portfolioName  = "Portfolio"
)

// PeriodResult is the money-weighted return over one named window.
// IRR is cumulative over the window, never annualized; nil means the solver
// did not converge or there was nothing to measure.
type PeriodResult struct {
	Period            string          `json:"period"`
	StartDate         domain.Date     `json:"start_date"`
	EndDate           domain.Date     `json:"end_date"`
	StartValue        decimal.Decimal `json:"start_value"`
	EndValue          decimal.Decimal `json:"end_value"`
	IRR               *float64        `json:"irr"`
	HasSufficientData bool            `json:"has_sufficient_data"`
}

// ReturnSet is the per-period results for one scope.
type ReturnSet struct {
	ScopeID   string         `json:"scope_id"`
	ScopeName string         `json:"scope_name"`
	Periods   []PeriodResult `json:"periods"`
}

// Response is the full returns payload.
type Response struct {
	Portfolio *ReturnSet  `json:"portfolio,omitempty"`
	Accounts  []ReturnSet `json:"accounts"`
}

// Service computes money-weighted returns from the daily value table and
// the external cash-flow activities.
type Service struct {
	accounts *accounts.Repository
	snaps    *snapshots.Repository
	acts     *activities.Repository
	dhv      *valuation.Repository
	loc      *time.Location
	log      zerolog.Logger
}

// NewService creates a new returns service
func NewService(
	accountsRepo *accounts.Repository,
	snapsRepo *snapshots.Repository,
	actsRepo *activities.Repository,
	dhvRepo *valuation.Repository,
	loc *time.Location,
	log zerolog.Logger,
) *Service {
	return &Service{
		accounts: accountsRepo,
		snaps:    snapsRepo,
		acts:     actsRepo,
		dhv:      dhvRepo,
		loc:      loc,
		log:      log.With().Str("service", "returns").Logger(),
	}
}

// GetReturns computes the requested periods for the given scope. Unknown
// period names are rejected up front.
func (s *Service) GetReturns(scope string, periods []string) (*Response, error) {
	if len(periods) == 0 {
		periods = DefaultPeriods
	}
	today := domain.Today(s.loc)
	for _, p := range periods {
		if _, _, err := ResolvePeriod(p, today); err != nil {
			return nil, err
		}
	}

	resp := &Response{Accounts: []ReturnSet{}}

	switch scope {
	case ScopeAll, ScopePortfolio:
		all, err := s.accounts.GetAll()
		if err != nil {
			return nil, err
		}
		var portfolioIDs []string
		for _, a := range all {
			if a.IsActive && a.IncludeInAllocation {
				portfolioIDs = append(portfolioIDs, a.ID)
			}
		}
		set, err := s.computeSet(ScopePortfolio, portfolioName, portfolioIDs, periods, today)
		if err != nil {
			return nil, err
		}
		resp.Portfolio = set

		if scope == ScopeAll {
			for _, a := range all {
				if !a.IsActive {
					continue
				}
				acctSet, err := s.computeSet(a.ID, a.Name, []string{a.ID}, periods, today)
				if err != nil {
					return nil, err
				}
				resp.Accounts = append(resp.Accounts, *acctSet)
			}
		}
	default:
		acct, err := s.accounts.GetByID(scope)
		if err != nil {
			return nil, err
		}
		if acct == nil {
			return nil, fmt.Errorf("account %s not found", scope)
		}
		// Single-account scope ignores the active/allocation flags.
		set, err := s.computeSet(acct.ID, acct.Name, []string{acct.ID}, periods, today)
		if err != nil {
			return nil, err
		}
		resp.Accounts = append(resp.Accounts, *set)
	}

	return resp, nil
}

func (s *Service) computeSet(scopeID, scopeName string, accountIDs []string, periods []string, today domain.Date) (*ReturnSet, error) {
	set := &ReturnSet{ScopeID: scopeID, ScopeName: scopeName}
	for _, p := range periods {
		start, end, err := ResolvePeriod(p, today)
		if err != nil {
			return nil, err
		}
		result, err := s.computePeriod(p, accountIDs, start, end)
		if err != nil {
			return nil, err
		}
		set.Periods = append(set.Periods, *result)
	}
	return set, nil
}

func (s *Service) computePeriod(period string, accountIDs []string, start, end domain.Date) (*PeriodResult, error) {
	result := &PeriodResult{Period: period, StartDate: start, EndDate: end}

	startValue, err := s.dhv.SumMarketValue(accountIDs, start)
	if err != nil {
		return nil, err
	}
	endValue, err := s.dhv.SumMarketValue(accountIDs, end)
	if err != nil {
		return nil, err
	}
	result.StartValue = startValue
	result.EndValue = endValue

	liquidated := false
	for _, id := range accountIDs {
		inferred, err := s.liquidationInferred(id, end)
		if err != nil {
			return nil, err
		}
		if inferred {
			liquidated = true
		}
	}

	flows, flowSum, err := s.collectFlows(accountIDs, start, end)
	if err != nil {
		return nil, err
	}

	result.HasSufficientData = startValue.IsPositive() || !flowSum.IsZero() || liquidated
	if !result.HasSufficientData {
		return result, nil
	}

	totalDays := start.DaysUntil(end)
	if r, ok := xirr(startValue.InexactFloat64(), endValue.InexactFloat64(), totalDays, flows); ok {
		result.IRR = &r
	}
	return result, nil
}

// collectFlows gathers the external cash flows landing strictly after start
// and at or before end, with the sign conventions per type: deposits always
// positive, withdrawals always negative, transfers and receives as the
// provider signed them. Same-day flows stay distinct entries.
func (s *Service) collectFlows(accountIDs []string, start, end domain.Date) ([]cashFlow, decimal.Decimal, error) {
	fromT := time.Date(start.Year, start.Month, start.Day, 0, 0, 0, 0, s.loc).AddDate(0, 0, 1)
	toT := time.Date(end.Year, end.Month, end.Day, 0, 0, 0, 0, s.loc).AddDate(0, 0, 1).Add(-time.Nanosecond)

	acts, err := s.acts.GetFlowsInRange(accountIDs, fromT, toT)
	if err != nil {
		return nil, decimal.Zero, err
	}

	var flows []cashFlow
	sum := decimal.Zero
	for _, act := range acts {
		d := domain.DateOf(act.ActivityDate, s.loc)
		if !d.After(start) || d.After(end) {
			continue
		}

		var amount decimal.Decimal
		switch act.Type {
		case domain.ActivityDeposit:
			amount = act.Amount.Abs()
		case domain.ActivityWithdrawal:
			amount = act.Amount.Abs().Neg()
		default: // transfer, receive
			amount = act.Amount
		}

		flows = append(flows, cashFlow{days: start.DaysUntil(d), amount: amount.InexactFloat64()})
		sum = sum.Add(amount)
	}
	return flows, sum, nil
}

// liquidationInferred reports whether the account's missing end-of-period
// value should be read as zero: no daily values at end, and the latest
// successful snapshot at or before end recorded a zero total. A snapshot
// that still has value never infers zero.
func (s *Service) liquidationInferred(accountID string, end domain.Date) (bool, error) {
	hasRows, err := s.dhv.HasRowsAt(accountID, end)
	if err != nil {
		return false, err
	}
	if hasRows {
		return false, nil
	}

	timeline, err := s.snaps.GetSuccessfulTimeline(accountID)
	if err != nil {
		return false, err
	}
	var latest *domain.AccountSnapshot
	for i := range timeline {
		if domain.DateOf(timeline[i].Timestamp, s.loc).After(end) {
			break
		}
		latest = &timeline[i].Snapshot
	}
	return latest != nil && latest.TotalValue.IsZero(), nil
}
