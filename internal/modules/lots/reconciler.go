package lots

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/moneta/internal/domain"
)

// tradeSource is the slice of the activity repository the reconciler needs.
type tradeSource interface {
	GetTradesForSecurity(accountID, ticker string, actType domain.ActivityType, after, until time.Time) ([]domain.Activity, error)
}

// SnapshotInput is one snapshot plus its session timestamp, as the
// reconciler sees it.
type SnapshotInput struct {
	Timestamp time.Time
	Holdings  []domain.Holding
}

// Reconciler rebuilds tax-lot history from the delta between two
// consecutive snapshots of an account.
type Reconciler struct {
	repo   *Repository
	trades tradeSource
	loc    *time.Location
	log    zerolog.Logger
}

// NewReconciler creates a new lot reconciler
func NewReconciler(repo *Repository, trades tradeSource, loc *time.Location, log zerolog.Logger) *Reconciler {
	return &Reconciler{
		repo:   repo,
		trades: trades,
		loc:    loc,
		log:    log.With().Str("service", "lot_reconciler").Logger(),
	}
}

// position is one security's view across the two snapshots, keyed by
// uppercased ticker since providers disagree on case.
type position struct {
	securityID string
	ticker     string
	prevQty    decimal.Decimal
	currQty    decimal.Decimal
	prevPrice  decimal.Decimal
	currPrice  decimal.Decimal
	inCurr     bool
}

// ReconcileAccount runs both phases for one account. prev is nil on first
// sync. providerCostBasis maps uppercased tickers to per-unit cost basis
// when the provider reported one. Idempotent: rerunning on the same inputs
// creates nothing new.
func (r *Reconciler) ReconcileAccount(accountID string, prev *SnapshotInput, curr SnapshotInput, providerCostBasis map[string]decimal.Decimal) error {
	positions := r.collectPositions(prev, curr)

	if err := r.seedInitialLots(accountID, prev == nil, positions, providerCostBasis); err != nil {
		return err
	}
	if prev == nil {
		return nil
	}
	return r.processDeltas(accountID, prev.Timestamp, curr.Timestamp, positions, providerCostBasis)
}

func (r *Reconciler) collectPositions(prev *SnapshotInput, curr SnapshotInput) map[string]*position {
	positions := make(map[string]*position)

	merge := func(holdings []domain.Holding, isCurr bool) {
		for _, h := range holdings {
			if h.Ticker == domain.ZeroBalanceTicker {
				continue
			}
			qty := h.Quantity
			if qty.IsNegative() {
				// Short positions are not modeled; treat as flat.
				r.log.Warn().Str("ticker", h.Ticker).Str("quantity", qty.String()).
					Msg("Negative quantity clamped to zero for lot tracking")
				qty = decimal.Zero
			}
			key := upperTicker(h.Ticker)
			p, ok := positions[key]
			if !ok {
				p = &position{securityID: h.SecurityID, ticker: h.Ticker}
				positions[key] = p
			}
			if isCurr {
				p.securityID = h.SecurityID
				p.ticker = h.Ticker
				p.currQty = qty
				p.currPrice = h.SnapshotPrice
				p.inCurr = true
			} else {
				p.prevQty = qty
				p.prevPrice = h.SnapshotPrice
			}
		}
	}

	if prev != nil {
		merge(prev.Holdings, false)
	}
	merge(curr.Holdings, true)
	return positions
}

// seedInitialLots covers any baseline quantity not yet represented by open
// lots with a single undated initial lot, so Phase 2 has something to
// dispose from without historical transaction data.
func (r *Reconciler) seedInitialLots(accountID string, firstSync bool, positions map[string]*position, providerCostBasis map[string]decimal.Decimal) error {
	for key, p := range positions {
		baseline := p.prevQty
		price := p.prevPrice
		if firstSync {
			baseline = p.currQty
			price = p.currPrice
		}
		if !baseline.IsPositive() {
			continue
		}

		openSum, err := r.repo.SumOpenQuantity(accountID, p.securityID)
		if err != nil {
			return err
		}
		uncovered := baseline.Sub(openSum)
		if !uncovered.IsPositive() {
			continue
		}

		if basis, ok := providerCostBasis[key]; ok {
			price = basis
		}
		lot := &domain.HoldingLot{
			AccountID:        accountID,
			SecurityID:       p.securityID,
			Ticker:           p.ticker,
			CostBasisPerUnit: price,
			OriginalQuantity: uncovered,
			CurrentQuantity:  uncovered,
			Source:           domain.LotSourceInitial,
		}
		if err := r.repo.Create(lot); err != nil {
			return err
		}
		r.log.Debug().Str("account_id", accountID).Str("ticker", p.ticker).
			Str("quantity", uncovered.String()).Msg("Seeded initial lot")
	}
	return nil
}

func (r *Reconciler) processDeltas(accountID string, prevTime, currTime time.Time, positions map[string]*position, providerCostBasis map[string]decimal.Decimal) error {
	for key, p := range positions {
		delta := p.currQty.Sub(p.prevQty)
		switch {
		case delta.IsPositive():
			if err := r.applyBuys(accountID, p, delta, key, prevTime, currTime, providerCostBasis); err != nil {
				return err
			}
		case delta.IsNegative():
			if err := r.applySell(accountID, p, delta.Neg(), prevTime, currTime, providerCostBasis); err != nil {
				return err
			}
		}
	}
	return nil
}

// applyBuys matches a quantity increase against buy activities in the sync
// interval, chronologically, capping each at the remaining delta; whatever
// remains becomes one inferred lot.
func (r *Reconciler) applyBuys(accountID string, p *position, delta decimal.Decimal, key string, prevTime, currTime time.Time, providerCostBasis map[string]decimal.Decimal) error {
	remaining := delta

	buys, err := r.trades.GetTradesForSecurity(accountID, p.ticker, domain.ActivityBuy, prevTime, currTime)
	if err != nil {
		return err
	}
	for _, act := range buys {
		if !remaining.IsPositive() {
			break
		}
		if act.Units == nil || !act.Units.IsPositive() {
			continue
		}
		qty := decimal.Min(*act.Units, remaining)
		price := p.currPrice
		if act.Price != nil {
			price = *act.Price
		}
		acq := domain.DateOf(act.ActivityDate, r.loc)
		activityID := act.ID
		lot := &domain.HoldingLot{
			AccountID:        accountID,
			SecurityID:       p.securityID,
			Ticker:           p.ticker,
			AcquisitionDate:  &acq,
			CostBasisPerUnit: price,
			OriginalQuantity: qty,
			CurrentQuantity:  qty,
			Source:           domain.LotSourceActivity,
			ActivityID:       &activityID,
		}
		if err := r.repo.Create(lot); err != nil {
			return err
		}
		remaining = remaining.Sub(qty)
	}

	if remaining.IsPositive() {
		price := p.currPrice
		if basis, ok := providerCostBasis[key]; ok {
			price = basis
		}
		lot := &domain.HoldingLot{
			AccountID:        accountID,
			SecurityID:       p.securityID,
			Ticker:           p.ticker,
			CostBasisPerUnit: price,
			OriginalQuantity: remaining,
			CurrentQuantity:  remaining,
			Source:           domain.LotSourceInferred,
		}
		if err := r.repo.Create(lot); err != nil {
			return err
		}
	}
	return nil
}

// applySell disposes to_dispose from open lots FIFO. When the whole
// position was sold and exactly one sell activity covers the interval, the
// activity supplies proceeds and date; otherwise the disposal is inferred
// from the current snapshot.
func (r *Reconciler) applySell(accountID string, p *position, toDispose decimal.Decimal, prevTime, currTime time.Time, providerCostBasis map[string]decimal.Decimal) error {
	source := domain.DisposalInferred
	proceeds := p.currPrice
	disposalDate := domain.DateOf(currTime, r.loc)
	var activityID *string

	if toDispose.Equal(p.prevQty) {
		sells, err := r.trades.GetTradesForSecurity(accountID, p.ticker, domain.ActivitySell, prevTime, currTime)
		if err != nil {
			return err
		}
		if len(sells) == 1 {
			act := sells[0]
			source = domain.DisposalActivity
			if act.Price != nil {
				proceeds = *act.Price
			}
			disposalDate = domain.DateOf(act.ActivityDate, r.loc)
			id := act.ID
			activityID = &id
		}
	}

	open, err := r.repo.GetOpenLots(accountID, p.securityID)
	if err != nil {
		return err
	}

	openSum := decimal.Zero
	for _, lot := range open {
		openSum = openSum.Add(lot.CurrentQuantity)
	}
	if openSum.LessThan(toDispose) {
		// Reconciliation is seeing historical quantity before any snapshot
		// recorded it; seed the shortfall so the disposal balances.
		shortfall := toDispose.Sub(openSum)
		price := p.prevPrice
		if basis, ok := providerCostBasis[upperTicker(p.ticker)]; ok {
			price = basis
		}
		lot := &domain.HoldingLot{
			AccountID:        accountID,
			SecurityID:       p.securityID,
			Ticker:           p.ticker,
			CostBasisPerUnit: price,
			OriginalQuantity: shortfall,
			CurrentQuantity:  shortfall,
			Source:           domain.LotSourceInitial,
		}
		if err := r.repo.Create(lot); err != nil {
			return err
		}
		open = append(open, *lot)
	}

	groupID := uuid.NewString()
	remaining := toDispose
	for _, lot := range open {
		if !remaining.IsPositive() {
			break
		}
		consume := decimal.Min(lot.CurrentQuantity, remaining)
		disposal := &domain.LotDisposal{
			HoldingLotID:    lot.ID,
			AccountID:       accountID,
			SecurityID:      p.securityID,
			Quantity:        consume,
			ProceedsPerUnit: proceeds,
			DisposalDate:    disposalDate,
			Source:          source,
			ActivityID:      activityID,
			DisposalGroupID: groupID,
		}
		if err := r.repo.CreateDisposal(disposal); err != nil {
			return err
		}
		if err := r.repo.Consume(lot.ID, lot.CurrentQuantity.Sub(consume)); err != nil {
			return err
		}
		remaining = remaining.Sub(consume)
	}

	r.log.Debug().Str("account_id", accountID).Str("ticker", p.ticker).
		Str("disposed", toDispose.String()).Str("group", groupID).Msg("Disposed lots FIFO")
	return nil
}

func upperTicker(t string) string {
	return strings.ToUpper(t)
}
