package valuation

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/moneta/internal/database"
	"github.com/aristath/moneta/internal/domain"
	"github.com/aristath/moneta/internal/modules/accounts"
	"github.com/aristath/moneta/internal/modules/securities"
	"github.com/aristath/moneta/internal/modules/snapshots"
)

// Result reports what a backfill run did.
type Result struct {
	StartDate       *domain.Date `json:"start_date,omitempty"`
	EndDate         *domain.Date `json:"end_date,omitempty"`
	DatesCalculated int          `json:"dates_calculated"`
	RowsWritten     int          `json:"rows_written"`
	Skipped         bool         `json:"skipped"`
	Errors          []string     `json:"errors,omitempty"`
}

// GapReport describes one account's daily-value coverage.
type GapReport struct {
	AccountID     string        `json:"account_id"`
	AccountName   string        `json:"account_name"`
	ExpectedStart domain.Date   `json:"expected_start"`
	ExpectedEnd   domain.Date   `json:"expected_end"`
	ExpectedDays  int           `json:"expected_days"`
	ActualDays    int           `json:"actual_days"`
	MissingDates  []domain.Date `json:"missing_dates,omitempty"`
}

// Service is the valuation engine: it reconciles sparse snapshots with
// daily market closes into a dense per-holding value table.
type Service struct {
	db         *database.DB
	accounts   *accounts.Repository
	snaps      *snapshots.Repository
	securities *securities.Repository
	dhv        *Repository
	marketData domain.MarketDataService
	loc        *time.Location
	log        zerolog.Logger
}

// NewService creates a new valuation service
func NewService(
	db *database.DB,
	accountsRepo *accounts.Repository,
	snapsRepo *snapshots.Repository,
	securitiesRepo *securities.Repository,
	dhvRepo *Repository,
	marketData domain.MarketDataService,
	loc *time.Location,
	log zerolog.Logger,
) *Service {
	return &Service{
		db:         db,
		accounts:   accountsRepo,
		snaps:      snapsRepo,
		securities: securitiesRepo,
		dhv:        dhvRepo,
		marketData: marketData,
		loc:        loc,
		log:        log.With().Str("service", "valuation").Logger(),
	}
}

// window is one segment of an account's snapshot timeline: from
// effectiveDate until the next window, the account's holdings are those of
// snapshotID.
type window struct {
	effectiveDate domain.Date
	snapshotID    string
	holdings      []domain.Holding
}

// Backfill fills daily values from the earliest per-account gap through
// yesterday. If one account is behind, the start date rewinds to include
// it; a global max would silently skip stragglers forever.
func (s *Service) Backfill(ctx context.Context) (*Result, error) {
	end := domain.Today(s.loc).AddDays(-1)

	maxDates, err := s.dhv.MaxDatesByAccount()
	if err != nil {
		return nil, err
	}

	active, err := s.accounts.GetAllActive()
	if err != nil {
		return nil, err
	}

	var start *domain.Date
	for _, acct := range active {
		var candidate domain.Date
		if maxDate, ok := maxDates[acct.ID]; ok {
			candidate = maxDate.AddDays(1)
		} else {
			first, err := s.firstSnapshotDate(acct.ID)
			if err != nil {
				return nil, err
			}
			if first == nil {
				continue // never synced
			}
			candidate = *first
		}
		if start == nil || candidate.Before(*start) {
			start = &candidate
		}
	}

	if start == nil || start.After(end) {
		s.log.Debug().Msg("Daily values already current, skipping backfill")
		return &Result{Skipped: true}, nil
	}

	return s.backfillRange(ctx, *start, end, false)
}

// FullBackfill recomputes from the earliest successful sync. With repair,
// quantity and snapshot references on existing rows are overwritten too
// (corrupt-state recovery).
func (s *Service) FullBackfill(ctx context.Context, repair bool) (*Result, error) {
	end := domain.Today(s.loc).AddDays(-1)

	earliest, err := s.snaps.GetEarliestSuccessfulTimestamp()
	if err != nil {
		return nil, err
	}
	if earliest == nil {
		return &Result{Skipped: true}, nil
	}

	start := domain.DateOf(*earliest, s.loc)
	if start.After(end) {
		return &Result{Skipped: true}, nil
	}

	return s.backfillRange(ctx, start, end, repair)
}

func (s *Service) firstSnapshotDate(accountID string) (*domain.Date, error) {
	timeline, err := s.snaps.GetSuccessfulTimeline(accountID)
	if err != nil {
		return nil, err
	}
	if len(timeline) == 0 {
		return nil, nil
	}
	d := domain.DateOf(timeline[0].Timestamp, s.loc)
	return &d, nil
}

func (s *Service) backfillRange(ctx context.Context, start, end domain.Date, repair bool) (*Result, error) {
	result := &Result{StartDate: &start, EndDate: &end}

	s.log.Info().Str("start", start.String()).Str("end", end.String()).Bool("repair", repair).
		Msg("Backfilling daily values")

	// Inactive accounts with history still get their historical range
	// filled; accounts that never synced produce no windows and drop out.
	allAccounts, err := s.accounts.GetAll()
	if err != nil {
		return nil, err
	}

	windowsByAccount := make(map[string][]window)
	tickerSet := make(map[string]struct{})
	for _, acct := range allAccounts {
		windows, err := s.resolveTimeline(acct.ID, start, end)
		if err != nil {
			return nil, err
		}
		if len(windows) == 0 {
			continue
		}
		windowsByAccount[acct.ID] = windows
		for _, w := range windows {
			for _, h := range w.holdings {
				if domain.IsMarketTicker(h.Ticker) {
					tickerSet[h.Ticker] = struct{}{}
				}
			}
		}
	}

	if len(windowsByAccount) == 0 {
		result.Skipped = true
		return result, nil
	}

	// Market data is external I/O; fetch before opening the write
	// transaction. A fetch failure degrades to snapshot-price fallback.
	book := s.fetchPrices(ctx, tickerSet, start, end, result)

	sentinelSec, err := s.securities.GetOrCreateByTicker(domain.ZeroBalanceTicker, "Zero balance")
	if err != nil {
		return nil, err
	}

	type dayKey struct {
		accountID string
		date      domain.Date
	}
	var realRows []domain.DailyHoldingValue
	sentinelRows := make(map[dayKey]domain.DailyHoldingValue)
	realDays := make(map[dayKey]struct{})

	for day := start; !day.After(end); day = day.AddDays(1) {
		result.DatesCalculated++
		for accountID, windows := range windowsByAccount {
			w := activeWindow(windows, day)
			if w == nil {
				continue
			}
			key := dayKey{accountID, day}
			if len(w.holdings) == 0 {
				sentinelRows[key] = domain.DailyHoldingValue{
					ValuationDate:     day,
					AccountID:         accountID,
					AccountSnapshotID: w.snapshotID,
					SecurityID:        sentinelSec.ID,
					Ticker:            domain.ZeroBalanceTicker,
					Quantity:          decimal.Zero,
					ClosePrice:        decimal.Zero,
					MarketValue:       decimal.Zero,
				}
				continue
			}
			realDays[key] = struct{}{}
			for _, h := range w.holdings {
				price := s.closePrice(h, book, day)
				realRows = append(realRows, domain.DailyHoldingValue{
					ValuationDate:     day,
					AccountID:         accountID,
					AccountSnapshotID: w.snapshotID,
					SecurityID:        h.SecurityID,
					Ticker:            h.Ticker,
					Quantity:          h.Quantity,
					ClosePrice:        price,
					MarketValue:       h.Quantity.Mul(price).Round(2),
				})
			}
		}
	}

	err = database.WithTransaction(s.db.Conn(), func(tx *sql.Tx) error {
		dhv := s.dhv.WithTx(tx)

		// Transition cleanup first: a (account, date) is either all real
		// rows or exactly one sentinel, never both.
		for key := range sentinelRows {
			if _, hasReal := realDays[key]; !hasReal {
				if err := dhv.DeleteRealRows(key.accountID, key.date); err != nil {
					return err
				}
			}
		}
		for key := range realDays {
			if err := dhv.DeleteSentinel(key.accountID, key.date); err != nil {
				return err
			}
		}

		for _, row := range realRows {
			if err := dhv.Upsert(row, repair); err != nil {
				return err
			}
		}
		for _, row := range sentinelRows {
			if err := dhv.Upsert(row, repair); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to write daily values: %w", err)
	}

	result.RowsWritten = len(realRows) + len(sentinelRows)
	s.log.Info().Int("dates", result.DatesCalculated).Int("rows", result.RowsWritten).
		Msg("Backfill complete")
	return result, nil
}

// resolveTimeline classifies the account's successful snapshots into a
// baseline window (latest snapshot at or before start, effective from
// start) and transition windows at their local dates within (start, end].
// Snapshot timestamps are converted to local calendar dates exactly once,
// here; a 5 PM PT sync is the same local day even though it is already
// tomorrow in UTC.
func (s *Service) resolveTimeline(accountID string, start, end domain.Date) ([]window, error) {
	timeline, err := s.snaps.GetSuccessfulTimeline(accountID)
	if err != nil {
		return nil, err
	}
	if len(timeline) == 0 {
		return nil, nil
	}

	snapshotIDs := make([]string, len(timeline))
	for i, st := range timeline {
		snapshotIDs[i] = st.Snapshot.ID
	}
	holdingsBySnapshot, err := s.snaps.GetHoldingsBatch(snapshotIDs)
	if err != nil {
		return nil, err
	}

	var baseline *window
	transitions := make(map[domain.Date]window)

	for _, st := range timeline {
		local := domain.DateOf(st.Timestamp, s.loc)
		w := window{
			effectiveDate: local,
			snapshotID:    st.Snapshot.ID,
			holdings:      holdingsBySnapshot[st.Snapshot.ID],
		}
		switch {
		case !local.After(start):
			w.effectiveDate = start
			baseline = &w // later timestamps overwrite: latest baseline wins
		case !local.After(end):
			transitions[local] = w // same-day snapshots: latest wins
		}
	}

	var windows []window
	if baseline != nil {
		windows = append(windows, *baseline)
	}
	for _, w := range transitions {
		windows = append(windows, w)
	}
	sort.Slice(windows, func(i, j int) bool {
		return windows[i].effectiveDate.Before(windows[j].effectiveDate)
	})
	return windows, nil
}

// activeWindow picks the latest window effective at or before day.
func activeWindow(windows []window, day domain.Date) *window {
	var active *window
	for i := range windows {
		if windows[i].effectiveDate.After(day) {
			break
		}
		active = &windows[i]
	}
	return active
}

// closePrice resolves the price for one holding on one day: cash
// equivalents are fixed at 1.00, market tickers use the carried-forward
// close, and anything without market data falls back to the snapshot
// price.
func (s *Service) closePrice(h domain.Holding, book *PriceBook, day domain.Date) decimal.Decimal {
	if domain.IsCashEquivalent(h.Ticker) {
		return decimal.NewFromInt(1)
	}
	if book != nil {
		if price, ok := book.Lookup(h.Ticker, day); ok {
			return price
		}
	}
	return h.SnapshotPrice
}

func (s *Service) fetchPrices(ctx context.Context, tickerSet map[string]struct{}, start, end domain.Date, result *Result) *PriceBook {
	if len(tickerSet) == 0 || s.marketData == nil {
		return nil
	}

	tickers := make([]string, 0, len(tickerSet))
	for t := range tickerSet {
		tickers = append(tickers, t)
	}
	sort.Strings(tickers)

	cryptoSet, err := s.securities.GetCryptoTickers()
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("crypto ticker lookup failed: %v", err))
		cryptoSet = nil
	}

	history, err := s.marketData.PriceHistory(ctx, tickers, cryptoSet, start, end)
	if err != nil {
		s.log.Warn().Err(err).Msg("Market data fetch failed, falling back to snapshot prices")
		result.Errors = append(result.Errors, fmt.Sprintf("market data fetch failed: %v", err))
		return nil
	}

	return NewPriceBook(history, start, end)
}

// DiagnoseGaps reports expected versus actual daily-value coverage per
// account.
func (s *Service) DiagnoseGaps() ([]GapReport, error) {
	end := domain.Today(s.loc).AddDays(-1)

	allAccounts, err := s.accounts.GetAll()
	if err != nil {
		return nil, err
	}

	var reports []GapReport
	for _, acct := range allAccounts {
		first, err := s.firstSnapshotDate(acct.ID)
		if err != nil {
			return nil, err
		}
		if first == nil {
			continue
		}

		expectedEnd := end
		if !acct.IsActive && acct.DeactivatedAt != nil {
			deactivated := domain.DateOf(*acct.DeactivatedAt, s.loc)
			if deactivated.Before(expectedEnd) {
				expectedEnd = deactivated
			}
		}
		if first.After(expectedEnd) {
			continue
		}

		actual, err := s.dhv.DatesForAccount(acct.ID)
		if err != nil {
			return nil, err
		}
		have := make(map[domain.Date]struct{}, len(actual))
		for _, d := range actual {
			have[d] = struct{}{}
		}

		report := GapReport{
			AccountID:     acct.ID,
			AccountName:   acct.Name,
			ExpectedStart: *first,
			ExpectedEnd:   expectedEnd,
			ExpectedDays:  first.DaysUntil(expectedEnd) + 1,
			ActualDays:    len(actual),
		}
		for day := *first; !day.After(expectedEnd); day = day.AddDays(1) {
			if _, ok := have[day]; !ok {
				report.MissingDates = append(report.MissingDates, day)
			}
		}
		reports = append(reports, report)
	}
	return reports, nil
}
