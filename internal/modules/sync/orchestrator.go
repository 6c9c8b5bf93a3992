package sync

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	stdsync "sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/moneta/internal/database"
	"github.com/aristath/moneta/internal/domain"
	"github.com/aristath/moneta/internal/modules/accounts"
	"github.com/aristath/moneta/internal/modules/activities"
	"github.com/aristath/moneta/internal/modules/lots"
	"github.com/aristath/moneta/internal/modules/securities"
	"github.com/aristath/moneta/internal/modules/snapshots"
	"github.com/aristath/moneta/internal/modules/valuation"
)

// ErrSyncInProgress is returned when TriggerSync is called while another
// sync holds the lock.
var ErrSyncInProgress = errors.New("sync already in progress")

// ProviderSource yields the enabled provider adapters in a stable order.
type ProviderSource interface {
	Enabled() ([]domain.Provider, error)
}

// Backfiller is the slice of the valuation service the orchestrator calls
// before syncing.
type Backfiller interface {
	Backfill(ctx context.Context) (*valuation.Result, error)
}

// Report is the outcome of one TriggerSync call.
type Report struct {
	Session domain.SyncSession    `json:"session"`
	Entries []domain.SyncLogEntry `json:"log_entries"`
}

// Orchestrator runs the whole sync pipeline: provider pulls, account
// upserts, snapshots, today's daily values, activity merge, and lot
// reconciliation. Sync is single-writer: a process-wide non-blocking lock
// gates TriggerSync, and one top-level transaction spans the run with
// savepoints isolating each provider and account.
type Orchestrator struct {
	db         *database.DB
	repo       *Repository
	accounts   *accounts.Repository
	snaps      *snapshots.Repository
	securities *securities.Repository
	acts       *activities.Repository
	dhv        *valuation.Repository
	lots       *lots.Repository
	backfiller Backfiller
	providers  ProviderSource
	loc        *time.Location
	log        zerolog.Logger
	mu         stdsync.Mutex
}

// NewOrchestrator creates a new sync orchestrator
func NewOrchestrator(
	db *database.DB,
	repo *Repository,
	accountsRepo *accounts.Repository,
	snapsRepo *snapshots.Repository,
	securitiesRepo *securities.Repository,
	actsRepo *activities.Repository,
	dhvRepo *valuation.Repository,
	lotsRepo *lots.Repository,
	backfiller Backfiller,
	providers ProviderSource,
	loc *time.Location,
	log zerolog.Logger,
) *Orchestrator {
	return &Orchestrator{
		db:         db,
		repo:       repo,
		accounts:   accountsRepo,
		snaps:      snapsRepo,
		securities: securitiesRepo,
		acts:       actsRepo,
		dhv:        dhvRepo,
		lots:       lotsRepo,
		backfiller: backfiller,
		providers:  providers,
		loc:        loc,
		log:        log.With().Str("service", "sync").Logger(),
	}
}

// InProgress reports whether a sync currently holds the lock.
func (o *Orchestrator) InProgress() bool {
	if o.mu.TryLock() {
		o.mu.Unlock()
		return false
	}
	return true
}

// txRepos bundles the transaction-bound repository copies one sync run
// writes through.
type txRepos struct {
	sync       *Repository
	accounts   *accounts.Repository
	snaps      *snapshots.Repository
	securities *securities.Repository
	acts       *activities.Repository
	dhv        *valuation.Repository
	lots       *lots.Repository
}

// TriggerSync runs one full sync. Concurrent calls fail fast with
// ErrSyncInProgress rather than queueing.
func (o *Orchestrator) TriggerSync(ctx context.Context) (*Report, error) {
	if !o.mu.TryLock() {
		return nil, ErrSyncInProgress
	}
	defer o.mu.Unlock()

	// Pre-sync backfill brings daily values current through yesterday so
	// today's sync only has to write today. Best-effort.
	if o.backfiller != nil {
		if _, err := o.backfiller.Backfill(ctx); err != nil {
			o.log.Warn().Err(err).Msg("Pre-sync valuation backfill failed")
		}
	}

	providers, err := o.providers.Enabled()
	if err != nil {
		return nil, err
	}

	session := domain.SyncSession{Timestamp: time.Now().UTC()}
	anyProgress := false

	err = database.WithTransaction(o.db.Conn(), func(tx *sql.Tx) error {
		repos := &txRepos{
			sync:       o.repo.WithTx(tx),
			accounts:   o.accounts.WithTx(tx),
			snaps:      o.snaps.WithTx(tx),
			securities: o.securities.WithTx(tx),
			acts:       o.acts.WithTx(tx),
			dhv:        o.dhv.WithTx(tx),
			lots:       o.lots.WithTx(tx),
		}
		if err := repos.sync.CreateSession(&session); err != nil {
			return err
		}

		for _, p := range providers {
			out := o.syncProvider(ctx, tx, repos, &session, p)
			if out.synced > 0 || out.stale > 0 {
				anyProgress = true
			}
		}

		session.IsComplete = anyProgress
		return repos.sync.FinishSession(session.ID, anyProgress, nil)
	})
	if err != nil {
		return nil, err
	}

	entries, err := o.repo.GetLogEntries(session.ID)
	if err != nil {
		return nil, err
	}
	o.log.Info().Str("session_id", session.ID).Bool("complete", session.IsComplete).
		Msg("Sync finished")
	return &Report{Session: session, Entries: entries}, nil
}

type providerOutcome struct {
	synced int
	stale  int
	failed int
	errs   []string
}

// syncProvider wraps one provider's whole write path in a savepoint. A hard
// adapter failure rolls everything of that provider back, marks its active
// accounts failed, and records a failed log entry; the next provider starts
// from clean state.
func (o *Orchestrator) syncProvider(ctx context.Context, tx *sql.Tx, repos *txRepos, session *domain.SyncSession, p domain.Provider) providerOutcome {
	var out providerOutcome

	err := database.WithSavepoint(tx, func() error {
		result, err := p.SyncAll(ctx)
		if err != nil {
			return err
		}
		out, err = o.processProviderResult(tx, repos, session, p.Name(), result)
		return err
	})
	if err == nil {
		return out
	}

	o.log.Error().Err(err).Str("provider", p.Name()).Msg("Provider sync failed")
	msg := describeProviderFailure(err)

	active, aerr := repos.accounts.GetActiveByProvider(p.Name())
	if aerr != nil {
		o.log.Error().Err(aerr).Str("provider", p.Name()).Msg("Failed to load accounts for failure marking")
	}
	for _, acct := range active {
		if err := repos.accounts.SetSyncOutcome(acct.ID, domain.SyncStatusFailed, &msg, false, session.Timestamp); err != nil {
			o.log.Error().Err(err).Str("account_id", acct.ID).Msg("Failed to mark account failed")
		}
	}

	entry := &domain.SyncLogEntry{
		SyncSessionID: session.ID,
		ProviderName:  p.Name(),
		Status:        domain.SyncLogFailed,
		AccountsError: len(active),
		ErrorMessage:  &msg,
	}
	if err := repos.sync.CreateLogEntry(entry); err != nil {
		o.log.Error().Err(err).Str("provider", p.Name()).Msg("Failed to write sync log entry")
	}
	return providerOutcome{failed: len(active), errs: []string{msg}}
}

// accountData is one account's slice of the provider result, keyed by the
// provider's external account ID.
type accountData struct {
	holdings       []domain.ProviderHolding
	activities     []domain.ProviderActivity
	balanceDate    *time.Time
	hasBalanceDate bool
	costBasis      map[string]decimal.Decimal
}

func partitionResult(result *domain.ProviderSyncResult) map[string]*accountData {
	data := make(map[string]*accountData)
	get := func(extID string) *accountData {
		ad, ok := data[extID]
		if !ok {
			ad = &accountData{costBasis: make(map[string]decimal.Decimal)}
			data[extID] = ad
		}
		return ad
	}

	for _, h := range result.Holdings {
		ad := get(h.AccountID)
		ad.holdings = append(ad.holdings, h)
		if h.CostBasis != nil {
			ad.costBasis[strings.ToUpper(h.Symbol)] = *h.CostBasis
		}
	}
	for _, a := range result.Activities {
		get(a.AccountID).activities = append(get(a.AccountID).activities, a)
	}
	for extID, bd := range result.BalanceDates {
		ad := get(extID)
		ad.balanceDate = bd
		ad.hasBalanceDate = true
	}
	return data
}

// syncedAccount tracks what reconciliation needs after a successful
// per-account sync.
type syncedAccount struct {
	account   domain.Account
	prev      *snapshots.SnapshotWithTimestamp
	holdings  []domain.Holding
	costBasis map[string]decimal.Decimal
}

func (o *Orchestrator) processProviderResult(tx *sql.Tx, repos *txRepos, session *domain.SyncSession, providerName string, result *domain.ProviderSyncResult) (providerOutcome, error) {
	var out providerOutcome
	now := session.Timestamp

	// Upsert accounts: institution always, display name only while the user
	// has not renamed it.
	for _, pa := range result.Accounts {
		existing, err := repos.accounts.GetByProviderExternalID(providerName, pa.ID)
		if err != nil {
			return out, err
		}
		if existing != nil {
			if err := repos.accounts.UpdateFromProvider(existing.ID, pa.Name, pa.Institution); err != nil {
				return out, err
			}
		} else {
			err := repos.accounts.Create(&domain.Account{
				ProviderName:        providerName,
				ExternalID:          pa.ID,
				Name:                pa.Name,
				InstitutionName:     pa.Institution,
				IsActive:            true,
				IncludeInAllocation: true,
			})
			if err != nil {
				return out, err
			}
		}
	}

	active, err := repos.accounts.GetActiveByProvider(providerName)
	if err != nil {
		return out, err
	}

	data := partitionResult(result)

	// Structured soft errors target accounts by external ID or by
	// case-insensitive institution name.
	errorMessages := make(map[string][]string)
	for _, se := range result.Errors {
		out.errs = append(out.errs, se.Message)
		for _, acct := range active {
			matched := (se.AccountID != "" && se.AccountID == acct.ExternalID) ||
				(se.AccountID == "" && se.InstitutionName != "" &&
					strings.EqualFold(se.InstitutionName, acct.InstitutionName))
			if matched {
				errorMessages[acct.ID] = append(errorMessages[acct.ID], se.Message)
			}
		}
	}

	// Previous snapshots are captured before new ones are written; the lot
	// delta phase needs the pre-sync state.
	prevSnaps := make(map[string]*snapshots.SnapshotWithTimestamp)
	for _, acct := range active {
		prev, err := repos.snaps.GetLatestSuccessful(acct.ID)
		if err != nil {
			return out, err
		}
		prevSnaps[acct.ID] = prev
	}

	responded := make(map[string]struct{})
	for _, pa := range result.Accounts {
		responded[pa.ID] = struct{}{}
	}
	for _, h := range result.Holdings {
		responded[h.AccountID] = struct{}{}
	}
	for extID := range result.BalanceDates {
		responded[extID] = struct{}{}
	}

	var synced []syncedAccount
	for _, acct := range active {
		ad := data[acct.ExternalID]
		if ad == nil {
			ad = &accountData{}
		}

		// An account the provider did not mention is skipped, never wiped
		// to zero.
		if _, ok := responded[acct.ExternalID]; !ok {
			msg := "account not returned by provider"
			if err := repos.accounts.SetSyncOutcome(acct.ID, domain.SyncStatusSkipped, &msg, false, now); err != nil {
				return out, err
			}
			continue
		}

		// Provider-error guard: when the provider reported any error, an
		// account with no holdings and no balance date gets no snapshot.
		// Writing a $0 snapshot here would destroy a valid previous one.
		if len(result.Errors) > 0 && len(ad.holdings) == 0 && !ad.hasBalanceDate {
			msg := strings.Join(out.errs, "; ")
			if err := repos.accounts.SetSyncOutcome(acct.ID, domain.SyncStatusError, &msg, false, now); err != nil {
				return out, err
			}
			out.failed++
			continue
		}

		if msgs, ok := errorMessages[acct.ID]; ok {
			msg := strings.Join(msgs, "; ")
			if err := repos.accounts.SetSyncOutcome(acct.ID, domain.SyncStatusError, &msg, false, now); err != nil {
				return out, err
			}
			out.failed++
			continue
		}

		status, holdings, err := o.syncAccount(tx, repos, &acct, session, ad)
		if err != nil {
			return out, err
		}
		switch status {
		case domain.SyncStatusSuccess:
			out.synced++
			synced = append(synced, syncedAccount{
				account:   acct,
				prev:      prevSnaps[acct.ID],
				holdings:  holdings,
				costBasis: ad.costBasis,
			})
		case domain.SyncStatusStale:
			out.stale++
		case domain.SyncStatusFailed:
			out.failed++
		}
	}

	o.mergeActivities(tx, repos, providerName, active, result.Activities)
	o.reconcileLots(tx, repos, session, synced)

	status := domain.SyncLogSuccess
	switch {
	case out.synced == 0 && out.stale == 0 && out.failed > 0:
		status = domain.SyncLogFailed
	case out.failed > 0 || len(out.errs) > 0:
		status = domain.SyncLogPartial
	}
	var errMsg *string
	if len(out.errs) > 0 {
		joined := strings.Join(out.errs, "; ")
		errMsg = &joined
	}
	entry := &domain.SyncLogEntry{
		SyncSessionID:  session.ID,
		ProviderName:   providerName,
		Status:         status,
		AccountsSynced: out.synced,
		AccountsStale:  out.stale,
		AccountsError:  out.failed,
		ErrorMessage:   errMsg,
	}
	if err := repos.sync.CreateLogEntry(entry); err != nil {
		return out, err
	}
	return out, nil
}

// syncAccount writes one account's snapshot, holdings, and today's daily
// values inside a nested savepoint. Returns the recorded status and, on
// success, the created holdings.
func (o *Orchestrator) syncAccount(tx *sql.Tx, repos *txRepos, acct *domain.Account, session *domain.SyncSession, ad *accountData) (domain.SyncStatus, []domain.Holding, error) {
	now := session.Timestamp

	// Staleness gate: unchanged balance date means the provider served
	// cached data. Compare as naive UTC so zone drift cannot reorder them.
	if ad.balanceDate != nil && acct.BalanceDate != nil &&
		!ad.balanceDate.UTC().After(acct.BalanceDate.UTC()) {
		if err := repos.accounts.SetSyncOutcome(acct.ID, domain.SyncStatusStale, nil, true, now); err != nil {
			return "", nil, err
		}
		o.log.Debug().Str("account_id", acct.ID).Msg("Balance date unchanged, snapshot skipped")
		return domain.SyncStatusStale, nil, nil
	}

	consolidated := consolidateHoldings(ad.holdings)
	today := domain.Today(o.loc)

	var snap domain.AccountSnapshot
	var written []domain.Holding
	err := database.WithSavepoint(tx, func() error {
		totalValue := decimal.Zero
		for _, h := range consolidated {
			totalValue = totalValue.Add(h.MarketValue)
		}

		snap = domain.AccountSnapshot{
			AccountID:     acct.ID,
			SyncSessionID: session.ID,
			Status:        domain.SnapshotSuccess,
			TotalValue:    totalValue,
			BalanceDate:   ad.balanceDate,
		}
		if err := repos.snaps.Create(&snap); err != nil {
			return err
		}

		for _, ph := range consolidated {
			sec, err := repos.securities.GetOrCreateByTicker(ph.Symbol, ph.Name)
			if err != nil {
				return err
			}
			h := domain.Holding{
				AccountSnapshotID: snap.ID,
				SecurityID:        sec.ID,
				Ticker:            sec.Ticker,
				Quantity:          ph.Quantity,
				SnapshotPrice:     ph.Price,
				SnapshotValue:     ph.MarketValue,
			}
			if err := repos.snaps.CreateHolding(&h); err != nil {
				return err
			}
			written = append(written, h)
		}

		if len(written) > 0 {
			return repos.dhv.WriteTodayFromHoldings(acct.ID, snap.ID, written, today)
		}
		sentinel, err := repos.securities.GetOrCreateByTicker(domain.ZeroBalanceTicker, "Zero balance")
		if err != nil {
			return err
		}
		return repos.dhv.WriteZeroBalanceSentinel(acct.ID, snap.ID, sentinel.ID, today)
	})
	if err != nil {
		o.log.Error().Err(err).Str("account_id", acct.ID).Msg("Account sync failed")
		msg := "account sync failed"
		if err := repos.accounts.SetSyncOutcome(acct.ID, domain.SyncStatusFailed, &msg, false, now); err != nil {
			return "", nil, err
		}
		failedSnap := &domain.AccountSnapshot{
			AccountID:     acct.ID,
			SyncSessionID: session.ID,
			Status:        domain.SnapshotFailed,
			TotalValue:    decimal.Zero,
		}
		if err := repos.snaps.Create(failedSnap); err != nil {
			return "", nil, err
		}
		return domain.SyncStatusFailed, nil, nil
	}

	if err := repos.accounts.SetSyncOutcome(acct.ID, domain.SyncStatusSuccess, nil, false, now); err != nil {
		return "", nil, err
	}
	if ad.balanceDate != nil {
		if err := repos.accounts.SetBalanceDate(acct.ID, *ad.balanceDate); err != nil {
			return "", nil, err
		}
	}
	return domain.SyncStatusSuccess, written, nil
}

// mergeActivities upserts the provider's transactions, best-effort under
// its own savepoint so a malformed activity cannot roll back holdings.
func (o *Orchestrator) mergeActivities(tx *sql.Tx, repos *txRepos, providerName string, active []domain.Account, provActs []domain.ProviderActivity) {
	if len(provActs) == 0 {
		return
	}
	byExt := make(map[string]string, len(active))
	for _, acct := range active {
		byExt[acct.ExternalID] = acct.ID
	}

	err := database.WithSavepoint(tx, func() error {
		for _, pa := range provActs {
			accountID, ok := byExt[pa.AccountID]
			if !ok {
				continue
			}
			act := &domain.Activity{
				AccountID:    accountID,
				ProviderName: providerName,
				ExternalID:   pa.ExternalID,
				ActivityDate: pa.ActivityDate,
				Type:         pa.Type,
				Amount:       pa.Amount,
				Ticker:       pa.Ticker,
				Units:        pa.Units,
				Price:        pa.Price,
				Currency:     pa.Currency,
				Fee:          pa.Fee,
				Description:  pa.Description,
			}
			if _, err := repos.acts.UpsertFromProvider(act); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		o.log.Warn().Err(err).Str("provider", providerName).Msg("Activity merge rolled back")
	}
}

// reconcileLots runs the lot engine per synced account, each under its own
// savepoint; a reconciliation failure never unwinds the committed snapshot.
func (o *Orchestrator) reconcileLots(tx *sql.Tx, repos *txRepos, session *domain.SyncSession, synced []syncedAccount) {
	reconciler := lots.NewReconciler(repos.lots, repos.acts, o.loc, o.log)

	for _, sa := range synced {
		err := database.WithSavepoint(tx, func() error {
			var prev *lots.SnapshotInput
			if sa.prev != nil {
				holdings, err := repos.snaps.GetHoldings(sa.prev.Snapshot.ID)
				if err != nil {
					return err
				}
				prev = &lots.SnapshotInput{Timestamp: sa.prev.Timestamp, Holdings: holdings}
			}
			curr := lots.SnapshotInput{Timestamp: session.Timestamp, Holdings: sa.holdings}
			return reconciler.ReconcileAccount(sa.account.ID, prev, curr, sa.costBasis)
		})
		if err != nil {
			o.log.Warn().Err(err).Str("account_id", sa.account.ID).Msg("Lot reconciliation rolled back")
		}
	}
}

// consolidateHoldings merges duplicate symbols within one account: sum
// quantity and market value, recompute price, keep the first row's currency
// and name. The (snapshot, security) uniqueness constraint makes this
// mandatory.
func consolidateHoldings(holdings []domain.ProviderHolding) []domain.ProviderHolding {
	var order []string
	merged := make(map[string]*domain.ProviderHolding)

	for _, h := range holdings {
		key := strings.ToUpper(h.Symbol)
		existing, ok := merged[key]
		if !ok {
			copied := h
			merged[key] = &copied
			order = append(order, key)
			continue
		}
		existing.Quantity = existing.Quantity.Add(h.Quantity)
		existing.MarketValue = existing.MarketValue.Add(h.MarketValue)
		if !existing.Quantity.IsZero() {
			existing.Price = existing.MarketValue.Div(existing.Quantity).Round(8)
		}
	}

	result := make([]domain.ProviderHolding, 0, len(order))
	for _, key := range order {
		result = append(result, *merged[key])
	}
	return result
}

// describeProviderFailure maps adapter failures to the sanitized message
// stored on accounts. Raw errors stay in the logs; they can carry
// credentials.
func describeProviderFailure(err error) string {
	var authErr *domain.AuthError
	var connErr *domain.ConnectionError
	var provErr *domain.ProviderError

	switch {
	case errors.As(err, &authErr):
		return "provider authentication failed"
	case errors.As(err, &connErr):
		return "provider connection failed"
	case errors.As(err, &provErr):
		return provErr.Message
	default:
		return "provider sync failed unexpectedly"
	}
}
