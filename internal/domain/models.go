// Package domain defines the core entities shared across Moneta's modules.
// Entities are plain data records; repositories load and persist them with
// explicit queries, never through attached sessions.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// SyncStatus is the per-account outcome of the most recent sync.
type SyncStatus string

const (
	SyncStatusSuccess SyncStatus = "success"
	SyncStatusStale   SyncStatus = "stale"
	SyncStatusFailed  SyncStatus = "failed"
	SyncStatusSkipped SyncStatus = "skipped"
	SyncStatusError   SyncStatus = "error"
	SyncStatusSyncing SyncStatus = "syncing"
)

// Account is a connected brokerage or bank account. The (ProviderName,
// ExternalID) pair is unique; an inactive account keeps its history but
// takes no new snapshots.
type Account struct {
	ID                    string     `json:"id"`
	ProviderName          string     `json:"provider_name"`
	ExternalID            string     `json:"external_id"`
	Name                  string     `json:"name"`
	NameUserEdited        bool       `json:"name_user_edited"`
	InstitutionName       string     `json:"institution_name"`
	IsActive              bool       `json:"is_active"`
	DeactivatedAt         *time.Time `json:"deactivated_at,omitempty"`
	SupersededByAccountID *string    `json:"superseded_by_account_id,omitempty"`
	IncludeInAllocation   bool       `json:"include_in_allocation"`
	AssignedAssetClassID  *string    `json:"assigned_asset_class_id,omitempty"`
	LastSyncTime          *time.Time `json:"last_sync_time,omitempty"`
	LastSyncStatus        SyncStatus `json:"last_sync_status,omitempty"`
	LastSyncError         *string    `json:"last_sync_error,omitempty"`
	BalanceDate           *time.Time `json:"balance_date,omitempty"`
}

// SyncSession is one orchestrator run. IsComplete is true iff at least one
// account synced successfully or was stale.
type SyncSession struct {
	ID           string    `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	IsComplete   bool      `json:"is_complete"`
	ErrorMessage *string   `json:"error_message,omitempty"`
}

// SyncLogStatus is the per-provider outcome recorded on a sync session.
type SyncLogStatus string

const (
	SyncLogSuccess SyncLogStatus = "success"
	SyncLogPartial SyncLogStatus = "partial"
	SyncLogFailed  SyncLogStatus = "failed"
)

// SyncLogEntry reports one provider's outcome within a sync session.
type SyncLogEntry struct {
	ID             string        `json:"id"`
	SyncSessionID  string        `json:"sync_session_id"`
	ProviderName   string        `json:"provider_name"`
	Status         SyncLogStatus `json:"status"`
	AccountsSynced int           `json:"accounts_synced"`
	AccountsStale  int           `json:"accounts_stale"`
	AccountsError  int           `json:"accounts_error"`
	ErrorMessage   *string       `json:"error_message,omitempty"`
}

// SnapshotStatus marks whether an account snapshot captured real holdings.
type SnapshotStatus string

const (
	SnapshotSuccess SnapshotStatus = "success"
	SnapshotFailed  SnapshotStatus = "failed"
)

// AccountSnapshot is the set of holdings observed for one account in one
// sync session. Immutable once written; a successful snapshot's TotalValue
// equals the sum of its holdings' SnapshotValue.
type AccountSnapshot struct {
	ID            string          `json:"id"`
	AccountID     string          `json:"account_id"`
	SyncSessionID string          `json:"sync_session_id"`
	Status        SnapshotStatus  `json:"status"`
	TotalValue    decimal.Decimal `json:"total_value"`
	BalanceDate   *time.Time      `json:"balance_date,omitempty"`
}

// Holding is a (security, quantity, price, value) tuple attached to a
// snapshot. Unique per (snapshot, security); immutable post-creation.
type Holding struct {
	ID                string          `json:"id"`
	AccountSnapshotID string          `json:"account_snapshot_id"`
	SecurityID        string          `json:"security_id"`
	Ticker            string          `json:"ticker"`
	Quantity          decimal.Decimal `json:"quantity"`
	SnapshotPrice     decimal.Decimal `json:"snapshot_price"`
	SnapshotValue     decimal.Decimal `json:"snapshot_value"`
}

// Security is lazily created on first reference to a ticker.
type Security struct {
	ID                 string  `json:"id"`
	Ticker             string  `json:"ticker"`
	Name               string  `json:"name"`
	ManualAssetClassID *string `json:"manual_asset_class_id,omitempty"`
}

// DailyHoldingValue is the dense daily valuation row for (date, account,
// security). For a given (account, date) the rows are either all real or a
// single zero-balance sentinel, never both.
type DailyHoldingValue struct {
	ValuationDate     Date            `json:"valuation_date"`
	AccountID         string          `json:"account_id"`
	AccountSnapshotID string          `json:"account_snapshot_id"`
	SecurityID        string          `json:"security_id"`
	Ticker            string          `json:"ticker"`
	Quantity          decimal.Decimal `json:"quantity"`
	ClosePrice        decimal.Decimal `json:"close_price"`
	MarketValue       decimal.Decimal `json:"market_value"`
}

// ActivityType classifies provider transactions.
type ActivityType string

const (
	ActivityBuy        ActivityType = "buy"
	ActivitySell       ActivityType = "sell"
	ActivityDividend   ActivityType = "dividend"
	ActivityInterest   ActivityType = "interest"
	ActivityDeposit    ActivityType = "deposit"
	ActivityWithdrawal ActivityType = "withdrawal"
	ActivityTransfer   ActivityType = "transfer"
	ActivityReceive    ActivityType = "receive"
	ActivityFee        ActivityType = "fee"
	ActivityTax        ActivityType = "tax"
	ActivityTrade      ActivityType = "trade"
	ActivityOther      ActivityType = "other"
)

// Activity is a synced or user-created transaction. Unique per
// (ProviderName, ExternalID); material edits set UserModified.
type Activity struct {
	ID           string           `json:"id"`
	AccountID    string           `json:"account_id"`
	ProviderName string           `json:"provider_name"`
	ExternalID   string           `json:"external_id"`
	ActivityDate time.Time        `json:"activity_date"`
	Type         ActivityType     `json:"type"`
	Amount       decimal.Decimal  `json:"amount"`
	Ticker       *string          `json:"ticker,omitempty"`
	Units        *decimal.Decimal `json:"units,omitempty"`
	Price        *decimal.Decimal `json:"price,omitempty"`
	Currency     string           `json:"currency"`
	Fee          *decimal.Decimal `json:"fee,omitempty"`
	Description  *string          `json:"description,omitempty"`
	IsReviewed   bool             `json:"is_reviewed"`
	UserModified bool             `json:"user_modified"`
}

// LotSource identifies how a holding lot came to exist.
type LotSource string

const (
	LotSourceInitial  LotSource = "initial"
	LotSourceInferred LotSource = "inferred"
	LotSourceActivity LotSource = "activity"
	LotSourceManual   LotSource = "manual"
)

// HoldingLot is a tax-accounting unit with a cost basis and acquisition
// date. AcquisitionDate is nil for initial lots (historical baseline) and
// sorts before any dated lot under FIFO.
type HoldingLot struct {
	ID               int64           `json:"id"`
	AccountID        string          `json:"account_id"`
	SecurityID       string          `json:"security_id"`
	Ticker           string          `json:"ticker"`
	AcquisitionDate  *Date           `json:"acquisition_date,omitempty"`
	CostBasisPerUnit decimal.Decimal `json:"cost_basis_per_unit"`
	OriginalQuantity decimal.Decimal `json:"original_quantity"`
	CurrentQuantity  decimal.Decimal `json:"current_quantity"`
	IsClosed         bool            `json:"is_closed"`
	Source           LotSource       `json:"source"`
	ActivityID       *string         `json:"activity_id,omitempty"`
}

// DisposalSource identifies whether a disposal was matched to a sell
// activity or inferred from the snapshot delta.
type DisposalSource string

const (
	DisposalInferred DisposalSource = "inferred"
	DisposalActivity DisposalSource = "activity"
)

// LotDisposal is a partial or full sell from a lot. Disposals consumed by a
// single sell share a DisposalGroupID.
type LotDisposal struct {
	ID              int64           `json:"id"`
	HoldingLotID    int64           `json:"holding_lot_id"`
	AccountID       string          `json:"account_id"`
	SecurityID      string          `json:"security_id"`
	Quantity        decimal.Decimal `json:"quantity"`
	ProceedsPerUnit decimal.Decimal `json:"proceeds_per_unit"`
	DisposalDate    Date            `json:"disposal_date"`
	Source          DisposalSource  `json:"source"`
	ActivityID      *string         `json:"activity_id,omitempty"`
	DisposalGroupID string          `json:"disposal_group_id"`
}

// AssetClass groups securities and accounts for allocation reporting.
type AssetClass struct {
	ID            string           `json:"id"`
	Name          string           `json:"name"`
	Color         string           `json:"color"`
	TargetPercent *decimal.Decimal `json:"target_percent,omitempty"`
}
