package accounts

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/moneta/internal/domain"
	"github.com/aristath/moneta/internal/modules/securities"
)

// dailyValueSource is the slice of the valuation repository the service
// needs for current values.
type dailyValueSource interface {
	GetLatestForAccount(accountID string) ([]domain.DailyHoldingValue, error)
	WriteZeroBalanceSentinel(accountID, snapshotID, sentinelSecurityID string, today domain.Date) error
}

// snapshotWriter is the slice of the snapshot repository the closing
// snapshot needs.
type snapshotWriter interface {
	Create(snap *domain.AccountSnapshot) error
}

// sessionCreator owns sync session rows; the closing snapshot needs one to
// hang off.
type sessionCreator interface {
	CreateSession(sess *domain.SyncSession) error
}

// AccountWithValue is an account plus its most recent daily valuation.
type AccountWithValue struct {
	domain.Account
	CurrentValue  decimal.Decimal `json:"current_value"`
	ValuationDate *domain.Date    `json:"valuation_date,omitempty"`
}

// Service layers account-level workflows over the repository.
type Service struct {
	repo       *Repository
	securities *securities.Repository
	dhv        dailyValueSource
	snaps      snapshotWriter
	sessions   sessionCreator
	loc        *time.Location
	log        zerolog.Logger
}

// NewService creates a new account service
func NewService(
	repo *Repository,
	securitiesRepo *securities.Repository,
	dhv dailyValueSource,
	snaps snapshotWriter,
	sessions sessionCreator,
	loc *time.Location,
	log zerolog.Logger,
) *Service {
	return &Service{
		repo:       repo,
		securities: securitiesRepo,
		dhv:        dhv,
		snaps:      snaps,
		sessions:   sessions,
		loc:        loc,
		log:        log.With().Str("service", "accounts").Logger(),
	}
}

// ListWithValues returns all accounts with their latest daily value summed.
func (s *Service) ListWithValues() ([]AccountWithValue, error) {
	accts, err := s.repo.GetAll()
	if err != nil {
		return nil, err
	}

	result := make([]AccountWithValue, 0, len(accts))
	for _, acct := range accts {
		av := AccountWithValue{Account: acct, CurrentValue: decimal.Zero}
		rows, err := s.dhv.GetLatestForAccount(acct.ID)
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			av.CurrentValue = av.CurrentValue.Add(row.MarketValue)
		}
		if len(rows) > 0 {
			d := rows[0].ValuationDate
			av.ValuationDate = &d
		}
		result = append(result, av)
	}
	return result, nil
}

// Deactivate marks an account inactive. With closeOut, a $0 closing
// snapshot and a zero-balance sentinel for today are written so the value
// timeline records the liquidation instead of freezing at the last balance.
func (s *Service) Deactivate(accountID string, supersededBy *string, closeOut bool) error {
	acct, err := s.repo.GetByID(accountID)
	if err != nil {
		return err
	}
	if acct == nil {
		return fmt.Errorf("account %s not found", accountID)
	}
	if supersededBy != nil {
		successor, err := s.repo.GetByID(*supersededBy)
		if err != nil {
			return err
		}
		if successor == nil {
			return fmt.Errorf("superseding account %s not found", *supersededBy)
		}
	}

	now := time.Now().UTC()
	if err := s.repo.Deactivate(accountID, supersededBy, now); err != nil {
		return err
	}
	if !closeOut {
		return nil
	}

	session := domain.SyncSession{Timestamp: now, IsComplete: true}
	if err := s.sessions.CreateSession(&session); err != nil {
		return err
	}
	snap := domain.AccountSnapshot{
		AccountID:     accountID,
		SyncSessionID: session.ID,
		Status:        domain.SnapshotSuccess,
		TotalValue:    decimal.Zero,
	}
	if err := s.snaps.Create(&snap); err != nil {
		return err
	}
	sentinel, err := s.securities.GetOrCreateByTicker(domain.ZeroBalanceTicker, "Zero balance")
	if err != nil {
		return err
	}
	if err := s.dhv.WriteZeroBalanceSentinel(accountID, snap.ID, sentinel.ID, domain.Today(s.loc)); err != nil {
		return err
	}

	s.log.Info().Str("account_id", accountID).Msg("Account deactivated with closing snapshot")
	return nil
}
