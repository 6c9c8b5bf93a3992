package activities

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/moneta/internal/domain"
)

// Service applies the user-facing editing rules on top of the repository:
// synced activities keep their provider dates, only manual activities can
// be deleted, and material edits mark the row user-modified so sync stops
// overwriting it.
type Service struct {
	repo *Repository
	log  zerolog.Logger
}

// NewService creates a new activity service
func NewService(repo *Repository, log zerolog.Logger) *Service {
	return &Service{
		repo: repo,
		log:  log.With().Str("service", "activities").Logger(),
	}
}

// CreateManualInput carries the fields a user supplies for a manual
// activity.
type CreateManualInput struct {
	AccountID    string
	ActivityDate time.Time
	Type         domain.ActivityType
	Amount       decimal.Decimal
	Ticker       *string
	Units        *decimal.Decimal
	Price        *decimal.Decimal
	Currency     string
	Fee          *decimal.Decimal
	Description  *string
}

// CreateManual records a user-created activity
func (s *Service) CreateManual(in CreateManualInput) (*domain.Activity, error) {
	if in.Currency == "" {
		in.Currency = "USD"
	}

	act := &domain.Activity{
		ID:           uuid.NewString(),
		AccountID:    in.AccountID,
		ProviderName: ManualProviderName,
		ExternalID:   uuid.NewString(),
		ActivityDate: in.ActivityDate,
		Type:         in.Type,
		Amount:       in.Amount,
		Ticker:       in.Ticker,
		Units:        in.Units,
		Price:        in.Price,
		Currency:     in.Currency,
		Fee:          in.Fee,
		Description:  in.Description,
		IsReviewed:   true,
		UserModified: true,
	}
	if err := s.repo.Create(act); err != nil {
		return nil, err
	}

	s.log.Info().Str("activity_id", act.ID).Str("account_id", act.AccountID).
		Str("type", string(act.Type)).Msg("Manual activity created")
	return act, nil
}

// UpdatePatch carries the fields a PATCH may change. Nil means "leave as
// is".
type UpdatePatch struct {
	ActivityDate *time.Time
	Type         *domain.ActivityType
	Amount       *decimal.Decimal
	Ticker       *string
	Units        *decimal.Decimal
	Price        *decimal.Decimal
	Fee          *decimal.Decimal
	Description  *string
	IsReviewed   *bool
}

// Update applies a patch. Synced activities have immutable activity dates;
// any material change marks the row user-modified.
func (s *Service) Update(id string, patch UpdatePatch) (*domain.Activity, error) {
	act, err := s.repo.GetByID(id)
	if err != nil {
		return nil, err
	}
	if act == nil {
		return nil, fmt.Errorf("activity %s not found", id)
	}

	material := false

	if patch.ActivityDate != nil {
		if act.ProviderName != ManualProviderName {
			return nil, fmt.Errorf("activity date of synced activities is immutable")
		}
		act.ActivityDate = *patch.ActivityDate
		material = true
	}
	if patch.Type != nil {
		act.Type = *patch.Type
		material = true
	}
	if patch.Amount != nil {
		act.Amount = *patch.Amount
		material = true
	}
	if patch.Ticker != nil {
		act.Ticker = patch.Ticker
		material = true
	}
	if patch.Units != nil {
		act.Units = patch.Units
		material = true
	}
	if patch.Price != nil {
		act.Price = patch.Price
		material = true
	}
	if patch.Fee != nil {
		act.Fee = patch.Fee
		material = true
	}
	if patch.Description != nil {
		act.Description = patch.Description
	}
	if patch.IsReviewed != nil {
		act.IsReviewed = *patch.IsReviewed
	}

	if material {
		act.UserModified = true
	}

	if err := s.repo.Update(act); err != nil {
		return nil, err
	}
	return act, nil
}

// Delete removes an activity. Only manual activities can be deleted.
func (s *Service) Delete(id string) error {
	act, err := s.repo.GetByID(id)
	if err != nil {
		return err
	}
	if act == nil {
		return fmt.Errorf("activity %s not found", id)
	}
	if act.ProviderName != ManualProviderName {
		return fmt.Errorf("synced activities cannot be deleted")
	}
	return s.repo.Delete(id)
}
