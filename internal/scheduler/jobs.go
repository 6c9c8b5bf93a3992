package scheduler

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/aristath/moneta/internal/modules/sync"
	"github.com/aristath/moneta/internal/modules/valuation"
)

// SyncJob triggers a full provider sync on schedule. A manual sync holding
// the lock is not an error; the run is skipped.
type SyncJob struct {
	orchestrator *sync.Orchestrator
	log          zerolog.Logger
}

// NewSyncJob creates the scheduled sync job
func NewSyncJob(orchestrator *sync.Orchestrator, log zerolog.Logger) *SyncJob {
	return &SyncJob{
		orchestrator: orchestrator,
		log:          log.With().Str("job", "sync").Logger(),
	}
}

// Name returns the job name
func (j *SyncJob) Name() string { return "provider-sync" }

// Run executes one sync cycle
func (j *SyncJob) Run() error {
	report, err := j.orchestrator.TriggerSync(context.Background())
	if err != nil {
		if errors.Is(err, sync.ErrSyncInProgress) {
			j.log.Info().Msg("Sync already running, skipping scheduled run")
			return nil
		}
		return err
	}

	j.log.Info().
		Str("session_id", report.Session.ID).
		Bool("is_complete", report.Session.IsComplete).
		Int("providers", len(report.Entries)).
		Msg("Scheduled sync finished")
	return nil
}

// backfillRunner is the slice of the valuation service the job needs.
type backfillRunner interface {
	Backfill(ctx context.Context) (*valuation.Result, error)
}

// ValuationJob re-runs the incremental valuation backfill so daily values
// stay dense even on days when no sync happens.
type ValuationJob struct {
	service backfillRunner
	log     zerolog.Logger
}

// NewValuationJob creates the scheduled valuation backfill job
func NewValuationJob(service backfillRunner, log zerolog.Logger) *ValuationJob {
	return &ValuationJob{
		service: service,
		log:     log.With().Str("job", "valuation").Logger(),
	}
}

// Name returns the job name
func (j *ValuationJob) Name() string { return "valuation-backfill" }

// Run executes one backfill pass
func (j *ValuationJob) Run() error {
	result, err := j.service.Backfill(context.Background())
	if err != nil {
		return err
	}
	if result.Skipped {
		j.log.Debug().Msg("Valuation already current")
		return nil
	}

	j.log.Info().
		Int("dates_calculated", result.DatesCalculated).
		Int("rows_written", result.RowsWritten).
		Int("errors", len(result.Errors)).
		Msg("Scheduled valuation backfill finished")
	return nil
}
