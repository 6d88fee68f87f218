package services

import (
	"context"
	"time"

	"marketpay/deals"
	"marketpay/ledger"
	"marketpay/metrics"
	"marketpay/models"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// DealSync recovers Bank deal references the webhook never received.
// The webhook makes a single synchronous attempt; this sweep handles
// everything that attempt missed, so deposits do not stay unusable for
// payouts longer than one sweep interval.
type DealSync struct {
	db     *gorm.DB
	ledger *ledger.Ledger
	states deals.StateQuerier
	log    zerolog.Logger

	batchSize int
	retention time.Duration
}

func NewDealSync(db *gorm.DB, l *ledger.Ledger, states deals.StateQuerier, retention time.Duration, log zerolog.Logger) *DealSync {
	return &DealSync{
		db:        db,
		ledger:    l,
		states:    states,
		log:       log.With().Str("component", "dealsync").Logger(),
		batchSize: 50,
		retention: retention,
	}
}

// Sweep queries the Bank about every completed deposit still missing a
// deal id, newest first and bounded per run. Individual lookup failures
// skip the row; the next run retries it.
func (s *DealSync) Sweep(ctx context.Context) error {
	deposits, err := s.ledger.DepositsMissingDeal(ctx, 0, s.batchSize)
	if err != nil {
		return err
	}

	recovered := 0
	for _, dep := range deposits {
		state, err := s.states.GetPaymentState(ctx, dep.PaymentID)
		if err != nil {
			metrics.DealRecoveries.WithLabelValues("sweep", "error").Inc()
			s.log.Warn().Err(err).
				Str("payment_id", dep.PaymentID).
				Uint("user_id", dep.UserID).
				Msg("deal sweep state query failed")
			continue
		}
		if state.DealID == "" {
			metrics.DealRecoveries.WithLabelValues("sweep", "missing").Inc()
			continue
		}
		if err := s.ledger.AttachDealID(ctx, dep.ID, state.DealID); err != nil {
			s.log.Warn().Err(err).Uint("trx_id", dep.ID).Msg("could not persist recovered deal id")
			continue
		}
		metrics.DealRecoveries.WithLabelValues("sweep", "found").Inc()
		recovered++
	}

	if len(deposits) > 0 {
		s.log.Info().
			Int("checked", len(deposits)).
			Int("recovered", recovered).
			Msg("deal sweep finished")
	}
	return nil
}

// PruneEvents drops processed webhook audit rows past the retention
// window.
func (s *DealSync) PruneEvents(ctx context.Context) error {
	cutoff := time.Now().Add(-s.retention)
	res := s.db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Delete(&models.WebhookEvent{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		s.log.Info().Int64("deleted", res.RowsAffected).Msg("pruned old webhook events")
	}
	return nil
}
