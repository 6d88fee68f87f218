// Package deals resolves the Bank-side accumulation ("deal") a payout
// must reference. A withdrawal never proceeds with a guessed deal id:
// resolution walks an ordered list of tiers and fails closed with a
// tier-specific diagnostic when all of them come up empty.
package deals

import (
	"context"
	"errors"
	"fmt"

	"marketpay/gateway"
	"marketpay/ledger"
	"marketpay/metrics"

	"github.com/rs/zerolog"
)

var (
	// ErrNoDeposits: the user has no completed deposit at all, so no
	// deal can exist for them.
	ErrNoDeposits = errors.New("no completed deposits for user")

	// ErrNoDealID: deposits exist but none carries a Bank-confirmed
	// deal id, even after live lookups.
	ErrNoDealID = errors.New("no deposit carries a confirmed deal id")

	errNotFound = errors.New("tier yielded nothing")
)

// TierError wraps a transient failure inside a named tier so the caller
// can report which step of the chain broke.
type TierError struct {
	Tier string
	Err  error
}

func (e *TierError) Error() string {
	return fmt.Sprintf("deal resolution tier %q failed: %v", e.Tier, e.Err)
}

func (e *TierError) Unwrap() error { return e.Err }

// StateQuerier is the one Bank operation resolution needs.
type StateQuerier interface {
	GetPaymentState(ctx context.Context, paymentID string) (*gateway.PaymentState, error)
}

type Resolver struct {
	ledger *ledger.Ledger
	states StateQuerier
	log    zerolog.Logger

	// sweepLimit bounds how many recorded deposits the last-resort tier
	// may query the Bank about.
	sweepLimit int
}

func NewResolver(l *ledger.Ledger, states StateQuerier, log zerolog.Logger) *Resolver {
	return &Resolver{
		ledger:     l,
		states:     states,
		log:        log.With().Str("component", "deals").Logger(),
		sweepLimit: 10,
	}
}

type strategy struct {
	name string
	run  func(ctx context.Context) (string, error)
}

// Resolve tries, in order: the caller-supplied id, the deal id stored on
// the latest completed deposit, a live state query on that deposit's
// payment id, and a bounded sweep over recorded deposits still missing
// one. Each tier runs only if the previous yielded nothing.
func (r *Resolver) Resolve(ctx context.Context, userID uint, explicit string) (string, error) {
	tiers := []strategy{
		{"explicit", func(context.Context) (string, error) {
			if explicit == "" {
				return "", errNotFound
			}
			return explicit, nil
		}},
		{"stored", func(ctx context.Context) (string, error) {
			dealID, err := r.ledger.LatestDepositDeal(ctx, userID)
			if errors.Is(err, ledger.ErrNotFound) {
				return "", errNotFound
			}
			return dealID, err
		}},
		{"live_state", r.liveState(userID)},
		{"sweep", r.sweep(userID)},
	}

	for _, tier := range tiers {
		dealID, err := tier.run(ctx)
		switch {
		case err == nil:
			metrics.DealRecoveries.WithLabelValues(tier.name, "found").Inc()
			return dealID, nil
		case errors.Is(err, errNotFound):
			continue
		default:
			metrics.DealRecoveries.WithLabelValues(tier.name, "error").Inc()
			r.log.Error().Err(err).
				Uint("user_id", userID).
				Str("tier", tier.name).
				Msg("deal resolution tier failed")
			return "", &TierError{Tier: tier.name, Err: err}
		}
	}

	// Exhausted. Distinguish "no deposits at all" from "deposits exist
	// but none has a Bank-confirmed deal id": the difference is
	// user-facing.
	if _, err := r.ledger.LatestCompletedDeposit(ctx, userID); errors.Is(err, ledger.ErrNotFound) {
		r.log.Warn().Uint("user_id", userID).Msg("deal resolution exhausted: user has no completed deposits")
		return "", ErrNoDeposits
	}
	r.log.Warn().Uint("user_id", userID).Msg("deal resolution exhausted: deposits exist but none carries a deal id")
	return "", ErrNoDealID
}

// liveState asks the Bank about the latest completed deposit and, when
// the answer carries a deal id, persists it on the deposit row for the
// next time.
func (r *Resolver) liveState(userID uint) func(context.Context) (string, error) {
	return func(ctx context.Context) (string, error) {
		dep, err := r.ledger.LatestCompletedDeposit(ctx, userID)
		if errors.Is(err, ledger.ErrNotFound) {
			return "", errNotFound
		}
		if err != nil {
			return "", err
		}
		if dep.PaymentID == "" {
			return "", errNotFound
		}

		state, err := r.states.GetPaymentState(ctx, dep.PaymentID)
		if err != nil {
			return "", err
		}
		if state.DealID == "" {
			return "", errNotFound
		}

		if err := r.ledger.AttachDealID(ctx, dep.ID, state.DealID); err != nil {
			r.log.Warn().Err(err).Uint("trx_id", dep.ID).Msg("could not persist recovered deal id")
		}
		return state.DealID, nil
	}
}

// sweep is the best-effort last resort: query the Bank about every
// recorded deposit of the user still missing a deal id, oldest useful
// answer wins. Transient lookup failures skip the row rather than abort
// the whole tier.
func (r *Resolver) sweep(userID uint) func(context.Context) (string, error) {
	return func(ctx context.Context) (string, error) {
		deposits, err := r.ledger.DepositsMissingDeal(ctx, userID, r.sweepLimit)
		if err != nil {
			return "", err
		}
		for _, dep := range deposits {
			state, err := r.states.GetPaymentState(ctx, dep.PaymentID)
			if err != nil {
				r.log.Warn().Err(err).
					Uint("user_id", userID).
					Str("payment_id", dep.PaymentID).
					Msg("sweep state query failed, skipping deposit")
				continue
			}
			if state.DealID == "" {
				continue
			}
			if err := r.ledger.AttachDealID(ctx, dep.ID, state.DealID); err != nil {
				r.log.Warn().Err(err).Uint("trx_id", dep.ID).Msg("could not persist recovered deal id")
			}
			return state.DealID, nil
		}
		return "", errNotFound
	}
}
