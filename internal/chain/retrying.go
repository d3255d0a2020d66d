package chain

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"eth-spike-alerts/internal/retry"
)

// Retrying wraps a DataSource and retries transient failures.
type Retrying struct {
	next   DataSource
	policy retry.Policy
	custom bool
	logger zerolog.Logger

	// highest tip reported so far, plus one; zero until the first tip.
	tip atomic.Uint64
}

// NewRetrying decorates next with policy. A missing block is retried only
// when it is at or below a tip the provider already reported, since
// load-balanced backends can lag behind the node that answered the tip.
func NewRetrying(next DataSource, policy retry.Policy, logger zerolog.Logger) *Retrying {
	r := &Retrying{
		next:   next,
		custom: policy.Classify != nil,
		logger: logger.With().Str("component", "retrying_source").Logger(),
	}
	if policy.OnRetry == nil {
		policy.OnRetry = func(attempt int, wait time.Duration, err error) {
			r.logger.Warn().Err(err).Int("attempt", attempt).Dur("wait", wait).Msg("data source call failed, retrying")
		}
	}
	r.policy = policy
	return r
}

// ChainTip implements DataSource.
func (r *Retrying) ChainTip(ctx context.Context) (uint64, error) {
	var tip uint64
	err := retry.Do(ctx, r.policy, func(ctx context.Context) error {
		var err error
		tip, err = r.next.ChainTip(ctx)
		return err
	})
	if err == nil {
		r.observeTip(tip)
	}
	return tip, err
}

// Block implements DataSource.
func (r *Retrying) Block(ctx context.Context, height uint64) ([]Transaction, error) {
	var txs []Transaction
	err := retry.Do(ctx, r.blockPolicy(height), func(ctx context.Context) error {
		var err error
		txs, err = r.next.Block(ctx, height)
		return err
	})
	return txs, err
}

func (r *Retrying) observeTip(tip uint64) {
	for {
		cur := r.tip.Load()
		if cur > tip || r.tip.CompareAndSwap(cur, tip+1) {
			return
		}
	}
}

func (r *Retrying) blockPolicy(height uint64) retry.Policy {
	p := r.policy
	if r.custom {
		return p
	}
	reported := height < r.tip.Load()
	p.Classify = func(err error) retry.Class {
		if errors.Is(err, ErrBlockNotFound) && !reported {
			return retry.Fatal
		}
		return retry.Retryable
	}
	return p
}

var _ DataSource = (*Retrying)(nil)
