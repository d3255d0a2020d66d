package detector

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"eth-spike-alerts/internal/chain"
)

// BlockSource is the part of chain.DataSource the sampler needs.
type BlockSource interface {
	Block(ctx context.Context, height uint64) ([]chain.Transaction, error)
}

// Sampler counts high-value transactions over a window.
type Sampler struct {
	source      BlockSource
	threshold   ValueThreshold
	concurrency int
}

// NewSampler builds a sampler issuing at most concurrency block fetches at once.
func NewSampler(source BlockSource, threshold ValueThreshold, concurrency int) *Sampler {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Sampler{source: source, threshold: threshold, concurrency: concurrency}
}

// Sample fetches every block in w and returns the number of transactions whose
// value meets the threshold. Any fetch error aborts the whole sample; a partial
// count is never returned.
func (s *Sampler) Sample(ctx context.Context, w Window) (uint64, error) {
	if w.Start > w.End {
		return 0, fmt.Errorf("invalid window %s", w)
	}

	var total atomic.Uint64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for h := w.Start; ; h++ {
		height := h
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			txs, err := s.source.Block(gctx, height)
			if err != nil {
				return fmt.Errorf("sample block %d: %w", height, err)
			}
			total.Add(s.CountBlock(txs))
			return nil
		})
		if h == w.End {
			break
		}
	}

	if err := g.Wait(); err != nil {
		return 0, err
	}
	return total.Load(), nil
}

// CountBlock counts the high-value transactions of a single block.
func (s *Sampler) CountBlock(txs []chain.Transaction) uint64 {
	var n uint64
	for _, tx := range txs {
		if s.threshold.Meets(tx.Value) {
			n++
		}
	}
	return n
}
