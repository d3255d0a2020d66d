package chain

import (
	"context"
	"time"
)

// ObserveFunc receives the duration and outcome of each data source call.
type ObserveFunc func(op string, duration time.Duration, err error)

// Instrumented reports every call of the wrapped DataSource to observe.
type Instrumented struct {
	next    DataSource
	observe ObserveFunc
}

// NewInstrumented wraps next; a nil observe makes it a pass-through.
func NewInstrumented(next DataSource, observe ObserveFunc) *Instrumented {
	return &Instrumented{next: next, observe: observe}
}

// ChainTip implements DataSource.
func (i *Instrumented) ChainTip(ctx context.Context) (uint64, error) {
	start := time.Now()
	tip, err := i.next.ChainTip(ctx)
	i.report("tip", start, err)
	return tip, err
}

// Block implements DataSource.
func (i *Instrumented) Block(ctx context.Context, height uint64) ([]Transaction, error) {
	start := time.Now()
	txs, err := i.next.Block(ctx, height)
	i.report("block", start, err)
	return txs, err
}

func (i *Instrumented) report(op string, start time.Time, err error) {
	if i.observe != nil {
		i.observe(op, time.Since(start), err)
	}
}

var _ DataSource = (*Instrumented)(nil)
