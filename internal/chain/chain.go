package chain

import (
	"context"
	"errors"
	"math/big"
)

var (
	// ErrDataSource marks transport, decode and provider-side failures.
	// An empty block is not an error.
	ErrDataSource = errors.New("chain: data source error")
	// ErrBlockNotFound is returned when the provider has no block at the requested height.
	ErrBlockNotFound = errors.New("chain: block not found")
)

// Transaction is a value-bearing transaction. Value is the base-unit amount (wei).
type Transaction struct {
	Hash  string
	Value *big.Int
}

// DataSource exposes the chain tip and block contents.
type DataSource interface {
	ChainTip(ctx context.Context) (uint64, error)
	Block(ctx context.Context, height uint64) ([]Transaction, error)
}

// SourceError carries the failing provider operation. It matches ErrDataSource.
type SourceError struct {
	Provider string
	Op       string
	Err      error
}

func (e *SourceError) Error() string {
	return e.Provider + " " + e.Op + ": " + e.Err.Error()
}

func (e *SourceError) Unwrap() error { return e.Err }

func (e *SourceError) Is(target error) bool { return target == ErrDataSource }

func sourceError(provider, op string, err error) error {
	if err == nil {
		return nil
	}
	var se *SourceError
	if errors.As(err, &se) {
		return err
	}
	return &SourceError{Provider: provider, Op: op, Err: err}
}
