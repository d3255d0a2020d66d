package state

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// Store persists a single Record.
type Store interface {
	Load(ctx context.Context) (Record, error)
	Save(ctx context.Context, rec Record) error
	Close() error
}

// Options select and configure a backend.
type Options struct {
	Backend string // file | badger
	Path    string
}

// Open returns the configured backend.
func Open(opts Options) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Backend)) {
	case "", "file":
		return NewFileStore(opts.Path)
	case "badger":
		return OpenBadger(opts.Path)
	default:
		return nil, fmt.Errorf("unknown state backend %q", opts.Backend)
	}
}

// LoadOrEmpty loads the record, falling back to an empty one when it cannot be
// read or fails validation. A bad baseline is dropped, a readable cursor kept.
func LoadOrEmpty(ctx context.Context, store Store, logger zerolog.Logger) Record {
	rec, err := store.Load(ctx)
	if err != nil {
		event := logger.Warn().Err(err)
		if errors.Is(err, ErrCorrupt) {
			event = event.Bool("corrupt", true)
		}
		event.Msg("state unreadable, starting from empty baseline")
		return Record{}
	}
	if err := rec.Validate(); err != nil {
		logger.Warn().Err(err).Msg("persisted baseline invalid, discarding it")
		rec.BaselineMean, rec.BaselineVariance = nil, nil
	}
	return rec
}
