package alerting

import (
	"context"
	"errors"
	"fmt"
	"net/url"
)

// Named labels a notifier for error messages.
type Named struct {
	Name     string
	Notifier Notifier
}

// Multi sends every alert to all notifiers.
type Multi struct {
	notifiers []Named
}

// NewMulti creates a fan-out notifier.
func NewMulti(notifiers ...Named) *Multi {
	return &Multi{notifiers: notifiers}
}

// Len returns the number of configured notifiers.
func (m *Multi) Len() int { return len(m.notifiers) }

// Send delivers to every notifier; one failure does not stop the others.
func (m *Multi) Send(ctx context.Context, alert Alert) error {
	var errs []error
	for _, n := range m.notifiers {
		if err := n.Notifier.Send(ctx, alert); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", n.Name, err))
		}
	}
	return errors.Join(errs...)
}

// redactURLError drops the request URL from *url.Error values; webhook and bot
// URLs carry credentials.
func redactURLError(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		return fmt.Errorf("%s request: %w", ue.Op, ue.Err)
	}
	return err
}

var _ Notifier = (*Multi)(nil)
