package notify

import (
	"context"
	"errors"
)

type Publisher interface {
	Publish(ctx context.Context, env Envelope) error
	Close() error
}

// Fanout publishes every envelope to all publishers and reports the joined
// failures.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, env Envelope) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, env); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f Fanout) Close() error {
	var errs []error
	for _, p := range f {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
