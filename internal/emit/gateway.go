package emit

import (
	"context"
	"errors"
	"fmt"
)

// Gateway persists a full snapshot of the active targets. Each call
// supersedes the previous one.
type Gateway interface {
	Persist(ctx context.Context, records []Record) error
}

// GatewayFunc adapts a function to Gateway.
type GatewayFunc func(ctx context.Context, records []Record) error

func (f GatewayFunc) Persist(ctx context.Context, records []Record) error { return f(ctx, records) }

// Named attaches a name used in error messages and logs.
type Named struct {
	Name string
	Gateway
}

// Multi fans a snapshot out to every gateway. All gateways are attempted;
// the joined error reports each failure.
type Multi []Named

func (m Multi) Persist(ctx context.Context, records []Record) error {
	var errs []error
	for _, g := range m {
		if err := g.Persist(ctx, records); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", g.Name, err))
		}
	}
	return errors.Join(errs...)
}
