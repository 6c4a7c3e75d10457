package cmd

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Module is a long-running component. Start must not block; background work
// goes into g and stops when ctx is cancelled.
type Module interface {
	Start(ctx context.Context, g *errgroup.Group) error
}
