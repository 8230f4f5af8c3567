// Package syncutil provides concurrency utilities.
package syncutil

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"
)

// Group runs the goroutines of one process (the main loop and its
// optional servers) and stops them together. The first error cancels
// the others.
type Group struct {
	ctx    context.Context
	cancel context.CancelFunc
	eg     *errgroup.Group
}

// NewGroup creates a new Group derived from the given context.
func NewGroup(ctx context.Context) *Group {
	ctx, cancel := context.WithCancel(ctx)
	eg, ctx := errgroup.WithContext(ctx)
	return &Group{
		ctx:    ctx,
		cancel: cancel,
		eg:     eg,
	}
}

// Context returns the group's context.
func (g *Group) Context() context.Context {
	return g.ctx
}

// Go launches fn within the group. fn should return once the context is
// cancelled.
func (g *Group) Go(fn func(ctx context.Context) error) {
	g.eg.Go(func() error {
		return fn(g.ctx)
	})
}

// Wait blocks until every goroutine returned and reports the first
// failure. Cancellation is not a failure.
func (g *Group) Wait() error {
	err := g.eg.Wait()
	g.cancel()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Stop cancels the group context and waits for all goroutines to finish.
func (g *Group) Stop() error {
	g.cancel()
	return g.Wait()
}
