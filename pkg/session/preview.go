package session

import (
	"context"
	"fmt"

	"github.com/teslashibe/go-capture/pkg/camera"
	"github.com/teslashibe/go-capture/pkg/filter"
	"github.com/teslashibe/go-capture/pkg/graph"
)

// PreviewFilters returns the filters with a branch in the preview stack,
// carrying their live parameters.
func (o *Orchestrator) PreviewFilters() []filter.Filter {
	if o.stack == nil {
		return nil
	}
	fs := o.stack.Filters()
	for i, f := range fs {
		if n, ok := o.stack.Operation(f); ok {
			fs[i] = n.Snapshot()
		}
	}
	return fs
}

// PreviewFilter returns the stack branch for id with its live parameters.
func (o *Orchestrator) PreviewFilter(id filter.ID) (filter.Filter, error) {
	f, err := o.stackFilter(id)
	if err != nil {
		return filter.Filter{}, err
	}
	n, ok := o.stack.Operation(f)
	if !ok {
		return filter.Filter{}, fmt.Errorf("%w: %w", ErrUnknownFilter, graph.ErrNoSuchTarget)
	}
	return n.Snapshot(), nil
}

// AddPreviewFilter renders the catalogue filter id into sink as a new
// stack branch, replacing any branch it already has.
func (o *Orchestrator) AddPreviewFilter(ctx context.Context, id filter.ID, sink graph.Sink) error {
	return o.do(ctx, func() error {
		if o.stack == nil {
			return fmt.Errorf("%w: no preview stack", ErrUnknownFilter)
		}
		f, ok := o.lookupFilter(id)
		if !ok {
			return fmt.Errorf("%w: %d", ErrUnknownFilter, id)
		}
		if err := o.stack.AddTarget(sink, f); err != nil {
			return err
		}
		o.logger.Info("preview filter added", "filter", f.String())
		return nil
	})
}

// RemovePreviewFilter drops the stack branch for id. When that branch was
// the render target the stack falls back to passthrough, and the preview
// chain follows.
func (o *Orchestrator) RemovePreviewFilter(ctx context.Context, id filter.ID) error {
	return o.do(ctx, func() error {
		f, err := o.stackFilter(id)
		if err != nil {
			return err
		}
		sel, wasSelected := o.stack.Selected()
		wasSelected = wasSelected && sel.ID == id

		o.stack.RemoveTarget(f)
		o.logger.Info("preview filter removed", "filter", f.String())

		if !wasSelected || id == filter.Passthrough.ID || o.chain == nil {
			return nil
		}
		if err := o.chain.Reset([]filter.Filter{filter.Passthrough}); err != nil {
			return err
		}
		o.camera.Update(func(c *camera.Config) { c.LastFilter = int(filter.Passthrough.ID) })
		return nil
	})
}

// SetPreviewParam adjusts a parameter on the stack branch for id.
func (o *Orchestrator) SetPreviewParam(ctx context.Context, id filter.ID, name string, v float64) error {
	return o.do(ctx, func() error {
		f, err := o.stackFilter(id)
		if err != nil {
			return err
		}
		n, ok := o.stack.Operation(f)
		if !ok {
			return fmt.Errorf("%w: %w", ErrUnknownFilter, graph.ErrNoSuchTarget)
		}
		return n.SetParam(name, v)
	})
}

func (o *Orchestrator) stackFilter(id filter.ID) (filter.Filter, error) {
	if o.stack == nil {
		return filter.Filter{}, fmt.Errorf("%w: no preview stack", ErrUnknownFilter)
	}
	for _, f := range o.stack.Filters() {
		if f.ID == id {
			return f, nil
		}
	}
	return filter.Filter{}, fmt.Errorf("%w: %w %d", ErrUnknownFilter, graph.ErrNoSuchTarget, id)
}
