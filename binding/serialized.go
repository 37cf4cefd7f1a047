package binding

import (
	"context"
	"encoding/json"

	"golang.org/x/sync/semaphore"

	"github.com/BaSui01/toolport/types"
)

// serialized enforces at-most-one outstanding call on a binding. Waiting
// callers can abandon through their context.
type serialized struct {
	Binding
	sem *semaphore.Weighted
}

// Serialize wraps b so that only one ListTools/Invoke runs at a time.
// Terminate is never gated.
func Serialize(b Binding) Binding {
	if _, ok := b.(*serialized); ok {
		return b
	}
	return &serialized{Binding: b, sem: semaphore.NewWeighted(1)}
}

// Unwrap returns the wrapped binding.
func (s *serialized) Unwrap() Binding { return s.Binding }

func (s *serialized) Concurrent() bool { return false }

func (s *serialized) acquire(ctx context.Context, tool string) error {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return types.NewTransportError(s.Name(), err).WithTool(tool)
	}
	return nil
}

func (s *serialized) ListTools(ctx context.Context) ([]types.ToolDescriptor, error) {
	if err := s.acquire(ctx, ""); err != nil {
		return nil, err
	}
	defer s.sem.Release(1)
	return s.Binding.ListTools(ctx)
}

func (s *serialized) Invoke(ctx context.Context, tool string, args map[string]any) (json.RawMessage, error) {
	if err := s.acquire(ctx, tool); err != nil {
		return nil, err
	}
	defer s.sem.Release(1)
	return s.Binding.Invoke(ctx, tool, args)
}

// OnReset forwards to the wrapped binding when it supports resets.
func (s *serialized) OnReset(fn func()) {
	if n, ok := s.Binding.(ResetNotifier); ok {
		n.OnReset(fn)
	}
}
