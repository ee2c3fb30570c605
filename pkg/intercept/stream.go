package intercept

import "context"

// Stream is an ordered sequence of values delivered incrementally. Next
// returns ok=false once the stream is exhausted; an error ends the stream.
// Cached streams replay their elements in original order.
type Stream[T any] interface {
	Next(ctx context.Context) (T, bool, error)
}

// sliceStream replays a drained or decoded sequence from memory.
type sliceStream[T any] struct {
	items []T
	pos   int
}

// FromSlice wraps items in a replaying stream. The slice is not copied;
// callers must not mutate it afterwards.
func FromSlice[T any](items []T) Stream[T] {
	return &sliceStream[T]{items: items}
}

func (s *sliceStream[T]) Next(ctx context.Context) (T, bool, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, false, err
	}
	if s.pos >= len(s.items) {
		return zero, false, nil
	}
	item := s.items[s.pos]
	s.pos++
	return item, true, nil
}

// Collect drains the stream into a slice, honoring context cancellation.
// The result is never nil, so an empty stream caches as an empty sequence
// rather than a known-empty entry.
func Collect[T any](ctx context.Context, s Stream[T]) ([]T, error) {
	items := make([]T, 0, 8)
	for {
		v, ok, err := s.Next(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			return items, nil
		}
		items = append(items, v)
	}
}
