// Package history implements a linear undo/redo log of snapshots.
//
// Pushing after one or more undos truncates every entry past the cursor, so
// there is never more than one redo branch.
package history

// Stack holds entries[0..len) and a cursor index with 0 <= index < len.
// Every snapshot crossing the Stack boundary is copied with clone, so callers
// can never alias the stored entries.
type Stack[T any] struct {
	entries  []T
	index    int
	capacity int
	clone    func(T) T
}

// New returns an unbounded stack seeded with initial.
func New[T any](initial T, clone func(T) T) *Stack[T] {
	return NewBounded(initial, clone, 0)
}

// NewBounded returns a stack that keeps at most capacity entries, dropping
// the oldest when full. A capacity <= 0 means unbounded.
func NewBounded[T any](initial T, clone func(T) T, capacity int) *Stack[T] {
	if clone == nil {
		clone = func(v T) T { return v }
	}
	return &Stack[T]{
		entries:  []T{clone(initial)},
		capacity: capacity,
		clone:    clone,
	}
}

// Push discards any redoable entries and appends snapshot as the new current entry.
func (s *Stack[T]) Push(snapshot T) {
	if s.index < len(s.entries)-1 {
		clear(s.entries[s.index+1:])
		s.entries = s.entries[:s.index+1]
	}
	s.entries = append(s.entries, s.clone(snapshot))

	if s.capacity > 0 && len(s.entries) > s.capacity {
		drop := len(s.entries) - s.capacity
		clear(s.entries[:drop])
		s.entries = s.entries[drop:]
	}
	s.index = len(s.entries) - 1
}

// Undo moves the cursor back one entry and returns it. It is a no-op
// returning false at the oldest entry.
func (s *Stack[T]) Undo() (T, bool) {
	if s.index == 0 {
		var zero T
		return zero, false
	}
	s.index--
	return s.clone(s.entries[s.index]), true
}

// Redo moves the cursor forward one entry and returns it. It is a no-op
// returning false at the newest entry.
func (s *Stack[T]) Redo() (T, bool) {
	if s.index == len(s.entries)-1 {
		var zero T
		return zero, false
	}
	s.index++
	return s.clone(s.entries[s.index]), true
}

func (s *Stack[T]) Current() T {
	return s.clone(s.entries[s.index])
}

func (s *Stack[T]) CanUndo() bool { return s.index > 0 }

func (s *Stack[T]) CanRedo() bool { return s.index < len(s.entries)-1 }

func (s *Stack[T]) Len() int { return len(s.entries) }

func (s *Stack[T]) Index() int { return s.index }
