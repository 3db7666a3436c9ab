// Copyright 2025 The Kestrel Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cells provides single-owner mutable slots for capsule state.
//
// Capsules run on the kernel's single thread of control: no two capsule
// calls ever execute concurrently, but a capsule's own call chain can
// re-enter it through hardware completion callbacks. Cells make the
// resulting hand-off of buffers and state explicit: a value is either in
// the cell or held by exactly one call site, never both.
//
// None of the types in this package are safe for concurrent use. That is
// deliberate: they exist for code that is serialized by construction, and
// their misuse (double-take) is a logic bug surfaced by a failed Take, not
// a memory-safety hazard.
package cells

// TakeCell is a slot for a value that must be handed out whole, typically
// a buffer lent to a hardware driver and handed back on completion. Take
// empties the cell; until Replace puts a value back, every further Take
// fails. At most one call site holds the extracted value at any instant.
//
// The zero value is an empty cell.
type TakeCell[T any] struct {
	val  T
	full bool
}

// NewTakeCell returns a cell holding v.
func NewTakeCell[T any](v T) TakeCell[T] {
	return TakeCell[T]{val: v, full: true}
}

// Empty returns true if the cell holds no value.
func (c *TakeCell[T]) Empty() bool {
	return !c.full
}

// Take removes and returns the value. It returns false if the cell is
// empty, which happens when the value is currently held elsewhere.
func (c *TakeCell[T]) Take() (T, bool) {
	var zero T
	if !c.full {
		return zero, false
	}
	v := c.val
	c.val = zero
	c.full = false
	return v, true
}

// Replace stores v and returns the previous value, if any. The common
// pattern is Take at operation start, Replace on completion.
func (c *TakeCell[T]) Replace(v T) (T, bool) {
	prev, had := c.val, c.full
	c.val = v
	c.full = true
	if !had {
		var zero T
		prev = zero
	}
	return prev, had
}

// Map runs f on the contained value, if any, and reports whether it ran.
// The value is out of the cell while f executes, so a reentrant Take from
// inside f fails rather than aliasing.
func (c *TakeCell[T]) Map(f func(*T)) bool {
	v, ok := c.Take()
	if !ok {
		return false
	}
	f(&v)
	c.Replace(v)
	return true
}

// OptionalCell is a possibly-empty slot for small copyable values and
// references: a capsule's registered client, a current operation, the
// device presently using a shared bus. Unlike TakeCell it is read in
// place; the typical lifecycle is set once during board wiring, read many
// times after.
//
// The zero value is an empty cell.
type OptionalCell[T any] struct {
	val  T
	full bool
}

// Set stores v, overwriting any previous value.
func (c *OptionalCell[T]) Set(v T) {
	c.val = v
	c.full = true
}

// Get returns the contained value.
func (c *OptionalCell[T]) Get() (T, bool) {
	return c.val, c.full
}

// IsSome returns true if the cell holds a value.
func (c *OptionalCell[T]) IsSome() bool {
	return c.full
}

// IsNone returns true if the cell is empty.
func (c *OptionalCell[T]) IsNone() bool {
	return !c.full
}

// Take removes and returns the value.
func (c *OptionalCell[T]) Take() (T, bool) {
	v, ok := c.val, c.full
	var zero T
	c.val = zero
	c.full = false
	return v, ok
}

// Clear empties the cell.
func (c *OptionalCell[T]) Clear() {
	var zero T
	c.val = zero
	c.full = false
}

// Map runs f on the contained value, if any, and reports whether it ran.
func (c *OptionalCell[T]) Map(f func(T)) bool {
	if !c.full {
		return false
	}
	f(c.val)
	return true
}

// MapCell is a slot for values that are lent out only transiently, through
// a closure, rather than extracted. It suits state that conceptually never
// leaves its owner but must be mutated during an operation.
//
// The zero value is an empty cell.
type MapCell[T any] struct {
	val  T
	full bool
}

// NewMapCell returns a cell holding v.
func NewMapCell[T any](v T) MapCell[T] {
	return MapCell[T]{val: v, full: true}
}

// Put stores v, overwriting any previous value.
func (c *MapCell[T]) Put(v T) {
	c.val = v
	c.full = true
}

// Empty returns true if the cell holds no value.
func (c *MapCell[T]) Empty() bool {
	return !c.full
}

// Take removes and returns the value.
func (c *MapCell[T]) Take() (T, bool) {
	var zero T
	if !c.full {
		return zero, false
	}
	v := c.val
	c.val = zero
	c.full = false
	return v, true
}

// Map runs f with mutable access to the contained value and reports
// whether it ran. The value is withdrawn for the duration of f, so
// reentrant access through the cell fails instead of aliasing.
func (c *MapCell[T]) Map(f func(*T)) bool {
	v, ok := c.Take()
	if !ok {
		return false
	}
	f(&v)
	c.Put(v)
	return true
}
