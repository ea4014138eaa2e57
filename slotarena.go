// Copyright 2018 The go-zeromq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rosnode

// SlotHandle is a stable cross-reference into a slotArena: an index plus a
// generation counter, so a stale handle captured before a slot was freed
// and reused is detectable instead of silently addressing the new
// occupant.
type SlotHandle struct {
	Index      int
	Generation uint32
}

// Valid reports whether h refers to any slot at all (the zero value is
// never a valid handle, since generation 0 is never issued).
func (h SlotHandle) Valid() bool { return h.Generation != 0 }

type arenaEntry[T any] struct {
	value      T
	generation uint32
	occupied   bool
}

// slotArena is the free-list-backed growable vector behind every
// registry (publishers, subscribers, providers, callers) and every peer
// table. Allocation returns the lowest freed index, or appends a new
// slot when none is free; deallocation marks
// the slot free and bumps its generation so that old handles are
// rejected by Get.
type slotArena[T any] struct {
	entries []arenaEntry[T]
	free    []int
}

func newSlotArena[T any]() *slotArena[T] {
	return &slotArena[T]{}
}

// Alloc reserves a slot, returning its handle. The backing entries slice
// grows as needed; there is no hard capacity cap, since Go slices make
// fixed-size allocation an artificial constraint with no idiomatic
// benefit here.
func (a *slotArena[T]) Alloc(v T) SlotHandle {
	if n := len(a.free); n > 0 {
		pos := 0
		for i := 1; i < n; i++ {
			if a.free[i] < a.free[pos] {
				pos = i
			}
		}
		idx := a.free[pos]
		a.free = append(a.free[:pos], a.free[pos+1:]...)
		e := &a.entries[idx]
		e.value = v
		e.occupied = true
		return SlotHandle{Index: idx, Generation: e.generation}
	}
	gen := uint32(1)
	a.entries = append(a.entries, arenaEntry[T]{value: v, generation: gen, occupied: true})
	return SlotHandle{Index: len(a.entries) - 1, Generation: gen}
}

// Free releases h's slot. Freeing an already-free or stale handle is a
// no-op, matching "deallocation marks free" without requiring the caller
// to pre-check.
func (a *slotArena[T]) Free(h SlotHandle) {
	if h.Index < 0 || h.Index >= len(a.entries) {
		return
	}
	e := &a.entries[h.Index]
	if !e.occupied || e.generation != h.Generation {
		return
	}
	var zero T
	e.value = zero
	e.occupied = false
	e.generation++
	a.free = append(a.free, h.Index)
}

// Get returns the slot's value and whether h is still a live handle into
// it.
func (a *slotArena[T]) Get(h SlotHandle) (*T, bool) {
	if h.Index < 0 || h.Index >= len(a.entries) {
		return nil, false
	}
	e := &a.entries[h.Index]
	if !e.occupied || e.generation != h.Generation {
		return nil, false
	}
	return &e.value, true
}

// Each calls fn for every currently occupied slot, in index order.
func (a *slotArena[T]) Each(fn func(h SlotHandle, v *T)) {
	for i := range a.entries {
		e := &a.entries[i]
		if e.occupied {
			fn(SlotHandle{Index: i, Generation: e.generation}, &e.value)
		}
	}
}

// Count returns the number of occupied slots.
func (a *slotArena[T]) Count() int {
	n := 0
	for i := range a.entries {
		if a.entries[i].occupied {
			n++
		}
	}
	return n
}
