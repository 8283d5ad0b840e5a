// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

// Package mem provides an arena for frame-transient allocations. All
// memory handed out by an arena is invalidated by Reset; callers must
// not retain arena-allocated values across frames.
package mem

import (
	"reflect"
)

// slabBytes is the target byte size of one slab. Types larger than
// this get a dedicated slab per allocation.
const slabBytes = 1 << 20

type Arena struct {
	pools map[reflect.Type]resettable
}

func NewArena() *Arena {
	return &Arena{
		pools: make(map[reflect.Type]resettable),
	}
}

// Reset invalidates all allocations and makes the memory available for
// reuse. Slabs are zeroed so they don't keep Go pointers alive.
func (a *Arena) Reset() {
	if a.pools == nil {
		a.pools = make(map[reflect.Type]resettable)
	}
	for _, p := range a.pools {
		p.reset()
	}
}

type resettable interface {
	reset()
}

type pool[T any] struct {
	slabs [][]T
	// index of the slab currently allocated from; slabs before it are
	// full
	cur int
	off int
}

func (p *pool[T]) reset() {
	for i := range p.slabs {
		limit := len(p.slabs[i])
		if i == p.cur {
			limit = p.off
		} else if i > p.cur {
			limit = 0
		}
		clear(p.slabs[i][:limit])
	}
	p.cur = 0
	p.off = 0
}

func (p *pool[T]) alloc(n int) []T {
	for p.cur < len(p.slabs) {
		sl := p.slabs[p.cur]
		if len(sl)-p.off >= n {
			out := sl[p.off : p.off+n : p.off+n]
			p.off += n
			return out
		}
		p.cur++
		p.off = 0
	}

	perSlab := slabElems[T]()
	if perSlab < n {
		perSlab = n
	}
	sl := make([]T, perSlab)
	p.slabs = append(p.slabs, sl)
	p.cur = len(p.slabs) - 1
	p.off = n
	return sl[:n:n]
}

func slabElems[T any]() int {
	sz := reflect.TypeOf((*T)(nil)).Elem().Size()
	if sz == 0 {
		return 1
	}
	n := slabBytes / int(sz)
	if n < 1 {
		n = 1
	}
	return n
}

func poolOf[T any](a *Arena) *pool[T] {
	// We cannot use TypeOf(*new(T)) when T is an interface type, because that
	// passes a nil interface to TypeOf, which returns nil.
	typ := reflect.TypeOf((*T)(nil)).Elem()
	if p, ok := a.pools[typ]; ok {
		return p.(*pool[T])
	}
	p := &pool[T]{}
	if a.pools == nil {
		a.pools = make(map[reflect.Type]resettable)
	}
	a.pools[typ] = p
	return p
}

func New[T any](a *Arena) *T {
	return &poolOf[T](a).alloc(1)[0]
}

func Make[T any](a *Arena, v T) *T {
	ptr := New[T](a)
	*ptr = v
	return ptr
}

func NewSlice[T ~[]E, E any](a *Arena, len, cap int) T {
	if cap == 0 {
		return nil
	}
	return T(poolOf[E](a).alloc(cap))[:len]
}

func MakeSlice[T ~[]E, E any](a *Arena, values T) T {
	// MakeSlice inlines, which means that MakeSlice(a, []T{...}) won't have to
	// allocate to pass the values to us.
	s := NewSlice[T, E](a, len(values), len(values))
	copy(s, values)
	return s
}

func Varargs[E any](a *Arena, values ...E) []E {
	return MakeSlice[[]E, E](a, values)
}

func Append[T ~[]E, E any](a *Arena, s T, data ...E) T {
	s = Grow(a, s, len(data))
	s = append(s, data...)
	return s
}

func Grow[T ~[]E, E any](a *Arena, s T, n int) T {
	if n -= cap(s) - len(s); n > 0 {
		s = growSlice(a, s, n)
	}
	return s
}

func growSlice[T ~[]E, E any](a *Arena, s T, n int) T {
	const growThreshold = 256
	newLen := len(s) + n
	newCap := cap(s)

	if newCap > 0 {
		for newLen > newCap {
			if newCap < growThreshold {
				newCap *= 2
			} else {
				newCap += newCap / 4
			}
		}
	} else {
		newCap = n
	}
	if newCap == cap(s) {
		return s
	}
	s2 := NewSlice[T, E](a, len(s), newCap)
	copy(s2, s)
	return s2
}
