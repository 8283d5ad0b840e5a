// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package trine

import (
	"cmp"
	"iter"
	"slices"

	"honnef.co/go/trine/driver"
	"honnef.co/go/trine/geom"
	"honnef.co/go/trine/mem"
)

// renderItem is one drawable scheduled for the current frame, with its
// sort keys extracted up front.
type renderItem struct {
	ob   Object
	prog driver.ProgramID
	geo  geom.ID
}

// renderList partitions one frame's drawables. Opaque items sort by
// program then geometry so consecutive draws reuse program and binding
// state; transparent items draw last, in submission order. The list's
// memory comes from the frame arena and dies at the next reset.
type renderList struct {
	opaque      []renderItem
	transparent []renderItem
}

func buildRenderList(a *mem.Arena, objects []Object) renderList {
	var list renderList
	for _, ob := range objects {
		if !ob.Visible() {
			continue
		}
		item := renderItem{
			ob:   ob,
			prog: ob.Material().Program.ID(),
			geo:  ob.Geometry().ID(),
		}
		if ob.Material().Transparent {
			list.transparent = mem.Append(a, list.transparent, item)
		} else {
			list.opaque = mem.Append(a, list.opaque, item)
		}
	}
	slices.SortStableFunc(list.opaque, func(x, y renderItem) int {
		if c := cmp.Compare(x.prog, y.prog); c != 0 {
			return c
		}
		return cmp.Compare(x.geo, y.geo)
	})
	return list
}

// items yields the drawables in draw order.
func (l renderList) items() iter.Seq[Object] {
	return func(yield func(Object) bool) {
		for _, it := range l.opaque {
			if !yield(it.ob) {
				return
			}
		}
		for _, it := range l.transparent {
			if !yield(it.ob) {
				return
			}
		}
	}
}
