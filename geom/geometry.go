// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package geom

// Geometry bundles named attributes and an optional index for one
// drawable shape. Attribute names are tracked in insertion order,
// which also fixes the order of buffer syncs.
type Geometry struct {
	id        ID
	attrs     map[string]*Attribute
	names     []string
	index     *Attribute
	instances int
}

func NewGeometry() *Geometry {
	return &Geometry{
		id:    NextID(),
		attrs: make(map[string]*Attribute),
	}
}

func (g *Geometry) ID() ID {
	return g.id
}

func (g *Geometry) SetAttribute(name string, a *Attribute) {
	if _, ok := g.attrs[name]; !ok {
		g.names = append(g.names, name)
	}
	g.attrs[name] = a
}

// Attribute returns the named attribute, or nil.
func (g *Geometry) Attribute(name string) *Attribute {
	return g.attrs[name]
}

// Names returns the attribute names in insertion order. The returned
// slice is shared; callers must not mutate it.
func (g *Geometry) Names() []string {
	return g.names
}

// SetIndex attaches an index attribute. Its buffer's element type must
// be an unsigned integer type and its item size 1.
func (g *Geometry) SetIndex(a *Attribute) {
	g.index = a
}

func (g *Geometry) Index() *Attribute {
	return g.index
}

// SetInstanceCount makes the geometry draw instanced. 0 restores
// non-instanced drawing.
func (g *Geometry) SetInstanceCount(n int) {
	g.instances = n
}

func (g *Geometry) InstanceCount() int {
	return g.instances
}

// DrawCount returns how many elements one draw of this geometry
// covers, and whether the draw is indexed. Non-indexed geometries
// count vertices from the "position" attribute, falling back to the
// first attribute added.
func (g *Geometry) DrawCount() (count int, indexed bool) {
	if g.index != nil {
		return g.index.Buffer().Len(), true
	}
	if pos, ok := g.attrs["position"]; ok {
		return pos.Count(), false
	}
	if len(g.names) > 0 {
		return g.attrs[g.names[0]].Count(), false
	}
	return 0, false
}
