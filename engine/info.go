// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package engine

// Stats counts the work of the current frame plus live-resource
// gauges. The per-frame counters reset in BeginFrame; the gauges track
// cache contents and survive frames.
type Stats struct {
	Frame uint64

	DrawCalls         int
	Triangles         int
	BufferUploads     int
	TextureUploads    int
	GroupUpdates      int
	BindGroupRebuilds int

	Buffers      int
	Textures     int
	VertexArrays int
	BindGroups   int
}

func (s *Stats) resetFrame(frame uint64) {
	s.Frame = frame
	s.DrawCalls = 0
	s.Triangles = 0
	s.BufferUploads = 0
	s.TextureUploads = 0
	s.GroupUpdates = 0
	s.BindGroupRebuilds = 0
}

// Stats snapshots the current counters.
func (eng *Engine) Stats() Stats {
	s := eng.stats
	s.Buffers = len(eng.Buffers.recs)
	s.Textures = len(eng.Textures.texs)
	s.VertexArrays = len(eng.States.states)
	s.BindGroups = len(eng.Bindings.sets)
	return s
}
