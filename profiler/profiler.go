// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

// Package profiler defines the hooks through which the renderer
// reports per-frame timing. Implementations must only be used from the
// rendering thread.
package profiler

import "time"

// A Group is a span of work that may contain nested spans.
type Group interface {
	// Nest starts a child span. The child must be ended before the
	// parent.
	Nest(label string) Group
	End()
}

// A Profiler hands out one root group per frame.
type Profiler interface {
	Frame(frame uint64) Group
}

// Nop returns a profiler whose groups do nothing.
func Nop() Profiler {
	return nopProfiler{}
}

type nopProfiler struct{}

func (nopProfiler) Frame(uint64) Group { return nopGroup{} }

type nopGroup struct{}

func (nopGroup) Nest(string) Group { return nopGroup{} }
func (nopGroup) End()              {}

// Sample is one recorded span.
type Sample struct {
	Frame    uint64
	Label    string
	Depth    int
	Duration time.Duration
}

// CPU is a profiler that measures spans with the wall clock. The zero
// value is ready for use.
type CPU struct {
	samples []Sample
}

func (p *CPU) Frame(frame uint64) Group {
	return p.start(frame, "frame", 0)
}

func (p *CPU) start(frame uint64, label string, depth int) *cpuGroup {
	return &cpuGroup{
		p:     p,
		frame: frame,
		label: label,
		depth: depth,
		begin: time.Now(),
	}
}

// Samples returns all spans recorded so far and clears the backlog.
func (p *CPU) Samples() []Sample {
	s := p.samples
	p.samples = nil
	return s
}

type cpuGroup struct {
	p     *CPU
	frame uint64
	label string
	depth int
	begin time.Time
}

func (g *cpuGroup) Nest(label string) Group {
	return g.p.start(g.frame, label, g.depth+1)
}

func (g *cpuGroup) End() {
	g.p.samples = append(g.p.samples, Sample{
		Frame:    g.frame,
		Label:    g.label,
		Depth:    g.depth,
		Duration: time.Since(g.begin),
	})
}
