// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package engine

import (
	"fmt"

	"honnef.co/go/trine/driver"
	"honnef.co/go/trine/geom"
)

type bufferRecord struct {
	handle    driver.Buffer
	kind      driver.BufferKind
	elemWidth int
	version   uint64
	external  bool
	// holders are the attributes viewing this buffer. Interleaved
	// attributes share one record; the GPU buffer is freed when the
	// last holder releases.
	holders map[geom.ID]struct{}
}

// Buffers keeps GPU buffers in sync with their CPU-side sources.
// Records are keyed by the DataBuffer's ID, so any number of
// attributes viewing one buffer produce one record and at most one
// upload per version.
type Buffers struct {
	eng  *Engine
	recs map[geom.ID]*bufferRecord
}

func newBuffers(eng *Engine) *Buffers {
	return &Buffers{
		eng:  eng,
		recs: make(map[geom.ID]*bufferRecord),
	}
}

// Ensure brings the GPU copy of buf up to date and returns its handle.
// When the record's version already matches, no device call is issued
// at all. A fresh buffer is allocated and fully uploaded on first use;
// afterwards, a version bump re-uploads either the whole buffer or
// only the pending update range, which is consumed in the process.
func (bufs *Buffers) Ensure(buf *geom.DataBuffer, kind driver.BufferKind) (driver.Buffer, error) {
	rec := bufs.recs[buf.ID()]
	if rec == nil {
		return bufs.create(buf, kind)
	}
	if rec.external {
		// Externally managed contents; only the bookkeeping version
		// moves.
		if rec.version < buf.Version() {
			rec.version = buf.Version()
		}
		return rec.handle, nil
	}
	if rec.version < buf.Version() {
		bufs.upload(rec, buf)
		rec.version = buf.Version()
	}
	return rec.handle, nil
}

func (bufs *Buffers) create(buf *geom.DataBuffer, kind driver.BufferKind) (driver.Buffer, error) {
	rec := &bufferRecord{
		kind:      kind,
		elemWidth: buf.Type().ByteWidth(),
		version:   buf.Version(),
		holders:   make(map[geom.ID]struct{}),
	}
	if handle, ok := buf.ExternalHandle(); ok {
		rec.handle = handle
		rec.external = true
		bufs.recs[buf.ID()] = rec
		return handle, nil
	}

	handle, err := bufs.eng.Device.NewBuffer(kind, buf.ByteLen(), buf.Usage())
	if err != nil {
		return 0, fmt.Errorf("allocating %v buffer of %d bytes: %w", kind, buf.ByteLen(), err)
	}
	rec.handle = handle
	bufs.eng.Device.WriteBuffer(handle, 0, buf.Bytes())
	bufs.eng.stats.BufferUploads++
	// The full upload supersedes any range set before first use.
	buf.TakeUpdateRange()
	bufs.recs[buf.ID()] = rec
	if buf.OnUpload != nil {
		buf.OnUpload()
	}
	return handle, nil
}

func (bufs *Buffers) upload(rec *bufferRecord, buf *geom.DataBuffer) {
	data := buf.Bytes()
	if r, ok := buf.TakeUpdateRange(); ok {
		from := r.Offset * rec.elemWidth
		to := (r.Offset + r.Count) * rec.elemWidth
		bufs.eng.Device.WriteBuffer(rec.handle, from, data[from:to])
	} else {
		bufs.eng.Device.WriteBuffer(rec.handle, 0, data)
	}
	bufs.eng.stats.BufferUploads++
}

// Retain syncs the buffer behind attr like Ensure and registers attr
// as a holder. Each holding attribute must be released exactly once.
func (bufs *Buffers) Retain(attr *geom.Attribute, kind driver.BufferKind) (driver.Buffer, error) {
	handle, err := bufs.Ensure(attr.Buffer(), kind)
	if err != nil {
		return 0, err
	}
	bufs.recs[attr.Buffer().ID()].holders[attr.ID()] = struct{}{}
	return handle, nil
}

// Release drops attr's hold on its buffer. When the last holder goes,
// the GPU buffer is destroyed and the record removed. External handles
// are never destroyed; their owner frees them.
func (bufs *Buffers) Release(attr *geom.Attribute) {
	buf := attr.Buffer()
	rec := bufs.recs[buf.ID()]
	if rec == nil {
		return
	}
	delete(rec.holders, attr.ID())
	if len(rec.holders) > 0 {
		return
	}
	if !rec.external {
		bufs.eng.Device.DestroyBuffer(rec.handle)
	}
	delete(bufs.recs, buf.ID())
}

// Get returns the current handle for buf without syncing, or 0 when no
// record exists. Binding-state comparisons use this to avoid
// re-triggering uploads.
func (bufs *Buffers) Get(buf *geom.DataBuffer) driver.Buffer {
	rec := bufs.recs[buf.ID()]
	if rec == nil {
		return 0
	}
	return rec.handle
}

func (bufs *Buffers) destroyAll() {
	for id, rec := range bufs.recs {
		if !rec.external {
			bufs.eng.Device.DestroyBuffer(rec.handle)
		}
		delete(bufs.recs, id)
	}
}
