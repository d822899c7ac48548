// File: pool/pool.go
// Package pool provides reusable byte slabs for transport read loops.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package pool

import "sync"

// SlabPool recycles fixed-capacity byte slices. Slabs of a foreign size
// are rejected on Put so every Get returns a full-length slab.
type SlabPool struct {
	size int
	p    sync.Pool
}

// NewSlabPool creates a pool of slabs with the given capacity.
func NewSlabPool(size int) *SlabPool {
	sp := &SlabPool{size: size}
	sp.p.New = func() any {
		return make([]byte, size)
	}
	return sp
}

// Get returns a slab of the pool's configured size.
func (sp *SlabPool) Get() []byte {
	return sp.p.Get().([]byte)
}

// Put returns a slab for reuse. The caller must not touch it afterwards.
func (sp *SlabPool) Put(b []byte) {
	if cap(b) != sp.size {
		return
	}
	sp.p.Put(b[:sp.size])
}

// Size reports the slab capacity.
func (sp *SlabPool) Size() int {
	return sp.size
}
