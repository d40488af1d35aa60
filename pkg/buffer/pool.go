// Copyright (c) 2025 cocowh. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package buffer

import (
	"sync"
	"sync/atomic"
)

const DefaultSize = 32 * 1024

// Pool recycles fixed-size copy buffers for relays.
type Pool struct {
	size  int
	pool  sync.Pool
	inUse atomic.Int64
}

// NewPool 创建缓冲区池
func NewPool(size int) *Pool {
	if size <= 0 {
		size = DefaultSize
	}
	p := &Pool{size: size}
	p.pool.New = func() any {
		b := make([]byte, size)
		return &b
	}
	return p
}

// Get returns a buffer of exactly Size bytes.
func (p *Pool) Get() *[]byte {
	p.inUse.Add(1)
	return p.pool.Get().(*[]byte)
}

// Put returns b to the pool. Buffers of a foreign size are dropped.
func (p *Pool) Put(b *[]byte) {
	if b == nil {
		return
	}
	p.inUse.Add(-1)
	if cap(*b) != p.size {
		return
	}
	*b = (*b)[:p.size]
	p.pool.Put(b)
}

// Size returns the buffer length handed out by Get.
func (p *Pool) Size() int {
	return p.size
}

// InUse returns the number of buffers currently checked out.
func (p *Pool) InUse() int64 {
	return p.inUse.Load()
}
