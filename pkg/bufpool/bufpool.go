// Package bufpool recycles fixed-size byte buffers.
//
// The event loop keeps one buffer per open connection to accumulate the
// request line. Connections are short-lived (one request each), so the
// buffers are pooled instead of allocated on every accept.
//
// Usage:
//
//	pool := bufpool.New(size)
//	buf := pool.Get()
//	defer pool.Put(buf)
//	buf = append(buf, data...)
package bufpool

import (
	"sync"
	"sync/atomic"
)

// Pool hands out empty slices with a fixed capacity.
type Pool struct {
	size int
	pool sync.Pool

	gets   atomic.Int64
	allocs atomic.Int64
}

// New returns a pool of buffers with capacity size. Sizes below one are
// raised to one.
func New(size int) *Pool {
	if size < 1 {
		size = 1
	}
	p := &Pool{size: size}
	p.pool.New = func() any {
		p.allocs.Add(1)
		buf := make([]byte, 0, p.size)
		return &buf
	}
	return p
}

// Size is the capacity of every buffer returned by Get.
func (p *Pool) Size() int { return p.size }

// Get returns an empty buffer with capacity Size. Return it with Put once
// it is no longer referenced.
func (p *Pool) Get() []byte {
	p.gets.Add(1)
	return (*p.pool.Get().(*[]byte))[:0]
}

// Put returns buf to the pool. Buffers that were grown past Size by
// append, or that did not come from this pool, are left to the GC.
func (p *Pool) Put(buf []byte) {
	if cap(buf) != p.size {
		return
	}
	buf = buf[:0]
	p.pool.Put(&buf)
}

// Stats reports how many buffers were requested and how many of those
// had to be allocated.
func (p *Pool) Stats() (gets, allocs int64) {
	return p.gets.Load(), p.allocs.Load()
}
