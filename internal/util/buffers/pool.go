// Package buffers provides reusable chunk buffers for transfers.
//
// Every transfer moves data in fixed-size chunks; pooling the chunk buffers keeps
// heap allocations flat no matter how many transfers run.
package buffers

import (
	"sync"
	"sync/atomic"
)

// Pool hands out buffers of one fixed size.
type Pool struct {
	size        int
	pool        sync.Pool
	allocations atomic.Int64 // Total buffer allocations (new creates)
	gets        atomic.Int64
}

// NewPool creates a pool of size-byte buffers.
func NewPool(size int) *Pool {
	p := &Pool{size: size}
	p.pool.New = func() interface{} {
		p.allocations.Add(1)
		buf := make([]byte, size)
		return &buf
	}
	return p
}

// Size returns the length of the buffers in this pool.
func (p *Pool) Size() int { return p.size }

// Get retrieves a buffer from the pool.
// The buffer must be returned with Put when done.
//
// Usage:
//
//	buf := pool.Get()
//	defer pool.Put(buf)
//	n, err := io.ReadFull(file, *buf)
//	// Use (*buf)[:n] for actual data
func (p *Pool) Get() *[]byte {
	p.gets.Add(1)
	return p.pool.Get().(*[]byte)
}

// Put returns a buffer to the pool for reuse. Buffers of the wrong size are dropped.
// The buffer is cleared before being pooled to prevent data leaking across transfers.
func (p *Pool) Put(buf *[]byte) {
	if buf != nil && len(*buf) == p.size {
		clear(*buf)
		p.pool.Put(buf)
	}
}

// Stats returns current buffer pool statistics
// Useful for monitoring and debugging memory usage
type Stats struct {
	BufferSize  int   // Size of buffers (bytes)
	Allocations int64 // Total buffer allocations (new creates)
	Gets        int64 // Total Get calls
}

// Stats returns a snapshot of the pool counters.
func (p *Pool) Stats() Stats {
	return Stats{
		BufferSize:  p.size,
		Allocations: p.allocations.Load(),
		Gets:        p.gets.Load(),
	}
}
