package buffers

import (
	"sync"
	"testing"

	"github.com/rescale/rescale-sftp/internal/constants"
)

// TestPoolGetPut verifies that buffers can be retrieved and returned
func TestPoolGetPut(t *testing.T) {
	p := NewPool(constants.DefaultChunkSize)

	buf := p.Get()
	if buf == nil {
		t.Fatal("Get returned nil")
	}

	if len(*buf) != constants.DefaultChunkSize {
		t.Errorf("Buffer size = %d, want %d", len(*buf), constants.DefaultChunkSize)
	}

	(*buf)[0] = 0xFF
	p.Put(buf)

	// Get another buffer (may or may not be the same one due to pool)
	buf2 := p.Get()
	if buf2 == nil {
		t.Fatal("Get returned nil on second call")
	}
	if (*buf2)[0] != 0 {
		t.Error("Pooled buffer was not cleared")
	}
	p.Put(buf2)
}

// TestPutWithWrongSize verifies wrong-sized buffers are not pooled
func TestPutWithWrongSize(t *testing.T) {
	p := NewPool(4096)

	wrongSizeBuf := make([]byte, 1024)
	p.Put(&wrongSizeBuf)
	p.Put(nil)

	buf := p.Get()
	if len(*buf) != 4096 {
		t.Errorf("Expected 4096-byte buffer, got %d", len(*buf))
	}
}

// TestStats verifies the counters move with use
func TestStats(t *testing.T) {
	p := NewPool(512)

	bufs := []*[]byte{p.Get(), p.Get(), p.Get()}
	stats := p.Stats()

	if stats.BufferSize != 512 {
		t.Errorf("BufferSize = %d, want 512", stats.BufferSize)
	}
	if stats.Gets != 3 {
		t.Errorf("Gets = %d, want 3", stats.Gets)
	}
	if stats.Allocations < 1 || stats.Allocations > 3 {
		t.Errorf("Allocations = %d, want between 1 and 3", stats.Allocations)
	}

	for _, b := range bufs {
		p.Put(b)
	}
}

// TestConcurrentUse verifies the pool is safe under contention
func TestConcurrentUse(t *testing.T) {
	p := NewPool(1024)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				buf := p.Get()
				(*buf)[j%1024] = byte(j)
				p.Put(buf)
			}
		}()
	}
	wg.Wait()
}
