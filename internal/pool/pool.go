// Package pool provides typed object pooling for the codec's scratch buffers.
//
//	buf := pool.Buffers.Get()
//	defer pool.Buffers.Put(buf)
package pool

import (
	"bufio"
	"bytes"
	"io"
	"sync"
	"sync/atomic"
)

// Pool is a type-safe wrapper around sync.Pool with an optional reset hook
// and allocation statistics. It is safe for concurrent use.
type Pool[T any] struct {
	pool  sync.Pool
	reset func(T)
	stats struct {
		allocated int64
		inUse     int64
	}
}

// New creates a pool. reset, if non-nil, runs on every object returned by Put.
func New[T any](new func() T, reset func(T)) *Pool[T] {
	p := &Pool[T]{reset: reset}
	p.pool.New = func() interface{} {
		atomic.AddInt64(&p.stats.allocated, 1)
		return new()
	}
	return p
}

// Get retrieves an object, allocating one if the pool is empty.
func (p *Pool[T]) Get() T {
	atomic.AddInt64(&p.stats.inUse, 1)
	return p.pool.Get().(T)
}

// Put resets obj and returns it to the pool.
func (p *Pool[T]) Put(obj T) {
	if p.reset != nil {
		p.reset(obj)
	}
	atomic.AddInt64(&p.stats.inUse, -1)
	p.pool.Put(obj)
}

// Stats returns the number of objects ever allocated and currently checked out.
func (p *Pool[T]) Stats() (allocated, inUse int64) {
	return atomic.LoadInt64(&p.stats.allocated), atomic.LoadInt64(&p.stats.inUse)
}

// maxPooledBuffer caps the capacity of buffers kept in Buffers so one huge
// string does not pin memory.
const maxPooledBuffer = 1 << 20

const ioBufferSize = 32 * 1024

var (
	// Buffers holds byte buffers used to read variable-length payloads.
	Buffers = New(
		func() *bytes.Buffer { return new(bytes.Buffer) },
		func(b *bytes.Buffer) {
			if b.Cap() > maxPooledBuffer {
				*b = bytes.Buffer{}
				return
			}
			b.Reset()
		},
	)

	// Writers holds buffered writers for stream encoding. Callers Reset them
	// onto their destination and must Flush before Put.
	Writers = New(
		func() *bufio.Writer { return bufio.NewWriterSize(io.Discard, ioBufferSize) },
		func(w *bufio.Writer) { w.Reset(io.Discard) },
	)
)
