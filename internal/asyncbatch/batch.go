// Package asyncbatch buffers items and flushes them either once a size
// threshold is reached or on a timer, whichever comes first.
package asyncbatch

import (
	"errors"
	"sync"
	"time"
)

// ErrBufferFull is returned by Submit when the buffer has reached
// bufferCapacity without a flush having drained it, mirroring the
// teacher's BufferCapacity-bounded Batcher.Submit backpressure.
var ErrBufferFull = errors.New("asyncbatch: buffer full")

// Sink receives a flushed batch. It always runs in its own goroutine with
// the buffer's lock released, so it may itself take time (e.g. a network
// write) without blocking concurrent Submit calls for longer than the
// copy. Sink errors are not returned to the Submit call that triggered
// the flush (which has typically already returned); inspect LastError.
type Sink[T any] func(batch []T) error

// Processor accumulates items of type T and flushes them to a Sink once
// batchSize items have been buffered or flushInterval has elapsed,
// whichever happens first. It generalizes the teacher's BatchProcessor
// wrapper around a generic Pipeline to a direct sink call, since this
// module's downstream (the columnar store) is the batching boundary
// itself rather than another pipeline stage; the async dispatch-and-wait
// shape (flush spawned in its own goroutine, tracked by a WaitGroup so
// Close can drain it) follows the teacher's Batcher.flushBuffer/Stop.
type Processor[T any] struct {
	sink           Sink[T]
	batchSize      int
	bufferCapacity int
	buffer         []T
	timer          *time.Timer
	interval       time.Duration
	mu             sync.Mutex
	lastErr        error
	wg             sync.WaitGroup
}

// New constructs a Processor with a bufferCapacity of twice batchSize,
// mirroring the teacher's DefaultBatchConfig pairing of MaxBatchSize with a
// much larger BufferCapacity. flushInterval resets after every flush
// (timer-triggered or size-triggered).
func New[T any](sink Sink[T], batchSize int, flushInterval time.Duration) *Processor[T] {
	return NewWithBufferCapacity(sink, batchSize, batchSize*2, flushInterval)
}

// NewWithBufferCapacity is New with an explicit bufferCapacity, for callers
// that need it configured independently of batchSize — matching the
// teacher's BatchConfig keeping MaxBatchSize and BufferCapacity as separate
// fields rather than deriving one from the other.
func NewWithBufferCapacity[T any](sink Sink[T], batchSize, bufferCapacity int, flushInterval time.Duration) *Processor[T] {
	p := &Processor[T]{
		sink:           sink,
		batchSize:      batchSize,
		bufferCapacity: bufferCapacity,
		buffer:         make([]T, 0, batchSize),
		interval:       flushInterval,
	}
	p.timer = time.AfterFunc(flushInterval, p.timerFlush)
	return p
}

// Submit adds an item to the buffer, spawning an asynchronous flush once
// the buffer reaches batchSize. It rejects with ErrBufferFull if the
// buffer is already at bufferCapacity; since a flush always drains the
// buffer on reaching batchSize, this only bites when bufferCapacity is
// configured tighter than batchSize (NewWithBufferCapacity), bounding how
// much the buffer may grow independent of the flush threshold itself.
func (p *Processor[T]) Submit(item T) error {
	p.mu.Lock()
	if len(p.buffer) >= p.bufferCapacity {
		p.mu.Unlock()
		return ErrBufferFull
	}
	p.buffer = append(p.buffer, item)

	var batch []T
	if len(p.buffer) >= p.batchSize {
		batch = p.drainLocked()
		p.timer.Reset(p.interval)
	}
	p.mu.Unlock()

	p.spawnFlush(batch)
	return nil
}

// drainLocked copies out and clears the buffer; callers must hold p.mu.
func (p *Processor[T]) drainLocked() []T {
	if len(p.buffer) == 0 {
		return nil
	}
	batch := make([]T, len(p.buffer))
	copy(batch, p.buffer)
	p.buffer = p.buffer[:0]
	return batch
}

// spawnFlush runs sink on batch in its own goroutine, tracked by wg so
// Close can wait for every in-flight flush to finish before returning.
func (p *Processor[T]) spawnFlush(batch []T) {
	if len(batch) == 0 {
		return
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if err := p.sink(batch); err != nil {
			p.mu.Lock()
			p.lastErr = err
			p.mu.Unlock()
		}
	}()
}

func (p *Processor[T]) timerFlush() {
	p.mu.Lock()
	batch := p.drainLocked()
	p.mu.Unlock()

	p.spawnFlush(batch)
	p.timer.Reset(p.interval)
}

// Flush forces the current buffer out regardless of size or timer state.
// Like Submit, the flush itself runs asynchronously; call Close or
// inspect LastError to observe its outcome.
func (p *Processor[T]) Flush() {
	p.mu.Lock()
	batch := p.drainLocked()
	p.mu.Unlock()

	p.spawnFlush(batch)
}

// LastError returns the most recent error raised by any flush (size-,
// timer-, or Flush-triggered), since none of them return errors directly
// to their caller.
func (p *Processor[T]) LastError() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastErr
}

// Close stops the flush timer, flushes any remaining buffered items, and
// waits for every spawned flush (including ones already in flight) to
// finish before returning the most recent flush error, if any.
func (p *Processor[T]) Close() error {
	p.timer.Stop()
	p.Flush()
	p.wg.Wait()
	return p.LastError()
}
