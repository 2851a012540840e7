package bufpool

import (
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
	"sync/atomic"
)

var Logger = logger.GetLogger("bufpool")

var (
	hits   = metrics.GetOrCreateCounter(`rkv_bufpool_acquire_total{result="hit"}`)
	misses = metrics.GetOrCreateCounter(`rkv_bufpool_acquire_total{result="miss"}`)
	direct = metrics.GetOrCreateCounter(`rkv_bufpool_acquire_total{result="oversize"}`)
	drops  = metrics.GetOrCreateCounter(`rkv_bufpool_release_dropped_total`)
)

// Pool is a fixed set of slots, each either empty or holding one buffer of
// exactly the canonical size.
type Pool struct {
	slots   []atomic.Pointer[[]byte]
	size    int
	ceiling int
}

// New creates a pool with the given number of slots for buffers of size
// bytes. Requests above ceiling (or above size) bypass the pool.
func New(slots, size, ceiling int) *Pool {
	if slots < 0 {
		slots = 0
	}
	if ceiling <= 0 || ceiling > size {
		ceiling = size
	}
	Logger.Debugf("created buffer pool with %d slots of %d bytes", slots, size)

	return &Pool{
		slots:   make([]atomic.Pointer[[]byte], slots),
		size:    size,
		ceiling: ceiling,
	}
}

// Size returns the canonical buffer size
func (p *Pool) Size() int {
	return p.size
}

// Cap returns the number of slots
func (p *Pool) Cap() int {
	return len(p.slots)
}

// Len returns the number of occupied slots. The value is only a snapshot.
func (p *Pool) Len() int {
	n := 0
	for i := range p.slots {
		if p.slots[i].Load() != nil {
			n++
		}
	}
	return n
}

// Acquire returns a buffer with len >= sizeHint. Pooled buffers keep their
// old content.
func (p *Pool) Acquire(sizeHint int) []byte {
	if sizeHint > p.ceiling {
		direct.Inc()
		return make([]byte, sizeHint)
	}

	for i := range p.slots {
		if buf := p.slots[i].Swap(nil); buf != nil {
			hits.Inc()
			return *buf
		}
	}

	misses.Inc()
	return make([]byte, p.size)
}

// Release hands a buffer back. Buffers that are not exactly canonical size
// are ignored, so are buffers that find no empty slot.
func (p *Pool) Release(buf []byte) {
	if len(buf) != p.size {
		return
	}

	ref := &buf
	for i := range p.slots {
		if p.slots[i].Load() != nil {
			continue
		}
		if p.slots[i].CompareAndSwap(nil, ref) {
			return
		}
	}
	drops.Inc()
}

// GrowWithCopy returns a new buffer of max(2*len(buf), minCapacity) bytes
// whose head holds buf[copyFrom:copyFrom+copyLength]. A canonical buf is
// released to the pool, the caller must stop using it.
func (p *Pool) GrowWithCopy(buf []byte, minCapacity, copyFrom, copyLength int) []byte {
	newSize := 2 * len(buf)
	if minCapacity > newSize {
		newSize = minCapacity
	}

	grown := make([]byte, newSize)
	copy(grown, buf[copyFrom:copyFrom+copyLength])

	if len(buf) == p.size {
		p.Release(buf)
	}
	return grown
}

// Flush empties every slot
func (p *Pool) Flush() {
	for i := range p.slots {
		p.slots[i].Store(nil)
	}
	Logger.Debugf("buffer pool flushed")
}
