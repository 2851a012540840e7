package bufpool

import (
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"sync"
	"testing"
)

func TestAcquireLength(t *testing.T) {
	p := New(4, 64, 64)

	for _, hint := range []int{0, 1, 63, 64, 65, 1000} {
		buf := p.Acquire(hint)
		assert.GreaterOrEqual(t, len(buf), hint, "hint %d", hint)
	}
}

func TestOversizeBypassesPool(t *testing.T) {
	p := New(4, 64, 64)

	big := p.Acquire(100)
	require.Len(t, big, 100)

	p.Release(big)
	assert.Equal(t, 0, p.Len(), "non-canonical buffers must never be pooled")
}

func TestReleaseThenReuse(t *testing.T) {
	p := New(2, 16, 16)

	buf := p.Acquire(8)
	require.Len(t, buf, 16)
	buf[0] = 42

	p.Release(buf)
	require.Equal(t, 1, p.Len())

	again := p.Acquire(8)
	assert.Len(t, again, 16)
	assert.Equal(t, byte(42), again[0], "content is not cleared")
	assert.Equal(t, 0, p.Len())
}

func TestPoolNeverGrows(t *testing.T) {
	p := New(3, 16, 16)

	for i := 0; i < 10; i++ {
		p.Release(make([]byte, 16))
	}
	assert.Equal(t, 3, p.Len())
	assert.Equal(t, 3, p.Cap())
}

func TestGrowWithCopy(t *testing.T) {
	p := New(2, 8, 8)

	buf := p.Acquire(0)
	copy(buf, "abcdefgh")

	grown := p.GrowWithCopy(buf, 10, 2, 4)
	assert.Len(t, grown, 16, "max(2*8, 10)")
	assert.Equal(t, "cdef", string(grown[:4]))
	assert.Equal(t, 1, p.Len(), "canonical source buffer goes back to the pool")

	bigger := p.GrowWithCopy(grown, 100, 0, 4)
	assert.Len(t, bigger, 100)
	assert.Equal(t, "cdef", string(bigger[:4]))
	assert.Equal(t, 1, p.Len(), "non-canonical source buffer is dropped")
}

func TestFlush(t *testing.T) {
	p := New(5, 8, 8)
	for i := 0; i < 5; i++ {
		p.Release(make([]byte, 8))
	}
	require.Equal(t, 5, p.Len())

	p.Flush()
	assert.Equal(t, 0, p.Len())
}

func TestConcurrentAcquireRelease(t *testing.T) {
	p := New(8, 32, 32)

	var wg sync.WaitGroup
	for g := 0; g < 16; g++ {
		wg.Add(1)
		go func(id byte) {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				buf := p.Acquire(32)
				if len(buf) != 32 {
					t.Errorf("unexpected buffer length %d", len(buf))
					return
				}
				// a buffer must never be handed to two goroutines at once
				buf[0] = id
				buf[31] = id
				if buf[0] != id {
					t.Errorf("buffer shared between goroutines")
					return
				}
				p.Release(buf)
			}
		}(byte(g))
	}
	wg.Wait()

	assert.LessOrEqual(t, p.Len(), 8)
}
