package memserver

import (
	"github.com/stretchr/testify/assert"
	"testing"
	"time"
)

func TestExpiryQueue_PopExpiredInDeadlineOrder(t *testing.T) {
	q := newExpiryQueue[string]()
	base := time.Now()

	q.schedule("c", base.Add(3*time.Second))
	q.schedule("a", base.Add(1*time.Second))
	q.schedule("b", base.Add(2*time.Second))

	assert.Empty(t, q.popExpired(base))
	assert.Equal(t, []string{"a", "b"}, q.popExpired(base.Add(2*time.Second)))
	assert.Equal(t, 1, q.Len())

	next, ok := q.next()
	assert.True(t, ok)
	assert.Equal(t, base.Add(3*time.Second).UnixNano(), next.UnixNano())
}

func TestExpiryQueue_Reschedule(t *testing.T) {
	q := newExpiryQueue[string]()
	base := time.Now()

	q.schedule("a", base.Add(time.Second))
	q.schedule("b", base.Add(2*time.Second))
	q.schedule("a", base.Add(3*time.Second))

	assert.Equal(t, 2, q.Len())
	assert.Equal(t, []string{"b"}, q.popExpired(base.Add(2*time.Second)))
	assert.Equal(t, []string{"a"}, q.popExpired(base.Add(3*time.Second)))
	assert.Equal(t, 0, q.Len())
}

func TestExpiryQueue_Cancel(t *testing.T) {
	q := newExpiryQueue[dbKey]()
	base := time.Now()
	k1, k2 := dbKey{0, "x"}, dbKey{1, "x"}

	q.schedule(k1, base)
	q.schedule(k2, base)

	assert.True(t, q.cancel(k1))
	assert.False(t, q.cancel(k1))
	assert.Equal(t, []dbKey{k2}, q.popExpired(base))

	_, ok := q.next()
	assert.False(t, ok)
}

func TestExpiryQueue_Reset(t *testing.T) {
	q := newExpiryQueue[string]()
	q.schedule("a", time.Now())
	q.reset()

	assert.Equal(t, 0, q.Len())
	assert.False(t, q.cancel("a"))
}
