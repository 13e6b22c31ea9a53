package ws

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDedupeCacheSuppressesRepeats(t *testing.T) {
	d := newDedupeCache(10, time.Minute)

	assert.True(t, d.Add("m1"))
	assert.False(t, d.Add("m1"), "second delivery of the same id is suppressed")
	assert.True(t, d.Add("m2"))
}

func TestDedupeCacheEvictsAtCapacity(t *testing.T) {
	d := newDedupeCache(3, time.Minute)

	for i := 0; i < 3; i++ {
		assert.True(t, d.Add(fmt.Sprintf("m%d", i)))
	}
	assert.True(t, d.Add("m3"), "capacity overflow evicts the oldest")
	assert.True(t, d.Add("m0"), "evicted id is deliverable again")
	assert.Equal(t, 3, d.len())
}

func TestDedupeCacheExpiry(t *testing.T) {
	d := newDedupeCache(10, 20*time.Millisecond)

	assert.True(t, d.Add("m1"))
	assert.False(t, d.Add("m1"))

	time.Sleep(30 * time.Millisecond)
	assert.True(t, d.Add("m1"), "expired ids are deliverable again")
}
