package plancache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"analystengine/internal/session"
)

func TestGetSet_RoundTrip(t *testing.T) {
	c := New(10, time.Hour)
	key := Fingerprint("sum sales", HashDocument("a,b\n1,2"), "basic")
	plan := session.Plan{TaskType: "basic"}

	_, ok := c.Get(key)
	require.False(t, ok)

	c.Set(key, plan)
	got, ok := c.Get(key)
	require.True(t, ok)
	assert.Equal(t, plan, got)
}

func TestGet_ExpiresByTTL(t *testing.T) {
	c := New(10, 1*time.Millisecond)
	key := Fingerprint("r", "d", "t")
	c.Set(key, session.Plan{TaskType: "basic"})
	time.Sleep(5 * time.Millisecond)

	_, ok := c.Get(key)
	assert.False(t, ok)
	assert.Equal(t, 0, c.Size())
}

func TestSet_EvictsLeastRecentlyAccessedOnOverflow(t *testing.T) {
	c := New(2, time.Hour)
	k1 := Fingerprint("r1", "d", "t")
	k2 := Fingerprint("r2", "d", "t")
	k3 := Fingerprint("r3", "d", "t")

	c.Set(k1, session.Plan{TaskType: "1"})
	c.Set(k2, session.Plan{TaskType: "2"})
	// touch k1 so it is more recently accessed than k2.
	_, _ = c.Get(k1)

	c.Set(k3, session.Plan{TaskType: "3"})

	_, ok1 := c.Get(k1)
	_, ok2 := c.Get(k2)
	_, ok3 := c.Get(k3)
	assert.True(t, ok1)
	assert.False(t, ok2, "k2 was least recently accessed and should have been evicted")
	assert.True(t, ok3)
	assert.Equal(t, 2, c.Size())
}

func TestSet_SizeCapsAtMaxSizeAcrossNDistinctKeys(t *testing.T) {
	c := New(5, time.Hour)
	for i := 0; i < 20; i++ {
		key := Fingerprint(string(rune('a'+i)), "d", "t")
		c.Set(key, session.Plan{TaskType: "basic"})
	}
	assert.Equal(t, 5, c.Size())
}

func TestStats_TracksHitsAndMisses(t *testing.T) {
	c := New(10, time.Hour)
	key := Fingerprint("r", "d", "t")

	_, _ = c.Get(key) // miss
	c.Set(key, session.Plan{TaskType: "basic"})
	_, _ = c.Get(key) // hit
	_, _ = c.Get(key) // hit

	stats := c.Stats()
	assert.Equal(t, int64(2), stats.HitCount)
	assert.Equal(t, int64(1), stats.MissCount)
	assert.Equal(t, 1, stats.Size)
}
