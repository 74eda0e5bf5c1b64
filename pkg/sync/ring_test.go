package sync

import (
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRing_Consistency(t *testing.T) {
	members := make(map[string]int)
	for i := 0; i < 64; i++ {
		members[fmt.Sprintf("member%d", i)] = i
	}

	r := NewRing(members, 200)
	other := NewRing(members, 200)

	for i := 0; i < 256; i++ {
		key := []byte(fmt.Sprintf("key%d", i))
		val := r.Shard(key)

		for j := 0; j < 16; j++ {
			assert.Equal(t, val, r.Shard(key))
		}
		assert.Equal(t, val, other.Shard(key))
	}
}

func TestRing_Distribution(t *testing.T) {
	memberCount := 5
	iterations := 500000
	marginOfError := 0.1
	expectedFrequency := iterations / memberCount

	members := make(map[string]int)
	for i := 0; i < memberCount; i++ {
		members[fmt.Sprintf("entry%d", i)] = i
	}

	r := NewRing(members, 200)

	hits := make(map[int]int)
	for i := 0; i < iterations; i++ {
		hits[r.Shard([]byte(fmt.Sprintf("key%d", i)))]++
	}

	assert.Len(t, hits, memberCount)
	for _, hitCount := range hits {
		assert.True(t, math.Abs(float64(hitCount-expectedFrequency)) <= marginOfError*float64(expectedFrequency))
	}
}

func TestRing_MemberRemoval(t *testing.T) {
	members := map[string]string{
		"a": "a",
		"b": "b",
		"c": "c",
	}
	full := NewRing(members, 200)

	delete(members, "c")
	reduced := NewRing(members, 200)
	assert.Equal(t, []string{"a", "b"}, reduced.Members())

	for i := 0; i < 1000; i++ {
		key := []byte(fmt.Sprintf("key%d", i))
		if owner := full.Shard(key); owner != "c" {
			require.Equal(t, owner, reduced.Shard(key))
		}
	}
}

func TestRing_Empty(t *testing.T) {
	r := NewRing(map[string]string{}, 10)
	assert.Equal(t, "", r.Shard([]byte("key")))
	assert.Empty(t, r.Members())
}
