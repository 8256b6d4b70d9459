package typeutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSet(t *testing.T) {
	set := NewSet[uint64](1, 2, 3)
	assert.Equal(t, 3, set.Len())
	assert.True(t, set.Contain(1, 2))
	assert.False(t, set.Contain(1, 4))

	set.Insert(3, 4)
	assert.Equal(t, 4, set.Len())

	set.Remove(1, 9)
	assert.ElementsMatch(t, []uint64{2, 3, 4}, set.Collect())

	diff := set.Complement(NewSet[uint64](3))
	assert.ElementsMatch(t, []uint64{2, 4}, diff.Collect())
	assert.Equal(t, 3, set.Len())
}

func TestNilSet(t *testing.T) {
	var set Set[string]
	assert.True(t, set.Contain())
	assert.False(t, set.Contain("alice"))
	set.Remove("alice")
	assert.Empty(t, set.Collect())
}
