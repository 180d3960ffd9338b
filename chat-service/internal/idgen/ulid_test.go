package idgen

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestULIDGenerator_StrictlyIncreasing(t *testing.T) {
	g := NewULIDGenerator()
	fixed := time.Now()
	g.now = func() time.Time { return fixed }

	prev := ""
	for i := 0; i < 1000; i++ {
		id, err := g.Generate()
		require.NoError(t, err)
		assert.True(t, id > prev, "id %d not increasing", i)
		assert.True(t, Valid(id))
		prev = id
	}
}

func TestValid(t *testing.T) {
	assert.False(t, Valid(""))
	assert.False(t, Valid("not-a-ulid"))
	assert.False(t, Valid("0123456789ABCDEFGHJKMNPQR!"))
}
