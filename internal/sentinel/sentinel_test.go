package sentinel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntern_SharedPerOptions(t *testing.T) {
	a := Intern(16, 8, 4)
	b := Intern(16, 8, 4)
	require.NotNil(t, a)
	assert.Equal(t, a, b, "equal options share one sentinel")
}

func TestIntern_DistinctPerOptions(t *testing.T) {
	base := Intern(16, 8, 4)
	assert.NotEqual(t, base, Intern(32, 8, 4))
	assert.NotEqual(t, base, Intern(16, 16, 4))
	assert.NotEqual(t, base, Intern(16, 8, 8))
}

func TestIntern_Aligned(t *testing.T) {
	for _, align := range []uint{1, 2, 8, 16, 64} {
		p := Intern(24, align, 3)
		assert.Zero(t, uintptr(p)%uintptr(align), "align %d", align)
	}
}
