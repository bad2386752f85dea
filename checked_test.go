package chunkpool

import (
	"strings"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeT struct {
	errors []string
}

func (f *fakeT) Errorf(format string, args ...any) {
	f.errors = append(f.errors, format)
}

func (f *fakeT) Helper() {}

func TestChecked_Forwards(t *testing.T) {
	r := mustNew(t, Options{BlockSize: 16, BlockAlign: 8, BlockCount: 2})
	c := NewChecked(r)

	assert.Equal(t, r.Options(), c.Options())
	assert.Equal(t, 2, c.AvailableBlocks())
	assert.Equal(t, r.String(), c.String())

	p, err := c.AllocateBytes(8)
	require.NoError(t, err)
	assert.True(t, c.MaybeOwns(p))
	assert.Equal(t, 1, c.AvailableBlocks())

	c.DeallocateBytes(p, 8)
	assert.Equal(t, 2, c.AvailableBlocks())

	_, err = c.AllocateBytes(17)
	assert.ErrorIs(t, err, ErrUnsupportedSize)
	assert.Nil(t, c.TryAllocateBytes(17))
}

func TestChecked_LeakReporting(t *testing.T) {
	r := mustNew(t, Options{BlockSize: 16, BlockAlign: 8, BlockCount: 2})
	c := NewChecked(r)

	p, err := c.AllocateBytes(16)
	require.NoError(t, err)
	q, err := c.AllocateBytes(16)
	require.NoError(t, err)

	var ft fakeT
	c.AssertEmpty(&ft)
	assert.Len(t, ft.errors, 2, "both outstanding blocks are reported")
	assert.True(t, strings.Contains(ft.errors[0], "leaked"))

	c.DeallocateBytes(p, 16)
	c.DeallocateBytes(q, 16)

	ft = fakeT{}
	c.AssertEmpty(&ft)
	assert.Empty(t, ft.errors)
}

func TestChecked_ZeroAllocationsNotTracked(t *testing.T) {
	r := mustNew(t, Options{BlockSize: 16, BlockAlign: 8, BlockCount: 1})
	c := NewChecked(r)

	p, err := c.AllocateBytes(0)
	require.NoError(t, err)
	c.DeallocateBytes(p, 0)

	var ft fakeT
	c.AssertEmpty(&ft)
	assert.Empty(t, ft.errors, "sentinel allocations are not tracked")
}

func TestChecked_UseAfterFreeDetected(t *testing.T) {
	// One block, so reallocation deterministically reuses it.
	r := mustNew(t, Options{BlockSize: 16, BlockAlign: 8, BlockCount: 1})
	c := NewChecked(r)

	p, err := c.AllocateBytes(16)
	require.NoError(t, err)
	blk := unsafe.Slice((*byte)(p), 16)
	blk[0] = 42

	c.DeallocateBytes(p, 16)
	assert.Equal(t, byte(poisonByte), blk[0], "freed block is poison-filled")

	// A write through the dangling pointer corrupts the poison.
	blk[3] = 7

	assert.PanicsWithValue(t, "chunkpool: use after free", func() {
		c.AllocateBytes(16)
	})
}

func TestChecked_CleanReuseDoesNotPanic(t *testing.T) {
	r := mustNew(t, Options{BlockSize: 16, BlockAlign: 8, BlockCount: 1})
	c := NewChecked(r)

	for i := 0; i < 3; i++ {
		p, err := c.AllocateBytes(16)
		require.NoError(t, err)
		unsafe.Slice((*byte)(p), 16)[i] = byte(i)
		c.DeallocateBytes(p, 16)
	}

	var ft fakeT
	c.AssertEmpty(&ft)
	assert.Empty(t, ft.errors)
}

func TestChecked_MisusePanicsComeFromResource(t *testing.T) {
	r := mustNew(t, Options{BlockSize: 16, BlockAlign: 8, BlockCount: 1})
	c := NewChecked(r)

	p, err := c.AllocateBytes(16)
	require.NoError(t, err)
	c.DeallocateBytes(p, 16)
	assert.PanicsWithValue(t, "chunkpool: double free", func() {
		c.DeallocateBytes(p, 16)
	})
}
