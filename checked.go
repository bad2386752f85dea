package chunkpool

import (
	"runtime"
	"strconv"
	"unsafe"

	"github.com/cespare/xxhash/v2"
)

const poisonByte = 0xDB

// Checked wraps a Resource with misuse diagnostics for tests and
// debugging: it records the call site of every outstanding block
// allocation for leak reporting, poison-fills deallocated blocks, and
// verifies the poison on reuse to catch writes through dangling pointers.
//
// Checked covers the byte-allocation surface; it is exactly as
// single-owner as the Resource it wraps.
type Checked struct {
	r      *Resource
	allocs map[uintptr]callSite
	poison map[uintptr]uint64 // xxhash64 of the poison fill, per freed block
}

type callSite struct {
	pc   uintptr
	line int
	size int
}

// NewChecked wraps r. The wrapper owns the resource; mixing direct calls
// on r with calls through the wrapper defeats its bookkeeping.
func NewChecked(r *Resource) *Checked {
	return &Checked{
		r:      r,
		allocs: make(map[uintptr]callSite),
		poison: make(map[uintptr]uint64),
	}
}

func (c *Checked) Options() Options                { return c.r.Options() }
func (c *Checked) AvailableBlocks() int            { return c.r.AvailableBlocks() }
func (c *Checked) MaybeOwns(p unsafe.Pointer) bool { return c.r.MaybeOwns(p) }
func (c *Checked) Defrag()                         { c.r.Defrag() }
func (c *Checked) DefragOptimistic()               { c.r.DefragOptimistic() }
func (c *Checked) String() string                  { return c.r.String() }

func (c *Checked) AllocateBytes(n int) (unsafe.Pointer, error) {
	p, err := c.r.AllocateBytes(n)
	c.recordAllocate(p, n, 2)
	return p, err
}

func (c *Checked) AllocateBytesAligned(n, align int) (unsafe.Pointer, error) {
	p, err := c.r.AllocateBytesAligned(n, align)
	c.recordAllocate(p, n, 2)
	return p, err
}

func (c *Checked) TryAllocateBytes(n int) unsafe.Pointer {
	p := c.r.TryAllocateBytes(n)
	c.recordAllocate(p, n, 2)
	return p
}

func (c *Checked) TryAllocateBytesAligned(n, align int) unsafe.Pointer {
	p := c.r.TryAllocateBytesAligned(n, align)
	c.recordAllocate(p, n, 2)
	return p
}

func (c *Checked) DeallocateBytes(p unsafe.Pointer, n int) {
	if p == nil || p == c.r.zero {
		return
	}
	// Let the resource run its own ownership and double-free checks
	// before touching the bookkeeping.
	c.r.DeallocateBytes(p, n)
	delete(c.allocs, uintptr(p))

	blk := c.block(p)
	for i := range blk {
		blk[i] = poisonByte
	}
	c.poison[uintptr(p)] = xxhash.Sum64(blk)
}

// recordAllocate notes a successful block allocation and verifies that the
// block's poison fill survived since its last deallocation.
func (c *Checked) recordAllocate(p unsafe.Pointer, n, skip int) {
	if p == nil || p == c.r.zero {
		return
	}
	if digest, ok := c.poison[uintptr(p)]; ok {
		if xxhash.Sum64(c.block(p)) != digest {
			panic("chunkpool: use after free")
		}
		delete(c.poison, uintptr(p))
	}
	cs := callSite{size: n}
	if pc, _, line, ok := runtime.Caller(skip); ok {
		cs.pc = pc
		cs.line = line
	}
	c.allocs[uintptr(p)] = cs
}

func (c *Checked) block(p unsafe.Pointer) []byte {
	return unsafe.Slice((*byte)(p), c.r.opts.BlockSize)
}

// TestingT is the subset of testing.TB needed by AssertEmpty.
type TestingT interface {
	Errorf(format string, args ...any)
	Helper()
}

// AssertEmpty reports every outstanding block allocation, with the call
// site that made it, as a test error. Call it at the end of a test to
// catch leaks.
func (c *Checked) AssertEmpty(t TestingT) {
	t.Helper()
	for ptr, cs := range c.allocs {
		fn := "unknown"
		if f := runtime.FuncForPC(cs.pc); f != nil {
			fn = f.Name() + ":" + strconv.Itoa(cs.line)
		}
		t.Errorf("block 0x%x (%d bytes) leaked, allocated at %s", ptr, cs.size, fn)
	}
}
