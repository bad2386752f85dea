package chunkpool

import (
	"unsafe"

	"github.com/garethgeorge/chunkpool/internal/bitmath"
	"github.com/garethgeorge/chunkpool/internal/blockstack"
	"github.com/garethgeorge/chunkpool/internal/sentinel"
)

// Resource is a pool of BlockCount fixed-size blocks carved out of one
// contiguous allocation. The zero value is not usable; construct with New.
//
// A Resource must not be copied after first use and is not goroutine-safe.
type Resource struct {
	noCopy noCopy

	opts  Options // normalized
	buf   []byte  // backing storage; keeps the blocks alive
	base  unsafe.Pointer
	stack blockstack.IndexStack
	zero  unsafe.Pointer
}

// New builds a Resource from opts. The options are validated and
// normalized: the size is padded to a multiple of the alignment and the
// alignment raised as far as the padded size allows (see
// Options.Normalized). Returns ErrInvalidOptions if the options, before or
// after normalization, cannot describe an addressable pool.
func New(opts Options) (*Resource, error) {
	if !opts.Valid() {
		return nil, ErrInvalidOptions
	}
	norm := opts.Normalized()
	if !validSizeof(norm.BlockSize, norm.BlockCount) {
		return nil, ErrInvalidOptions
	}

	// Over-allocate by one alignment unit and shift the base so every
	// block starts on a BlockAlign boundary.
	buf := make([]byte, norm.BlockSize*norm.BlockCount+norm.BlockAlign)
	base := unsafe.Pointer(unsafe.SliceData(buf))
	if off := uintptr(base) & uintptr(norm.BlockAlign-1); off != 0 {
		base = unsafe.Add(base, uintptr(norm.BlockAlign)-off)
	}

	return &Resource{
		opts:  norm,
		buf:   buf,
		base:  base,
		stack: blockstack.New(int(norm.BlockCount)),
		zero:  sentinel.Intern(norm.BlockSize, norm.BlockAlign, norm.BlockCount),
	}, nil
}

// Options returns the normalized options the pool was built with.
func (r *Resource) Options() Options {
	return r.opts
}

// AvailableBlocks returns the number of blocks free to be allocated. If it
// is 0, every non-zero allocation will fail with ErrOutOfMemory.
func (r *Resource) AvailableBlocks() int {
	return r.stack.Available()
}

// MaybeOwns reports whether p lies within the pool's block storage. It is
// NOT a check that p is valid to deallocate: it returns true for interior
// pointers, and false for nil and for the zero-allocation sentinel. Its
// purpose is to disambiguate memory between resources with
// non-overlapping storage.
func (r *Resource) MaybeOwns(p unsafe.Pointer) bool {
	if p == nil || p == r.zero {
		return false
	}
	lo := uintptr(r.base)
	hi := lo + uintptr(r.opts.BlockSize*r.opts.BlockCount)
	return uintptr(p) >= lo && uintptr(p) < hi
}

// isOwned reports whether p points at the start of one of the pool's
// blocks.
func (r *Resource) isOwned(p unsafe.Pointer) bool {
	if !r.MaybeOwns(p) {
		return false
	}
	return (uintptr(p)-uintptr(r.base))%uintptr(r.opts.BlockSize) == 0
}

// blockIndex maps an owned block pointer to its index in [0, BlockCount).
func (r *Resource) blockIndex(p unsafe.Pointer) int {
	diff := (uintptr(p) - uintptr(r.base)) / uintptr(r.opts.BlockSize)
	if diff >= uintptr(r.opts.BlockCount) {
		panic("chunkpool: invalid pointer")
	}
	return int(diff)
}

// blockPtr returns the address of block idx.
func (r *Resource) blockPtr(idx int) unsafe.Pointer {
	return unsafe.Add(r.base, uintptr(idx)*uintptr(r.opts.BlockSize))
}

// AllocateBytes allocates n bytes of storage and returns the address of a
// block that holds them. A zero-byte request returns a shared sentinel
// address without consuming a block; the sentinel must not be dereferenced
// but is safe to pass to DeallocateBytes.
//
// Fails with an UnsupportedSizeError if n exceeds the block size, and with
// ErrOutOfMemory if no blocks are free.
func (r *Resource) AllocateBytes(n int) (unsafe.Pointer, error) {
	if n < 0 || uint(n) > r.opts.BlockSize {
		return nil, newUnsupportedSizeError(n, int(r.opts.BlockSize))
	}
	if n == 0 {
		return r.zero, nil
	}
	if r.stack.Available() == 0 {
		return nil, ErrOutOfMemory
	}
	return r.blockPtr(r.stack.Obtain()), nil
}

// AllocateBytesAligned is AllocateBytes with an explicit alignment
// requirement. align must be a positive power of two (InvalidAlignError)
// no stricter than the pool's block alignment (UnsupportedAlignError).
func (r *Resource) AllocateBytesAligned(n, align int) (unsafe.Pointer, error) {
	if align <= 0 || !bitmath.IsPow2(uint(align)) {
		return nil, newInvalidAlignError(align)
	}
	if uint(align) > r.opts.BlockAlign {
		return nil, newUnsupportedAlignError(align, int(r.opts.BlockAlign))
	}
	return r.AllocateBytes(n)
}

// TryAllocateBytes is AllocateBytes returning nil instead of an error. A
// nil return need not be deallocated.
func (r *Resource) TryAllocateBytes(n int) unsafe.Pointer {
	p, err := r.AllocateBytes(n)
	if err != nil {
		return nil
	}
	return p
}

// TryAllocateBytesAligned is AllocateBytesAligned returning nil instead of
// an error.
func (r *Resource) TryAllocateBytesAligned(n, align int) unsafe.Pointer {
	p, err := r.AllocateBytesAligned(n, align)
	if err != nil {
		return nil
	}
	return p
}

// DeallocateBytes returns the block holding p to the pool. p must have
// been obtained from this pool's byte allocators with the same n, or be
// nil or the zero-allocation sentinel (both no-ops).
//
// Panics on a pointer the pool does not own, and on a double free.
func (r *Resource) DeallocateBytes(p unsafe.Pointer, n int) {
	if p == nil || p == r.zero {
		return
	}
	r.release(p)
}

// release performs the owned/allocated checks and returns p's block.
func (r *Resource) release(p unsafe.Pointer) {
	if !r.isOwned(p) {
		panic("chunkpool: invalid pointer")
	}
	token := r.stack.Token(r.blockIndex(p))
	if token < 0 {
		panic("chunkpool: double free")
	}
	r.stack.Release(token)
}

// Defrag sorts the free blocks so that subsequent allocations proceed from
// the lowest block address upward. It may improve locality for a
// stack-like cyclic allocation pattern when called at the start of each
// major cycle. Prefer it over DefragOptimistic when frees have not been
// following such a pattern.
func (r *Resource) Defrag() {
	r.stack.Defrag()
}

// DefragOptimistic has the same postcondition as Defrag but assumes frees
// have (mostly) followed a stack-like pattern already, in which case it
// runs in linear time.
func (r *Resource) DefragOptimistic() {
	r.stack.DefragOptimistic()
}

// Equal reports whether other is this same resource. No two distinct
// resources compare equal, even when built from identical options.
func (r *Resource) Equal(other *Resource) bool {
	return r == other
}

// String formats as chunk_resource<...> using the normalized options.
func (r *Resource) String() string {
	return "chunk_resource<" + r.opts.String() + ">"
}

// noCopy triggers go vet's copylocks check on types that embed it.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}
