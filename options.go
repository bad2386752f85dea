package chunkpool

import (
	"cmp"
	"math"
	"strconv"
	"unsafe"

	"github.com/garethgeorge/chunkpool/internal/bitmath"
)

// MaxDefaultAlign is the strictest alignment the runtime guarantees for an
// ordinary allocation. Normalized never raises BlockAlign past it; going
// further requires the user to set BlockAlign explicitly.
const MaxDefaultAlign = 16

// Options describes the shape of a Resource: BlockCount blocks of
// BlockSize bytes, each aligned to BlockAlign.
//
// Field order matters to Compare: size, then align, then count.
type Options struct {
	BlockSize  uint
	BlockAlign uint
	BlockCount uint
}

// validSizeof reports whether size*count is representable as both a uint
// byte count and a signed offset, and that neither value is zero. It does
// not take alignment into account, so it should be applied to normalized
// values when sizing storage.
func validSizeof(size, count uint) bool {
	if size == 0 || count == 0 {
		return false
	}
	if size > ^uint(0)/count {
		return false
	}
	return size*count <= uint(math.MaxInt)
}

// Valid reports whether all fields are in a valid state, separately and
// together: sizes non-zero and non-overflowing, align a power of two.
func (o Options) Valid() bool {
	return validSizeof(o.BlockSize, o.BlockCount) && bitmath.IsPow2(o.BlockAlign)
}

// Normalized returns a copy with the size padded up to the smallest
// multiple of the alignment not less than it, and the alignment raised to
// the largest power of two dividing the padded size, capped at
// MaxDefaultAlign unless the user already asked for more. BlockCount is
// never changed, and the result is a fixed point of Normalized.
//
// Panics unless Valid.
func (o Options) Normalized() Options {
	if !o.Valid() {
		panic("chunkpool: Normalized called on invalid options")
	}

	size := bitmath.AlignUp(o.BlockSize, o.BlockAlign)

	// Raising align to the largest power of two dividing size adds no
	// padding; it can never drop below the requested align because align
	// already divides size.
	align := o.BlockAlign
	if align < MaxDefaultAlign {
		align = min(bitmath.LowestSetBit(size), MaxDefaultAlign)
	}

	return Options{
		BlockSize:  size,
		BlockAlign: align,
		BlockCount: o.BlockCount,
	}
}

// Compare orders options lexicographically by (size, align, count).
func (o Options) Compare(other Options) int {
	if c := cmp.Compare(o.BlockSize, other.BlockSize); c != 0 {
		return c
	}
	if c := cmp.Compare(o.BlockAlign, other.BlockAlign); c != 0 {
		return c
	}
	return cmp.Compare(o.BlockCount, other.BlockCount)
}

// CompatibleWith reports whether one block described by o can hold n
// objects of type T.
func CompatibleWith[T any](o Options, n uint) bool {
	var zero T
	size := uint(unsafe.Sizeof(zero))
	align := uint(unsafe.Alignof(zero))

	if size != 0 && n > ^uint(0)/size {
		return false
	}

	// Count is not a concern here; align matters even for n == 0.
	return size*n <= o.BlockSize && align <= o.BlockAlign
}

// String formats as {.block_size=S, .block_align=A, .block_count=C}.
func (o Options) String() string {
	return "{.block_size=" + strconv.FormatUint(uint64(o.BlockSize), 10) +
		", .block_align=" + strconv.FormatUint(uint64(o.BlockAlign), 10) +
		", .block_count=" + strconv.FormatUint(uint64(o.BlockCount), 10) + "}"
}
