package chunkpool

import (
	"math"
	"reflect"
	"sync"
	"unsafe"

	"github.com/garethgeorge/chunkpool/internal/bitmath"
)

// Typed allocation carves a *T out of a block. Methods cannot be generic,
// so the typed surface is a set of package functions taking the Resource.
//
// Because block storage is a plain byte array the garbage collector does
// not scan it, so T must not contain pointers (no pointers, maps, chans,
// funcs, slices, strings or interfaces, at any nesting depth). Violations
// panic at allocation time.

// AllocateObject allocates storage for n objects of type T and returns a
// pointer to the first. n == 0 returns the zero-allocation sentinel
// without consuming a block.
//
// Fails with an ArrayLengthError if n*sizeof(T) overflows, an
// UnsupportedAlignError if T is more strictly aligned than the blocks, an
// UnsupportedSizeError if n objects do not fit in one block, and
// ErrOutOfMemory if no blocks are free.
func AllocateObject[T any](r *Resource, n int) (*T, error) {
	var zero T
	esize := int(unsafe.Sizeof(zero))
	ealign := uint(unsafe.Alignof(zero))

	if n < 0 || (esize > 0 && n > math.MaxInt/esize) {
		return nil, newArrayLengthError(n, esize)
	}
	if ealign > r.opts.BlockAlign {
		return nil, newUnsupportedAlignError(int(ealign), int(r.opts.BlockAlign))
	}
	size := n * esize
	if uint(size) > r.opts.BlockSize {
		return nil, newUnsupportedSizeError(size, int(r.opts.BlockSize))
	}
	if n == 0 {
		return (*T)(r.zero), nil
	}
	if r.stack.Available() == 0 {
		return nil, ErrOutOfMemory
	}

	assertNoPointers[T]()
	return (*T)(r.blockPtr(r.stack.Obtain())), nil
}

// AllocateObjectAligned is AllocateObject with an explicit alignment
// requirement, validated like AllocateBytesAligned. An explicit alignment
// that is valid but weaker than T's natural alignment is ignored; the
// stronger natural alignment wins.
func AllocateObjectAligned[T any](r *Resource, n, align int) (*T, error) {
	if align <= 0 || !bitmath.IsPow2(uint(align)) {
		return nil, newInvalidAlignError(align)
	}
	if uint(align) > r.opts.BlockAlign {
		return nil, newUnsupportedAlignError(align, int(r.opts.BlockAlign))
	}
	return AllocateObject[T](r, n)
}

// TryAllocateObject is AllocateObject returning nil instead of an error.
func TryAllocateObject[T any](r *Resource, n int) *T {
	p, err := AllocateObject[T](r, n)
	if err != nil {
		return nil
	}
	return p
}

// TryAllocateObjectAligned is AllocateObjectAligned returning nil instead
// of an error.
func TryAllocateObjectAligned[T any](r *Resource, n, align int) *T {
	p, err := AllocateObjectAligned[T](r, n, align)
	if err != nil {
		return nil
	}
	return p
}

// DeallocateObject returns the block holding p to the pool. p must have
// been obtained from this pool's typed allocators with the same n, or be
// nil or the sentinel (both no-ops).
//
// Panics on a pointer the pool does not own, and on a double free.
func DeallocateObject[T any](r *Resource, p *T, n int) {
	if p == nil {
		return
	}
	q := unsafe.Pointer(p)
	if q == r.zero {
		return
	}
	r.release(q)
}

var pointerFreeTypes sync.Map // reflect.Type -> bool

// assertNoPointers panics if T contains pointer-typed memory anywhere.
// Storing a Go pointer into unscanned block bytes would hide the referent
// from the collector.
func assertNoPointers[T any]() {
	typ := reflect.TypeFor[T]()
	ok, hit := pointerFreeTypes.Load(typ)
	if !hit {
		ok = isPointerFree(typ)
		pointerFreeTypes.Store(typ, ok)
	}
	if !ok.(bool) {
		panic("chunkpool: element type " + typ.String() + " contains pointers")
	}
}

func isPointerFree(typ reflect.Type) bool {
	switch typ.Kind() {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Uintptr, reflect.Float32, reflect.Float64,
		reflect.Complex64, reflect.Complex128:
		return true
	case reflect.Array:
		return isPointerFree(typ.Elem())
	case reflect.Struct:
		for i := range typ.NumField() {
			if !isPointerFree(typ.Field(i).Type) {
				return false
			}
		}
		return true
	default:
		return false
	}
}
