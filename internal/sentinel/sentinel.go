// Package sentinel interns the zero-block addresses returned for
// zero-sized allocations. Every pool with the same normalized options
// shares one sentinel, so the package keeps a process-wide store keyed by
// the options total order. Only the address matters; the bytes behind it
// are never read or written.
package sentinel

import (
	"sync"
	"unsafe"

	"github.com/google/btree"
)

type entry struct {
	size, align, count uint

	buf []byte // keeps the storage alive
	ptr unsafe.Pointer
}

func lessEntry(a, b entry) bool {
	if a.size != b.size {
		return a.size < b.size
	}
	if a.align != b.align {
		return a.align < b.align
	}
	return a.count < b.count
}

var (
	mu    sync.Mutex
	store = btree.NewG[entry](8, lessEntry)
)

// Intern returns the shared zero-block address for the given normalized
// options. The block is size bytes, aligned to align, and is distinct from
// the storage of every pool. align must be a power of two.
func Intern(size, align, count uint) unsafe.Pointer {
	mu.Lock()
	defer mu.Unlock()

	key := entry{size: size, align: align, count: count}
	if e, ok := store.Get(key); ok {
		return e.ptr
	}

	buf := make([]byte, size+align)
	ptr := unsafe.Pointer(unsafe.SliceData(buf))
	if off := uintptr(ptr) & uintptr(align-1); off != 0 {
		ptr = unsafe.Add(ptr, uintptr(align)-off)
	}

	key.buf = buf
	key.ptr = ptr
	store.ReplaceOrInsert(key)
	return ptr
}
