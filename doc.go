// Package chunkpool provides a fixed-size-block memory resource: an
// allocator that reserves a contiguous array of uniformly sized, uniformly
// aligned blocks up front and hands them out one at a time.
//
// It is intended for short-lived objects in hot paths where the
// general-purpose allocator is too expensive and the maximum object size
// is known in advance. Allocation is O(1); deallocation is O(1) when frees
// follow a stack-like pattern and O(blocks) in the worst case.
//
// IMPORTANT: a Resource is NOT goroutine-safe. Each instance is a
// single-owner object; concurrent use requires external synchronization.
// Distinct instances never share block storage and may be used from
// different goroutines independently.
package chunkpool
