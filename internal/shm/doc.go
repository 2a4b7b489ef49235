// Package shm provides named shared-memory segments.
//
// A segment is a file in /dev/shm (or the OS temp directory when /dev/shm is
// not available) mapped MAP_SHARED into the address space of every handle
// that opens it. One owner creates and eventually unlinks the segment; any
// number of handles may attach to it by name in the meantime and see the
// same bytes.
//
// # Lifecycle
//
//	created -> attached(N) -> detached -> unlinked
//
// Create returns the owner handle. Attach maps another view of an existing
// segment. Close detaches a handle (munmap). Unlink removes the name and is
// only valid on the owner.
//
// # Scoped Use
//
// With creates a segment, runs a callback and always detaches and unlinks
// the segment afterwards, including when the callback returns an error or
// panics:
//
//	err := shm.With("mandel-01J...", size, func(seg *shm.Segment) error {
//	    view := seg.Int32s()
//	    ...
//	})
//
// Handles do no locking of their own. Callers that write concurrently must
// write disjoint byte ranges.
package shm
