// Package heap is a user-space allocator handing out page-backed blocks
// through a malloc/calloc/realloc/free/aligned-alloc API.
//
// # Architecture
//
// A Heap owns every piece of allocator state:
//   - a free-list core (heap/alloc) carving OS pages into address-ordered
//     blocks, first fit, coalescing eagerly on free
//   - a metadata arena (heap/meta) holding block headers away from the
//     payload, optionally write-protected outside the allocator lock
//   - one allocator mutex registered with a lock-ownership tracker
//     (heap/lockdep) so callers holding other tracked mutexes cannot
//     deadlock against the allocator
//
// Config selects the strategy at construction time: Debug wraps every
// payload in guard bytes verified on free, ProtectMetadata toggles mprotect
// around each critical section, and Bypass replaces the free-list core with
// the system allocator.
//
// # Threads
//
// The Heap methods may be called from any goroutine. Callers that hold
// tracked mutexes, need leak detection, or want an errno-style last error
// create a Thread with NewThread and call its methods instead. A Thread
// belongs to one goroutine at a time.
//
// # Corruption
//
// Bad header magic, overwritten guard bytes and double frees are fatal. The
// heap calls Config.OnCorruption outside the lock, panics if the handler
// returns, and rejects every later call with ErrInvalidState.
package heap
