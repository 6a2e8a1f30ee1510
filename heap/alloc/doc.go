// Package alloc implements the page/block free-list core of the heap.
//
// # Overview
//
// Memory is obtained from the OS in pages, each a multiple of the configured
// page granularity (128 KiB by default). A page is carved into blocks that
// form an address-ordered doubly linked list; every block is either free or
// allocated. Block headers live in a meta.Arena, never inside the page.
//
// # Algorithms
//
//   - CreatePage(min): map a page, install one page-spanning free block
//   - FindFreeBlock(size): first fit over every page's block list
//   - FindAlignedBlock(size, align, lead): first block that can host size
//     bytes at an aligned address, possibly after a throwaway prefix
//   - SplitBlock(id, size): carve the remainder into a new free block when
//     it is at least format.MinBlockSize
//   - MergeBlock(id): coalesce a free block with free neighbours
//   - FreePageIfEmpty(page): unmap a page whose single block is free
//
// Because coalescing is eager, two free blocks are never adjacent. Validate
// checks that and the other structural invariants.
//
// # Corruption
//
// Every header is magic-checked before use. A mismatch is reported as a
// *CorruptionError; callers must treat it as fatal.
//
// # Thread Safety
//
// Core instances are not thread-safe. The heap serializes access with its
// allocator lock.
package alloc
