// Package meta implements the metadata arena: out-of-band storage for block
// headers.
//
// # Overview
//
// Headers never live inside the memory they describe. They are carved as
// fixed-size strides from chunks obtained directly from the OS, so a stray
// write past the end of a payload lands in another payload rather than in
// the header that governs it.
//
// Headers are addressed by ID, a 1-based stride index. ID 0 means "none" and
// is what list links hold at their ends. Every ID is validated against the
// carved high-water mark before it is dereferenced.
//
// # Recycling
//
// Released headers are zeroed and pushed on a LIFO recycle list threaded
// through their Next field. Chunks are only returned to the OS by Close.
//
// # Write Protection
//
// With protection enabled, chunks are PROT_NONE except while the access depth
// is non-zero. Enter raises the depth and makes every chunk writable on the
// 0→1 transition; Leave lowers it and re-protects on the 1→0 transition.
// A wild write into metadata outside a critical section then faults
// immediately instead of corrupting the heap silently.
//
// # Thread Safety
//
// Arena is not thread-safe. The depth counter is only sound because every
// caller already holds the allocator lock.
package meta
