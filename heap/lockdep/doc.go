// Package lockdep provides the lock-ownership tracker and the tracked
// recursive mutex used to serialize the heap.
//
// # Overview
//
// The Tracker records, for every owner (one thread of control), the mutexes
// it holds in acquisition order and the single mutex it is waiting for.
// Those two relations form a wait-for graph: owner → holder of the mutex the
// owner waits on. A new wait that closes a cycle in that graph is refused
// with ErrWouldDeadlock.
//
// # Acquire Protocol
//
// Owner.Lock is the deadlock-avoidance path:
//
//  1. Snapshot the mutexes the owner holds
//  2. Register the wait with the tracker
//  3. On ErrWouldDeadlock: release every held mutex (reverse order, each at
//     its full recursion depth), sleep a random 1-10 ms, reacquire them in
//     the original order through this same protocol, and retry from 1
//  4. Otherwise block on the mutex and record the acquisition
//
// Cycles are broken reactively by release-and-retry with jitter. Starvation
// is possible in theory but not observed in practice.
//
// Mutex.Lock is the baseline path. It blocks without registering a wait, so
// baseline lockers never trigger a backoff but are still visible as holders.
//
// # Hooks
//
// A Mutex may carry acquire/release hooks run on every lock level while the
// mutex is held. The heap uses them to drive the metadata access depth.
package lockdep
