// Package pause implements cooperative suspension of named background workers.
//
// Goroutines cannot be stopped from the outside, so every suspendable unit is a
// Worker registered in a Registry. A worker calls Checkpoint at boundaries where
// it holds no locks; while its gate is closed the call parks. The Engine
// suspends a selected set of workers, pauses the caller for a duration, and
// always reopens every gate it closed before returning.
package pause
