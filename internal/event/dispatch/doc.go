// Package dispatch runs message handlers for the bus.
//
// Two dispatchers are provided:
//
//   - SyncDispatcher runs handlers in the caller's goroutine, one after the
//     other. It backs the bus's barrier publish: the caller returns only once
//     every handler has finished, and the first failure stops the rest.
//
//   - AsyncDispatcher runs handlers on a bounded worker pool. Each queued task
//     carries every handler for one publish and runs them in order, so
//     subscription order holds even off the caller's goroutine. A failing
//     handler is reported and the task moves on to the next one.
//
// # Panic Recovery
//
// All execution goes through an Executor, which recovers panics and turns
// them into a Result. A misbehaving handler cannot crash the process or stop
// a worker.
//
// # Usage
//
//	d := dispatch.NewSyncDispatcher()
//	results := d.DispatchUntilError(ctx, msg, handlers)
//	if last := results[len(results)-1]; !last.IsSuccess() {
//	    // first failure, remaining handlers were not run
//	}
package dispatch
