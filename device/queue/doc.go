// Package queue provides the circular byte queues that connect thread code
// to the endpoints of a USB device driver.
//
// An [Output] is written by threads and drained by an IN endpoint. An
// [Input] is filled by an OUT endpoint and read by threads. Both are
// guarded by a sync.Locker supplied at construction. When the queue feeds a
// driver, that locker is the driver's critical section, so the interrupt
// handler can move bytes with the lock it already holds:
//
//	out := queue.NewOutput(256, drv.Section(), func(q *queue.Output) {
//	    // lock held: kick the IN endpoint if it is idle
//	})
//	n, err := out.Write(ctx, data)
//
// Blocked callers wake when the interrupt side changes the counter, when
// their context is done (error wraps [pkg.ErrCancelled]) or when the queue
// is Reset after a bus reset (error wraps [pkg.ErrReset]).
//
// [pkg.ErrCancelled]: github.com/ardnew/usbfs/pkg.ErrCancelled
// [pkg.ErrReset]: github.com/ardnew/usbfs/pkg.ErrReset
package queue
