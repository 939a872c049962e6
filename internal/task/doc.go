// Package task implements the conversion job lifecycle: ticket records
// and results in the broker, the FIFO work queue, the worker loop with
// its registered handlers, the captcha rendezvous and the cleanup
// sweep.
package task
