// Package dispatch turns task submissions into queued work.
//
// The Bridge validates a submission against the task registry and either
// enqueues it on the worker pool or publishes a synthetic error event on the
// result channel, so every submission ends in exactly one terminal event.
// The Processor feeds the Bridge from the task-submission channel.
package dispatch
