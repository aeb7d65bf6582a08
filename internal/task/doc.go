// Package task runs submitted work in the background.
//
// A closed Registry maps task kinds to their parameter validation and
// execution. The WorkerPool accepts validated submissions, executes them on a
// fixed number of goroutines and publishes a completed or error ResultEvent
// for every task it ran.
package task
