// Package queue implements the in-memory FIFO of generation jobs.
//
// The queue is multi-producer, single-consumer: chat handlers append
// complete jobs concurrently while one worker loop drains them in strict
// submission order. Queue state is deliberately not persisted; a restart
// starts empty. Durable records of finished work live in the history store,
// which also feeds the wait-time Estimator.
package queue
