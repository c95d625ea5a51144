// Package broadcast fans events out to connected stream clients using the
// actor pattern.
//
// A single goroutine owns the client set and the replay history and is driven
// by a command channel (no mutexes). Each client gets its own writer goroutine
// with a bounded queue; a client whose queue is full is evicted instead of
// slowing down everyone else.
package broadcast
