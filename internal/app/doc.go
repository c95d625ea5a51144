// Package app holds the process-wide service context: the broker bridge and
// the broadcast hub, each built lazily and exactly once, with the bridge's
// listener sets wired to the hub.
package app
