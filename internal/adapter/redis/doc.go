// Package redis connects the bridge to the Redis broker.
//
// Two independent clients are kept: a subscriber that only ever issues
// SUBSCRIBE and a publisher used for PUBLISH and PING. Both are supervised by
// a reconnection budget; exhausting it, or hitting an error that reconnecting
// cannot fix, is reported once on Connections.Fatal.
package redis
