// Package bridge turns raw broker messages into typed updates.
//
// Router validates each message against its topic's payload shape and
// dispatches it to the listener set bound to that topic. Prober uses the
// probe topic for a round-trip connectivity check: it publishes a random
// correlation value and waits for the subscription to echo it back.
package bridge
