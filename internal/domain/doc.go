// Package domain defines the core domain types and interfaces.
//
// Broker topics and their payload variants, the outbound stream event, and the
// sentinel errors shared across packages. Decoding and validation of inbound
// payloads lives here so every transport rejects the same malformed messages.
package domain
