package domain

import "errors"

var (
	// ErrMissingCredential is the configuration error raised when no broker
	// credential is supplied. It is returned before any connection attempt.
	ErrMissingCredential = errors.New("broker credential is missing")

	// ErrTransport marks a fatal broker connectivity failure.
	ErrTransport = errors.New("broker transport failure")

	ErrInvalidPayload = errors.New("payload is not valid JSON")
	ErrShape          = errors.New("payload does not match the topic shape")
	ErrUnknownTopic   = errors.New("unknown topic")

	ErrProbeTimeout = errors.New("connectivity probe timed out")

	ErrHubStopped     = errors.New("broadcast hub is stopped")
	ErrTooManyClients = errors.New("too many connected clients")
)
