package broadcast

import "github.com/emanguy/QuestTracker-NotificationService/internal/domain"

// Stream is the transport of one connected client. WriteEvent and Ping are
// only called from the client's writer goroutine; Close may be called
// concurrently with them and must unblock a pending write.
type Stream interface {
	WriteEvent(ev domain.Event) error
	Ping() error
	Close() error
}
