package domain

import "context"

// Broker topics the bridge subscribes to.
const (
	TopicAdd    = "new-quests"
	TopicUpdate = "quest-updates"
	TopicRemove = "removed-quests"
	TopicProbe  = "test-connectivity"
)

// Topics lists every topic in subscription order.
func Topics() []string {
	return []string{TopicAdd, TopicUpdate, TopicRemove, TopicProbe}
}

// ChannelMessage is a raw message received from the broker. It only lives for
// the duration of one dispatch.
type ChannelMessage struct {
	Topic   string
	Payload string
}

// Credentials holds what is needed to reach the broker.
type Credentials struct {
	URL      string
	Password string
}

// MessageHandler consumes raw broker messages.
type MessageHandler interface {
	Dispatch(msg ChannelMessage)
}

// Publisher sends a payload to a broker topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) error
}
