package bridge

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/emanguy/QuestTracker-NotificationService/internal/adapter/metrics"
	"github.com/emanguy/QuestTracker-NotificationService/internal/domain"
	"github.com/emanguy/QuestTracker-NotificationService/internal/listener"
)

// Router owns one listener set per topic.
type Router struct {
	Adds    *listener.Set[domain.AddUpdate]
	Updates *listener.Set[domain.ChangeUpdate]
	Removes *listener.Set[domain.RemoveUpdate]
	Probes  *listener.Set[domain.ProbePayload]

	metrics *metrics.BridgeMetrics
}

var _ domain.MessageHandler = (*Router)(nil)

// NewRouter creates a router with empty listener sets. m may be nil.
func NewRouter(m *metrics.BridgeMetrics) *Router {
	r := &Router{
		Adds:    listener.NewSet[domain.AddUpdate](domain.TopicAdd),
		Updates: listener.NewSet[domain.ChangeUpdate](domain.TopicUpdate),
		Removes: listener.NewSet[domain.RemoveUpdate](domain.TopicRemove),
		Probes:  listener.NewSet[domain.ProbePayload](domain.TopicProbe),
		metrics: m,
	}
	if m != nil {
		onPanic := func(name string, _ any) { m.ListenerPanics.WithLabelValues(name).Inc() }
		r.Adds.OnPanic(onPanic)
		r.Updates.OnPanic(onPanic)
		r.Removes.OnPanic(onPanic)
		r.Probes.OnPanic(onPanic)
	}
	return r
}

// Dispatch validates msg and invokes every listener of its topic. Messages
// that fail validation are logged once and dropped.
func (r *Router) Dispatch(msg domain.ChannelMessage) {
	if r.metrics != nil {
		r.metrics.MessagesReceived.WithLabelValues(msg.Topic).Inc()
	}
	if err := r.route(msg); err != nil {
		r.drop(msg, err)
	}
}

func (r *Router) route(msg domain.ChannelMessage) error {
	payload := []byte(msg.Payload)

	switch msg.Topic {
	case domain.TopicAdd:
		u, err := domain.DecodeAdd(payload)
		if err != nil {
			return err
		}
		r.Adds.Dispatch(u)
	case domain.TopicUpdate:
		u, err := domain.DecodeChange(payload)
		if err != nil {
			return err
		}
		r.Updates.Dispatch(u)
	case domain.TopicRemove:
		u, err := domain.DecodeRemove(payload)
		if err != nil {
			return err
		}
		r.Removes.Dispatch(u)
	case domain.TopicProbe:
		p, err := domain.DecodeProbe(payload)
		if err != nil {
			return err
		}
		r.Probes.Dispatch(p)
	default:
		return fmt.Errorf("%w: %s", domain.ErrUnknownTopic, msg.Topic)
	}
	return nil
}

func (r *Router) drop(msg domain.ChannelMessage, err error) {
	reason := "shape"
	switch {
	case errors.Is(err, domain.ErrUnknownTopic):
		reason = "unknown_topic"
		slog.Debug("Dropping message on unknown topic", "topic", msg.Topic)
	case errors.Is(err, domain.ErrInvalidPayload):
		reason = "invalid_json"
		slog.Warn("Dropping message with invalid JSON", "topic", msg.Topic, "payload", msg.Payload)
	default:
		slog.Warn("Dropping message with unexpected shape", "topic", msg.Topic, "error", err)
	}

	if r.metrics != nil {
		r.metrics.MessagesDropped.WithLabelValues(msg.Topic, reason).Inc()
	}
}
