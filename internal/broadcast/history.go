package broadcast

import "github.com/emanguy/QuestTracker-NotificationService/internal/domain"

// history keeps the most recent events for Last-Event-ID replay. It is owned
// by the hub goroutine.
type history struct {
	size   int
	events []domain.Event
}

func newHistory(size int) *history {
	return &history{size: size}
}

func (h *history) add(ev domain.Event) {
	if h.size <= 0 {
		return
	}
	if len(h.events) == h.size {
		copy(h.events, h.events[1:])
		h.events = h.events[:len(h.events)-1]
	}
	h.events = append(h.events, ev)
}

// since returns the events newer than id. Unknown ids yield nothing.
func (h *history) since(id string) []domain.Event {
	if id == "" {
		return nil
	}
	for i, ev := range h.events {
		if ev.ID == id {
			return append([]domain.Event(nil), h.events[i+1:]...)
		}
	}
	return nil
}
