package bridge

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/emanguy/QuestTracker-NotificationService/internal/adapter/metrics"
	"github.com/emanguy/QuestTracker-NotificationService/internal/domain"
)

// ProbeTimeout is how long a probe waits for its echo.
const ProbeTimeout = 3000 * time.Millisecond

// maxProbeValue keeps correlation values exactly representable as JSON numbers.
const maxProbeValue = 1 << 53

// Prober performs round-trip connectivity checks through the broker.
type Prober struct {
	router    *Router
	publisher domain.Publisher
	clock     clockwork.Clock
	metrics   *metrics.BridgeMetrics
	newValue  func() int64
}

// NewProber creates a prober. m may be nil.
func NewProber(router *Router, publisher domain.Publisher, clock clockwork.Clock, m *metrics.BridgeMetrics) *Prober {
	return &Prober{
		router:    router,
		publisher: publisher,
		clock:     clock,
		metrics:   m,
		newValue:  func() int64 { return 1 + rand.Int64N(maxProbeValue-1) },
	}
}

// SendTestMessage publishes a probe and reports whether its echo came back
// within ProbeTimeout. Echoes carrying another probe's value are ignored, so
// concurrent calls are safe. A failed publish or a cancelled ctx resolves
// false without waiting for the timeout.
func (p *Prober) SendTestMessage(ctx context.Context) bool {
	start := p.clock.Now()
	value := p.newValue()

	matched := make(chan struct{})
	var resolve sync.Once
	handle := p.router.Probes.Add(func(payload domain.ProbePayload) {
		if payload.TestValue == value {
			resolve.Do(func() { close(matched) })
		}
	})
	defer p.router.Probes.Remove(handle)

	timer := p.clock.NewTimer(ProbeTimeout)
	defer timer.Stop()

	if err := p.publisher.Publish(ctx, domain.TopicProbe, domain.ProbePayload{TestValue: value}); err != nil {
		slog.ErrorContext(ctx, "Failed to publish connectivity probe", "error", err)
		p.observe("publish_error", start)
		return false
	}

	select {
	case <-matched:
		p.observe("success", start)
		return true
	case <-timer.Chan():
		slog.ErrorContext(ctx, "Connectivity probe timed out", "error", domain.ErrProbeTimeout, "timeout", ProbeTimeout)
		p.observe("timeout", start)
		return false
	case <-ctx.Done():
		p.observe("cancelled", start)
		return false
	}
}

func (p *Prober) observe(result string, start time.Time) {
	if p.metrics == nil {
		return
	}
	p.metrics.ProbesTotal.WithLabelValues(result).Inc()
	p.metrics.ProbeDuration.Observe(p.clock.Since(start).Seconds())
}
