package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/jonboulle/clockwork"

	"github.com/emanguy/QuestTracker-NotificationService/internal/adapter/metrics"
	"github.com/emanguy/QuestTracker-NotificationService/internal/bridge"
	"github.com/emanguy/QuestTracker-NotificationService/internal/broadcast"
	"github.com/emanguy/QuestTracker-NotificationService/internal/domain"
)

const brokerDisconnected = "disconnected"

// Transport is the broker connection pair the bridge runs on.
type Transport interface {
	domain.Publisher
	Run(ctx context.Context, h domain.MessageHandler) error
	WatchPublisher(ctx context.Context) error
	Fatal() <-chan error
	BreakerState() string
	Disconnect()
}

// Dialer establishes the broker connections.
type Dialer func(ctx context.Context) (Transport, error)

// Bridge couples the router, the prober and the transport they run on.
type Bridge struct {
	Router *bridge.Router
	Prober *bridge.Prober

	transport Transport
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// SendTestMessage runs a round-trip connectivity probe.
func (b *Bridge) SendTestMessage(ctx context.Context) bool {
	return b.Prober.SendTestMessage(ctx)
}

func (b *Bridge) close() {
	b.cancel()
	b.transport.Disconnect()
	b.wg.Wait()
}

// Registry hands out the process singletons.
type Registry struct {
	dial    Dialer
	hubCfg  broadcast.Config
	clock   clockwork.Clock
	metrics *metrics.Set

	bridgeOnce sync.Once
	bridge     atomic.Pointer[Bridge]
	bridgeErr  error

	hubOnce sync.Once
	hub     atomic.Pointer[broadcast.Hub]

	fatal     chan error
	closeOnce sync.Once
}

// NewRegistry creates an empty registry. m may be nil.
func NewRegistry(dial Dialer, hubCfg broadcast.Config, clock clockwork.Clock, m *metrics.Set) *Registry {
	return &Registry{
		dial:    dial,
		hubCfg:  hubCfg,
		clock:   clock,
		metrics: m,
		fatal:   make(chan error, 1),
	}
}

// BroadcastHub returns the hub, starting it on first use.
func (r *Registry) BroadcastHub() *broadcast.Hub {
	r.hubOnce.Do(func() {
		var hm *metrics.HubMetrics
		if r.metrics != nil {
			hm = r.metrics.Hub
		}
		r.hub.Store(broadcast.NewHub(r.hubCfg, r.clock, hm))
	})
	return r.hub.Load()
}

// ConnectionBridge returns the bridge, connecting on first use. Concurrent
// first calls share one construction; its error, if any, is returned to
// every caller. ctx only bounds the initial connection.
func (r *Registry) ConnectionBridge(ctx context.Context) (*Bridge, error) {
	r.bridgeOnce.Do(func() {
		b, err := r.buildBridge(ctx)
		if err != nil {
			r.bridgeErr = err
			return
		}
		r.bridge.Store(b)
	})
	if r.bridgeErr != nil {
		return nil, r.bridgeErr
	}
	return r.bridge.Load(), nil
}

// Fatal delivers the first unrecoverable broker failure.
func (r *Registry) Fatal() <-chan error {
	return r.fatal
}

// BrokerState reports the publisher circuit breaker state, or "disconnected"
// while no bridge has been built.
func (r *Registry) BrokerState() string {
	b := r.bridge.Load()
	if b == nil {
		return brokerDisconnected
	}
	return b.transport.BreakerState()
}

// Close disconnects the bridge and stops the hub, whichever were built.
func (r *Registry) Close() {
	r.closeOnce.Do(func() {
		if b := r.bridge.Load(); b != nil {
			b.close()
		}
		if h := r.hub.Load(); h != nil {
			h.Stop()
		}
	})
}

func (r *Registry) buildBridge(ctx context.Context) (*Bridge, error) {
	transport, err := r.dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to connect bridge: %w", err)
	}

	var bm *metrics.BridgeMetrics
	if r.metrics != nil {
		bm = r.metrics.Bridge
	}

	router := bridge.NewRouter(bm)
	wireHub(router, r.BroadcastHub())

	runCtx, cancel := context.WithCancel(context.Background())
	b := &Bridge{
		Router:    router,
		Prober:    bridge.NewProber(router, transport, r.clock, bm),
		transport: transport,
		cancel:    cancel,
	}

	b.wg.Add(3)
	go func() {
		defer b.wg.Done()
		if err := transport.Run(runCtx, router); err != nil {
			slog.Error("Subscription loop stopped", "error", err)
		}
	}()
	go func() {
		defer b.wg.Done()
		if err := transport.WatchPublisher(runCtx); err != nil {
			slog.Error("Publisher watchdog stopped", "error", err)
		}
	}()
	go func() {
		defer b.wg.Done()
		select {
		case err := <-transport.Fatal():
			select {
			case r.fatal <- err:
			default:
			}
		case <-runCtx.Done():
		}
	}()

	slog.Info("Connection bridge started", "topics", domain.Topics())
	return b, nil
}

// wireHub forwards every routed update to the hub as the matching event.
func wireHub(router *bridge.Router, hub *broadcast.Hub) {
	router.Adds.Add(func(u domain.AddUpdate) {
		logBroadcastError(u.Kind(), hub.BroadcastAdd(u))
	})
	router.Updates.Add(func(u domain.ChangeUpdate) {
		logBroadcastError(u.Kind(), hub.BroadcastUpdate(u))
	})
	router.Removes.Add(func(u domain.RemoveUpdate) {
		logBroadcastError(u.Kind(), hub.BroadcastRemove(u))
	})
}

func logBroadcastError(kind domain.UpdateKind, err error) {
	if err != nil {
		slog.Error("Failed to broadcast update", "kind", kind.String(), "error", err)
	}
}

// SendTestMessage probes broker connectivity through the bridge. A bridge
// that cannot be built counts as unhealthy.
func (r *Registry) SendTestMessage(ctx context.Context) bool {
	b, err := r.ConnectionBridge(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "Connection bridge unavailable", "error", err)
		return false
	}
	return b.SendTestMessage(ctx)
}
