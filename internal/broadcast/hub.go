package broadcast

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/emanguy/QuestTracker-NotificationService/internal/adapter/metrics"
	"github.com/emanguy/QuestTracker-NotificationService/internal/domain"
)

const (
	commandTimeout = 5 * time.Second
	stopTimeout    = 10 * time.Second

	DefaultHistorySize  = 100
	DefaultPingInterval = 30 * time.Second
	DefaultMaxClients   = 10000
)

type Config struct {
	// HistorySize is how many events are kept for Last-Event-ID replay; 0 disables replay.
	HistorySize  int
	PingInterval time.Duration
	MaxClients   int
}

// DefaultConfig returns the hub defaults.
func DefaultConfig() Config {
	return Config{
		HistorySize:  DefaultHistorySize,
		PingInterval: DefaultPingInterval,
		MaxClients:   DefaultMaxClients,
	}
}

// Client is a registered stream. Done is closed once its writer stopped,
// either because the transport failed, the client was evicted or the hub
// shut down.
type Client struct {
	ID     string
	writer *clientWriter
}

func (c *Client) Done() <-chan struct{} {
	return c.writer.exited
}

type hubCmd interface{ isHubCmd() }

type baseHubCmd struct{}

func (baseHubCmd) isHubCmd() {}

type registerCmd struct {
	baseHubCmd
	stream       Stream
	lastEventID  string
	replyChannel chan registerReply
}

type registerReply struct {
	client *Client
	err    error
}

type unregisterCmd struct {
	baseHubCmd
	client *Client
}

type broadcastCmd struct {
	baseHubCmd
	event domain.Event
}

type getClientCountCmd struct {
	baseHubCmd
	replyChannel chan int
}

type stopCmd struct {
	baseHubCmd
}

// Hub tracks connected clients and fans events out to them.
type Hub struct {
	cmdCh   chan hubCmd
	clock   clockwork.Clock
	cfg     Config
	metrics *metrics.HubMetrics
	done    chan struct{}

	// Owned by the run goroutine.
	clients map[*Client]struct{}
	history *history
}

// NewHub starts the hub goroutine. m may be nil.
func NewHub(cfg Config, clock clockwork.Clock, m *metrics.HubMetrics) *Hub {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = DefaultPingInterval
	}
	if cfg.MaxClients <= 0 {
		cfg.MaxClients = DefaultMaxClients
	}

	h := &Hub{
		cmdCh:   make(chan hubCmd, 256),
		clock:   clock,
		cfg:     cfg,
		metrics: m,
		done:    make(chan struct{}),
		clients: make(map[*Client]struct{}),
		history: newHistory(cfg.HistorySize),
	}
	go h.run()
	return h
}

// Register attaches stream. It receives every event broadcast after this
// call; if lastEventID is still in the history, the newer events are sent
// first. On error the stream is closed.
func (h *Hub) Register(stream Stream, lastEventID string) (*Client, error) {
	replyCh := make(chan registerReply, 1)
	if err := h.send(registerCmd{stream: stream, lastEventID: lastEventID, replyChannel: replyCh}); err != nil {
		_ = stream.Close()
		return nil, err
	}

	timer := h.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case reply := <-replyCh:
		return reply.client, reply.err
	case <-timer.Chan():
		_ = stream.Close()
		return nil, fmt.Errorf("register command timed out after %v", commandTimeout)
	}
}

// Unregister detaches c and closes its stream. Unknown clients are ignored.
func (h *Hub) Unregister(c *Client) {
	_ = h.send(unregisterCmd{client: c})
}

// ClientCount returns the number of registered clients, or -1 if the hub did
// not answer in time.
func (h *Hub) ClientCount() int {
	replyCh := make(chan int, 1)
	if err := h.send(getClientCountCmd{replyChannel: replyCh}); err != nil {
		return 0
	}

	timer := h.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case count := <-replyCh:
		return count
	case <-timer.Chan():
		slog.Warn("ClientCount timed out", "timeout", commandTimeout)
		return -1
	}
}

// BroadcastAdd sends payload to every client as a new_item event.
func (h *Hub) BroadcastAdd(payload any) error {
	return h.broadcast(domain.EventNewItem, payload)
}

// BroadcastUpdate sends payload to every client as an update_item event.
func (h *Hub) BroadcastUpdate(payload any) error {
	return h.broadcast(domain.EventUpdateItem, payload)
}

// BroadcastRemove sends payload to every client as a remove_item event.
func (h *Hub) BroadcastRemove(payload any) error {
	return h.broadcast(domain.EventRemoveItem, payload)
}

func (h *Hub) broadcast(kind domain.EventKind, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", kind, err)
	}
	ev := domain.Event{ID: uuid.NewString(), Kind: kind, Data: data}
	return h.send(broadcastCmd{event: ev})
}

// Stop disconnects every client and stops the hub goroutine. Calls after the
// first return immediately.
func (h *Hub) Stop() {
	if err := h.send(stopCmd{}); err != nil {
		return
	}

	timeout := h.clock.NewTimer(stopTimeout)
	defer timeout.Stop()

	select {
	case <-h.done:
		slog.Info("Broadcast hub stopped gracefully")
	case <-timeout.Chan():
		slog.Warn("Broadcast hub stop timeout exceeded", "timeout", stopTimeout)
	}
}

func (h *Hub) send(cmd hubCmd) error {
	select {
	case <-h.done:
		return domain.ErrHubStopped
	default:
	}

	select {
	case h.cmdCh <- cmd:
		return nil
	case <-h.done:
		return domain.ErrHubStopped
	}
}

func (h *Hub) run() {
	defer close(h.done)
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Broadcast hub panic recovered", "panic", r)
			h.closeAllClients()
		}
	}()

	for cmd := range h.cmdCh {
		switch c := cmd.(type) {
		case registerCmd:
			h.handleRegister(c)
		case unregisterCmd:
			h.handleUnregister(c.client)
		case broadcastCmd:
			h.handleBroadcast(c.event)
		case getClientCountCmd:
			c.replyChannel <- len(h.clients)
		case stopCmd:
			h.handleStop()
			return
		default:
			slog.Warn("Broadcast hub received unknown command type", "command_type", fmt.Sprintf("%T", cmd))
		}
	}
}

func (h *Hub) handleRegister(c registerCmd) {
	if len(h.clients) >= h.cfg.MaxClients {
		slog.Warn("Rejecting client: max clients reached", "max_clients", h.cfg.MaxClients)
		if h.metrics != nil {
			h.metrics.RejectedClients.WithLabelValues("max_clients").Inc()
		}
		_ = c.stream.Close()
		c.replyChannel <- registerReply{err: fmt.Errorf("%w: limit is %d", domain.ErrTooManyClients, h.cfg.MaxClients)}
		return
	}

	backlog := h.history.since(c.lastEventID)
	client := &Client{
		ID:     uuid.NewString(),
		writer: newClientWriter(c.stream, h.clock, h.cfg.PingInterval, backlog),
	}
	h.clients[client] = struct{}{}

	if h.metrics != nil {
		h.metrics.ConnectedClients.Inc()
	}
	slog.Debug("Client registered", "client_id", client.ID, "replayed", len(backlog), "total_clients", len(h.clients))
	c.replyChannel <- registerReply{client: client}
}

func (h *Hub) handleUnregister(client *Client) {
	if _, ok := h.clients[client]; !ok {
		return
	}

	client.writer.stop()
	delete(h.clients, client)

	if h.metrics != nil {
		h.metrics.ConnectedClients.Dec()
	}
	slog.Debug("Client unregistered", "client_id", client.ID, "remaining_clients", len(h.clients))
}

func (h *Hub) handleBroadcast(ev domain.Event) {
	if len(h.clients) == 0 {
		return
	}

	h.history.add(ev)
	if h.metrics != nil {
		h.metrics.EventsBroadcast.WithLabelValues(string(ev.Kind)).Inc()
	}

	var slow []*Client
	for client := range h.clients {
		if !client.writer.enqueue(ev) {
			slow = append(slow, client)
		}
	}

	for _, client := range slow {
		slog.Warn("Disconnecting slow client", "client_id", client.ID)
		if h.metrics != nil {
			h.metrics.SlowClientsEvicted.Inc()
		}
		h.handleUnregister(client)
	}
}

func (h *Hub) handleStop() {
	slog.Info("Broadcast hub shutting down", "total_clients", len(h.clients))
	h.closeAllClients()
}

func (h *Hub) closeAllClients() {
	for client := range h.clients {
		client.writer.stop()
		delete(h.clients, client)
	}
	if h.metrics != nil {
		h.metrics.ConnectedClients.Set(0)
	}
}
