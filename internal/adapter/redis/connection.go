package redis

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/jonboulle/clockwork"
	goredis "github.com/redis/go-redis/v9"

	"github.com/emanguy/QuestTracker-NotificationService/internal/adapter/metrics"
	"github.com/emanguy/QuestTracker-NotificationService/internal/domain"
	"github.com/emanguy/QuestTracker-NotificationService/internal/platform/retry"
	"github.com/emanguy/QuestTracker-NotificationService/internal/platform/version"
)

const (
	subscriberConn = "subscriber"
	publisherConn  = "publisher"

	// DefaultReconnectWait is the fixed pause between reconnection attempts.
	DefaultReconnectWait = 10 * time.Second
	// DefaultMaxAttempts is how many consecutive failed attempts a connection
	// may make before the failure is fatal.
	DefaultMaxAttempts = 12

	defaultHealthInterval = 30 * time.Second
)

type options struct {
	clock          clockwork.Clock
	reconnectWait  time.Duration
	maxAttempts    int
	healthInterval time.Duration
	redisMetrics   *metrics.RedisMetrics
	bridgeMetrics  *metrics.BridgeMetrics
}

type Option func(*options)

func WithClock(clock clockwork.Clock) Option {
	return func(o *options) { o.clock = clock }
}

func WithReconnectWait(d time.Duration) Option {
	return func(o *options) { o.reconnectWait = d }
}

func WithMaxAttempts(n int) Option {
	return func(o *options) { o.maxAttempts = n }
}

// WithHealthInterval sets how long the subscription may stay silent before
// it is pinged.
func WithHealthInterval(d time.Duration) Option {
	return func(o *options) { o.healthInterval = d }
}

func WithMetrics(redis *metrics.RedisMetrics, bridge *metrics.BridgeMetrics) Option {
	return func(o *options) {
		o.redisMetrics = redis
		o.bridgeMetrics = bridge
	}
}

// Connections owns the subscriber and publisher clients.
type Connections struct {
	sub       *goredis.Client
	pub       *goredis.Client
	publisher *Publisher
	breaker   *CircuitBreakerHook
	opts      options

	mu     sync.Mutex
	pubsub *goredis.PubSub

	fatal     chan error
	fatalOnce sync.Once
	closeOnce sync.Once
}

var _ domain.Publisher = (*Connections)(nil)

// Connect dials both connections. A missing password is rejected before any
// network activity with domain.ErrMissingCredential. The initial PING of each
// connection is retried under the reconnection policy; an unrecoverable
// failure is returned wrapped in domain.ErrTransport.
func Connect(ctx context.Context, creds domain.Credentials, opts ...Option) (*Connections, error) {
	if creds.Password == "" {
		return nil, domain.ErrMissingCredential
	}

	o := options{
		clock:          clockwork.NewRealClock(),
		reconnectWait:  DefaultReconnectWait,
		maxAttempts:    DefaultMaxAttempts,
		healthInterval: defaultHealthInterval,
	}
	for _, opt := range opts {
		opt(&o)
	}

	subOpts, err := clientOptions(creds, subscriberConn)
	if err != nil {
		return nil, err
	}
	pubOpts, err := clientOptions(creds, publisherConn)
	if err != nil {
		return nil, err
	}

	c := &Connections{
		sub:     goredis.NewClient(subOpts),
		pub:     goredis.NewClient(pubOpts),
		breaker: NewCircuitBreakerHook(o.redisMetrics),
		opts:    o,
		fatal:   make(chan error, 1),
	}
	if o.redisMetrics != nil {
		c.sub.AddHook(NewMetricsHook(subscriberConn, o.redisMetrics))
		c.pub.AddHook(NewMetricsHook(publisherConn, o.redisMetrics))
	}
	c.pub.AddHook(c.breaker)
	c.publisher = &Publisher{client: c.pub}

	for _, conn := range []struct {
		name   string
		client *goredis.Client
	}{{subscriberConn, c.sub}, {publisherConn, c.pub}} {
		if err := c.ping(ctx, conn.name, conn.client); err != nil {
			c.Disconnect()
			return nil, err
		}
		slog.Info("Connected to Redis", "connection", conn.name, "addr", subOpts.Addr)
	}

	return c, nil
}

func clientOptions(creds domain.Credentials, name string) (*goredis.Options, error) {
	opts, err := goredis.ParseURL(creds.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	opts.Password = creds.Password
	opts.ClientName = version.Service + "-" + name
	// Reconnection is owned by the budget, not by go-redis.
	opts.MaxRetries = -1
	return opts, nil
}

func (c *Connections) ping(ctx context.Context, name string, client *goredis.Client) error {
	budget := retry.NewBudget(c.policy(name), Classify)
	for {
		err := client.Ping(ctx).Err()
		if err == nil {
			return nil
		}
		wait, gaveUp := budget.Failure(err)
		if gaveUp != nil {
			return fmt.Errorf("%w: %s: %w", domain.ErrTransport, name, gaveUp)
		}
		if !c.sleep(ctx, wait) {
			return fmt.Errorf("%w: %s: %w", domain.ErrTransport, name, ctx.Err())
		}
	}
}

func (c *Connections) policy(name string) retry.Policy {
	return retry.Policy{
		MaxAttempts:    c.opts.maxAttempts,
		InitialBackoff: c.opts.reconnectWait,
		Constant:       true,
		Clock:          c.opts.clock,
		OnRetry: func(attempt int, err error, wait time.Duration) {
			slog.Warn("Redis connection failed, retrying",
				"connection", name,
				"attempt", attempt,
				"max_attempts", c.opts.maxAttempts,
				"wait", wait,
				"error", err,
			)
			if c.opts.bridgeMetrics != nil {
				c.opts.bridgeMetrics.Reconnects.WithLabelValues(name).Inc()
			}
		},
	}
}

// Run subscribes to every topic and hands each message to d until ctx is
// cancelled or the connection fails fatally. Broker order is preserved.
func (c *Connections) Run(ctx context.Context, d domain.MessageHandler) error {
	ps := c.sub.Subscribe(ctx, domain.Topics()...)
	c.mu.Lock()
	c.pubsub = ps
	c.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { _ = ps.Close() })
	defer stop()

	budget := retry.NewBudget(c.policy(subscriberConn), Classify)
	for {
		msg, err := ps.ReceiveTimeout(ctx, c.opts.healthInterval)
		if err != nil && isTimeout(err) && ctx.Err() == nil {
			// Idle subscription; make sure it is still alive.
			err = ps.Ping(ctx)
			if err == nil {
				continue
			}
		}
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, goredis.ErrClosed) {
				return nil
			}
			wait, gaveUp := budget.Failure(err)
			if gaveUp != nil {
				err := fmt.Errorf("%w: %s: %w", domain.ErrTransport, subscriberConn, gaveUp)
				c.fail(err)
				return err
			}
			if !c.sleep(ctx, wait) {
				return nil
			}
			continue
		}

		budget.Success()
		switch m := msg.(type) {
		case *goredis.Subscription:
			slog.Info("Subscription changed", "kind", m.Kind, "topic", m.Channel, "count", m.Count)
		case *goredis.Message:
			d.Dispatch(domain.ChannelMessage{Topic: m.Channel, Payload: m.Payload})
		case *goredis.Pong:
			slog.Debug("Subscription pong received")
		}
	}
}

// WatchPublisher pings the publisher every reconnect interval and applies the
// reconnection policy to failures. It returns when ctx is cancelled or the
// publisher failed fatally.
func (c *Connections) WatchPublisher(ctx context.Context) error {
	budget := retry.NewBudget(c.policy(publisherConn), Classify)
	wait := c.opts.reconnectWait
	for {
		if !c.sleep(ctx, wait) {
			return nil
		}

		err := c.pub.Ping(ctx).Err()
		if err == nil {
			budget.Success()
			wait = c.opts.reconnectWait
			continue
		}
		if ctx.Err() != nil || errors.Is(err, goredis.ErrClosed) {
			return nil
		}

		var gaveUp error
		wait, gaveUp = budget.Failure(err)
		if gaveUp != nil {
			err := fmt.Errorf("%w: %s: %w", domain.ErrTransport, publisherConn, gaveUp)
			c.fail(err)
			return err
		}
	}
}

// Publish publishes payload on the publisher connection.
func (c *Connections) Publish(ctx context.Context, topic string, payload any) error {
	return c.publisher.Publish(ctx, topic, payload)
}

// Fatal delivers at most one error: the first unrecoverable transport failure.
func (c *Connections) Fatal() <-chan error {
	return c.fatal
}

// BreakerState reports the publisher circuit breaker state: closed, open or
// half-open.
func (c *Connections) BreakerState() string {
	return c.breaker.State().String()
}

// Disconnect closes the subscription and both clients. Errors are logged and
// swallowed; calling it more than once is harmless.
func (c *Connections) Disconnect() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		ps := c.pubsub
		c.mu.Unlock()

		if ps != nil {
			if err := ps.Close(); err != nil {
				slog.Debug("Closing subscription failed", "error", err)
			}
		}
		if err := c.sub.Close(); err != nil {
			slog.Debug("Closing Redis connection failed", "connection", subscriberConn, "error", err)
		}
		if err := c.pub.Close(); err != nil {
			slog.Debug("Closing Redis connection failed", "connection", publisherConn, "error", err)
		}
		slog.Info("Disconnected from Redis")
	})
}

func (c *Connections) fail(err error) {
	c.fatalOnce.Do(func() {
		slog.Error("Redis connection lost for good", "error", err)
		c.fatal <- err
	})
}

func (c *Connections) sleep(ctx context.Context, d time.Duration) bool {
	t := c.opts.clock.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.Chan():
		return true
	case <-ctx.Done():
		return false
	}
}

// Classify decides whether reconnecting can fix err. Server replies (bad
// credentials, unknown commands) and anything unrecognised are permanent.
func Classify(err error) retry.Action {
	var replyErr goredis.Error
	if errors.As(err, &replyErr) {
		return retry.Stop
	}
	if errors.Is(err, circuitbreaker.ErrOpen) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, context.DeadlineExceeded) {
		return retry.Retry
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return retry.Retry
	}
	return retry.Stop
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
