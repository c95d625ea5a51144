package redis

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/emanguy/QuestTracker-NotificationService/internal/domain"
)

const testRedisPassword = "testRedis"

var (
	testRedisURL   string
	redisContainer testcontainers.Container
)

func TestMain(m *testing.M) {
	flag.Parse()

	if testing.Short() {
		os.Exit(m.Run())
	}

	ctx := context.Background()
	var err error
	redisContainer, err = testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			Cmd:          []string{"redis-server", "--requirepass", testRedisPassword},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start redis container: %v\n", err)
		os.Exit(1)
	}

	endpoint, err := redisContainer.Endpoint(ctx, "")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to get redis endpoint: %v\n", err)
		os.Exit(1)
	}
	testRedisURL = "redis://" + endpoint

	code := m.Run()
	if err := redisContainer.Terminate(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "failed to terminate redis container: %v\n", err)
	}
	os.Exit(code)
}

func setupTestConnections(t *testing.T) *Connections {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	c, err := Connect(ctx, domain.Credentials{URL: testRedisURL, Password: testRedisPassword})
	require.NoError(t, err)
	t.Cleanup(c.Disconnect)
	return c
}

type recordingDispatcher struct {
	mu   sync.Mutex
	msgs []domain.ChannelMessage
	ch   chan struct{}
}

func newRecordingDispatcher() *recordingDispatcher {
	return &recordingDispatcher{ch: make(chan struct{}, 64)}
}

func (d *recordingDispatcher) Dispatch(msg domain.ChannelMessage) {
	d.mu.Lock()
	d.msgs = append(d.msgs, msg)
	d.mu.Unlock()
	d.ch <- struct{}{}
}

func (d *recordingDispatcher) wait(t *testing.T, n int) []domain.ChannelMessage {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for i := 0; i < n; i++ {
		select {
		case <-d.ch:
		case <-timeout:
			t.Fatalf("timed out, received %d/%d messages", i, n)
		}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]domain.ChannelMessage(nil), d.msgs...)
}

func waitForSubscribers(t *testing.T, c *Connections) {
	t.Helper()
	require.Eventually(t, func() bool {
		counts, err := c.pub.PubSubNumSub(context.Background(), domain.Topics()...).Result()
		if err != nil {
			return false
		}
		for _, topic := range domain.Topics() {
			if counts[topic] == 0 {
				return false
			}
		}
		return true
	}, 5*time.Second, 20*time.Millisecond)
}

func TestConnections_RoutesMessagesInOrder(t *testing.T) {
	c := setupTestConnections(t)
	d := newRecordingDispatcher()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = c.Run(ctx, d) }()
	waitForSubscribers(t, c)

	pub := c.publisher
	require.NoError(t, pub.Publish(ctx, domain.TopicAdd, map[string]any{"type": "QUEST", "newData": map[string]any{"id": "q1"}}))
	require.NoError(t, pub.Publish(ctx, domain.TopicRemove, []byte(`{"type":"QUEST","id":"q1"}`)))
	require.NoError(t, pub.Publish(ctx, "unrelated-topic", []byte(`{}`)))
	require.NoError(t, pub.Publish(ctx, domain.TopicProbe, domain.ProbePayload{TestValue: 42}))

	msgs := d.wait(t, 3)
	require.Len(t, msgs, 3)
	assert.Equal(t, domain.TopicAdd, msgs[0].Topic)
	assert.JSONEq(t, `{"type":"QUEST","newData":{"id":"q1"}}`, msgs[0].Payload)
	assert.Equal(t, domain.TopicRemove, msgs[1].Topic)
	assert.Equal(t, domain.TopicProbe, msgs[2].Topic)
	assert.JSONEq(t, `{"testValue":42}`, msgs[2].Payload)
}

func TestConnections_RunStopsOnCancel(t *testing.T) {
	c := setupTestConnections(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, newRecordingDispatcher()) }()
	waitForSubscribers(t, c)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	select {
	case err := <-c.Fatal():
		t.Fatalf("cancel must not be fatal: %v", err)
	default:
	}
}

func TestConnect_WrongPasswordIsFatalImmediately(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	start := time.Now()
	_, err := Connect(context.Background(), domain.Credentials{URL: testRedisURL, Password: "wrong"})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrTransport)
	assert.Less(t, time.Since(start), DefaultReconnectWait, "auth failures must not be retried")
}

func TestConnections_DisconnectTwice(t *testing.T) {
	c := setupTestConnections(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, newRecordingDispatcher()) }()
	waitForSubscribers(t, c)

	assert.NotPanics(t, func() {
		c.Disconnect()
		c.Disconnect()
	})
	assert.NoError(t, <-done)

	err := c.Publish(context.Background(), domain.TopicAdd, []byte(`{}`))
	assert.Error(t, err)
}
