package httpserver

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	gorillaws "github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emanguy/QuestTracker-NotificationService/internal/broadcast"
	"github.com/emanguy/QuestTracker-NotificationService/internal/domain"
	"github.com/emanguy/QuestTracker-NotificationService/internal/platform/config"
	apperrors "github.com/emanguy/QuestTracker-NotificationService/internal/platform/errors"
	"github.com/emanguy/QuestTracker-NotificationService/internal/platform/version"
)

type fakeServices struct {
	hub    *broadcast.Hub
	probe  atomic.Bool
	probes atomic.Int32
}

func (f *fakeServices) BroadcastHub() *broadcast.Hub { return f.hub }

func (f *fakeServices) BrokerState() string { return "half-open" }

func (f *fakeServices) SendTestMessage(context.Context) bool {
	f.probes.Add(1)
	return f.probe.Load()
}

// captureStream records events written by the hub.
type captureStream struct {
	events chan domain.Event
}

func newCaptureStream() *captureStream {
	return &captureStream{events: make(chan domain.Event, 16)}
}

func (s *captureStream) WriteEvent(ev domain.Event) error {
	s.events <- ev
	return nil
}

func (s *captureStream) Ping() error  { return nil }
func (s *captureStream) Close() error { return nil }

func (s *captureStream) next(t *testing.T) domain.Event {
	t.Helper()
	select {
	case ev := <-s.events:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return domain.Event{}
	}
}

func testConfig() *config.Config {
	return &config.Config{
		AppEnv:           "test",
		Port:             "0",
		CORSOrigins:      "*",
		ConnectionsPerIP: 50,
		ConnectionRate:   100,
		ConnectionBurst:  100,
		PushRate:         100,
		PushBurst:        100,
	}
}

func newTestServer(t *testing.T, cfg *config.Config, clock clockwork.Clock) (*Server, *fakeServices) {
	t.Helper()
	services := &fakeServices{hub: broadcast.NewHub(broadcast.DefaultConfig(), clock, nil)}
	t.Cleanup(services.hub.Stop)
	return NewServer(cfg, services, clock, nil, nil), services
}

// startTestServer serves srv over a real listener. The hub stops before the
// listener closes so held streams return.
func startTestServer(t *testing.T, cfg *config.Config) (*httptest.Server, *fakeServices) {
	t.Helper()
	clock := clockwork.NewRealClock()
	services := &fakeServices{hub: broadcast.NewHub(broadcast.DefaultConfig(), clock, nil)}
	ts := httptest.NewServer(NewServer(cfg, services, clock, nil, nil))
	t.Cleanup(ts.Close)
	t.Cleanup(services.hub.Stop)
	return ts, services
}

func serve(srv *Server, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func waitForClients(t *testing.T, hub *broadcast.Hub, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return hub.ClientCount() == n }, 2*time.Second, 10*time.Millisecond)
}

func TestRootHandlers(t *testing.T) {
	srv, _ := newTestServer(t, testConfig(), clockwork.NewFakeClock())

	rec := serve(srv, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Hello, world!", rec.Body.String())

	rec = serve(srv, http.MethodGet, "/push/", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Hello world!", rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get(headerRequestID))
}

func TestHealth(t *testing.T) {
	srv, services := newTestServer(t, testConfig(), clockwork.NewFakeClock())

	services.probe.Store(true)
	rec := serve(srv, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	services.probe.Store(false)
	rec = serve(srv, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"status":"unhealthy"}`, rec.Body.String())

	assert.Equal(t, int32(2), services.probes.Load())
}

func TestLiveness(t *testing.T) {
	clock := clockwork.NewFakeClock()
	srv, _ := newTestServer(t, testConfig(), clock)

	clock.Advance(90 * time.Second)
	rec := serve(srv, http.MethodGet, "/health/live", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Status  string  `json:"status"`
		Uptime  float64 `json:"uptime"`
		Clients int     `json:"clients"`
		Broker  string  `json:"broker"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.InDelta(t, 90, body.Uptime, 0.001)
	assert.Equal(t, 0, body.Clients)
	assert.Equal(t, "half-open", body.Broker)
}

func TestVersion(t *testing.T) {
	srv, _ := newTestServer(t, testConfig(), clockwork.NewFakeClock())

	rec := serve(srv, http.MethodGet, "/version", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var info version.Info
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, version.Get(), info)
}

func TestNewObject_BroadcastsNewItem(t *testing.T) {
	srv, services := newTestServer(t, testConfig(), clockwork.NewFakeClock())
	stream := newCaptureStream()
	_, err := services.hub.Register(stream, "")
	require.NoError(t, err)

	rec := serve(srv, http.MethodPost, "/push/newObject", `{"type":"QUEST","newData":{"id":"q1"}}`)
	assert.Equal(t, http.StatusCreated, rec.Code)

	ev := stream.next(t)
	assert.Equal(t, domain.EventNewItem, ev.Kind)
	assert.NotEmpty(t, ev.ID)
	assert.JSONEq(t, `{"type":"QUEST","newData":{"id":"q1"}}`, string(ev.Data))
}

func TestNewObject_RejectsInvalidJSON(t *testing.T) {
	srv, _ := newTestServer(t, testConfig(), clockwork.NewFakeClock())

	rec := serve(srv, http.MethodPost, "/push/newObject", `{"type":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestNewObject_RateLimitedPerIP(t *testing.T) {
	cfg := testConfig()
	cfg.PushRate = 0.001
	cfg.PushBurst = 1
	srv, _ := newTestServer(t, cfg, clockwork.NewFakeClock())

	rec := serve(srv, http.MethodPost, "/push/newObject", `{"a":1}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = serve(srv, http.MethodPost, "/push/newObject", `{"a":2}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	var resp apperrors.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, apperrors.TypeRateLimited, resp.Type)
	assert.Equal(t, "push_rate", resp.Context["reason"])
}

func TestRegister_StreamsEvents(t *testing.T) {
	ts, services := startTestServer(t, testConfig())

	resp, err := http.Get(ts.URL + "/push/register")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	waitForClients(t, services.hub, 1)

	require.NoError(t, services.hub.BroadcastUpdate(map[string]any{
		"type":         "QUEST",
		"updateDetail": map[string]string{"id": "q1"},
	}))

	reader := bufio.NewReader(resp.Body)
	fields := map[string]string{}
	for {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimSuffix(line, "\n")
		if line == "" {
			break
		}
		key, value, _ := strings.Cut(line, ": ")
		fields[key] = value
	}

	assert.NotEmpty(t, fields["id"])
	assert.Equal(t, "update_item", fields["event"])
	assert.JSONEq(t, `{"type":"QUEST","updateDetail":{"id":"q1"}}`, fields["data"])
}

func TestRegister_ClientGoneUnregisters(t *testing.T) {
	ts, services := startTestServer(t, testConfig())

	resp, err := http.Get(ts.URL + "/push/register")
	require.NoError(t, err)
	waitForClients(t, services.hub, 1)

	require.NoError(t, resp.Body.Close())
	waitForClients(t, services.hub, 0)
}

func TestRegister_PerIPLimit(t *testing.T) {
	cfg := testConfig()
	cfg.ConnectionsPerIP = 1
	ts, services := startTestServer(t, cfg)

	first, err := http.Get(ts.URL + "/push/register")
	require.NoError(t, err)
	defer first.Body.Close()
	waitForClients(t, services.hub, 1)

	second, err := http.Get(ts.URL + "/push/register")
	require.NoError(t, err)
	defer second.Body.Close()

	assert.Equal(t, http.StatusTooManyRequests, second.StatusCode)
	assert.Equal(t, 1, services.hub.ClientCount())
}

func TestRegister_HubStoppedIsUnavailable(t *testing.T) {
	srv, services := newTestServer(t, testConfig(), clockwork.NewRealClock())
	services.hub.Stop()

	rec := serve(srv, http.MethodGet, "/push/register", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestWebSocket_StreamsEvents(t *testing.T) {
	ts, services := startTestServer(t, testConfig())

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/push/ws"
	conn, _, err := gorillaws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	waitForClients(t, services.hub, 1)

	require.NoError(t, services.hub.BroadcastRemove(map[string]string{"type": "OBJECTIVE", "id": "o1"}))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev domain.Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, domain.EventRemoveItem, ev.Kind)
	assert.JSONEq(t, `{"type":"OBJECTIVE","id":"o1"}`, string(ev.Data))

	require.NoError(t, conn.Close())
	waitForClients(t, services.hub, 0)
}

func TestWebSocket_RejectedClientIsClosed(t *testing.T) {
	ts, services := startTestServer(t, testConfig())
	services.hub.Stop()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/push/ws"
	conn, _, err := gorillaws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, gorillaws.IsCloseError(err, gorillaws.CloseNormalClosure), "got %v", err)
}
