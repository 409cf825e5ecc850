package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/vestd/internal/domain"
)

type chanBus struct {
	ch chan []byte
}

func (b *chanBus) Publish(context.Context, string, []byte) error { return nil }
func (b *chanBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return b.ch, nil
}
func (b *chanBus) StreamAppend(context.Context, string, []byte) error { return nil }
func (b *chanBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

type staticBacklog []domain.StreamMessage

func (s staticBacklog) StreamTail(_ context.Context, _ string, count int) ([]domain.StreamMessage, error) {
	if len(s) > count {
		return s[len(s)-count:], nil
	}
	return s, nil
}

func eventJSON(t *testing.T, typ domain.EventType, id string) []byte {
	t.Helper()
	b, err := json.Marshal(domain.Event{ID: id, Type: typ, Timestamp: 1, Data: map[string]any{}})
	require.NoError(t, err)
	return b
}

func readEvent(t *testing.T, conn *websocket.Conn) domain.Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	mt, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, mt)
	var ev domain.Event
	require.NoError(t, json.Unmarshal(data, &ev))
	return ev
}

func TestHubReplaysBacklogThenStreams(t *testing.T) {
	bus := &chanBus{ch: make(chan []byte, 4)}
	backlog := staticBacklog{
		{ID: "1-0", Payload: eventJSON(t, domain.EventPositionCreated, "old-1")},
		{ID: "2-0", Payload: eventJSON(t, domain.EventAmountClaimed, "old-2")},
	}
	hub := NewHub(bus, backlog, slog.New(slog.NewTextHandler(io.Discard, nil)), Config{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = hub.Run(ctx) }()

	srv := httptest.NewServer(httpHandler(hub))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	assert.Equal(t, "old-1", readEvent(t, conn).ID)
	assert.Equal(t, "old-2", readEvent(t, conn).ID)

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	bus.ch <- eventJSON(t, domain.EventPaused, "live-1")
	assert.Equal(t, "live-1", readEvent(t, conn).ID)
}

func TestHubFiltersByType(t *testing.T) {
	bus := &chanBus{ch: make(chan []byte, 4)}
	hub := NewHub(bus, nil, slog.New(slog.NewTextHandler(io.Discard, nil)), Config{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = hub.Run(ctx) }()

	srv := httptest.NewServer(httpHandler(hub))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteJSON(subscribeMsg{Action: "unsubscribe", Types: []domain.EventType{wildcard}}))
	require.NoError(t, conn.WriteJSON(subscribeMsg{Action: "subscribe", Types: []domain.EventType{domain.EventAmountClaimed}}))

	// Subscription changes are applied asynchronously by the read pump.
	require.Eventually(t, func() bool {
		hub.mu.RLock()
		defer hub.mu.RUnlock()
		for c := range hub.clients {
			return !c.isSubscribed(domain.EventPaused) && c.isSubscribed(domain.EventAmountClaimed)
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	bus.ch <- eventJSON(t, domain.EventPaused, "skip")
	bus.ch <- []byte("not json")
	bus.ch <- eventJSON(t, domain.EventAmountClaimed, "keep")
	assert.Equal(t, "keep", readEvent(t, conn).ID)
}

func TestOriginAllowed(t *testing.T) {
	assert.True(t, originAllowed(nil, "https://a.example"))
	assert.True(t, originAllowed([]string{"https://a.example"}, "https://a.example"))
	assert.False(t, originAllowed([]string{"https://a.example"}, "https://b.example"))
	assert.True(t, originAllowed([]string{"https://a.example"}, ""))
}

func httpHandler(h *Hub) http.Handler {
	return http.HandlerFunc(h.HandleWS)
}
