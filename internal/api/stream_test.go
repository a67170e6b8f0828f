package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/modegate/internal/events"
)

func newStreamFixture(t *testing.T) (*StreamHandler, *events.MemoryPublisher, *websocket.Conn) {
	t.Helper()

	pub := events.NewMemoryPublisher()
	t.Cleanup(pub.Close)

	handler := NewStreamHandler(pub, slog.New(slog.NewTextHandler(io.Discard, nil)))
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })

	// The handler registers its global subscription right after the upgrade.
	waitForCond(t, func() bool { return pub.SubscriberCount(events.GlobalKind) == 1 }, "server did not subscribe")
	return handler, pub, conn
}

func waitForCond(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func readEvent(t *testing.T, conn *websocket.Conn) events.Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)

	var ev events.Event
	require.NoError(t, json.Unmarshal(raw, &ev))
	return ev
}

func TestStreamHandler_ForwardsEvents(t *testing.T) {
	_, pub, conn := newStreamFixture(t)

	pub.Publish(events.NewEvent(events.EventModeUnavailable, "", events.ModeData{Outstanding: 1, Version: 1}))

	ev := readEvent(t, conn)
	assert.Equal(t, events.EventModeUnavailable, ev.Type)
	assert.Empty(t, ev.Kind)
}

func TestStreamHandler_SubscribeNarrowsKind(t *testing.T) {
	_, pub, conn := newStreamFixture(t)

	require.NoError(t, conn.WriteJSON(SubscribeMessage{Type: "subscribe", Kind: "reindex"}))

	// The narrowed subscription replaces the global one.
	waitForCond(t, func() bool {
		return pub.SubscriberCount(events.GlobalKind) == 0 && pub.SubscriberCount("reindex") == 1
	}, "server did not switch subscription")

	pub.Publish(events.NewEvent(events.EventTaskQueued, "other", nil))
	pub.Publish(events.NewEvent(events.EventTaskComplete, "reindex", nil))

	ev := readEvent(t, conn)
	assert.Equal(t, events.EventTaskComplete, ev.Type)
	assert.Equal(t, "reindex", ev.Kind)
}

func TestStreamHandler_MalformedClientMessageIgnored(t *testing.T) {
	_, pub, conn := newStreamFixture(t)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))

	pub.Publish(events.NewEvent(events.EventTaskQueued, "reindex", nil))
	ev := readEvent(t, conn)
	assert.Equal(t, events.EventTaskQueued, ev.Type)
}

func TestStreamHandler_ClientDisconnectCleansUp(t *testing.T) {
	handler, pub, conn := newStreamFixture(t)
	require.Equal(t, 1, handler.ConnectionCount())

	conn.Close()

	waitForCond(t, func() bool { return handler.ConnectionCount() == 0 }, "connection not reaped")
	waitForCond(t, func() bool { return pub.SubscriberCount(events.GlobalKind) == 0 }, "subscription not released")
}

func TestStreamHandler_MultiplePeers(t *testing.T) {
	pub := events.NewMemoryPublisher()
	t.Cleanup(pub.Close)
	handler := NewStreamHandler(pub, slog.New(slog.NewTextHandler(io.Discard, nil)))
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	var conns []*websocket.Conn
	for i := 0; i < 3; i++ {
		conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
		require.NoError(t, err)
		if resp != nil {
			resp.Body.Close()
		}
		t.Cleanup(func() { conn.Close() })
		conns = append(conns, conn)
	}
	waitForCond(t, func() bool { return pub.SubscriberCount(events.GlobalKind) == 3 }, "not all peers subscribed")

	pub.Publish(events.NewEvent(events.EventModeAvailable, "", nil))
	for _, conn := range conns {
		ev := readEvent(t, conn)
		assert.Equal(t, events.EventModeAvailable, ev.Type)
	}
}
