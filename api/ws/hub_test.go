package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskmesh/taskmesh/event"
)

func newTestHub(t *testing.T) (event.Bus, *Hub, string) {
	t.Helper()
	bus := event.NewBus(nil)
	t.Cleanup(bus.Stop)

	hub := NewHub(bus, 0, 0, nil)
	t.Cleanup(hub.Close)

	srv := httptest.NewServer(hub)
	t.Cleanup(srv.Close)

	return bus, hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func TestHub_BroadcastsBusEvents(t *testing.T) {
	bus, hub, url := newTestHub(t)
	conn := dial(t, url)

	deadline := time.Now().Add(5 * time.Second)
	for hub.ClientCount() == 0 {
		require.True(t, time.Now().Before(deadline), "client never registered")
		time.Sleep(time.Millisecond)
	}

	bus.Publish(&event.TaskStateChangeEvent{
		TaskID:         "task-1",
		PreviousStatus: "ready",
		NewStatus:      "running",
		Timestamp_:     time.Now(),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)

	var env Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	assert.Equal(t, string(event.EventTaskStateChange), env.Type)

	payload := env.Data.(map[string]any)
	assert.Equal(t, "task-1", payload["task_id"])
	assert.Equal(t, "running", payload["new_status"])
}

func TestHub_EventOrderPreserved(t *testing.T) {
	bus, hub, url := newTestHub(t)
	conn := dial(t, url)

	deadline := time.Now().Add(5 * time.Second)
	for hub.ClientCount() == 0 {
		require.True(t, time.Now().Before(deadline), "client never registered")
		time.Sleep(time.Millisecond)
	}

	statuses := []string{"pending", "ready", "running", "completed"}
	for i := 1; i < len(statuses); i++ {
		bus.Publish(&event.TaskStateChangeEvent{
			TaskID:         "ordered",
			PreviousStatus: statuses[i-1],
			NewStatus:      statuses[i],
			Timestamp_:     time.Now(),
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for i := 1; i < len(statuses); i++ {
		_, data, err := conn.Read(ctx)
		require.NoError(t, err)

		var env Envelope
		require.NoError(t, json.Unmarshal(data, &env))
		assert.Equal(t, statuses[i], env.Data.(map[string]any)["new_status"])
	}
}

func TestHub_CloseUnsubscribes(t *testing.T) {
	bus, hub, _ := newTestHub(t)

	hub.Close()
	assert.Equal(t, 0, hub.ClientCount())

	// Publishing after close must not panic or block.
	bus.Publish(&event.ThreadClosedEvent{ThreadID: "t", Timestamp_: time.Now()})
}

func TestHub_DisconnectedClientRemoved(t *testing.T) {
	_, hub, url := newTestHub(t)
	conn := dial(t, url)

	deadline := time.Now().Add(5 * time.Second)
	for hub.ClientCount() == 0 {
		require.True(t, time.Now().Before(deadline), "client never registered")
		time.Sleep(time.Millisecond)
	}

	conn.Close(websocket.StatusNormalClosure, "")

	deadline = time.Now().Add(5 * time.Second)
	for hub.ClientCount() != 0 {
		require.True(t, time.Now().Before(deadline), "client never removed")
		time.Sleep(time.Millisecond)
	}
}
