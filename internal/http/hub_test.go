package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"anpr-tracker/internal/domain/anpr"
)

func startHub(t *testing.T, origins []string) (*Hub, string) {
	t.Helper()
	hub := NewHub(origins, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	r := gin.New()
	r.GET("/ws", hub.Serve)
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func TestHubBroadcastsAlerts(t *testing.T) {
	t.Parallel()
	hub, url := startHub(t, []string{"*"})

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 5*time.Millisecond)

	ev := anpr.AlertEvent{Target: "XY123", Plate: "XY1234", TrackID: uuid.New(), At: time.Now().UTC()}
	hub.NotifyAlert(ev)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg struct {
		Type string          `json:"type"`
		Data anpr.AlertEvent `json:"data"`
	}
	require.NoError(t, json.Unmarshal(payload, &msg))
	assert.Equal(t, MessageAlert, msg.Type)
	assert.Equal(t, ev.Plate, msg.Data.Plate)
	assert.Equal(t, ev.TrackID, msg.Data.TrackID)

	hub.RequestCapture(anpr.CaptureRequest{ID: uuid.New()})
	_, payload, err = conn.ReadMessage()
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(payload, &msg))
	assert.Equal(t, MessageCaptureRequest, msg.Type)
}

func TestHubUnregistersClosedClients(t *testing.T) {
	t.Parallel()
	hub, url := startHub(t, []string{"*"})

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return hub.Clients() == 0 }, time.Second, 5*time.Millisecond)
}

func TestHubRejectsForeignOrigin(t *testing.T) {
	t.Parallel()
	_, url := startHub(t, []string{"http://console.local"})

	header := http.Header{"Origin": []string{"http://elsewhere.local"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestHubPublishNeverBlocks(t *testing.T) {
	t.Parallel()
	hub := NewHub(nil, zerolog.Nop())

	done := make(chan struct{})
	go func() {
		for i := 0; i < 500; i++ {
			hub.NotifyAlert(anpr.AlertEvent{Plate: "AB1234"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked without a running hub")
	}
}
