package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FxAlert/internal/domain/models"
)

func TestParseInteraction(t *testing.T) {
	received := time.Date(2024, 6, 1, 12, 0, 1, 0, time.UTC)
	raw := `{"t":"INTERACTION_CREATE","d":{"id":"111","token":"tok","created_at":"2024-06-01T12:00:00.500Z",
		"channel_id":"c1","user":{"id":"u1"},
		"data":{"name":"Signal","options":[{"name":"pair","value":"EURUSD"},{"name":"min_confidence","value":0.7}]}}}`

	in, ok, err := parseInteraction([]byte(raw), received)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "111", in.ID)
	assert.Equal(t, "signal", in.CommandName)
	assert.Equal(t, "EURUSD", in.Params["pair"])
	assert.Equal(t, "0.7", in.Params["min_confidence"])
	assert.Equal(t, "u1", in.UserID)
	assert.Equal(t, time.Date(2024, 6, 1, 12, 0, 0, 500e6, time.UTC), in.CreatedAt)
	assert.Equal(t, in.CreatedAt.Add(models.DefaultAckDeadline), in.Deadline)
}

func TestParseInteraction_FutureTimestampUsesReceiveTime(t *testing.T) {
	received := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	raw := `{"t":"INTERACTION_CREATE","d":{"id":"1","token":"t","created_at":"2024-06-01T13:00:00Z","data":{"name":"help"}}}`
	in, ok, err := parseInteraction([]byte(raw), received)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, received, in.CreatedAt)
}

func TestParseInteraction_IgnoresOtherFrames(t *testing.T) {
	_, ok, err := parseInteraction([]byte(`{"t":"READY","d":{}}`), time.Now())
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = parseInteraction([]byte(`{"t":"INTERACTION_CREATE","d":{"id":""}}`), time.Now())
	assert.Error(t, err)
}

func TestClient_RunDeliversInteractions(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bot secret", r.Header.Get("Authorization"))
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"t":"READY","d":{}}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"t":"INTERACTION_CREATE","d":{"id":"42","token":"tk","data":{"name":"help"}}}`))
		// hold the connection until the client goes away
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	c := New(url, "secret", 10*time.Millisecond, 0, nil)

	ctx, cancel := context.WithCancel(context.Background())
	got := make(chan models.InboundInteraction, 1)
	done := make(chan error, 1)
	go func() {
		done <- c.Run(ctx, func(in models.InboundInteraction) { got <- in })
	}()

	select {
	case in := <-got:
		assert.Equal(t, "42", in.ID)
		assert.Equal(t, "help", in.CommandName)
	case <-time.After(2 * time.Second):
		t.Fatal("no interaction received")
	}
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop")
	}
	assert.False(t, c.IsConnected())
}
