package ws

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
	"go.uber.org/goleak"

	"github.com/infrasage/infrasage/internal/intelligence"
	"github.com/infrasage/infrasage/internal/models"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeSubscriber struct {
	ch        chan intelligence.Advisories
	cancelled chan struct{}
}

func newFakeSubscriber() *fakeSubscriber {
	return &fakeSubscriber{ch: make(chan intelligence.Advisories, 1), cancelled: make(chan struct{})}
}

func (f *fakeSubscriber) Subscribe() (<-chan intelligence.Advisories, func()) {
	return f.ch, func() { close(f.cancelled) }
}

func startHub(t *testing.T) (*Hub, context.Context) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(nil)
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return hub, ctx
}

func dial(t *testing.T, srv *httptest.Server, origin string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	header := http.Header{}
	if origin != "" {
		header.Set("Origin", origin)
	}
	return websocket.DefaultDialer.Dial(url, header)
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func advisories(key string) intelligence.Advisories {
	return intelligence.Advisories{
		Rules: []models.AdaptationRule{{PatternKey: key, Weights: map[string]float64{"complexity": 1.25}}},
	}
}

func TestClientReceivesLatestAndLiveInsights(t *testing.T) {
	hub, ctx := startHub(t)

	first := advisories("web_application:small")
	require.NoError(t, hub.Broadcast(ctx, Message{Type: MessageTypeInsights, Insights: &first}))

	srv := httptest.NewServer(NewHandler(hub, []string{"*"}, nil))
	defer srv.Close()

	conn, _, err := dial(t, srv, "")
	require.NoError(t, err)
	defer conn.Close()

	msg := readMessage(t, conn)
	assert.Equal(t, MessageTypeInsights, msg.Type)
	require.NotNil(t, msg.Insights)
	assert.Equal(t, "web_application:small", msg.Insights.Rules[0].PatternKey)

	sub := newFakeSubscriber()
	fwdCtx, stopForward := context.WithCancel(ctx)
	fwdDone := make(chan error, 1)
	go func() { fwdDone <- hub.Forward(fwdCtx, sub) }()

	sub.ch <- advisories("api_service:large")
	msg = readMessage(t, conn)
	require.NotNil(t, msg.Insights)
	assert.Equal(t, "api_service:large", msg.Insights.Rules[0].PatternKey)
	assert.False(t, msg.Timestamp.IsZero())

	stopForward()
	require.NoError(t, <-fwdDone)
	<-sub.cancelled
}

func TestClientCountTracksConnections(t *testing.T) {
	hub, _ := startHub(t)
	srv := httptest.NewServer(NewHandler(hub, nil, nil))
	defer srv.Close()

	conn, _, err := dial(t, srv, "")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHubStopDisconnectsClients(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(nil)
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()

	srv := httptest.NewServer(NewHandler(hub, nil, nil))
	defer srv.Close()

	conn, _, err := dial(t, srv, "")
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)

	assert.ErrorIs(t, hub.Broadcast(context.Background(), Message{Type: MessageTypeInsights}), ErrHubStopped)
	assert.NoError(t, hub.Forward(context.Background(), newFakeSubscriber()))
}

func TestSlowClientIsDropped(t *testing.T) {
	hub, ctx := startHub(t)

	slow := &Client{hub: hub, send: make(chan []byte), id: "slow"}
	require.True(t, hub.join(slow))
	require.Equal(t, 1, hub.ClientCount())

	require.NoError(t, hub.Broadcast(ctx, Message{Type: MessageTypeInsights}))
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)

	_, open := <-slow.send
	assert.False(t, open)
}

func TestRejectedOrigin(t *testing.T) {
	hub, _ := startHub(t)
	srv := httptest.NewServer(NewHandler(hub, []string{"https://app.example.com"}, nil))
	defer srv.Close()

	_, resp, err := dial(t, srv, "https://evil.example.com")
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, 0, hub.ClientCount())
}

func TestOriginChecking(t *testing.T) {
	tests := []struct {
		name      string
		origins   []string
		reqOrigin string
		want      bool
	}{
		{"allow localhost:3000", nil, "http://localhost:3000", true},
		{"allow localhost:5173", nil, "http://localhost:5173", true},
		{"block localhost:8080 by default", nil, "http://localhost:8080", false},
		{"block external by default", nil, "https://evil.example.com", false},

		{"wildcard allows anything", []string{"*"}, "https://example.com", true},

		{"explicit allow match", []string{"https://app.example.com"}, "https://app.example.com", true},
		{"explicit allow mismatch", []string{"https://app.example.com"}, "https://evil.com", false},
		{"case-insensitive origin", []string{"https://App.Example.Com"}, "https://app.example.com", true},

		{"no origin header allowed", nil, "", true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			up := newUpgrader(tc.origins)
			r := httptest.NewRequest(http.MethodGet, "/ws/insights", nil)
			if tc.reqOrigin != "" {
				r.Header.Set("Origin", tc.reqOrigin)
			}
			assert.Equal(t, tc.want, up.CheckOrigin(r))
		})
	}
}
