package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/chatwidget/backend/internal/config"
	"github.com/zhouzirui/chatwidget/backend/internal/model/chat"
	widgetmodel "github.com/zhouzirui/chatwidget/backend/internal/model/widget"
	"github.com/zhouzirui/chatwidget/backend/internal/service/bot"
	"github.com/zhouzirui/chatwidget/backend/internal/service/conversation"
	widgetservice "github.com/zhouzirui/chatwidget/backend/internal/service/widget"
)

type echoTransport struct{}

func (echoTransport) SendMessage(_ context.Context, req bot.Request) (bot.Reply, error) {
	return bot.Reply{Text: "echo: " + req.Text, Found: true}, nil
}

type frame struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

func setupServer(t *testing.T, origins []string) (*httptest.Server, *widgetservice.Host) {
	t.Helper()
	host := widgetservice.NewHost(echoTransport{}, config.WidgetConfig{Containers: []string{"chatbot"}})

	r := chi.NewRouter()
	New(host, origins).RegisterRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, host
}

func dial(t *testing.T, srv *httptest.Server, widgetID string, header http.Header) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/widgets/" + widgetID + "/ws"
	return websocket.DefaultDialer.Dial(url, header)
}

func readFrame(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var f frame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

func readView(t *testing.T, conn *websocket.Conn, done func(widgetmodel.View) bool) widgetmodel.View {
	t.Helper()
	for {
		f := readFrame(t, conn)
		require.Equal(t, "state", f.Type, string(f.Data))
		var view widgetmodel.View
		require.NoError(t, json.Unmarshal(f.Data, &view))
		if done(view) {
			return view
		}
	}
}

func TestWebSocketConversation(t *testing.T) {
	srv, host := setupServer(t, nil)
	w, err := host.Mount(context.Background(), "chatbot")
	require.NoError(t, err)

	conn, _, err := dial(t, srv, w.ID(), nil)
	require.NoError(t, err)
	defer conn.Close()

	initial := readView(t, conn, func(widgetmodel.View) bool { return true })
	assert.False(t, initial.Open)
	assert.Equal(t, w.ID(), initial.ID)

	require.NoError(t, conn.WriteJSON(inboundMessage{Type: "open"}))
	view := readView(t, conn, func(v widgetmodel.View) bool { return v.Open })
	assert.Equal(t, []chat.Message{chat.BotMessage(chat.Greeting)}, view.Conversation.Messages)

	require.NoError(t, conn.WriteJSON(inboundMessage{Type: "text", Text: "Ada"}))
	view = readView(t, conn, func(v widgetmodel.View) bool { return v.Conversation.Phase == chat.PhaseChatting })
	assert.Equal(t, "Ada", view.Conversation.UserName)

	require.NoError(t, conn.WriteJSON(inboundMessage{Type: "text", Text: "hello"}))
	view = readView(t, conn, func(v widgetmodel.View) bool { return len(v.Conversation.Messages) == 5 && !v.Typing })
	assert.Equal(t, chat.BotMessage("echo: hello"), view.Conversation.Messages[4])
}

func TestWebSocketReportsErrors(t *testing.T) {
	srv, host := setupServer(t, nil)
	w, err := host.Mount(context.Background(), "chatbot")
	require.NoError(t, err)

	conn, _, err := dial(t, srv, w.ID(), nil)
	require.NoError(t, err)
	defer conn.Close()
	readFrame(t, conn)

	require.NoError(t, conn.WriteJSON(inboundMessage{Type: "bogus"}))
	f := readFrame(t, conn)
	assert.Equal(t, "error", f.Type)
	assert.Contains(t, string(f.Data), "unsupported message type")

	// Window is still closed.
	require.NoError(t, conn.WriteJSON(inboundMessage{Type: "text", Text: "Ada"}))
	f = readFrame(t, conn)
	assert.Equal(t, "error", f.Type)
	assert.Contains(t, string(f.Data), `"status":409`)
}

func TestWebSocketUnmountClosesConnection(t *testing.T) {
	srv, host := setupServer(t, nil)
	w, err := host.Mount(context.Background(), "chatbot")
	require.NoError(t, err)

	conn, _, err := dial(t, srv, w.ID(), nil)
	require.NoError(t, err)
	defer conn.Close()
	readFrame(t, conn)

	require.NoError(t, host.Unmount(context.Background(), w.ID()))

	f := readFrame(t, conn)
	assert.Equal(t, "error", f.Type)
	assert.Contains(t, string(f.Data), `"status":410`)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err)
}

func TestWebSocketUnknownWidget(t *testing.T) {
	srv, _ := setupServer(t, nil)

	_, resp, err := dial(t, srv, "missing", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWebSocketRejectsForeignOrigin(t *testing.T) {
	srv, host := setupServer(t, []string{"https://shop.example.com"})
	w, err := host.Mount(context.Background(), "chatbot")
	require.NoError(t, err)

	_, resp, err := dial(t, srv, w.ID(), http.Header{"Origin": []string{"https://evil.example.com"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	conn, _, err := dial(t, srv, w.ID(), http.Header{"Origin": []string{"https://shop.example.com"}})
	require.NoError(t, err)
	conn.Close()
}

func TestSubscriptionEndedDistinguishesDisconnectFromUnmount(t *testing.T) {
	_, host := setupServer(t, nil)
	w, err := host.Mount(context.Background(), "chatbot")
	require.NoError(t, err)

	// Released subscription on a mounted widget: the client left.
	views, unsubscribe := w.Subscribe()
	unsubscribe()
	_, ok := <-views
	require.False(t, ok)
	assert.NoError(t, subscriptionEnded(context.Background(), w))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, host.Unmount(context.Background(), w.ID()))
	assert.NoError(t, subscriptionEnded(ctx, w))
	assert.ErrorIs(t, subscriptionEnded(context.Background(), w), conversation.ErrDetached)
}

func TestWebSocketDisconnectKeepsWidgetMounted(t *testing.T) {
	srv, host := setupServer(t, nil)
	w, err := host.Mount(context.Background(), "chatbot")
	require.NoError(t, err)

	conn, _, err := dial(t, srv, w.ID(), nil)
	require.NoError(t, err)
	readFrame(t, conn)
	require.NoError(t, conn.Close())

	// A second client attaches to the same widget and keeps working.
	conn, _, err = dial(t, srv, w.ID(), nil)
	require.NoError(t, err)
	defer conn.Close()
	readFrame(t, conn)

	require.NoError(t, conn.WriteJSON(inboundMessage{Type: "open"}))
	view := readView(t, conn, func(v widgetmodel.View) bool { return v.Open })
	assert.Len(t, view.Conversation.Messages, 1)
	assert.True(t, w.Mounted())
	assert.Equal(t, 1, host.Count())
}
