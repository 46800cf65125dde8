package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"whiteboard/backend/internal/auth"
	"whiteboard/backend/internal/collab"
	"whiteboard/backend/internal/store"
)

var testSecret = []byte("ws-test-secret")

type testServer struct {
	srv     *httptest.Server
	manager *Manager
	events  *store.EventStore
}

func newTestServer(t *testing.T, opts Options) *testServer {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_", "=", "_").Replace(t.Name())
	db, err := store.Open("sqlite", fmt.Sprintf("file:ws_%s?mode=memory&cache=shared", name))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := db.Create(&store.Room{ID: 5, Slug: "five", AdminID: "alice"}).Error; err != nil {
		t.Fatalf("create room: %v", err)
	}
	events := store.NewEventStore(db)

	hub := NewHub()
	m := NewManager(hub, collab.NewLogService(events, nil, 0), NewLocalFanout(hub), auth.NewLocalVerifier(testSecret), nil, opts)

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/ws", m.WebSocketConnect)
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		srv.Close()
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return &testServer{srv: srv, manager: m, events: events}
}

func (ts *testServer) dial(t *testing.T, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.srv.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func (ts *testServer) dialAs(t *testing.T, userID string) *websocket.Conn {
	t.Helper()
	token, _, err := auth.SignAccessToken(testSecret, userID, time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return ts.dial(t, "?token="+token)
}

func (ts *testServer) waitMembers(t *testing.T, roomID string, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(ts.manager.Hub().Members(roomID)) == n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("room %s: expected %d members, got %d", roomID, n, len(ts.manager.Hub().Members(roomID)))
}

func send(t *testing.T, conn *websocket.Conn, frame string) {
	t.Helper()
	if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func readChat(t *testing.T, who string, conn *websocket.Conn) ChatFrame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("%s: read: %v", who, err)
	}
	var f ChatFrame
	if err := json.Unmarshal(data, &f); err != nil {
		t.Fatalf("%s: bad frame %s: %v", who, data, err)
	}
	return f
}

func expectSilence(t *testing.T, who string, conn *websocket.Conn) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(150 * time.Millisecond))
	_, data, err := conn.ReadMessage()
	if err == nil {
		t.Fatalf("%s: unexpected frame %s", who, data)
	}
	var ne net.Error
	if !errors.As(err, &ne) || !ne.Timeout() {
		t.Fatalf("%s: expected read timeout, got %v", who, err)
	}
}

const circleMessage = `{"shape":{"type":"circle","left":100,"top":100,"radius":20}}`

func chatFrame(roomID, message string) string {
	b, _ := json.Marshal(message)
	return fmt.Sprintf(`{"type":"chat","roomId":%s,"message":%s}`, roomID, b)
}

func TestChatIsStoredAndBroadcast(t *testing.T) {
	ts := newTestServer(t, Options{})
	a := ts.dialAs(t, "alice")
	b := ts.dialAs(t, "bob")
	c := ts.dialAs(t, "carol")
	outsider := ts.dialAs(t, "dave")

	send(t, a, `{"type":"join_room","roomId":"5"}`)
	send(t, b, `{"type":"join_room","roomId":5}`)
	send(t, c, `{"type":"join_room","roomId":"5"}`)
	send(t, outsider, `{"type":"join_room","roomId":"6"}`)
	ts.waitMembers(t, "5", 3)
	ts.waitMembers(t, "6", 1)

	send(t, a, chatFrame(`"5"`, circleMessage))

	// 发送方自己也会收到
	for who, conn := range map[string]*websocket.Conn{"alice": a, "bob": b, "carol": c} {
		f := readChat(t, who, conn)
		if f.Type != TypeChat || f.Message != circleMessage || f.RoomID.Key() != "5" {
			t.Fatalf("%s: unexpected frame %+v", who, f)
		}
	}
	expectSilence(t, "dave", outsider)

	events, err := ts.events.FetchRecent(context.Background(), 5, 0)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(events) != 1 || events[0].UserID != "alice" || events[0].Message != circleMessage {
		t.Fatalf("unexpected stored events %+v", events)
	}
}

func TestMalformedFramesAreDropped(t *testing.T) {
	ts := newTestServer(t, Options{})
	a := ts.dialAs(t, "alice")
	b := ts.dialAs(t, "bob")
	send(t, a, `{"type":"join_room","roomId":"5"}`)
	send(t, b, `{"type":"join_room","roomId":"5"}`)
	ts.waitMembers(t, "5", 2)

	send(t, a, `not json`)
	send(t, a, `{"type":"dance","roomId":"5"}`)
	send(t, a, `{"type":"chat"}`)
	send(t, a, chatFrame(`"5"`, `{"shape":{"type":"hexagon"}}`))
	send(t, a, chatFrame(`"5"`, `not an envelope`))
	send(t, a, chatFrame(`"five"`, circleMessage))

	// 连接还活着，后面的合法帧照常处理
	send(t, a, chatFrame(`5`, circleMessage))
	f := readChat(t, "bob", b)
	if f.Message != circleMessage {
		t.Fatalf("unexpected frame %+v", f)
	}
	raw, _ := json.Marshal(f.RoomID)
	if string(raw) != "5" {
		t.Fatalf("roomId should be re-emitted verbatim, got %s", raw)
	}
}

func TestDeleteBroadcastsEvenWithoutMatch(t *testing.T) {
	ts := newTestServer(t, Options{})
	a := ts.dialAs(t, "alice")
	b := ts.dialAs(t, "bob")
	send(t, a, `{"type":"join_room","roomId":"5"}`)
	send(t, b, `{"type":"join_room","roomId":"5"}`)
	ts.waitMembers(t, "5", 2)

	del := `{"shape":{"type":"rect","left":10,"top":10,"width":50,"height":20},"action":"delete"}`
	send(t, a, chatFrame(`"5"`, del))
	if f := readChat(t, "bob", b); f.Message != del {
		t.Fatalf("unexpected frame %+v", f)
	}

	create := `{"shape":{"type":"rect","left":10,"top":10,"width":50,"height":20}}`
	send(t, a, chatFrame(`"5"`, create))
	readChat(t, "bob", b)
	send(t, a, chatFrame(`"5"`, del))
	readChat(t, "bob", b)

	events, err := ts.events.FetchRecent(context.Background(), 5, 0)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected the created rect to be deleted, have %+v", events)
	}
}

func TestAppendFailureBroadcastPolicy(t *testing.T) {
	for _, suppress := range []bool{false, true} {
		t.Run(fmt.Sprintf("suppress=%t", suppress), func(t *testing.T) {
			ts := newTestServer(t, Options{SuppressBroadcastOnAppendError: suppress})
			a := ts.dialAs(t, "alice")
			b := ts.dialAs(t, "bob")
			send(t, a, `{"type":"join_room","roomId":"9"}`)
			send(t, b, `{"type":"join_room","roomId":"9"}`)
			ts.waitMembers(t, "9", 2)

			// 房间 9 不存在，append 失败
			send(t, a, chatFrame(`"9"`, circleMessage))
			if suppress {
				expectSilence(t, "bob", b)
				return
			}
			if f := readChat(t, "bob", b); f.Message != circleMessage {
				t.Fatalf("unexpected frame %+v", f)
			}
		})
	}
}

func TestLeaveRoomStopsDelivery(t *testing.T) {
	ts := newTestServer(t, Options{})
	a := ts.dialAs(t, "alice")
	b := ts.dialAs(t, "bob")
	send(t, a, `{"type":"join_room","roomId":"5"}`)
	send(t, b, `{"type":"join_room","roomId":"5"}`)
	ts.waitMembers(t, "5", 2)
	send(t, b, `{"type":"leave_room","roomId":5}`)
	ts.waitMembers(t, "5", 1)

	send(t, a, chatFrame(`"5"`, circleMessage))
	readChat(t, "alice", a)
	expectSilence(t, "bob", b)
}

func TestDisconnectRemovesSession(t *testing.T) {
	ts := newTestServer(t, Options{})
	a := ts.dialAs(t, "alice")
	send(t, a, `{"type":"join_room","roomId":"5"}`)
	send(t, a, `{"type":"join_room","roomId":"6"}`)
	ts.waitMembers(t, "5", 1)
	ts.waitMembers(t, "6", 1)

	a.Close()
	ts.waitMembers(t, "5", 0)
	ts.waitMembers(t, "6", 0)
}

func TestUpgradeAcceptsAnyOrigin(t *testing.T) {
	ts := newTestServer(t, Options{})
	token, _, err := auth.SignAccessToken(testSecret, "alice", time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	url := "ws" + strings.TrimPrefix(ts.srv.URL, "http") + "/ws?token=" + token

	for _, origin := range []string{"https://board.example.com", "http://10.0.0.8:3000", "null"} {
		conn, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {origin}})
		if err != nil {
			status := 0
			if resp != nil {
				status = resp.StatusCode
			}
			t.Fatalf("origin %s: dial failed status=%d: %v", origin, status, err)
		}
		send(t, conn, `{"type":"join_room","roomId":"5"}`)
		ts.waitMembers(t, "5", 1)
		send(t, conn, chatFrame(`"5"`, circleMessage))
		if f := readChat(t, origin, conn); f.Message != circleMessage {
			t.Fatalf("origin %s: unexpected frame %+v", origin, f)
		}
		conn.Close()
		ts.waitMembers(t, "5", 0)
	}
}

func TestUnauthenticatedIsDisconnected(t *testing.T) {
	ts := newTestServer(t, Options{})
	expired, _, _ := auth.SignAccessToken([]byte("some-other-secret"), "mallory", time.Hour)

	for name, query := range map[string]string{
		"missing token": "",
		"empty token":   "?token=",
		"garbage token": "?token=abc.def.ghi",
		"wrong secret":  "?token=" + expired,
	} {
		conn := ts.dial(t, query)
		// 尝试抢在关闭前发帧，也不会被处理
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"join_room","roomId":"5"}`))

		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := conn.ReadMessage()
		if err == nil {
			t.Fatalf("%s: expected connection closed, got frame %s", name, data)
		}
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			t.Fatalf("%s: connection was not closed", name)
		}
		if len(ts.manager.Hub().Members("5")) != 0 {
			t.Fatalf("%s: unauthenticated session joined a room", name)
		}
	}
}
