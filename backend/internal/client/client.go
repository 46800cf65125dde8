package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"whiteboard/backend/internal/shape"
	"whiteboard/backend/internal/ws"
)

var ErrNotConnected = errors.New("client: not connected")

type historyResp struct {
	Success  bool           `json:"success"`
	Messages []HistoryEvent `json:"messages"`
}

// Client 连接白板服务的一个用户：本地先改，再发出去
type Client struct {
	baseURL string
	token   string
	dialer  *websocket.Dialer
	http    *http.Client

	conn *websocket.Conn
	// gorilla 的连接只允许一个并发写
	writeMu sync.Mutex

	mu     sync.RWMutex
	roomID string
	canvas *Canvas
}

// New baseURL 形如 http://localhost:8080
func New(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		dialer:  websocket.DefaultDialer,
		http:    &http.Client{Timeout: 5 * time.Second},
		canvas:  NewCanvas(),
	}
}

func (c *Client) Canvas() *Canvas { return c.canvas }

func (c *Client) RoomID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.roomID
}

// Connect 浏览器里 WebSocket 不能带 header，token 放在 query 里
func (c *Client) Connect(ctx context.Context) error {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	u.RawQuery = url.Values{"token": {c.token}}.Encode()

	conn, _, err := c.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", u.Redacted(), err)
	}
	c.conn = conn
	return nil
}

func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// JoinRoom 先发 join_room 再拉历史，两者之间到达的实时帧不会丢
func (c *Client) JoinRoom(ctx context.Context, roomID string) error {
	// 和服务端成员表用同一个 key，Run 里按它过滤实时帧
	roomID = ws.NewRoomID(roomID).Key()
	c.mu.Lock()
	prev := c.roomID
	c.roomID = roomID
	c.canvas.Reset()
	c.mu.Unlock()

	if prev != "" && prev != roomID {
		if err := c.send(ws.ClientMessage{Type: ws.TypeLeaveRoom, RoomID: ws.NewRoomID(prev)}); err != nil {
			return err
		}
	}
	if err := c.send(ws.ClientMessage{Type: ws.TypeJoinRoom, RoomID: ws.NewRoomID(roomID)}); err != nil {
		return err
	}

	events, err := c.History(ctx, roomID)
	if err != nil {
		return err
	}
	c.canvas.Replay(events)
	return nil
}

// History GET /chats/:roomId，新的在前
func (c *Client) History(ctx context.Context, roomID string) ([]HistoryEvent, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/chats/"+url.PathEscape(roomID), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch history: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch history: status %d", resp.StatusCode)
	}
	var body historyResp
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	if !body.Success {
		return nil, fmt.Errorf("fetch history: server reported failure")
	}
	return body.Messages, nil
}

// Signin POST /signin，返回访问 token
func Signin(ctx context.Context, baseURL, email, password string) (string, error) {
	body, err := json.Marshal(map[string]string{"email": email, "password": password})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(baseURL, "/")+"/signin", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("signin: %w", err)
	}
	defer resp.Body.Close()
	var out struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
		Token   string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode signin: %w", err)
	}
	if resp.StatusCode != http.StatusOK || !out.Success {
		return "", fmt.Errorf("signin: status %d: %s", resp.StatusCode, out.Message)
	}
	return out.Token, nil
}

// Run 读实时帧合并到画布，直到连接断开或 ctx 结束；只处理当前房间的帧
func (c *Client) Run(ctx context.Context) error {
	if c.conn == nil {
		return ErrNotConnected
	}
	stop := context.AfterFunc(ctx, func() { c.conn.Close() })
	defer stop()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		var frame ws.ClientMessage
		if err := json.Unmarshal(data, &frame); err != nil || frame.Type != ws.TypeChat {
			continue
		}
		if frame.RoomID.Key() != c.RoomID() {
			continue
		}
		env, err := shape.ParseEnvelope([]byte(frame.Message))
		if err != nil {
			log.Printf("skip frame: %v", err)
			continue
		}
		c.canvas.Merge(env)
	}
}

// Draw 新建图形，分配稳定 id
func (c *Client) Draw(s shape.Shape) (shape.Envelope, error) {
	env := shape.Envelope{Shape: s, ID: uuid.NewString()}
	return env, c.apply(env)
}

// Update 拖动、缩放、改文字：沿用原来的 id
func (c *Client) Update(prev shape.Envelope, s shape.Shape) (shape.Envelope, error) {
	env := shape.Envelope{Shape: s, ID: prev.ID}
	return env, c.apply(env)
}

func (c *Client) Erase(env shape.Envelope) error {
	env.Action = shape.ActionDelete
	return c.apply(env)
}

func (c *Client) apply(env shape.Envelope) error {
	roomID := c.RoomID()
	if roomID == "" {
		return errors.New("client: join a room first")
	}
	// 本地先生效，不等网络
	c.canvas.Merge(env)

	payload, err := env.Marshal()
	if err != nil {
		return err
	}
	return c.send(ws.ClientMessage{Type: ws.TypeChat, RoomID: ws.NewRoomID(roomID), Message: string(payload)})
}

func (c *Client) send(msg ws.ClientMessage) error {
	if c.conn == nil {
		return ErrNotConnected
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}
