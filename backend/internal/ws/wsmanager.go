package ws

import (
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"whiteboard/backend/internal/auth"
	"whiteboard/backend/internal/cache"
	"whiteboard/backend/internal/collab"
)

// 全局的 WebSocket upgrader。
// 任何来源都先升级，身份只看 ?token=，和 HTTP 接口的 CORS 配置一致
var upgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

type Options struct {
	// 每个会话的发送队列长度，满了就丢
	SendQueue int
	// append 失败时是否不再广播；默认 false（照常广播）
	SuppressBroadcastOnAppendError bool
	PresenceTTL                    time.Duration
}

func (o Options) withDefaults() Options {
	if o.SendQueue <= 0 {
		o.SendQueue = 32
	}
	if o.PresenceTTL <= 0 {
		o.PresenceTTL = 600 * time.Second
	}
	return o
}

type Manager struct {
	h        *Hub
	svc      collab.Service
	pub      Publisher
	verifier auth.Verifier
	// 可以为 nil（没配 redis）
	presence cache.PresenceCache
	opts     Options
}

func NewManager(h *Hub, svc collab.Service, pub Publisher, verifier auth.Verifier, presence cache.PresenceCache, opts Options) *Manager {
	return &Manager{h: h, svc: svc, pub: pub, verifier: verifier, presence: presence, opts: opts.withDefaults()}
}

func (m *Manager) Hub() *Hub { return m.h }

// WebSocketConnect 传输层无条件升级，然后校验 ?token=；
// 浏览器原生 WebSocket 不能带自定义 header，所以凭证只能放在 query 里
func (m *Manager) WebSocketConnect(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("websocket upgrade error: %v (origin=%s)", err, c.Request.Header.Get("Origin"))
		return
	}

	sess := newSession(conn, m.h, m.svc, m.pub, m.presence, m.opts)
	ctx := c.Request.Context()
	if err := sess.authenticate(ctx, m.verifier, strings.TrimSpace(c.Query("token"))); err != nil {
		log.Printf("websocket closed (remote=%s): %v", c.Request.RemoteAddr, err)
		return
	}
	defer sess.Close()

	// 先启动写循环，确保后续写入 send 通道的消息可以被及时发送
	go sess.writeLoop()
	// 最后再进入读循环（阻塞至连接关闭）
	sess.readLoop(ctx)
}
