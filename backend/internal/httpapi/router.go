package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"whiteboard/backend/internal/auth"
	"whiteboard/backend/internal/cache"
	"whiteboard/backend/internal/collab"
	"whiteboard/backend/internal/httpapi/handlers"
	"whiteboard/backend/internal/httpapi/middleware"
	"whiteboard/backend/internal/store"
	"whiteboard/backend/internal/ws"
)

type Deps struct {
	Users     *store.UserStore
	Rooms     *store.RoomStore
	RoomCache *cache.RoomCache
	Service   collab.Service
	Presence  cache.PresenceCache
	Verifier  auth.Verifier
	WS        *ws.Manager
	Secret    []byte
	AccessTTL time.Duration
}

func NewRouter(d Deps) *gin.Engine {
	r := gin.New()
	// 使用gin.Logger()和gin.Recovery()中间件，记录请求日志和恢复panic
	r.Use(gin.Logger(), gin.Recovery())

	r.Use(cors.New(cors.Config{
		// 允许任意来源（包含 file:// 场景的 Origin: null）
		AllowOriginFunc:  func(origin string) bool { return true },
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length", "Content-Disposition"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	account := handlers.NewAccountHandler(d.Users, d.Secret, d.AccessTTL)
	r.POST("/signup", account.Signup)
	r.POST("/signin", account.Signin)
	r.POST("/v1/auth/verify", account.Verify)

	authed := r.Group("/", middleware.AuthMiddleware(d.Verifier))
	var invalidator handlers.RoomInvalidator
	if d.RoomCache != nil {
		invalidator = d.RoomCache
	}
	rooms := handlers.NewRoomHandler(d.Rooms, invalidator)
	authed.POST("/room", rooms.CreateRoom)
	authed.GET("/room/:slug", rooms.GetRoom)
	authed.GET("/user/rooms", rooms.UserRooms)

	board := handlers.NewBoardHandler(d.Service, d.Presence)
	authed.GET("/chats/:roomId", board.Chats)
	authed.GET("/rooms/:roomId/presence", board.Presence)
	authed.GET("/presence/rooms", board.ActiveRooms)
	authed.GET("/rooms/:roomId/export.pdf", board.ExportPDF)

	// ws 自己在升级后校验 ?token=，不走 AuthMiddleware
	if d.WS != nil {
		r.GET("/ws", d.WS.WebSocketConnect)
	}

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	return r
}
