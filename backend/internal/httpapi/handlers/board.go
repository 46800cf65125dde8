package handlers

import (
	"bytes"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"whiteboard/backend/internal/cache"
	"whiteboard/backend/internal/client"
	"whiteboard/backend/internal/collab"
	"whiteboard/backend/internal/export"
	"whiteboard/backend/internal/shape"
	"whiteboard/backend/internal/store"
)

// BoardHandler 房间内容相关的只读接口：历史、在线成员、导出
type BoardHandler struct {
	svc collab.Service
	// 可以为 nil（没配 redis）
	presence cache.PresenceCache
}

func NewBoardHandler(svc collab.Service, presence cache.PresenceCache) *BoardHandler {
	return &BoardHandler{svc: svc, presence: presence}
}

// Chats GET /chats/:roomId，新的在前，最多 1000 条；
// 出错也返回 200，前端按 success 判断
func (h *BoardHandler) Chats(c *gin.Context) {
	events, err := h.svc.History(c.Request.Context(), c.Param("roomId"))
	if err != nil {
		log.Printf("history error (room=%s): %v", c.Param("roomId"), err)
		c.JSON(http.StatusOK, gin.H{"success": false, "messages": []store.Event{}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "messages": events})
}

// Presence GET /rooms/:roomId/presence
func (h *BoardHandler) Presence(c *gin.Context) {
	if h.presence == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "message": "presence disabled"})
		return
	}
	roomID := c.Param("roomId")
	users, err := h.presence.GetAliveMembers(c.Request.Context(), roomID)
	if err != nil {
		log.Printf("presence error (room=%s): %v", roomID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Internal server error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "roomId": roomID, "users": users})
}

// ActiveRooms GET /presence/rooms：有过在线成员的房间
func (h *BoardHandler) ActiveRooms(c *gin.Context) {
	if h.presence == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "message": "presence disabled"})
		return
	}
	rooms, err := h.presence.GetRooms(c.Request.Context())
	if err != nil {
		log.Printf("presence rooms error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Internal server error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "rooms": rooms})
}

// ExportPDF GET /rooms/:roomId/export.pdf：按客户端同样的规则回放历史再画出来
func (h *BoardHandler) ExportPDF(c *gin.Context) {
	roomID := c.Param("roomId")
	events, err := h.svc.History(c.Request.Context(), roomID)
	if errors.Is(err, shape.ErrParse) {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Incorrect inputs"})
		return
	}
	if err != nil {
		log.Printf("export history error (room=%s): %v", roomID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Internal server error"})
		return
	}

	history := make([]client.HistoryEvent, len(events))
	for i, e := range events {
		history[i] = client.HistoryEvent{ID: e.ID, Message: e.Message}
	}
	canvas := client.NewCanvas()
	canvas.Replay(history)

	var buf bytes.Buffer
	if err := export.RenderPDF(&buf, fmt.Sprintf("room %s", roomID), canvas.Shapes()); err != nil {
		log.Printf("export render error (room=%s): %v", roomID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Internal server error"})
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="room-%s.pdf"`, roomID))
	c.Data(http.StatusOK, "application/pdf", buf.Bytes())
}
