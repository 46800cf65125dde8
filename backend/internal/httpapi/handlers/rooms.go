package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"whiteboard/backend/internal/httpapi/middleware"
	"whiteboard/backend/internal/store"
)

type createRoomReq struct {
	// 房间名直接作为 slug
	Name string `json:"name" binding:"required,min=3,max=20"`
}

// RoomInvalidator 新建房间后清理存在性缓存里的空值标记
type RoomInvalidator interface {
	Forget(ctx context.Context, roomID uint64) error
}

type RoomHandler struct {
	rooms *store.RoomStore
	// 可以为 nil
	cache RoomInvalidator
}

func NewRoomHandler(rooms *store.RoomStore, cache RoomInvalidator) *RoomHandler {
	return &RoomHandler{rooms: rooms, cache: cache}
}

// CreateRoom POST /room
func (h *RoomHandler) CreateRoom(c *gin.Context) {
	var req createRoomReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Incorrect inputs"})
		return
	}
	userID, ok := middleware.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "message": "Unauthorized - No user ID found"})
		return
	}

	room, err := h.rooms.CreateRoom(c.Request.Context(), req.Name, userID)
	if err != nil {
		if errors.Is(err, store.ErrSlugTaken) {
			// 411 是老前端认的状态码
			c.JSON(http.StatusLengthRequired, gin.H{"success": false, "message": "Room already exists with this name"})
			return
		}
		log.Printf("create room error (slug=%s user=%s): %v", req.Name, userID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Internal server error"})
		return
	}
	if h.cache != nil {
		if err := h.cache.Forget(c.Request.Context(), room.ID); err != nil {
			log.Printf("room cache forget error (room=%d): %v", room.ID, err)
		}
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "roomId": room.ID})
}

// GetRoom GET /room/:slug；不存在时 room 为 null
func (h *RoomHandler) GetRoom(c *gin.Context) {
	room, err := h.rooms.RoomBySlug(c.Request.Context(), c.Param("slug"))
	if err != nil && !errors.Is(err, store.ErrRoomNotFound) {
		log.Printf("get room error (slug=%s): %v", c.Param("slug"), err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Internal server error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "room": room})
}

// UserRooms GET /user/rooms
func (h *RoomHandler) UserRooms(c *gin.Context) {
	userID, _ := middleware.UserID(c)
	rooms, err := h.rooms.RoomsByAdmin(c.Request.Context(), userID)
	if err != nil {
		log.Printf("user rooms error (user=%s): %v", userID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Internal server error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "rooms": rooms})
}
