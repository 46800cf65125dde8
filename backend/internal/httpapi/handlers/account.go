package handlers

import (
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"whiteboard/backend/internal/auth"
	"whiteboard/backend/internal/store"
)

type signupReq struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6"`
	Name     string `json:"name" binding:"required"`
}

type signinReq struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type AccountHandler struct {
	users     *store.UserStore
	secret    []byte
	accessTTL time.Duration
}

func NewAccountHandler(users *store.UserStore, secret []byte, accessTTL time.Duration) *AccountHandler {
	return &AccountHandler{users: users, secret: secret, accessTTL: accessTTL}
}

// Signup POST /signup {"email","password","name"}
func (h *AccountHandler) Signup(c *gin.Context) {
	var req signupReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Incorrect inputs"})
		return
	}

	passwordHash, err := auth.HashPassword(req.Password)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Internal server error"})
		return
	}
	u, err := h.users.CreateUser(c.Request.Context(), strings.ToLower(req.Email), passwordHash, req.Name)
	if err != nil {
		if errors.Is(err, store.ErrUserExists) {
			c.JSON(http.StatusConflict, gin.H{"success": false, "message": "User already exists with this email"})
			return
		}
		log.Printf("signup error (email=%s): %v", req.Email, err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Internal server error"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"message": "Account created successfully",
		"userId":  u.ID,
	})
}

// Signin 邮箱不存在和密码错误返回同一个提示
func (h *AccountHandler) Signin(c *gin.Context) {
	var req signinReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Incorrect inputs"})
		return
	}

	u, err := h.users.UserByEmail(c.Request.Context(), strings.ToLower(req.Email))
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			c.JSON(http.StatusForbidden, gin.H{"success": false, "message": "Invalid credentials"})
			return
		}
		log.Printf("signin error (email=%s): %v", req.Email, err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Internal server error"})
		return
	}
	if !auth.CheckPassword(u.PasswordHash, req.Password) {
		c.JSON(http.StatusForbidden, gin.H{"success": false, "message": "Invalid credentials"})
		return
	}

	token, _, err := auth.SignAccessToken(h.secret, u.ID, h.accessTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Internal server error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"token":   token,
		"userId":  u.ID,
	})
}

// Verify 给其他服务用的 POST /v1/auth/verify：200 + claims，失败 401 + {"error"}
func (h *AccountHandler) Verify(c *gin.Context) {
	token := auth.ExtractBearer(c.GetHeader("Authorization"))
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid Authorization header"})
		return
	}
	claims, err := auth.ParseToken(h.secret, token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"userId": claims.UserID,
		"typ":    claims.Type,
		"exp":    claims.ExpiresAt,
	})
}
