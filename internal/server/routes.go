package server

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/Gokhulnath/Manus/internal/messaging"
	"github.com/Gokhulnath/Manus/internal/models"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type handlers struct {
	db       *gorm.DB
	dataRoom string
	log      logrus.FieldLogger
}

// registerRoutes sets up the message, chat and data-room API on the router.
func registerRoutes(router *gin.Engine, h *handlers, m *Metrics) {
	router.GET("/healthz", h.health)
	router.GET("/metrics", gin.WrapH(m.Handler()))

	msgs := router.Group("/messages")
	msgs.POST("/", h.sendMessage)
	msgs.GET("/chat/:chat_id", h.chatHistory)
	msgs.GET("/:id", h.getMessage)
	msgs.PUT("/:id", h.updateMessage)
	msgs.DELETE("/:id", h.deleteMessage)

	chats := router.Group("/chats")
	chats.GET("/", h.listChats)
	chats.POST("/", h.createChat)
	chats.GET("/:id", h.getChat)
	chats.PUT("/:id", h.renameChat)
	chats.DELETE("/:id", h.deleteChat)

	router.GET("/data-room/*name", h.document)
}

func (h *handlers) health(c *gin.Context) {
	sqlDB, err := h.db.DB()
	if err == nil {
		err = sqlDB.PingContext(c.Request.Context())
	}
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// --- messages ---

type sendRequest struct {
	ChatID  string        `json:"chat_id" binding:"required"`
	Content string        `json:"content"`
	ChunkID *string       `json:"chunk_id"`
	Role    models.Role   `json:"role"`
	Task    models.Task   `json:"task"`
	Status  models.Status `json:"status"`
}

func (h *handlers) sendMessage(c *gin.Context) {
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	msg, err := messaging.Send(h.db, req.ChatID, req.Content, messaging.SendOpts{
		ChunkID: req.ChunkID,
		Role:    req.Role,
		Task:    req.Task,
		Status:  req.Status,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

func (h *handlers) chatHistory(c *gin.Context) {
	skip, limit, ok := paging(c)
	if !ok {
		return
	}
	msgs, err := messaging.History(h.db, c.Param("chat_id"), skip, limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	if msgs == nil {
		msgs = []models.Message{}
	}
	c.JSON(http.StatusOK, msgs)
}

func (h *handlers) getMessage(c *gin.Context) {
	msg, err := messaging.Get(h.db, c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

func (h *handlers) updateMessage(c *gin.Context) {
	var u messaging.Update
	if err := c.ShouldBindJSON(&u); err != nil {
		badRequest(c, err)
		return
	}
	msg, err := messaging.UpdateMessage(h.db, c.Param("id"), u)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

func (h *handlers) deleteMessage(c *gin.Context) {
	if err := messaging.DeleteMessage(h.db, c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// --- chats ---

type chatRequest struct {
	Title string `json:"title"`
}

func (h *handlers) listChats(c *gin.Context) {
	skip, limit, ok := paging(c)
	if !ok {
		return
	}
	chats, err := messaging.ListChats(h.db, skip, limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	if chats == nil {
		chats = []models.Chat{}
	}
	c.JSON(http.StatusOK, chats)
}

func (h *handlers) createChat(c *gin.Context) {
	var req chatRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}
	chat, err := messaging.CreateChat(h.db, req.Title)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, chat)
}

func (h *handlers) getChat(c *gin.Context) {
	chat, err := messaging.GetChat(h.db, c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, chat)
}

func (h *handlers) renameChat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	chat, err := messaging.RenameChat(h.db, c.Param("id"), req.Title)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, chat)
}

func (h *handlers) deleteChat(c *gin.Context) {
	if err := messaging.DeleteChat(h.db, c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// --- data room ---

func (h *handlers) document(c *gin.Context) {
	path, ok := resolveDocument(h.dataRoom, c.Param("name"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "invalid document name"})
		return
	}
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Document not found"})
		return
	}
	c.File(path)
}

// resolveDocument maps a requested name onto a file under root. Names that
// are empty, absolute or climb out of root are rejected.
func resolveDocument(root, name string) (string, bool) {
	name = strings.TrimPrefix(name, "/")
	if name == "" || strings.ContainsRune(name, 0) || strings.Contains(name, `\`) {
		return "", false
	}
	clean := filepath.Clean(filepath.FromSlash(name))
	if filepath.IsAbs(clean) || clean == "." || clean == ".." ||
		strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", false
	}
	return filepath.Join(root, clean), true
}

// --- helpers ---

func paging(c *gin.Context) (skip, limit int, ok bool) {
	var err error
	if s := c.Query("skip"); s != "" {
		if skip, err = strconv.Atoi(s); err != nil || skip < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"detail": "skip must be a non-negative integer"})
			return 0, 0, false
		}
	}
	if l := c.Query("limit"); l != "" {
		if limit, err = strconv.Atoi(l); err != nil || limit < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"detail": "limit must be a non-negative integer"})
			return 0, 0, false
		}
	}
	return skip, limit, true
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
}

func (h *handlers) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, messaging.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"detail": err.Error()})
	case errors.Is(err, messaging.ErrInvalid):
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
	default:
		h.log.WithError(err).WithField("path", c.Request.URL.Path).Error("server: request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "internal error"})
	}
}
