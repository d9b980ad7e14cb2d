// Package stubserver is a reference implementation of the platform data
// service consumed by the sync core: the HTTP/JSON API plus the websocket push
// endpoint. It exists for the demo daemon and integration testing; it is not a
// production backend.
package stubserver

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"coach-messaging/internal/models"
)

// Server serves the stub backend.
type Server struct {
	repo Repository
	hub  *Hub
	log  zerolog.Logger
}

// New builds a Server.
func New(repo Repository, log zerolog.Logger) *Server {
	return &Server{
		repo: repo,
		hub:  NewHub(log),
		log:  log.With().Str("component", "stubserver").Logger(),
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Router builds the gin engine with all stub routes.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("coach-messaging-stub"))

	router.GET("/conversations", s.listConversations)
	router.POST("/conversations", s.createConversation)
	router.GET("/conversations/:conversation_id/messages", s.listMessages)
	router.POST("/conversations/:conversation_id/messages", s.postMessage)
	router.POST("/conversations/:conversation_id/read", s.markRead)
	router.GET("/unread", s.unreadCounts)
	router.GET("/ws/events", s.handleWS)
	router.POST("/simulate/incoming", s.simulateIncoming)

	return router
}

func (s *Server) listConversations(c *gin.Context) {
	userID := c.GetHeader("X-User-Id")
	conversations, err := s.repo.ListConversations(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load conversations"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": conversations})
}

func (s *Server) createConversation(c *gin.Context) {
	var req struct {
		Coach  models.Participant `json:"coach" binding:"required"`
		Client models.Participant `json:"client" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	conv, err := s.repo.CreateOrGetConversation(c.Request.Context(), req.Coach, req.Client)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create conversation"})
		return
	}
	c.JSON(http.StatusOK, conv)
}

func (s *Server) listMessages(c *gin.Context) {
	conversationID := c.Param("conversation_id")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	messages, err := s.repo.ListMessages(c.Request.Context(), conversationID, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

func (s *Server) postMessage(c *gin.Context) {
	conversationID := c.Param("conversation_id")
	userID := c.GetHeader("X-User-Id")

	conv, err := s.repo.GetConversation(c.Request.Context(), conversationID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ErrConversationNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": "conversation not found"})
		return
	}
	if !conv.HasParticipant(userID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a participant"})
		return
	}

	var req struct {
		Content       string             `json:"content"`
		Attachment    *models.Attachment `json:"attachment"`
		CorrelationID string             `json:"correlation_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Content == "" && req.Attachment == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "content or attachment required"})
		return
	}

	msg, err := s.repo.CreateMessage(c.Request.Context(), conversationID, userID, req.Content, req.Attachment, req.CorrelationID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store message"})
		return
	}

	recipient := conv.Other(userID)
	s.hub.Publish(recipient.ID, models.Event{Type: models.EventNewMessage, Message: &msg})

	c.JSON(http.StatusCreated, msg)
}

func (s *Server) markRead(c *gin.Context) {
	conversationID := c.Param("conversation_id")
	userID := c.GetHeader("X-User-Id")

	conv, err := s.repo.GetConversation(c.Request.Context(), conversationID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ErrConversationNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": "conversation not found"})
		return
	}
	if !conv.HasParticipant(userID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a participant"})
		return
	}

	if err := s.repo.MarkRead(c.Request.Context(), conversationID, userID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not mark read"})
		return
	}

	receipt := models.ReadReceipt{ConversationID: conversationID, ReaderID: userID, ReadAt: time.Now().UTC()}
	ev := models.Event{Type: models.EventReadReceipt, Receipt: &receipt}
	s.hub.Publish(conv.Coach.ID, ev)
	s.hub.Publish(conv.Client.ID, ev)

	c.Status(http.StatusNoContent)
}

func (s *Server) unreadCounts(c *gin.Context) {
	userID := c.GetHeader("X-User-Id")
	counts, err := s.repo.UnreadCounts(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load unread counts"})
		return
	}
	c.JSON(http.StatusOK, counts)
}

// handleWS upgrades the connection and registers it as the user's push
// channel.
func (s *Server) handleWS(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id required"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	s.hub.Add(userID, conn)
	s.log.Info().Str("user_id", userID).Msg("push subscriber connected")

	go func() {
		defer func() {
			s.hub.Remove(userID, conn)
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// simulateIncoming injects a message from an arbitrary sender, so manual tests
// can drive the sync core's event path without a second session.
func (s *Server) simulateIncoming(c *gin.Context) {
	var req struct {
		ConversationID string `json:"conversation_id" binding:"required"`
		SenderID       string `json:"sender_id" binding:"required"`
		Content        string `json:"content" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	conv, err := s.repo.GetConversation(c.Request.Context(), req.ConversationID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ErrConversationNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": "conversation not found"})
		return
	}

	msg, err := s.repo.CreateMessage(c.Request.Context(), req.ConversationID, req.SenderID, req.Content, nil, "")
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store message"})
		return
	}

	recipient := conv.Other(req.SenderID)
	s.hub.Publish(recipient.ID, models.Event{Type: models.EventNewMessage, Message: &msg})

	c.JSON(http.StatusCreated, msg)
}
