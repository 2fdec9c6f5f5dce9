package api

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"inbox-gateway/internal/ai"
	"inbox-gateway/internal/models"
	"inbox-gateway/internal/store"
	"inbox-gateway/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// StreamHandler serves the website widget's AI endpoint. Responses are either
// a single JSON object (AI disabled/unconfigured) or an event stream of
// start / chunk / done|error frames.
type StreamHandler struct {
	Store *store.Store
	AI    *ai.Orchestrator
	Hub   *ws.Hub
}

func NewStreamHandler(st *store.Store, orchestrator *ai.Orchestrator, hub *ws.Hub) *StreamHandler {
	return &StreamHandler{Store: st, AI: orchestrator, Hub: hub}
}

type streamRequest struct {
	Token          string `json:"token" binding:"required"`
	Message        string `json:"message" binding:"required"`
	VisitorID      string `json:"visitor_id"`
	ConversationID string `json:"conversation_id"`
	VisitorInfo    *struct {
		Name  string `json:"name"`
		Email string `json:"email"`
	} `json:"visitor_info"`
}

func (h *StreamHandler) AIStream(c *gin.Context) {
	var req streamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	channel, err := h.Store.GetChannelByToken(req.Token)
	if err == store.ErrNotFound {
		c.JSON(http.StatusForbidden, gin.H{"error": "invalid widget token"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "channel lookup failed"})
		return
	}

	visitorID := req.VisitorID
	if visitorID == "" {
		visitorID = uuid.NewString()
	}
	visitorName := ""
	if req.VisitorInfo != nil {
		visitorName = req.VisitorInfo.Name
	}

	contact, err := h.Store.FindOrCreateContact(models.ChannelWebsite, visitorID, visitorName)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "contact resolution failed"})
		return
	}

	var conv *models.Conversation
	if req.ConversationID != "" {
		conv, err = h.Store.GetConversation(req.ConversationID)
		if err != nil || conv.ContactID != contact.ID {
			conv = nil
		}
	}
	if conv == nil {
		conv, err = h.Store.FindOrCreateConversation(contact.ID, models.ChannelWebsite, channel.ID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "conversation resolution failed"})
			return
		}
	}

	userMsg, _, err := h.Store.CreateMessage(&models.Message{
		ConversationID: conv.ID,
		Body:           req.Message,
		Type:           models.MessageText,
		SenderType:     models.SenderUser,
		Provider:       models.ChannelWebsite,
		SenderID:       visitorID,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "message persistence failed"})
		return
	}
	now := time.Now()
	if err := h.Store.UpdateConversationLastMessage(conv.ID, now); err != nil {
		log.Printf("Error bumping conversation %s: %v", conv.ID, err)
	}
	if err := h.Store.UpdateContactLastInteraction(contact.ID, now); err != nil {
		log.Printf("Error bumping contact %s: %v", contact.ID, err)
	}
	if h.Hub != nil {
		h.Hub.NotifyMessage(userMsg)
	}

	if !channel.AIEnabled {
		c.JSON(http.StatusOK, gin.H{"success": true, "ai_enabled": false, "reason": "ai_disabled",
			"conversation_id": conv.ID})
		return
	}
	if reason := h.AI.SkipReason(channel); reason != "" {
		c.JSON(http.StatusOK, gin.H{"success": true, "ai_enabled": false, "reason": reason,
			"conversation_id": conv.ID})
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache, no-transform")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)

	writeFrame(c, gin.H{"type": "start", "conversation_id": conv.ID})

	// The request context travels into the model call, so a widget disconnect
	// cancels generation.
	reply, err := h.AI.StreamReply(c.Request.Context(), channel, conv, req.Message, userMsg.ID, func(chunk string) {
		writeFrame(c, gin.H{"type": "chunk", "content": chunk})
	})

	switch {
	case err != nil:
		// Persistence failed after generation; the client still gets a
		// well-formed terminal frame.
		log.Printf("Stream reply failed for conversation %s: %v", conv.ID, err)
		writeFrame(c, gin.H{"type": "error", "fallback": ai.DefaultFallback})
	case reply == nil:
		writeFrame(c, gin.H{"type": "error", "fallback": ai.DefaultFallback})
	case reply.Fallback:
		writeFrame(c, gin.H{"type": "error", "fallback": reply.Content})
	default:
		// The orchestrator persisted the message before returning, so a
		// disconnect after this frame loses nothing.
		writeFrame(c, gin.H{"type": "done", "full_response": reply.Content, "handoff": reply.Handoff})
	}
}

func writeFrame(c *gin.Context, payload gin.H) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(c.Writer, "data: %s\n\n", data)
	c.Writer.Flush()
}
