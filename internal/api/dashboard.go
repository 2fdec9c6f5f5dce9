package api

import (
	"log"
	"net/http"
	"time"

	"inbox-gateway/internal/models"
	"inbox-gateway/internal/store"
	"inbox-gateway/internal/whatsapp"
	"inbox-gateway/internal/ws"

	"github.com/gin-gonic/gin"
)

// DashboardHandler is the thin read/reply API the inbox UI consumes.
type DashboardHandler struct {
	Store *store.Store
	Hub   *ws.Hub

	NewWhatsAppClient func(ch *models.Channel) *whatsapp.Client
}

func NewDashboardHandler(st *store.Store, hub *ws.Hub) *DashboardHandler {
	return &DashboardHandler{
		Store: st,
		Hub:   hub,
		NewWhatsAppClient: func(ch *models.Channel) *whatsapp.Client {
			return whatsapp.NewClient(ch.AccessToken, ch.AccountID)
		},
	}
}

func (h *DashboardHandler) GetConversations(c *gin.Context) {
	conversations, err := h.Store.ListConversations(100)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if conversations == nil {
		conversations = []models.Conversation{}
	}
	c.JSON(http.StatusOK, conversations)
}

func (h *DashboardHandler) GetConversationMessages(c *gin.Context) {
	messages, err := h.Store.GetMessagesByConversation(c.Param("id"), 100)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if messages == nil {
		messages = []models.Message{}
	}
	c.JSON(http.StatusOK, messages)
}

func (h *DashboardHandler) GetContacts(c *gin.Context) {
	contacts, err := h.Store.ListContacts(200)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if contacts == nil {
		contacts = []models.Contact{}
	}
	c.JSON(http.StatusOK, contacts)
}

type sendRequest struct {
	ConversationID string `json:"conversation_id" binding:"required"`
	Content        string `json:"content" binding:"required"`
}

// SendMessage persists an agent reply and delivers it through the provider
// where an outbound client exists.
func (h *DashboardHandler) SendMessage(c *gin.Context) {
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	conv, err := h.Store.GetConversation(req.ConversationID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
		return
	}

	msg, _, err := h.Store.CreateMessage(&models.Message{
		ConversationID: conv.ID,
		Body:           req.Content,
		Type:           models.MessageText,
		SenderType:     models.SenderAgent,
		Provider:       conv.Channel,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to persist message"})
		return
	}
	h.Store.UpdateConversationLastMessage(conv.ID, time.Now())
	if h.Hub != nil {
		h.Hub.NotifyMessage(msg)
	}

	if conv.Channel == models.ChannelWhatsApp && conv.Contact != nil {
		channel, err := h.Store.GetChannelByID(conv.ChannelID)
		if err == nil && channel.AccessToken != "" {
			if err := h.NewWhatsAppClient(channel).SendMessage(conv.Contact.ExternalID, req.Content); err != nil {
				log.Printf("Error delivering agent reply to %s: %v", conv.Contact.ExternalID, err)
			}
		}
	}

	c.JSON(http.StatusOK, gin.H{"status": "sent", "message": msg})
}
