// Package webhook ingests provider deliveries: signature verification,
// payload normalization, contact/conversation resolution, media relay,
// idempotent persistence and the AI reply kickoff.
package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"inbox-gateway/internal/ai"
	"inbox-gateway/internal/media"
	"inbox-gateway/internal/models"
	"inbox-gateway/internal/store"
	"inbox-gateway/internal/whatsapp"
	"inbox-gateway/internal/ws"

	"github.com/gin-gonic/gin"
)

// signatureHeaders are tried in order; providers disagree on the header name
// but not on the HMAC schemes.
var signatureHeaders = []string{
	"X-Hub-Signature-256",
	"X-Signature-256",
	"X-TikTok-Signature",
	"X-Signature",
}

// Providers lists the channel types that accept webhook deliveries. Routes
// are registered per provider; gin's router does not allow a :provider
// parameter next to the static /api siblings.
var Providers = []string{
	models.ChannelWhatsApp,
	models.ChannelFacebook,
	models.ChannelInstagram,
	models.ChannelTikTok,
	models.ChannelEmail,
}

type Handler struct {
	Store *store.Store
	Relay *media.Relay
	AI    *ai.Orchestrator
	Hub   *ws.Hub

	// NewWhatsAppClient builds the per-channel Graph client; swapped in tests.
	NewWhatsAppClient func(ch *models.Channel) *whatsapp.Client
}

func NewHandler(st *store.Store, relay *media.Relay, orchestrator *ai.Orchestrator, hub *ws.Hub) *Handler {
	return &Handler{
		Store: st,
		Relay: relay,
		AI:    orchestrator,
		Hub:   hub,
		NewWhatsAppClient: func(ch *models.Channel) *whatsapp.Client {
			return whatsapp.NewClient(ch.AccessToken, ch.AccountID)
		},
	}
}

// Verify answers the GET subscription handshake: echo hub.challenge when the
// token matches the active channel's verify token, 403 otherwise.
func (h *Handler) Verify(provider string) gin.HandlerFunc {
	return func(c *gin.Context) {
		h.verify(c, provider)
	}
}

func (h *Handler) verify(c *gin.Context, provider string) {
	mode := c.Query("hub.mode")
	token := c.Query("hub.verify_token")
	challenge := c.Query("hub.challenge")

	if mode == "" || token == "" {
		c.Status(http.StatusForbidden)
		return
	}

	channel, err := h.Store.ActiveChannel(provider, "")
	if err != nil {
		c.Status(http.StatusForbidden)
		return
	}
	if mode == "subscribe" && channel.VerifyToken != "" && token == channel.VerifyToken {
		log.Printf("Webhook verified for %s channel %d", provider, channel.ID)
		c.String(http.StatusOK, challenge)
		return
	}
	c.Status(http.StatusForbidden)
}

// HandleEvents is the POST ingestion pipeline. It always answers a small
// status object: "ok" when processed, "ignored" for payloads or setups we
// deliberately do not handle, 403 on signature failure.
func (h *Handler) HandleEvents(provider string) gin.HandlerFunc {
	return func(c *gin.Context) {
		h.handleEvents(c, provider)
	}
}

func (h *Handler) handleEvents(c *gin.Context, provider string) {
	rawBody, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "unreadable body"})
		return
	}

	channels, err := h.Store.GetChannelsByType(provider)
	if err != nil {
		log.Printf("Error resolving %s channels: %v", provider, err)
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error"})
		return
	}
	active := make([]*models.Channel, 0, len(channels))
	for i := range channels {
		if channels[i].Status == models.ChannelActive {
			active = append(active, &channels[i])
		}
	}
	if len(active) == 0 {
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	// When several channels of a type are configured, the signing secret
	// identifies which one the delivery belongs to.
	sigHeader := h.signatureHeader(c)
	var channel *models.Channel
	for _, ch := range active {
		if VerifySignature(rawBody, sigHeader, ch.AppSecret) {
			channel = ch
			break
		}
	}
	if channel == nil {
		c.JSON(http.StatusForbidden, gin.H{"status": "invalid signature"})
		return
	}

	events := Normalize(provider, rawBody)
	if len(events) == 0 {
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	// A payload that names a business account can pick a more specific
	// channel, as long as the signature holds for that channel too.
	if acc := events[0].AccountID; acc != "" {
		if exact, err := h.Store.ActiveChannel(provider, acc); err == nil &&
			VerifySignature(rawBody, sigHeader, exact.AppSecret) {
			channel = exact
		}
	}

	for _, ev := range events {
		// One bad event never aborts its siblings.
		if err := h.processEvent(provider, channel, ev); err != nil {
			log.Printf("Error processing %s event: %v", provider, err)
		}
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) signatureHeader(c *gin.Context) string {
	for _, name := range signatureHeaders {
		if v := c.GetHeader(name); v != "" {
			return v
		}
	}
	return ""
}

func (h *Handler) processEvent(provider string, channel *models.Channel, ev Event) error {
	if ev.Kind == KindStatus {
		updated, err := h.Store.UpdateMessageStatusByExternalID(provider, ev.ExternalID, ev.Status)
		if err != nil {
			return err
		}
		if updated && h.Hub != nil {
			h.Hub.NotifyStatus(provider, ev.ExternalID, ev.Status)
		}
		return nil
	}

	contact, err := h.Store.FindOrCreateContact(provider, ev.SenderID, ev.SenderName)
	if err != nil {
		return fmt.Errorf("resolve contact %s: %w", ev.SenderID, err)
	}
	conv, err := h.Store.FindOrCreateConversation(contact.ID, provider, channel.ID)
	if err != nil {
		return fmt.Errorf("resolve conversation for contact %s: %w", contact.ID, err)
	}

	msg := &models.Message{
		ConversationID: conv.ID,
		Body:           ev.Text,
		Type:           models.MessageText,
		SenderType:     models.SenderUser,
		Provider:       provider,
		SenderID:       ev.SenderID,
		Metadata:       encodeMetadata(ev),
	}
	if ev.ExternalID != "" {
		id := ev.ExternalID
		msg.ExternalID = &id
	}

	if ev.Media != nil {
		h.attachMedia(msg, channel, ev)
	}

	saved, created, err := h.Store.CreateMessage(msg)
	if err != nil {
		return fmt.Errorf("persist message: %w", err)
	}
	if !created {
		// Redelivered webhook; everything below already happened once.
		return nil
	}

	now := time.Now()
	if err := h.Store.UpdateConversationLastMessage(conv.ID, now); err != nil {
		log.Printf("Error bumping conversation %s: %v", conv.ID, err)
	}
	if err := h.Store.UpdateContactLastInteraction(contact.ID, now); err != nil {
		log.Printf("Error bumping contact %s: %v", contact.ID, err)
	}
	if h.Hub != nil {
		h.Hub.NotifyMessage(saved)
	}

	if channel.AIEnabled && saved.Type == models.MessageText && saved.Body != "" {
		go h.generateReply(channel, conv, contact, saved)
	}
	return nil
}

// attachMedia relays the attachment into durable storage. A failed relay
// downgrades the message to a placeholder instead of failing ingestion.
func (h *Handler) attachMedia(msg *models.Message, channel *models.Channel, ev Event) {
	ref := ev.Media
	sourceURL := ref.URL
	mime := ref.Mime
	bearer := ""

	// WhatsApp hands out a media id; exchange it for the short-lived URL.
	if sourceURL == "" && ref.ID != "" && channel.Type == models.ChannelWhatsApp {
		info, err := h.NewWhatsAppClient(channel).GetMediaURL(ref.ID)
		if err != nil {
			log.Printf("Error resolving media %s: %v", ref.ID, err)
			h.mediaFailed(msg)
			return
		}
		sourceURL = info.URL
		if mime == "" {
			mime = info.MimeType
		}
		bearer = channel.AccessToken
	}
	if sourceURL == "" {
		h.mediaFailed(msg)
		return
	}

	declared := ref.DeclaredType
	if declared == "" {
		declared = mime
	}
	mediaType := ClassifyMedia(declared)

	relayed, err := h.Relay.Fetch(sourceURL, mime, channel.Type, mediaType, bearer)
	if err != nil {
		log.Printf("Error relaying media for channel %s: %v", channel.Type, err)
		h.mediaFailed(msg)
		return
	}

	msg.Type = mediaType
	msg.MediaURL = relayed.URL
	msg.MediaMime = relayed.Mime
	msg.MediaSize = relayed.Size
	msg.MediaName = ref.Name
}

func (h *Handler) mediaFailed(msg *models.Message) {
	if msg.Body == "" {
		msg.Body = media.ErrUploadPlaceholder
	}
}

// generateReply runs after the webhook has been acknowledged; providers must
// not wait on model latency. The reply is persisted by the orchestrator and
// then delivered back through the provider where we can.
func (h *Handler) generateReply(channel *models.Channel, conv *models.Conversation, contact *models.Contact, trigger *models.Message) {
	reply, err := h.AI.Respond(context.Background(), channel, conv, trigger.Body, trigger.ID)
	if err != nil {
		log.Printf("Error generating reply for conversation %s: %v", conv.ID, err)
		return
	}
	if reply == nil {
		return
	}

	if channel.Type == models.ChannelWhatsApp && channel.AccessToken != "" {
		if err := h.NewWhatsAppClient(channel).SendMessage(contact.ExternalID, reply.Content); err != nil {
			log.Printf("Error delivering reply to %s: %v", contact.ExternalID, err)
		}
	}
}

func encodeMetadata(ev Event) string {
	meta := map[string]any{
		"raw": json.RawMessage(ev.Raw),
	}
	if ev.Timestamp != "" {
		meta["provider_timestamp"] = ev.Timestamp
	}
	encoded, err := json.Marshal(meta)
	if err != nil {
		return ""
	}
	return string(encoded)
}
