package models

import (
	"time"
)

// Channel types routed by the webhook handlers.
const (
	ChannelWhatsApp  = "whatsapp"
	ChannelFacebook  = "facebook"
	ChannelInstagram = "instagram"
	ChannelTikTok    = "tiktok"
	ChannelEmail     = "email"
	ChannelWebsite   = "website"
)

// Channel statuses.
const (
	ChannelActive  = "active"
	ChannelPending = "pending"
)

// AI response modes.
const (
	ResponseModeAuto      = "auto"
	ResponseModeAgentOnly = "agent_only"
)

// Channel is a configured messaging integration instance. Created and edited
// through the settings UI; read-only to this service.
type Channel struct {
	ID          uint   `gorm:"primaryKey" json:"id"`
	Type        string `gorm:"type:varchar(20);not null;index" json:"type"`
	Name        string `gorm:"type:varchar(255)" json:"name"`
	Status      string `gorm:"type:varchar(20);default:'pending';index" json:"status"`
	VerifyToken string `gorm:"type:varchar(255)" json:"verify_token"`
	AppSecret   string `gorm:"type:varchar(255)" json:"-"`
	AccessToken string `gorm:"type:text" json:"-"`
	// Provider business/account id (phone_number_id for WhatsApp, page id for
	// Meta). Used to prefer an exact channel match over first-active-of-type.
	AccountID string `gorm:"type:varchar(255);index" json:"account_id"`
	// Widget token identifies the website channel on the public stream endpoint.
	WidgetToken string `gorm:"type:varchar(255);index" json:"-"`

	// AI configuration
	AIEnabled         bool    `gorm:"default:false" json:"ai_enabled"`
	AIProvider        string  `gorm:"type:varchar(50)" json:"ai_provider"`
	AIModel           string  `gorm:"type:varchar(100)" json:"ai_model"`
	AISystemPrompt    string  `gorm:"type:text" json:"ai_system_prompt"`
	AITemperature     float64 `gorm:"default:0.7" json:"ai_temperature"`
	AIMaxTokens       int     `gorm:"default:1024" json:"ai_max_tokens"`
	AIFallbackMessage string  `gorm:"type:text" json:"ai_fallback_message"`
	AIResponseMode    string  `gorm:"type:varchar(20);default:'auto'" json:"ai_response_mode"`
	AIAPIKey          string  `gorm:"type:varchar(255)" json:"-"`
	AIBaseURL         string  `gorm:"type:varchar(255)" json:"-"`
	AIKBEnabled       bool    `gorm:"default:false" json:"ai_kb_enabled"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Channel) TableName() string {
	return "channels"
}

// Contact is one external identity, unique per (provider, external_id).
type Contact struct {
	ID              string     `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Provider        string     `gorm:"type:varchar(20);not null;uniqueIndex:idx_contacts_provider_external" json:"provider"`
	ExternalID      string     `gorm:"type:varchar(255);not null;uniqueIndex:idx_contacts_provider_external" json:"external_id"`
	Name            string     `gorm:"type:varchar(255)" json:"name"`
	AvatarURL       string     `gorm:"type:text" json:"avatar_url"`
	Source          string     `gorm:"type:varchar(20)" json:"source"`
	LastInteraction *time.Time `json:"last_interaction"`
	CreatedAt       time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Contact) TableName() string {
	return "contacts"
}

// Conversation statuses.
const (
	ConversationOpen    = "open"
	ConversationHandoff = "handoff"
	ConversationClosed  = "closed"
)

// Conversation is the thread between one contact and one channel.
type Conversation struct {
	ID            string     `gorm:"primaryKey;type:varchar(36)" json:"id"`
	ContactID     string     `gorm:"type:varchar(36);not null;index:idx_conversations_contact_channel" json:"contact_id"`
	Channel       string     `gorm:"type:varchar(20);not null;index:idx_conversations_contact_channel" json:"channel"`
	ChannelID     uint       `gorm:"index:idx_conversations_contact_channel" json:"channel_id"`
	Status        string     `gorm:"type:varchar(20);default:'open'" json:"status"`
	LastMessageAt *time.Time `json:"last_message_at"`
	CreatedAt     time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"autoUpdateTime" json:"updated_at"`

	Contact *Contact `gorm:"foreignKey:ContactID" json:"contact,omitempty"`
}

func (Conversation) TableName() string {
	return "conversations"
}

// Message sender types.
const (
	SenderUser  = "user"
	SenderAgent = "agent"
	SenderBot   = "bot"
)

// Message types.
const (
	MessageText  = "text"
	MessageImage = "image"
	MessageAudio = "audio"
	MessageVideo = "video"
	MessageFile  = "file"
)

// Message is an append-only record of one unit of communication.
// (provider, external_id) uniquely identifies provider-originated messages so
// that redelivered webhooks and status receipts reconcile instead of
// duplicating.
type Message struct {
	ID             string `gorm:"primaryKey;type:varchar(36)" json:"id"`
	ConversationID string `gorm:"type:varchar(36);not null;index" json:"conversation_id"`
	Body           string `gorm:"type:text" json:"body"`
	Type           string `gorm:"type:varchar(20);default:'text'" json:"type"`
	SenderType     string `gorm:"type:varchar(20);not null" json:"sender_type"`
	Provider       string `gorm:"type:varchar(20);uniqueIndex:idx_messages_provider_external" json:"provider"`
	// NULL for messages that did not originate at a provider (bot/agent
	// replies); NULLs never collide in the unique index.
	ExternalID *string `gorm:"type:varchar(255);uniqueIndex:idx_messages_provider_external" json:"external_id"`
	SenderID       string `gorm:"type:varchar(255)" json:"sender_id"`
	MediaURL       string `gorm:"type:text" json:"media_url"`
	MediaMime      string `gorm:"type:varchar(100)" json:"media_mime"`
	MediaSize      int64  `json:"media_size"`
	MediaName      string `gorm:"type:varchar(255)" json:"media_name"`
	Status         string `gorm:"type:varchar(20)" json:"status"`
	// Raw provider payload plus provider-specific timestamps, JSON encoded.
	Metadata  string    `gorm:"type:text" json:"metadata"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (Message) TableName() string {
	return "messages"
}
