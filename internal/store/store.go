// Package store implements the persistence operations the ingestion and AI
// pipelines consume. All writes are narrow keyed upserts so that redelivered
// webhooks are safe to repeat.
package store

import (
	"errors"
	"time"

	"inbox-gateway/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrNotFound = errors.New("store: not found")

type Store struct {
	DB *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{DB: db}
}

// --- Channels ---

// GetChannelByToken resolves a website channel from its widget token.
func (s *Store) GetChannelByToken(token string) (*models.Channel, error) {
	var ch models.Channel
	err := s.DB.Where("widget_token = ? AND status = ?", token, models.ChannelActive).First(&ch).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &ch, nil
}

func (s *Store) GetChannelByID(id uint) (*models.Channel, error) {
	var ch models.Channel
	err := s.DB.First(&ch, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &ch, nil
}

// GetChannelsByType returns all channels of a type, active first.
func (s *Store) GetChannelsByType(channelType string) ([]models.Channel, error) {
	var channels []models.Channel
	err := s.DB.Where("type = ?", channelType).
		Order("CASE WHEN status = 'active' THEN 0 ELSE 1 END, id").
		Find(&channels).Error
	return channels, err
}

// ActiveChannel picks the channel that should receive an inbound delivery.
// An exact account_id match wins; otherwise the first active channel of the
// type is used. Returns ErrNotFound when nothing active is configured.
func (s *Store) ActiveChannel(channelType, accountID string) (*models.Channel, error) {
	if accountID != "" {
		var ch models.Channel
		err := s.DB.Where("type = ? AND status = ? AND account_id = ?",
			channelType, models.ChannelActive, accountID).First(&ch).Error
		if err == nil {
			return &ch, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}

	var ch models.Channel
	err := s.DB.Where("type = ? AND status = ?", channelType, models.ChannelActive).
		Order("id").First(&ch).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &ch, nil
}

// --- Contacts ---

// FindOrCreateContact is idempotent on (provider, externalID). A supplied
// name only fills an empty stored name, it never overwrites a known one.
func (s *Store) FindOrCreateContact(provider, externalID, name string) (*models.Contact, error) {
	var contact models.Contact
	err := s.DB.Where("provider = ? AND external_id = ?", provider, externalID).First(&contact).Error
	if err == nil {
		if name != "" && contact.Name == "" {
			contact.Name = name
			if err := s.DB.Model(&contact).Update("name", name).Error; err != nil {
				return nil, err
			}
		}
		return &contact, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	contact = models.Contact{
		ID:         uuid.NewString(),
		Provider:   provider,
		ExternalID: externalID,
		Name:       name,
		Source:     provider,
	}
	res := s.DB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "provider"}, {Name: "external_id"}},
		DoNothing: true,
	}).Create(&contact)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		// Lost a concurrent insert race; the winner is the contact.
		if err := s.DB.Where("provider = ? AND external_id = ?", provider, externalID).First(&contact).Error; err != nil {
			return nil, err
		}
	}
	return &contact, nil
}

func (s *Store) UpdateContactLastInteraction(contactID string, at time.Time) error {
	return s.DB.Model(&models.Contact{}).Where("id = ?", contactID).
		Update("last_interaction", at).Error
}

// --- Conversations ---

// FindOrCreateConversation is idempotent on (contactID, channelType,
// channelID). Only non-closed conversations are reused.
func (s *Store) FindOrCreateConversation(contactID, channelType string, channelID uint) (*models.Conversation, error) {
	var conv models.Conversation
	err := s.DB.Where("contact_id = ? AND channel = ? AND channel_id = ? AND status <> ?",
		contactID, channelType, channelID, models.ConversationClosed).
		Order("created_at DESC").First(&conv).Error
	if err == nil {
		return &conv, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	conv = models.Conversation{
		ID:        uuid.NewString(),
		ContactID: contactID,
		Channel:   channelType,
		ChannelID: channelID,
		Status:    models.ConversationOpen,
	}
	if err := s.DB.Create(&conv).Error; err != nil {
		return nil, err
	}
	return &conv, nil
}

func (s *Store) GetConversation(id string) (*models.Conversation, error) {
	var conv models.Conversation
	err := s.DB.Preload("Contact").Where("id = ?", id).First(&conv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

func (s *Store) UpdateConversationLastMessage(conversationID string, at time.Time) error {
	return s.DB.Model(&models.Conversation{}).Where("id = ?", conversationID).
		Update("last_message_at", at).Error
}

// MarkConversationHandoff moves a conversation to human handling.
func (s *Store) MarkConversationHandoff(conversationID string) error {
	return s.DB.Model(&models.Conversation{}).Where("id = ?", conversationID).
		Update("status", models.ConversationHandoff).Error
}

func (s *Store) ListConversations(limit int) ([]models.Conversation, error) {
	if limit <= 0 {
		limit = 50
	}
	var conversations []models.Conversation
	err := s.DB.Preload("Contact").
		Order("last_message_at DESC").
		Limit(limit).Find(&conversations).Error
	return conversations, err
}

func (s *Store) ListContacts(limit int) ([]models.Contact, error) {
	if limit <= 0 {
		limit = 100
	}
	var contacts []models.Contact
	err := s.DB.Order("created_at DESC").Limit(limit).Find(&contacts).Error
	return contacts, err
}

// --- Messages ---

// CreateMessage persists a message. A duplicate (provider, external_id) is a
// successful no-op that returns the previously stored row with created=false,
// which makes the whole ingestion path safe under at-least-once webhook
// delivery.
func (s *Store) CreateMessage(msg *models.Message) (*models.Message, bool, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}

	if msg.ExternalID == nil || *msg.ExternalID == "" {
		msg.ExternalID = nil
		if err := s.DB.Create(msg).Error; err != nil {
			return nil, false, err
		}
		return msg, true, nil
	}

	res := s.DB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "provider"}, {Name: "external_id"}},
		DoNothing: true,
	}).Create(msg)
	if res.Error != nil {
		return nil, false, res.Error
	}
	if res.RowsAffected == 0 {
		var existing models.Message
		err := s.DB.Where("provider = ? AND external_id = ?", msg.Provider, *msg.ExternalID).
			First(&existing).Error
		if err != nil {
			return nil, false, err
		}
		return &existing, false, nil
	}
	return msg, true, nil
}

// UpdateMessageStatusByExternalID reconciles a delivery receipt. It only ever
// targets an existing message; an unknown external id is a no-op.
func (s *Store) UpdateMessageStatusByExternalID(provider, externalID, status string) (bool, error) {
	res := s.DB.Model(&models.Message{}).
		Where("provider = ? AND external_id = ?", provider, externalID).
		Update("status", status)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// GetMessagesByConversation returns the most recent messages, oldest first.
func (s *Store) GetMessagesByConversation(conversationID string, limit int) ([]models.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	var messages []models.Message
	err := s.DB.Where("conversation_id = ?", conversationID).
		Order("created_at DESC").Limit(limit).Find(&messages).Error
	if err != nil {
		return nil, err
	}
	// reverse to chronological order
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// CountMessages is used by tests and the dashboard summary.
func (s *Store) CountMessages() (int64, error) {
	var n int64
	err := s.DB.Model(&models.Message{}).Count(&n).Error
	return n, err
}
