package store

import (
	"fmt"
	"testing"
	"time"

	"inbox-gateway/internal/database"
	"inbox-gateway/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	return New(db)
}

func TestFindOrCreateContactIdempotent(t *testing.T) {
	st := newTestStore(t)

	first, err := st.FindOrCreateContact(models.ChannelWhatsApp, "34600111222", "Ana")
	require.NoError(t, err)

	second, err := st.FindOrCreateContact(models.ChannelWhatsApp, "34600111222", "Ana")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	var count int64
	st.DB.Model(&models.Contact{}).Count(&count)
	assert.EqualValues(t, 1, count)

	// the same external id on another provider is a distinct contact
	other, err := st.FindOrCreateContact(models.ChannelFacebook, "34600111222", "")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, other.ID)
}

func TestFindOrCreateContactNameBackfill(t *testing.T) {
	st := newTestStore(t)

	c, err := st.FindOrCreateContact(models.ChannelTikTok, "u-1", "")
	require.NoError(t, err)
	assert.Empty(t, c.Name)

	// an empty stored name is filled in by a later delivery
	c, err = st.FindOrCreateContact(models.ChannelTikTok, "u-1", "Luis")
	require.NoError(t, err)
	assert.Equal(t, "Luis", c.Name)

	// a known name is never overwritten
	c, err = st.FindOrCreateContact(models.ChannelTikTok, "u-1", "Someone Else")
	require.NoError(t, err)
	assert.Equal(t, "Luis", c.Name)
}

func TestFindOrCreateConversationReuse(t *testing.T) {
	st := newTestStore(t)
	contact, err := st.FindOrCreateContact(models.ChannelWhatsApp, "1", "")
	require.NoError(t, err)

	conv, err := st.FindOrCreateConversation(contact.ID, models.ChannelWhatsApp, 1)
	require.NoError(t, err)
	assert.Equal(t, models.ConversationOpen, conv.Status)

	again, err := st.FindOrCreateConversation(contact.ID, models.ChannelWhatsApp, 1)
	require.NoError(t, err)
	assert.Equal(t, conv.ID, again.ID)

	// handoff conversations are still the live thread
	require.NoError(t, st.MarkConversationHandoff(conv.ID))
	again, err = st.FindOrCreateConversation(contact.ID, models.ChannelWhatsApp, 1)
	require.NoError(t, err)
	assert.Equal(t, conv.ID, again.ID)

	// a closed conversation is not
	require.NoError(t, st.DB.Model(&models.Conversation{}).Where("id = ?", conv.ID).
		Update("status", models.ConversationClosed).Error)
	fresh, err := st.FindOrCreateConversation(contact.ID, models.ChannelWhatsApp, 1)
	require.NoError(t, err)
	assert.NotEqual(t, conv.ID, fresh.ID)
}

func TestCreateMessageDeduplicates(t *testing.T) {
	st := newTestStore(t)
	conv := seedConversation(t, st)

	ext := "wamid.1"
	msg, created, err := st.CreateMessage(&models.Message{
		ConversationID: conv.ID,
		Body:           "Hello",
		Type:           models.MessageText,
		SenderType:     models.SenderUser,
		Provider:       models.ChannelWhatsApp,
		ExternalID:     &ext,
	})
	require.NoError(t, err)
	assert.True(t, created)

	// redelivery is a no-op that hands back the stored row
	ext2 := "wamid.1"
	dup, created, err := st.CreateMessage(&models.Message{
		ConversationID: conv.ID,
		Body:           "Hello",
		Type:           models.MessageText,
		SenderType:     models.SenderUser,
		Provider:       models.ChannelWhatsApp,
		ExternalID:     &ext2,
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, msg.ID, dup.ID)

	n, err := st.CountMessages()
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestCreateMessageWithoutExternalID(t *testing.T) {
	st := newTestStore(t)
	conv := seedConversation(t, st)

	// bot and agent messages have no external id and never collide
	for i := 0; i < 3; i++ {
		_, created, err := st.CreateMessage(&models.Message{
			ConversationID: conv.ID,
			Body:           "reply",
			Type:           models.MessageText,
			SenderType:     models.SenderBot,
			Provider:       models.ChannelWhatsApp,
		})
		require.NoError(t, err)
		assert.True(t, created)
	}

	n, err := st.CountMessages()
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
}

func TestStatusUpdateNeverCreates(t *testing.T) {
	st := newTestStore(t)
	conv := seedConversation(t, st)

	// receipt for an unknown message: no-op, nothing inserted
	updated, err := st.UpdateMessageStatusByExternalID(models.ChannelWhatsApp, "wamid.unknown", "delivered")
	require.NoError(t, err)
	assert.False(t, updated)

	n, _ := st.CountMessages()
	assert.EqualValues(t, 0, n)

	ext := "wamid.5"
	_, _, err = st.CreateMessage(&models.Message{
		ConversationID: conv.ID,
		Body:           "hi",
		SenderType:     models.SenderUser,
		Provider:       models.ChannelWhatsApp,
		ExternalID:     &ext,
		Status:         "sent",
	})
	require.NoError(t, err)

	updated, err = st.UpdateMessageStatusByExternalID(models.ChannelWhatsApp, "wamid.5", "read")
	require.NoError(t, err)
	assert.True(t, updated)

	msgs, err := st.GetMessagesByConversation(conv.ID, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "read", msgs[0].Status)
}

func TestGetMessagesChronological(t *testing.T) {
	st := newTestStore(t)
	conv := seedConversation(t, st)

	for i, body := range []string{"first", "second", "third"} {
		m := &models.Message{
			ConversationID: conv.ID,
			Body:           body,
			SenderType:     models.SenderUser,
			Provider:       models.ChannelWhatsApp,
		}
		_, _, err := st.CreateMessage(m)
		require.NoError(t, err)
		// sqlite timestamps need explicit spacing to order deterministically
		st.DB.Model(m).Update("created_at", time.Now().Add(time.Duration(i)*time.Second))
	}

	msgs, err := st.GetMessagesByConversation(conv.ID, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "first", msgs[0].Body)
	assert.Equal(t, "third", msgs[2].Body)
}

func TestActiveChannelPrefersAccountMatch(t *testing.T) {
	st := newTestStore(t)

	require.NoError(t, st.DB.Create(&models.Channel{
		Type: models.ChannelWhatsApp, Status: models.ChannelActive, AccountID: "111",
	}).Error)
	require.NoError(t, st.DB.Create(&models.Channel{
		Type: models.ChannelWhatsApp, Status: models.ChannelActive, AccountID: "222",
	}).Error)

	ch, err := st.ActiveChannel(models.ChannelWhatsApp, "222")
	require.NoError(t, err)
	assert.Equal(t, "222", ch.AccountID)

	// unknown account id falls back to the first active channel
	ch, err = st.ActiveChannel(models.ChannelWhatsApp, "999")
	require.NoError(t, err)
	assert.Equal(t, "111", ch.AccountID)

	_, err = st.ActiveChannel(models.ChannelTikTok, "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestActiveChannelSkipsPending(t *testing.T) {
	st := newTestStore(t)

	require.NoError(t, st.DB.Create(&models.Channel{
		Type: models.ChannelFacebook, Status: models.ChannelPending,
	}).Error)

	_, err := st.ActiveChannel(models.ChannelFacebook, "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetChannelByToken(t *testing.T) {
	st := newTestStore(t)

	require.NoError(t, st.DB.Create(&models.Channel{
		Type: models.ChannelWebsite, Status: models.ChannelActive, WidgetToken: "tok-1",
	}).Error)

	ch, err := st.GetChannelByToken("tok-1")
	require.NoError(t, err)
	assert.Equal(t, models.ChannelWebsite, ch.Type)

	_, err = st.GetChannelByToken("nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func seedConversation(t *testing.T, st *Store) *models.Conversation {
	t.Helper()
	contact, err := st.FindOrCreateContact(models.ChannelWhatsApp, "seed", "")
	require.NoError(t, err)
	conv, err := st.FindOrCreateConversation(contact.ID, models.ChannelWhatsApp, 1)
	require.NoError(t, err)
	return conv
}
