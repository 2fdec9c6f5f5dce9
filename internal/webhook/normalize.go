package webhook

import (
	"encoding/json"
	"log"
	"strings"

	"inbox-gateway/internal/models"
	pkgmodels "inbox-gateway/pkg/models"
)

// Event kinds.
const (
	KindMessage = "message"
	KindStatus  = "status"
)

// MediaRef points at an attachment. Either URL (directly downloadable) or ID
// (WhatsApp media id, exchanged for a URL before download) is set.
type MediaRef struct {
	URL          string
	ID           string
	DeclaredType string
	Mime         string
	Name         string
}

// Event is the provider-agnostic representation of one webhook occurrence.
// Raw keeps the original payload so normalization loses shape, never content.
type Event struct {
	Kind string

	// status update
	ExternalID string
	Status     string

	// inbound message
	SenderID   string
	SenderName string
	Text       string
	Media      *MediaRef

	// provider business/account id when the payload carries one
	AccountID string
	// provider-native timestamp string, stored as opaque metadata
	Timestamp string

	Raw json.RawMessage
}

type normalizeFunc func(raw []byte) []Event

// normalizers routes payloads to a provider-specific normalizer. Providers
// without a dedicated shape share the generic duck-typed one.
var normalizers = map[string]normalizeFunc{
	models.ChannelWhatsApp:  normalizeWhatsApp,
	models.ChannelFacebook:  normalizeMessenger,
	models.ChannelInstagram: normalizeMessenger,
	models.ChannelTikTok:    normalizeGeneric,
	models.ChannelEmail:     normalizeGeneric,
	models.ChannelWebsite:   normalizeGeneric,
}

// Normalize converts a raw provider payload into zero or more events. An
// unparseable or empty payload yields no events; that is "ignored", not an
// error.
func Normalize(provider string, raw []byte) []Event {
	fn, ok := normalizers[provider]
	if !ok {
		fn = normalizeGeneric
	}
	return fn(raw)
}

// --- WhatsApp Cloud API ---

func normalizeWhatsApp(raw []byte) []Event {
	var payload pkgmodels.WhatsAppPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		log.Printf("whatsapp: unparseable payload: %v", err)
		return nil
	}

	var events []Event
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			value := change.Value
			accountID := value.Metadata.PhoneNumberID

			for _, st := range value.Statuses {
				events = append(events, Event{
					Kind:       KindStatus,
					ExternalID: st.ID,
					Status:     st.Status,
					AccountID:  accountID,
					Timestamp:  st.Timestamp,
					Raw:        raw,
				})
			}

			names := map[string]string{}
			for _, c := range value.Contacts {
				names[c.WaID] = c.Profile.Name
			}

			for _, msg := range value.Messages {
				ev := Event{
					Kind:       KindMessage,
					ExternalID: msg.ID,
					SenderID:   msg.From,
					SenderName: names[msg.From],
					AccountID:  accountID,
					Timestamp:  msg.Timestamp,
					Raw:        raw,
				}
				switch msg.Type {
				case "text":
					ev.Text = msg.Text.Body
				case "image":
					ev.Media = whatsappMedia(msg.Image, "image")
					ev.Text = captionOf(msg.Image)
				case "video":
					ev.Media = whatsappMedia(msg.Video, "video")
					ev.Text = captionOf(msg.Video)
				case "audio":
					ev.Media = whatsappMedia(msg.Audio, "audio")
				case "document":
					ev.Media = whatsappMedia(msg.Document, "file")
					ev.Text = captionOf(msg.Document)
				case "sticker":
					ev.Media = whatsappMedia(msg.Sticker, "image")
				default:
					log.Printf("whatsapp: unhandled message type %q from %s", msg.Type, msg.From)
					continue
				}
				events = append(events, ev)
			}
		}
	}
	return events
}

func whatsappMedia(m *pkgmodels.WhatsAppMedia, declared string) *MediaRef {
	if m == nil {
		return nil
	}
	return &MediaRef{
		ID:           m.ID,
		DeclaredType: declared,
		Mime:         m.MimeType,
		Name:         m.Filename,
	}
}

func captionOf(m *pkgmodels.WhatsAppMedia) string {
	if m == nil {
		return ""
	}
	return m.Caption
}

// --- Facebook Messenger / Instagram ---

func normalizeMessenger(raw []byte) []Event {
	var payload pkgmodels.MessengerPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		log.Printf("messenger: unparseable payload: %v", err)
		return nil
	}

	var events []Event
	for _, entry := range payload.Entry {
		for _, msg := range entry.Messaging {
			// Delivery receipts short-circuit; read watermarks carry no
			// message ids to reconcile against, so they are skipped.
			if msg.Delivery != nil {
				for _, mid := range msg.Delivery.MIDs {
					events = append(events, Event{
						Kind:       KindStatus,
						ExternalID: mid,
						Status:     "delivered",
						AccountID:  entry.ID,
						Raw:        raw,
					})
				}
				continue
			}
			if msg.Read != nil || msg.Message == nil {
				continue
			}
			if msg.Sender.ID == "" {
				log.Printf("messenger: event without sender id, skipping")
				continue
			}

			ev := Event{
				Kind:       KindMessage,
				ExternalID: msg.Message.MID,
				SenderID:   msg.Sender.ID,
				Text:       msg.Message.Text,
				AccountID:  entry.ID,
				Raw:        raw,
			}
			if len(msg.Message.Attachments) > 0 {
				att := msg.Message.Attachments[0]
				if att.Payload.URL != "" {
					ev.Media = &MediaRef{
						URL:          att.Payload.URL,
						DeclaredType: att.Type,
					}
				}
			}
			events = append(events, ev)
		}
	}
	return events
}

// --- Generic (TikTok, email bridges, website widget) ---

// normalizeGeneric handles the loosely specified providers. The event list
// may sit under "events", "data" or "entry[].events"; a bare object is
// treated as a single-element list.
func normalizeGeneric(raw []byte) []Event {
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		log.Printf("webhook: unparseable payload: %v", err)
		return nil
	}
	if len(payload) == 0 {
		return nil
	}

	items := extractEventList(payload)

	var events []Event
	for _, item := range items {
		if ev, ok := normalizeGenericEvent(item, raw); ok {
			events = append(events, ev...)
		}
	}
	return events
}

func extractEventList(payload map[string]any) []map[string]any {
	for _, key := range []string{"events", "data"} {
		if list, ok := payload[key].([]any); ok {
			return toMaps(list)
		}
	}
	if entries, ok := payload["entry"].([]any); ok {
		var flattened []map[string]any
		for _, e := range entries {
			entry, ok := e.(map[string]any)
			if !ok {
				continue
			}
			for _, key := range []string{"messaging", "events"} {
				if list, ok := entry[key].([]any); ok {
					flattened = append(flattened, toMaps(list)...)
				}
			}
		}
		if flattened != nil {
			return flattened
		}
	}
	return []map[string]any{payload}
}

func toMaps(list []any) []map[string]any {
	out := make([]map[string]any, 0, len(list))
	for _, item := range list {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

func normalizeGenericEvent(item map[string]any, raw []byte) ([]Event, bool) {
	// Status/receipt shapes always short-circuit, never doubling as messages.
	if statuses, ok := item["statuses"].([]any); ok {
		var events []Event
		for _, s := range statuses {
			st, ok := s.(map[string]any)
			if !ok {
				continue
			}
			id := stringField(st, "id")
			status := stringField(st, "status")
			if id != "" && status != "" {
				events = append(events, Event{Kind: KindStatus, ExternalID: id, Status: status, Raw: raw})
			}
		}
		return events, len(events) > 0
	}
	if status := stringField(item, "status"); status != "" {
		id := stringField(item, "id")
		if id == "" {
			id = stringField(item, "message_id")
		}
		if id == "" {
			return nil, false
		}
		return []Event{{Kind: KindStatus, ExternalID: id, Status: status, Raw: raw}}, true
	}

	senderID, senderName := extractSender(item)
	if senderID == "" {
		// Not an error: providers interleave housekeeping events we do not
		// model. Skip and keep processing siblings.
		log.Printf("webhook: event without resolvable sender id, skipping")
		return nil, false
	}

	ev := Event{
		Kind:       KindMessage,
		SenderID:   senderID,
		SenderName: senderName,
		ExternalID: firstString(item, "message_id", "event_id", "id"),
		Timestamp:  firstString(item, "timestamp", "create_time"),
		Raw:        raw,
	}

	ev.Text = extractText(item)
	ev.Media = extractMedia(item)

	if ev.Text == "" && ev.Media == nil {
		return nil, false
	}
	return []Event{ev}, true
}

// extractSender tries the sender nesting conventions seen across providers.
func extractSender(item map[string]any) (id, name string) {
	for _, key := range []string{"sender", "from", "user"} {
		if obj, ok := item[key].(map[string]any); ok {
			if v := stringField(obj, "id"); v != "" {
				return v, firstString(obj, "name", "nickname", "username")
			}
		}
	}
	return stringField(item, "user_id"), ""
}

func extractText(item map[string]any) string {
	if msg, ok := item["message"].(map[string]any); ok {
		if t, ok := msg["text"].(string); ok {
			return t
		}
		if t, ok := msg["text"].(map[string]any); ok {
			return stringField(t, "body")
		}
	}
	if t, ok := item["text"].(map[string]any); ok {
		return stringField(t, "content")
	}
	if t, ok := item["text"].(string); ok {
		return t
	}
	return ""
}

func extractMedia(item map[string]any) *MediaRef {
	var media map[string]any
	if msg, ok := item["message"].(map[string]any); ok {
		media, _ = msg["media"].(map[string]any)
	}
	if media == nil {
		media, _ = item["media"].(map[string]any)
	}
	if media == nil {
		return nil
	}
	url := stringField(media, "url")
	if url == "" {
		return nil
	}
	return &MediaRef{
		URL:          url,
		DeclaredType: firstString(media, "type", "mime_type"),
		Mime:         stringField(media, "mime_type"),
		Name:         firstString(media, "name", "filename"),
	}
}

func stringField(m map[string]any, key string) string {
	v, _ := m[key].(string)
	return v
}

func firstString(m map[string]any, keys ...string) string {
	for _, key := range keys {
		if v := stringField(m, key); v != "" {
			return v
		}
	}
	return ""
}

// ClassifyMedia buckets a declared media/mime type into one of the message
// media types. Unknown types land in the file bucket.
func ClassifyMedia(declared string) string {
	declared = strings.ToLower(strings.TrimSpace(declared))
	for prefix, bucket := range mediaBuckets {
		if strings.HasPrefix(declared, prefix) {
			return bucket
		}
	}
	return models.MessageFile
}

var mediaBuckets = map[string]string{
	"image":   models.MessageImage,
	"photo":   models.MessageImage,
	"sticker": models.MessageImage,
	"video":   models.MessageVideo,
	"audio":   models.MessageAudio,
	"voice":   models.MessageAudio,
	"ptt":     models.MessageAudio,
}
