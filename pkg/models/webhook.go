package models

// WhatsAppPayload is the WhatsApp Cloud API webhook envelope.
type WhatsAppPayload struct {
	Object string `json:"object"`
	Entry  []struct {
		ID      string `json:"id"`
		Changes []struct {
			Value struct {
				MessagingProduct string `json:"messaging_product"`
				Metadata         struct {
					DisplayPhoneNumber string `json:"display_phone_number"`
					PhoneNumberID      string `json:"phone_number_id"`
				} `json:"metadata"`
				Contacts []struct {
					WaID    string `json:"wa_id"`
					Profile struct {
						Name string `json:"name"`
					} `json:"profile"`
				} `json:"contacts,omitempty"`
				Messages []WhatsAppMessage `json:"messages,omitempty"`
				Statuses []struct {
					ID          string `json:"id"`
					Status      string `json:"status"`
					Timestamp   string `json:"timestamp"`
					RecipientID string `json:"recipient_id"`
				} `json:"statuses,omitempty"`
			} `json:"value"`
			Field string `json:"field"`
		} `json:"changes"`
	} `json:"entry"`
}

// WhatsAppMessage is one inbound message inside a WhatsApp payload.
type WhatsAppMessage struct {
	From      string `json:"from"`
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Text      struct {
		Body string `json:"body"`
	} `json:"text,omitempty"`
	Image    *WhatsAppMedia `json:"image,omitempty"`
	Video    *WhatsAppMedia `json:"video,omitempty"`
	Audio    *WhatsAppMedia `json:"audio,omitempty"`
	Document *WhatsAppMedia `json:"document,omitempty"`
	Sticker  *WhatsAppMedia `json:"sticker,omitempty"`
}

// WhatsAppMedia is a media attachment reference. The Cloud API hands out a
// media id that must be exchanged for a short-lived download URL.
type WhatsAppMedia struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
	SHA256   string `json:"sha256,omitempty"`
	Caption  string `json:"caption,omitempty"`
	Filename string `json:"filename,omitempty"`
}

// MessengerPayload covers Facebook Messenger and Instagram DM webhooks, which
// share the entry[].messaging nesting.
type MessengerPayload struct {
	Object string `json:"object"`
	Entry  []struct {
		ID        string           `json:"id"`
		Time      int64            `json:"time"`
		Messaging []MessengerEvent `json:"messaging"`
	} `json:"entry"`
}

// MessengerEvent is one messaging event: an inbound message or a delivery
// receipt.
type MessengerEvent struct {
	Sender struct {
		ID string `json:"id"`
	} `json:"sender"`
	Recipient struct {
		ID string `json:"id"`
	} `json:"recipient"`
	Timestamp int64 `json:"timestamp"`
	Message   *struct {
		MID         string `json:"mid"`
		Text        string `json:"text"`
		Attachments []struct {
			Type    string `json:"type"`
			Payload struct {
				URL string `json:"url"`
			} `json:"payload"`
		} `json:"attachments,omitempty"`
	} `json:"message,omitempty"`
	Delivery *struct {
		MIDs      []string `json:"mids"`
		Watermark int64    `json:"watermark"`
	} `json:"delivery,omitempty"`
	Read *struct {
		Watermark int64 `json:"watermark"`
	} `json:"read,omitempty"`
}
