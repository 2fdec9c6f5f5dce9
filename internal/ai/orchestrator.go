// Package ai decides whether and how a conversation gets an automated reply.
//
// Per inbound user message the orchestrator persists exactly one assistant
// message: the model's answer, a handoff notice, or the channel's fallback
// text when generation fails. The end user never sees silence or a raw error.
package ai

import (
	"context"
	"log"
	"strings"
	"time"

	"inbox-gateway/internal/models"
	"inbox-gateway/internal/notify"
	"inbox-gateway/internal/store"
	"inbox-gateway/internal/ws"
)

// HandoffSentinel is the literal token a model emits to request a human. It
// is stripped from the persisted reply.
const HandoffSentinel = "<<HANDOFF_TO_HUMAN>>"

// DefaultFallback is used when a channel has no fallback message configured.
const DefaultFallback = "Sorry, something went wrong on our side. A human agent will follow up with you shortly."

// DefaultHandoffNotice is persisted when the user asks for a human.
const DefaultHandoffNotice = "Understood! A human agent will take over this conversation shortly."

// Skip reasons reported by the widget endpoint.
const (
	ReasonAgentOnly = "agent_only_mode"
	ReasonNoAPIKey  = "no_api_key"
)

// handoffPhrases trigger a handoff straight from the user's text, before any
// model call.
var handoffPhrases = []string{
	"talk to a human",
	"talk to a person",
	"speak to an agent",
	"speak with an agent",
	"human agent",
	"real person",
	"hablar con un agente",
	"hablar con una persona",
	"agente humano",
}

// Reply is the outcome of one orchestration run.
type Reply struct {
	Content string
	Handoff bool
	// Fallback marks that generation failed and Content is the canned text.
	Fallback bool
	Usage    Usage
	Message  *models.Message
}

type Orchestrator struct {
	Store    *store.Store
	KB       KnowledgeBase // nil when no document index is configured
	Notifier notify.Notifier
	Hub      *ws.Hub // nil outside the server process

	DefaultAPIKey  string
	DefaultBaseURL string
	KBTopK         int

	// NewProvider builds the model client; swapped out in tests.
	NewProvider func(apiKey, baseURL string) Provider
}

func NewOrchestrator(st *store.Store, kb KnowledgeBase, notifier notify.Notifier, hub *ws.Hub, defaultAPIKey, defaultBaseURL string, kbTopK int) *Orchestrator {
	if notifier == nil {
		notifier = notify.NopNotifier{}
	}
	return &Orchestrator{
		Store:          st,
		KB:             kb,
		Notifier:       notifier,
		Hub:            hub,
		DefaultAPIKey:  defaultAPIKey,
		DefaultBaseURL: defaultBaseURL,
		KBTopK:         kbTopK,
		NewProvider: func(apiKey, baseURL string) Provider {
			return NewOpenAIProvider(apiKey, baseURL)
		},
	}
}

// SkipReason reports why no automated reply will be generated for the
// channel, or "" when one will.
func (o *Orchestrator) SkipReason(ch *models.Channel) string {
	if ch.AIResponseMode == models.ResponseModeAgentOnly {
		return ReasonAgentOnly
	}
	if o.apiKey(ch) == "" {
		return ReasonNoAPIKey
	}
	return ""
}

// Respond runs the blocking path: handoff check, generation, fallback.
// triggerMsgID identifies the already-persisted inbound message so context
// assembly does not repeat it.
func (o *Orchestrator) Respond(ctx context.Context, ch *models.Channel, conv *models.Conversation, userText, triggerMsgID string) (*Reply, error) {
	if reason := o.SkipReason(ch); reason != "" {
		return nil, nil
	}

	if containsHandoffIntent(userText) {
		return o.handoffReply(ctx, ch, conv, userText)
	}

	req := o.buildRequest(ctx, ch, conv, userText, triggerMsgID)
	provider := o.NewProvider(o.apiKey(ch), o.baseURL(ch))

	result, err := provider.Chat(ctx, req)
	if err != nil {
		log.Printf("AI generation failed for conversation %s: %v", conv.ID, err)
		return o.fallbackReply(ch, conv)
	}

	content, handoff := stripSentinel(result.Content)
	reply := &Reply{Content: content, Handoff: handoff, Usage: result.Usage}
	msg, perr := o.persistAssistant(conv, content)
	if perr != nil {
		return nil, perr
	}
	reply.Message = msg

	if handoff {
		o.triggerHandoff(ctx, conv.ID, userText, "model signalled handoff in its reply")
	}
	return reply, nil
}

// StreamReply runs the streaming path. onChunk is called for every piece of
// model output as it arrives. The final message is persisted before
// StreamReply returns, so callers can acknowledge completion safely.
func (o *Orchestrator) StreamReply(ctx context.Context, ch *models.Channel, conv *models.Conversation, userText, triggerMsgID string, onChunk func(string)) (*Reply, error) {
	if reason := o.SkipReason(ch); reason != "" {
		return nil, nil
	}

	if containsHandoffIntent(userText) {
		return o.handoffReply(ctx, ch, conv, userText)
	}

	req := o.buildRequest(ctx, ch, conv, userText, triggerMsgID)
	provider := o.NewProvider(o.apiKey(ch), o.baseURL(ch))

	chunkCh, errCh := provider.StreamChat(ctx, req)

	var sb strings.Builder
	for chunk := range chunkCh {
		sb.WriteString(chunk.Content)
		if onChunk != nil {
			onChunk(chunk.Content)
		}
	}
	if err := <-errCh; err != nil {
		log.Printf("AI stream failed for conversation %s: %v", conv.ID, err)
		return o.fallbackReply(ch, conv)
	}

	content, handoff := stripSentinel(sb.String())
	reply := &Reply{Content: content, Handoff: handoff}
	msg, perr := o.persistAssistant(conv, content)
	if perr != nil {
		return nil, perr
	}
	reply.Message = msg

	if handoff {
		o.triggerHandoff(ctx, conv.ID, userText, "model signalled handoff in its reply")
	}
	return reply, nil
}

// --- internals ---

func (o *Orchestrator) handoffReply(ctx context.Context, ch *models.Channel, conv *models.Conversation, userText string) (*Reply, error) {
	notice := DefaultHandoffNotice
	msg, err := o.persistAssistant(conv, notice)
	if err != nil {
		return nil, err
	}
	o.triggerHandoff(ctx, conv.ID, userText, "user asked for a human agent")
	return &Reply{Content: notice, Handoff: true, Message: msg}, nil
}

func (o *Orchestrator) fallbackReply(ch *models.Channel, conv *models.Conversation) (*Reply, error) {
	text := o.fallbackText(ch)
	msg, err := o.persistAssistant(conv, text)
	if err != nil {
		return nil, err
	}
	return &Reply{Content: text, Fallback: true, Message: msg}, nil
}

func (o *Orchestrator) fallbackText(ch *models.Channel) string {
	if strings.TrimSpace(ch.AIFallbackMessage) != "" {
		return ch.AIFallbackMessage
	}
	return DefaultFallback
}

func (o *Orchestrator) persistAssistant(conv *models.Conversation, content string) (*models.Message, error) {
	msg, _, err := o.Store.CreateMessage(&models.Message{
		ConversationID: conv.ID,
		Body:           content,
		Type:           models.MessageText,
		SenderType:     models.SenderBot,
		Provider:       conv.Channel,
	})
	if err != nil {
		return nil, err
	}
	if err := o.Store.UpdateConversationLastMessage(conv.ID, time.Now()); err != nil {
		log.Printf("Error bumping conversation %s: %v", conv.ID, err)
	}
	if o.Hub != nil {
		o.Hub.NotifyMessage(msg)
	}
	return msg, nil
}

func (o *Orchestrator) triggerHandoff(ctx context.Context, conversationID, trigger, reason string) {
	if err := o.Store.MarkConversationHandoff(conversationID); err != nil {
		log.Printf("Error marking conversation %s handoff: %v", conversationID, err)
	}
	if err := o.Notifier.NotifyHandoff(ctx, conversationID, trigger, reason); err != nil {
		log.Printf("Error notifying operators about conversation %s: %v", conversationID, err)
	}
	if o.Hub != nil {
		o.Hub.NotifyHandoff(conversationID, trigger, reason)
	}
}

// buildRequest assembles system prompt, recent history in strict alternating
// roles and the new user message with optional knowledge-base context.
func (o *Orchestrator) buildRequest(ctx context.Context, ch *models.Channel, conv *models.Conversation, userText, triggerMsgID string) Request {
	var messages []ChatMessage
	if strings.TrimSpace(ch.AISystemPrompt) != "" {
		messages = append(messages, ChatMessage{Role: "system", Content: ch.AISystemPrompt})
	}

	history, err := o.Store.GetMessagesByConversation(conv.ID, 10)
	if err != nil {
		log.Printf("Error loading history for conversation %s: %v", conv.ID, err)
	}
	for _, m := range history {
		if m.ID == triggerMsgID || strings.TrimSpace(m.Body) == "" {
			continue
		}
		role := "assistant"
		if m.SenderType == models.SenderUser {
			role = "user"
		}
		messages = append(messages, ChatMessage{Role: role, Content: m.Body})
	}

	final := userText
	if ch.AIKBEnabled && o.KB != nil {
		topK := o.KBTopK
		if topK <= 0 {
			topK = 3
		}
		chunks, err := o.KB.Search(ctx, userText, topK)
		if err != nil {
			log.Printf("Knowledge search failed for conversation %s: %v", conv.ID, err)
		} else if len(chunks) > 0 {
			// No context block at all when nothing relevant was found.
			final = userText + "\n\nRelevant information:\n" + strings.Join(chunks, "\n---\n")
		}
	}
	messages = append(messages, ChatMessage{Role: "user", Content: final})

	return Request{
		Model:       ch.AIModel,
		Messages:    messages,
		Temperature: ch.AITemperature,
		MaxTokens:   ch.AIMaxTokens,
	}
}

func (o *Orchestrator) apiKey(ch *models.Channel) string {
	if ch.AIAPIKey != "" {
		return ch.AIAPIKey
	}
	return o.DefaultAPIKey
}

// providerEndpoints maps a channel's configured AI provider name to its
// OpenAI-compatible endpoint. An explicit base URL always wins.
var providerEndpoints = map[string]string{
	"openai":     "https://api.openai.com/v1",
	"deepseek":   "https://api.deepseek.com/v1",
	"groq":       "https://api.groq.com/openai/v1",
	"openrouter": "https://openrouter.ai/api/v1",
}

func (o *Orchestrator) baseURL(ch *models.Channel) string {
	if ch.AIBaseURL != "" {
		return ch.AIBaseURL
	}
	if url, ok := providerEndpoints[strings.ToLower(ch.AIProvider)]; ok {
		return url
	}
	return o.DefaultBaseURL
}

func containsHandoffIntent(text string) bool {
	text = strings.ToLower(text)
	for _, phrase := range handoffPhrases {
		if strings.Contains(text, phrase) {
			return true
		}
	}
	return false
}

func stripSentinel(content string) (string, bool) {
	if !strings.Contains(content, HandoffSentinel) {
		return content, false
	}
	return strings.TrimSpace(strings.ReplaceAll(content, HandoffSentinel, "")), true
}
