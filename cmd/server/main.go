package main

import (
	"log"

	"inbox-gateway/internal/ai"
	"inbox-gateway/internal/api"
	"inbox-gateway/internal/config"
	"inbox-gateway/internal/database"
	"inbox-gateway/internal/media"
	"inbox-gateway/internal/notify"
	"inbox-gateway/internal/store"
	"inbox-gateway/internal/webhook"
	"inbox-gateway/internal/ws"

	"github.com/gin-gonic/gin"
)

func main() {
	cfg := config.LoadConfig()
	db := database.Init(cfg)
	st := store.New(db)

	r := gin.Default()

	// CORS Middleware
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	hub := ws.NewHub()
	go hub.Run()

	var notifier notify.Notifier = notify.NopNotifier{}
	if cfg.RabbitURL != "" {
		rabbit, err := notify.NewRabbitNotifier(cfg.RabbitURL, cfg.RabbitExchange)
		if err != nil {
			log.Printf("Warning: operator notifications disabled: %v", err)
		} else {
			defer rabbit.Close()
			notifier = rabbit
		}
	}

	var kb ai.KnowledgeBase
	if cfg.KBSearchURL != "" {
		kb = ai.NewHTTPKnowledgeBase(cfg.KBSearchURL)
	}

	storage := media.NewDiskProvider(cfg.StorageDir, cfg.PublicBaseURL)
	relay := media.NewRelay(storage)
	orchestrator := ai.NewOrchestrator(st, kb, notifier, hub, cfg.AIAPIKey, cfg.AIBaseURL, cfg.KBTopK)

	webhookHandler := webhook.NewHandler(st, relay, orchestrator, hub)
	streamHandler := api.NewStreamHandler(st, orchestrator, hub)
	dashboardHandler := api.NewDashboardHandler(st, hub)

	// Provider webhooks: /api/{provider}/webhook
	for _, provider := range webhook.Providers {
		r.GET("/api/"+provider+"/webhook", webhookHandler.Verify(provider))
		r.POST("/api/"+provider+"/webhook", webhookHandler.HandleEvents(provider))
	}

	// Widget AI streaming
	r.POST("/api/chat/widget/ai-stream", streamHandler.AIStream)

	// Dashboard API
	apiGroup := r.Group("/api")
	{
		apiGroup.GET("/conversations", dashboardHandler.GetConversations)
		apiGroup.GET("/conversations/:id/messages", dashboardHandler.GetConversationMessages)
		apiGroup.GET("/contacts", dashboardHandler.GetContacts)
		apiGroup.POST("/send", dashboardHandler.SendMessage)
	}

	// Dashboard realtime feed
	r.GET("/ws", func(c *gin.Context) {
		hub.ServeWs(c.Writer, c.Request)
	})

	// Relayed media
	r.Static("/media", cfg.StorageDir)

	log.Printf("Server starting on port %s", cfg.Port)
	if err := r.Run(":" + cfg.Port); err != nil {
		log.Fatalf("Failed to run server: %v", err)
	}
}
