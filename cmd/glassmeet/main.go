package main

import (
	"log"

	"github.com/gin-gonic/gin"

	"github.com/Imok282/glassmeet/config"
	"github.com/Imok282/glassmeet/internal/handlers"
	"github.com/Imok282/glassmeet/internal/middleware"
	"github.com/Imok282/glassmeet/internal/presence"
	"github.com/Imok282/glassmeet/internal/redis"
	"github.com/Imok282/glassmeet/internal/relay"
	"github.com/Imok282/glassmeet/internal/store"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Connect to Redis. Chat and letters degrade to an in-memory buffer when
	// it is unavailable, so a failed connection is not fatal.
	if err := redis.Connect(cfg.Redis); err != nil {
		log.Printf("Redis unavailable, running with in-memory persistence: %v", err)
	} else {
		log.Println("Redis connection established")
		defer redis.Close()
	}

	// Relay wiring: fabric first, then the presence registry publishing full
	// snapshots through it, then the relay on top of both.
	fabric := relay.NewFabric()
	registry := presence.NewRegistry(relay.SnapshotPublisher(fabric))
	messageStore := store.New(redis.GetClient())
	rly := relay.New(registry, fabric, messageStore)

	// Setup Gin router
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()

	// Global CORS middleware (runs before routing)
	router.Use(handlers.OriginFilter(cfg.AllowedOrigins))

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// Room management API (authenticated)
	apiGroup := router.Group("/api")
	{
		// Login endpoint (public)
		apiGroup.POST("/auth/login", handlers.Login(cfg.JWTSecret))

		// Create room (requires JWT)
		apiGroup.POST("/rooms", middleware.JWTAuth(cfg.JWTSecret), handlers.CreateRoom)

		// Get room info (public)
		apiGroup.GET("/rooms/:roomId", handlers.GetRoom(fabric))

		// ICE configuration for clients (public)
		apiGroup.GET("/ice-servers", func(c *gin.Context) {
			c.JSON(200, gin.H{"stunServers": cfg.STUNServers})
		})

		// Delete room metadata (requires JWT, creator only)
		apiGroup.DELETE("/rooms/:roomId", middleware.JWTAuth(cfg.JWTSecret), handlers.DeleteRoom)
	}

	// WebSocket signaling endpoint; rooms are joined over the socket
	router.GET("/ws", handlers.HandleSignaling(rly))

	// Start server
	log.Printf("Starting glassmeet relay on port %s", cfg.Port)
	if err := router.Run(":" + cfg.Port); err != nil {
		log.Fatal("Failed to start server:", err)
	}
}
