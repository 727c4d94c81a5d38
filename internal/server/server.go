package server

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"strings"
	"time"

	"bluff-master/internal/config"
	"bluff-master/internal/game"
	"bluff-master/internal/images"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type Server struct {
	engine  *game.Engine
	hub     *Hub
	blobs   images.BlobStore
	tokens  *tokenIssuer
	limiter *rateLimiter
	cfg     config.Config
	log     zerolog.Logger
	newID   func() string
	now     func() time.Time
}

// New wires the HTTP surface around an engine. hub must be the broadcaster
// (or part of the fanout) the engine publishes to.
func New(engine *game.Engine, hub *Hub, blobs images.BlobStore, cfg config.Config, log zerolog.Logger) *Server {
	if blobs == nil {
		blobs = images.NewMemoryBlobs()
	}
	registerValidators()
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = randomSecret()
		log.Warn().Msg("JWT_SECRET is not set, tokens will not survive a restart")
	}
	return &Server{
		engine:  engine,
		hub:     hub,
		blobs:   blobs,
		tokens:  newTokenIssuer(cfg.JWTSecret, cfg.TokenTTL),
		limiter: newRateLimiter(cfg.RateLimitPerSecond, cfg.RateLimitBurst),
		cfg:     cfg,
		log:     log,
		newID:   uuid.NewString,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(s.log))
	r.Use(cors.New(corsConfig(s.cfg.CORSOrigins)))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")
	limited := s.limiter.middleware()
	auth := s.requirePlayer()

	api.POST("/rooms", limited, s.handleCreateRoom)
	api.POST("/rooms/join", limited, s.handleJoinRoom)
	api.GET("/rooms/code/:code", s.handleGetRoomByCode)
	api.GET("/rooms/code/:code/qr", s.handleJoinQR)

	rooms := api.Group("/rooms/:roomID")
	rooms.GET("", s.handleGetRoom)
	rooms.GET("/rounds/current", s.handleCurrentRound)
	member := rooms.Group("", auth, s.requireRoomMember())
	member.POST("/ready", s.handleSetReady)
	member.PUT("/nickname", s.handleRename)
	member.POST("/kick", s.handleKick)
	member.POST("/start", s.handleStartGame)
	member.POST("/leave", s.handleLeave)
	member.POST("/rounds", s.handleStartRound)

	rounds := api.Group("/rounds/:roundID")
	rounds.GET("", s.handleGetRound)
	roundMember := rounds.Group("", auth, s.requireRoundMember())
	roundMember.POST("/advance", s.handleAdvancePhase)
	roundMember.POST("/voting", s.handleStartVoting)
	roundMember.POST("/votes", s.handleSubmitVote)
	roundMember.POST("/reveal", s.handleRevealResult)
	roundMember.POST("/finish", s.handleFinishRound)

	players := api.Group("/players", auth)
	players.GET("/me", s.handleGetSelf)
	players.POST("/images", limited, s.handleUploadImages)
	players.DELETE("/images", s.handleRemoveImage)
	players.DELETE("/images/all", s.handleClearImages)
	players.POST("/disconnect", s.handleDisconnect)
	players.POST("/reconnect", s.handleReconnect)

	api.GET("/images/:imageID", s.handleServeImage)

	r.GET("/ws/rooms/:roomID", s.handleWebsocket)
	return r
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type", "Origin"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	for _, origin := range origins {
		if strings.TrimSpace(origin) == "*" {
			cfg.AllowOriginFunc = func(string) bool { return true }
			return cfg
		}
	}
	cfg.AllowOrigins = origins
	return cfg
}

func (s *Server) imageURL(id string) string {
	return strings.TrimRight(s.cfg.PublicURL, "/") + "/api/images/" + id
}

func (s *Server) joinURL(code string) string {
	return strings.TrimRight(s.cfg.PublicURL, "/") + "/join/" + code
}

func randomSecret() string {
	buf := make([]byte, 32)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}
