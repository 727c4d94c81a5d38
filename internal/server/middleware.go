package server

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	tokenCookie     = "bm_token"
	ctxPlayerID     = "player_id"
	ctxRoomID       = "room_id"
	limiterIdleTime = 10 * time.Minute

	permissionDeniedCode = "permission_denied"
)

func requestLogger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := c.Writer.Status()
		event := log.Info()
		switch {
		case status >= http.StatusInternalServerError:
			event = log.Error()
		case status >= http.StatusBadRequest:
			event = log.Warn()
		}
		if len(c.Errors) > 0 {
			event = event.Str("errors", c.Errors.String())
		}
		if playerID := c.GetString(ctxPlayerID); playerID != "" {
			event = event.Str("player_id", playerID)
		}
		event.Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Msg("request")
	}
}

func tokenFrom(c *gin.Context) string {
	if header := c.GetHeader("Authorization"); header != "" {
		if raw, ok := strings.CutPrefix(header, "Bearer "); ok {
			return strings.TrimSpace(raw)
		}
	}
	if cookie, err := c.Cookie(tokenCookie); err == nil && cookie != "" {
		return cookie
	}
	return c.Query("token")
}

// requirePlayer authenticates the caller and stores its player and room ids
// on the context.
func (s *Server) requirePlayer() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := tokenFrom(c)
		if raw == "" {
			writeError(c, http.StatusUnauthorized, "unauthenticated", "player token is required")
			return
		}
		playerID, roomID, err := s.tokens.Verify(raw)
		if err != nil {
			writeError(c, http.StatusUnauthorized, "unauthenticated", err.Error())
			return
		}
		c.Set(ctxPlayerID, playerID)
		c.Set(ctxRoomID, roomID)
		c.Next()
	}
}

func (s *Server) requireRoomMember() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Param("roomID") != c.GetString(ctxRoomID) {
			writeError(c, http.StatusForbidden, permissionDeniedCode, "token does not belong to this room")
			return
		}
		c.Next()
	}
}

func (s *Server) requireRoundMember() gin.HandlerFunc {
	return func(c *gin.Context) {
		round, err := s.engine.GetRound(c.Request.Context(), c.Param("roundID"))
		if err != nil {
			writeEngineError(c, err)
			return
		}
		if round.RoomID != c.GetString(ctxRoomID) {
			writeError(c, http.StatusForbidden, permissionDeniedCode, "token does not belong to this room")
			return
		}
		c.Next()
	}
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// rateLimiter keeps one token bucket per client IP.
type rateLimiter struct {
	mu        sync.Mutex
	visitors  map[string]*visitor
	limit     rate.Limit
	burst     int
	now       func() time.Time
	lastSweep time.Time
}

func newRateLimiter(perSecond float64, burst int) *rateLimiter {
	return &rateLimiter{
		visitors: make(map[string]*visitor),
		limit:    rate.Limit(perSecond),
		burst:    burst,
		now:      time.Now,
	}
}

func (l *rateLimiter) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if now.Sub(l.lastSweep) > limiterIdleTime {
		for k, v := range l.visitors {
			if now.Sub(v.lastSeen) > limiterIdleTime {
				delete(l.visitors, k)
			}
		}
		l.lastSweep = now
	}
	v, ok := l.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.visitors[key] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}

func (l *rateLimiter) middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.allow(c.ClientIP()) {
			writeError(c, http.StatusTooManyRequests, "rate_limited", "too many requests")
			return
		}
		c.Next()
	}
}
