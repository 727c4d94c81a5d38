package server

import (
	"net/http"

	"bluff-master/internal/game"

	"github.com/gin-gonic/gin"
	"github.com/skip2/go-qrcode"
)

const qrSize = 320

type createRoomRequest struct {
	Nickname   string `json:"nickname" binding:"required,nickname"`
	Mode       string `json:"mode" binding:"required,gamemode"`
	MaxPlayers int    `json:"max_players" binding:"required"`
}

type joinRoomRequest struct {
	Code     string `json:"code" binding:"required,roomcode"`
	Nickname string `json:"nickname" binding:"required,nickname"`
}

type readyRequest struct {
	Ready *bool `json:"ready" binding:"required"`
}

type renameRequest struct {
	Nickname string `json:"nickname" binding:"required,nickname"`
}

type kickRequest struct {
	PlayerID string `json:"player_id" binding:"required"`
}

type sessionResponse struct {
	Room   game.RoomView   `json:"room"`
	Player game.PlayerView `json:"player"`
	Token  string          `json:"token"`
}

var nicknameMessages = bindMessages{
	"Nickname": {
		"required": "nickname is required",
		"nickname": "nickname must be 1 to 20 printable characters",
	},
	"Mode": {
		"required": "mode is required",
		"gamemode": "mode must be NORMAL or QUICK",
	},
	"MaxPlayers": {"required": "max_players is required"},
	"Code": {
		"required": "code is required",
		"roomcode": "code must be 6 characters",
	},
}

func (s *Server) handleCreateRoom(c *gin.Context) {
	var req createRoomRequest
	if !bindJSON(c, &req, nicknameMessages, "invalid room settings") {
		return
	}
	room, player, err := s.engine.CreateRoom(c.Request.Context(), req.Nickname, game.GameMode(req.Mode), req.MaxPlayers)
	if err != nil {
		writeEngineError(c, err)
		return
	}
	s.writeSession(c, http.StatusCreated, room, player)
}

func (s *Server) handleJoinRoom(c *gin.Context) {
	var req joinRoomRequest
	if !bindJSON(c, &req, nicknameMessages, "invalid join request") {
		return
	}
	room, player, err := s.engine.JoinRoom(c.Request.Context(), req.Code, req.Nickname)
	if err != nil {
		writeEngineError(c, err)
		return
	}
	s.writeSession(c, http.StatusOK, room, player)
}

func (s *Server) writeSession(c *gin.Context, status int, room game.RoomView, player game.PlayerView) {
	token, err := s.tokens.Issue(player.ID, room.ID)
	if err != nil {
		c.Error(err)
		writeError(c, http.StatusInternalServerError, "internal", "could not issue player token")
		return
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(tokenCookie, token, int(s.cfg.TokenTTL.Seconds()), "/", "", false, true)
	c.JSON(status, sessionResponse{Room: room, Player: player, Token: token})
}

func (s *Server) handleGetRoom(c *gin.Context) {
	room, err := s.engine.GetRoom(c.Request.Context(), c.Param("roomID"))
	if err != nil {
		writeEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, room)
}

func (s *Server) handleGetRoomByCode(c *gin.Context) {
	room, err := s.engine.GetRoomByCode(c.Request.Context(), c.Param("code"))
	if err != nil {
		writeEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, room)
}

// handleJoinQR renders a PNG QR code pointing at the join page of an open room.
func (s *Server) handleJoinQR(c *gin.Context) {
	room, err := s.engine.GetRoomByCode(c.Request.Context(), c.Param("code"))
	if err != nil {
		writeEngineError(c, err)
		return
	}
	png, err := qrcode.Encode(s.joinURL(room.Code), qrcode.Medium, qrSize)
	if err != nil {
		c.Error(err)
		writeError(c, http.StatusInternalServerError, "internal", "could not render qr code")
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/png", png)
}

func (s *Server) handleSetReady(c *gin.Context) {
	var req readyRequest
	if !bindJSON(c, &req, bindMessages{"Ready": {"required": "ready is required"}}, "") {
		return
	}
	s.respondRoom(c)(s.engine.SetReady(c.Request.Context(), c.GetString(ctxPlayerID), *req.Ready))
}

func (s *Server) handleRename(c *gin.Context) {
	var req renameRequest
	if !bindJSON(c, &req, nicknameMessages, "") {
		return
	}
	s.respondRoom(c)(s.engine.Rename(c.Request.Context(), c.GetString(ctxPlayerID), req.Nickname))
}

func (s *Server) handleKick(c *gin.Context) {
	var req kickRequest
	if !bindJSON(c, &req, bindMessages{"PlayerID": {"required": "player_id is required"}}, "") {
		return
	}
	room, err := s.engine.Kick(c.Request.Context(), c.GetString(ctxPlayerID), req.PlayerID)
	if err != nil {
		writeEngineError(c, err)
		return
	}
	s.dropBlobs(c, req.PlayerID)
	c.JSON(http.StatusOK, room)
}

func (s *Server) handleStartGame(c *gin.Context) {
	s.respondRoom(c)(s.engine.StartGame(c.Request.Context(), c.GetString(ctxPlayerID)))
}

func (s *Server) handleLeave(c *gin.Context) {
	playerID := c.GetString(ctxPlayerID)
	room, err := s.engine.Leave(c.Request.Context(), playerID)
	if err != nil {
		writeEngineError(c, err)
		return
	}
	s.dropBlobs(c, playerID)
	c.SetCookie(tokenCookie, "", -1, "/", "", false, true)
	c.JSON(http.StatusOK, room)
}

func (s *Server) respondRoom(c *gin.Context) func(game.RoomView, error) {
	return func(room game.RoomView, err error) {
		if err != nil {
			writeEngineError(c, err)
			return
		}
		c.JSON(http.StatusOK, room)
	}
}

func (s *Server) dropBlobs(c *gin.Context, playerID string) {
	if err := s.blobs.DeleteByPlayer(c.Request.Context(), playerID); err != nil {
		s.log.Warn().Err(err).Str("player_id", playerID).Msg("delete player images")
	}
}
