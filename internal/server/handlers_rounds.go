package server

import (
	"net/http"

	"bluff-master/internal/game"

	"github.com/gin-gonic/gin"
)

type voteRequest struct {
	ImageURL string `json:"image_url" binding:"required"`
}

type revealResponse struct {
	Round   game.RoundView    `json:"round"`
	Results []game.VoteResult `json:"results"`
}

func (s *Server) handleStartRound(c *gin.Context) {
	round, err := s.engine.StartRound(c.Request.Context(), c.Param("roomID"))
	if err != nil {
		writeEngineError(c, err)
		return
	}
	c.JSON(http.StatusCreated, round)
}

func (s *Server) handleCurrentRound(c *gin.Context) {
	s.respondRound(c)(s.engine.CurrentRound(c.Request.Context(), c.Param("roomID")))
}

func (s *Server) handleGetRound(c *gin.Context) {
	s.respondRound(c)(s.engine.GetRound(c.Request.Context(), c.Param("roundID")))
}

func (s *Server) handleAdvancePhase(c *gin.Context) {
	s.respondRound(c)(s.engine.AdvancePhase(c.Request.Context(), c.Param("roundID")))
}

func (s *Server) handleStartVoting(c *gin.Context) {
	s.respondRound(c)(s.engine.StartVoting(c.Request.Context(), c.Param("roundID")))
}

func (s *Server) handleSubmitVote(c *gin.Context) {
	var req voteRequest
	if !bindJSON(c, &req, bindMessages{"ImageURL": {"required": "image_url is required"}}, "") {
		return
	}
	receipt, err := s.engine.SubmitVote(c.Request.Context(), c.GetString(ctxPlayerID), req.ImageURL, c.Param("roundID"))
	if err != nil {
		writeEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, receipt)
}

func (s *Server) handleRevealResult(c *gin.Context) {
	round, results, err := s.engine.RevealResult(c.Request.Context(), c.Param("roundID"))
	if err != nil {
		writeEngineError(c, err)
		return
	}
	if results == nil {
		results = []game.VoteResult{}
	}
	c.JSON(http.StatusOK, revealResponse{Round: round, Results: results})
}

func (s *Server) handleFinishRound(c *gin.Context) {
	result, err := s.engine.FinishRound(c.Request.Context(), c.Param("roundID"))
	if err != nil {
		writeEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) respondRound(c *gin.Context) func(game.RoundView, error) {
	return func(round game.RoundView, err error) {
		if err != nil {
			writeEngineError(c, err)
			return
		}
		c.JSON(http.StatusOK, round)
	}
}
