package server

import (
	"errors"
	"net/http"
	"strings"

	"bluff-master/internal/game"
	"bluff-master/internal/images"

	"github.com/gin-gonic/gin"
)

const maxUploadBatch = 12

type uploadImagesRequest struct {
	Images []string `json:"images" binding:"required,min=1,max=12,dive,required"`
}

type removeImageRequest struct {
	ImageURL string `json:"image_url" binding:"required"`
}

var uploadMessages = bindMessages{
	"Images": {
		"required": "images are required",
		"min":      "at least one image is required",
		"max":      "at most 12 images per upload",
	},
}

func (s *Server) handleGetSelf(c *gin.Context) {
	player, err := s.engine.GetPlayer(c.Request.Context(), c.GetString(ctxPlayerID))
	if err != nil {
		writeEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, player)
}

// handleUploadImages stores base64 photos as blobs and adds their URLs to the
// caller's pool. Nothing is kept when any image is rejected.
func (s *Server) handleUploadImages(c *gin.Context) {
	var req uploadImagesRequest
	if !bindJSON(c, &req, uploadMessages, "invalid upload") {
		return
	}
	ctx := c.Request.Context()
	playerID := c.GetString(ctxPlayerID)

	decoded := make([]images.Blob, 0, min(len(req.Images), maxUploadBatch))
	for _, raw := range req.Images {
		data, contentType, err := images.Decode(raw, s.cfg.MaxImageBytes)
		if err != nil {
			status := http.StatusUnprocessableEntity
			if errors.Is(err, images.ErrImageTooLarge) {
				status = http.StatusRequestEntityTooLarge
			}
			writeError(c, status, game.ErrInvalidInput.Code, err.Error())
			return
		}
		decoded = append(decoded, images.Blob{
			ID:          s.newID(),
			PlayerID:    playerID,
			ContentType: contentType,
			Data:        data,
			CreatedAt:   s.now(),
		})
	}

	urls := make([]string, 0, len(decoded))
	stored := make([]string, 0, len(decoded))
	for _, blob := range decoded {
		if err := s.blobs.Put(ctx, blob); err != nil {
			s.discardBlobs(c, stored)
			c.Error(err)
			writeError(c, http.StatusServiceUnavailable, game.ErrStoreFailure.Code, "could not store image")
			return
		}
		stored = append(stored, blob.ID)
		urls = append(urls, s.imageURL(blob.ID))
	}

	player, err := s.engine.AddImages(ctx, playerID, urls)
	if err != nil {
		s.discardBlobs(c, stored)
		writeEngineError(c, err)
		return
	}
	c.JSON(http.StatusCreated, player)
}

func (s *Server) handleRemoveImage(c *gin.Context) {
	var req removeImageRequest
	if !bindJSON(c, &req, bindMessages{"ImageURL": {"required": "image_url is required"}}, "") {
		return
	}
	player, err := s.engine.RemoveImage(c.Request.Context(), c.GetString(ctxPlayerID), req.ImageURL)
	if err != nil {
		writeEngineError(c, err)
		return
	}
	if id, ok := s.blobID(req.ImageURL); ok {
		s.discardBlobs(c, []string{id})
	}
	c.JSON(http.StatusOK, player)
}

func (s *Server) handleClearImages(c *gin.Context) {
	playerID := c.GetString(ctxPlayerID)
	player, err := s.engine.ClearImages(c.Request.Context(), playerID)
	if err != nil {
		writeEngineError(c, err)
		return
	}
	s.dropBlobs(c, playerID)
	c.JSON(http.StatusOK, player)
}

func (s *Server) handleServeImage(c *gin.Context) {
	blob, err := s.blobs.Get(c.Request.Context(), c.Param("imageID"))
	if errors.Is(err, images.ErrBlobNotFound) {
		writeError(c, http.StatusNotFound, game.ErrImageNotFound.Code, "image not found")
		return
	}
	if err != nil {
		c.Error(err)
		writeError(c, http.StatusServiceUnavailable, game.ErrStoreFailure.Code, "could not load image")
		return
	}
	c.Header("Cache-Control", "private, max-age=86400")
	c.Data(http.StatusOK, blob.ContentType, blob.Data)
}

func (s *Server) handleDisconnect(c *gin.Context) {
	if err := s.engine.HandleDisconnect(c.Request.Context(), c.GetString(ctxPlayerID)); err != nil {
		writeEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"online": false})
}

func (s *Server) handleReconnect(c *gin.Context) {
	view, err := s.engine.HandleReconnect(c.Request.Context(), c.GetString(ctxPlayerID))
	if err != nil {
		writeEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (s *Server) blobID(url string) (string, bool) {
	id, ok := strings.CutPrefix(url, s.imageURL(""))
	return id, ok && id != ""
}

func (s *Server) discardBlobs(c *gin.Context, ids []string) {
	for _, id := range ids {
		if err := s.blobs.Delete(c.Request.Context(), id); err != nil {
			s.log.Warn().Err(err).Str("image_id", id).Msg("discard image")
		}
	}
}
