package rest

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/KevinKickass/OpenSignageCore/internal/content"
	"github.com/KevinKickass/OpenSignageCore/internal/protocol"
	"github.com/KevinKickass/OpenSignageCore/internal/types"
	"github.com/gin-gonic/gin"
)

// maxUploadSize caps a single content upload.
const maxUploadSize = 256 << 20

// CreateContentRequest is the JSON form of a content upload; Data is
// base64 encoded by encoding/json.
type CreateContentRequest struct {
	content.CreateRequest
	Data []byte `json:"data"`
}

// PushRequest targets clients by id. All sends to every connected client
// and wins over ClientIDs.
type PushRequest struct {
	ClientIDs []string `json:"clientIds"`
	All       bool     `json:"all"`
}

func (s *Server) listContent(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"content": s.lm.Library().List()})
}

func (s *Server) getContent(c *gin.Context) {
	item, err := s.lm.Library().Get(c.Param("id"))
	if err != nil {
		s.fail(c, "CONTENT", err)
		return
	}
	c.JSON(http.StatusOK, item)
}

// GET /api/v1/content/:id/data
func (s *Server) getContentData(c *gin.Context) {
	item, data, err := s.lm.Library().Data(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, "CONTENT", err)
		return
	}

	mimeType := item.MimeType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	c.Header("Content-Disposition", fmt.Sprintf("inline; filename=%q", item.ID+types.FileExtension(item.MimeType)))
	c.Header("X-Content-Checksum", item.Checksum)
	c.Data(http.StatusOK, mimeType, data)
}

// POST /api/v1/content accepts multipart/form-data with a "file" part, or
// JSON with base64 data.
func (s *Server) createContent(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadSize)

	var (
		req  content.CreateRequest
		data []byte
		err  error
	)
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		req, data, err = readUpload(c)
	} else {
		var body CreateContentRequest
		err = c.ShouldBindJSON(&body)
		req, data = body.CreateRequest, body.Data
	}
	if err != nil {
		s.badRequest(c, "CONTENT", err)
		return
	}

	item, err := s.lm.Library().Create(c.Request.Context(), req, data)
	if err != nil {
		s.fail(c, "CONTENT", err)
		return
	}
	c.JSON(http.StatusCreated, item)
}

func readUpload(c *gin.Context) (content.CreateRequest, []byte, error) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return content.CreateRequest{}, nil, fmt.Errorf("file is required: %w", err)
	}

	req := content.CreateRequest{
		Name:     c.PostForm("name"),
		Type:     types.ContentType(c.PostForm("type")),
		MimeType: fileHeader.Header.Get("Content-Type"),
	}
	if req.Name == "" {
		req.Name = fileHeader.Filename
	}
	if raw := c.PostForm("durationSeconds"); raw != "" {
		if req.DurationSeconds, err = strconv.Atoi(raw); err != nil {
			return content.CreateRequest{}, nil, fmt.Errorf("durationSeconds: %w", err)
		}
	}

	f, err := fileHeader.Open()
	if err != nil {
		return content.CreateRequest{}, nil, err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return content.CreateRequest{}, nil, err
	}
	return req, data, nil
}

// PUT /api/v1/content/:id
func (s *Server) updateContent(c *gin.Context) {
	var req content.UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, "CONTENT", err)
		return
	}

	item, err := s.lm.Library().Update(c.Param("id"), req)
	if err != nil {
		s.fail(c, "CONTENT", err)
		return
	}
	c.JSON(http.StatusOK, item)
}

// PUT /api/v1/content/:id/data replaces the bytes with the raw body.
func (s *Server) replaceContentData(c *gin.Context) {
	data, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadSize))
	if err != nil {
		s.badRequest(c, "CONTENT", err)
		return
	}

	item, err := s.lm.Library().Replace(c.Request.Context(), c.Param("id"), data, c.ContentType())
	if err != nil {
		s.fail(c, "CONTENT", err)
		return
	}
	c.JSON(http.StatusOK, item)
}

func (s *Server) deleteContent(c *gin.Context) {
	if err := s.lm.Library().Delete(c.Request.Context(), c.Param("id")); err != nil {
		s.fail(c, "CONTENT", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// POST /api/v1/content/:id/push
func (s *Server) pushContent(c *gin.Context) {
	var req PushRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, "CONTENT", err)
		return
	}

	var (
		deliveries []protocol.Delivery
		err        error
	)
	if req.All {
		deliveries, err = s.lm.Library().PushAll(c.Request.Context(), c.Param("id"))
	} else {
		deliveries, err = s.lm.Library().Push(c.Request.Context(), c.Param("id"), req.ClientIDs)
	}
	if err != nil {
		s.fail(c, "CONTENT", err)
		return
	}
	c.JSON(http.StatusOK, protocol.Summarize(deliveries))
}

func (s *Server) listPlaylists(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"playlists": s.lm.Playlists().List()})
}

// GET /api/v1/playlists/active
func (s *Server) listActivePlaylists(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"playlists": s.lm.Playlists().Active()})
}

func (s *Server) getPlaylist(c *gin.Context) {
	pl, err := s.lm.Playlists().Get(c.Param("id"))
	if err != nil {
		s.fail(c, "PLAYLIST", err)
		return
	}
	c.JSON(http.StatusOK, pl)
}

func (s *Server) createPlaylist(c *gin.Context) {
	var req content.PlaylistRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, "PLAYLIST", err)
		return
	}

	pl, err := s.lm.Playlists().Create(req)
	if err != nil {
		s.fail(c, "PLAYLIST", err)
		return
	}
	c.JSON(http.StatusCreated, pl)
}

func (s *Server) updatePlaylist(c *gin.Context) {
	var req content.PlaylistUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, "PLAYLIST", err)
		return
	}

	pl, err := s.lm.Playlists().Update(c.Param("id"), req)
	if err != nil {
		s.fail(c, "PLAYLIST", err)
		return
	}
	c.JSON(http.StatusOK, pl)
}

func (s *Server) deletePlaylist(c *gin.Context) {
	if err := s.lm.Playlists().Delete(c.Param("id")); err != nil {
		s.fail(c, "PLAYLIST", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// POST /api/v1/playlists/:id/assign
func (s *Server) assignPlaylist(c *gin.Context) {
	var req PushRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, "PLAYLIST", err)
		return
	}

	clientIDs := req.ClientIDs
	if req.All {
		clientIDs = nil
		for _, client := range s.lm.Hub().List() {
			clientIDs = append(clientIDs, client.ID)
		}
	}

	deliveries, err := s.lm.Playlists().AssignToClients(c.Request.Context(), c.Param("id"), clientIDs)
	if err != nil {
		s.fail(c, "PLAYLIST", err)
		return
	}
	c.JSON(http.StatusOK, protocol.Summarize(deliveries))
}
