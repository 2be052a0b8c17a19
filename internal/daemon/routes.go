package daemon

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/caiofmo/zapdesk/internal/crm"
	"github.com/caiofmo/zapdesk/internal/inbox"
	"github.com/caiofmo/zapdesk/internal/model"
	"github.com/caiofmo/zapdesk/internal/outbound"
)

func (s *Server) registerRoutes() {
	s.router.GET("/healthz", s.handleHealth)
	s.router.GET("/status", s.handleStatus)

	s.router.GET("/conversations", s.handleListConversations)
	s.router.GET("/conversations/:id", s.handleGetConversation)
	s.router.PATCH("/conversations/:id", s.handlePatchConversation)
	s.router.POST("/conversations/:id/open", s.handleOpenConversation)
	s.router.POST("/conversations/close", s.handleCloseConversation)
	s.router.GET("/conversations/:id/messages", s.handleListMessages)
	s.router.GET("/conversations/:id/messages/:mid/media", s.handleFetchMedia)
	s.router.POST("/conversations/:id/messages", s.handleSendText)
	s.router.POST("/conversations/:id/media", s.handleSendMedia)
	s.router.POST("/conversations/:id/typing", s.handleTyping)

	s.router.GET("/tags", s.handleTags)
	s.router.GET("/agents", s.handleAgents)
	s.router.GET("/search", s.handleSearch)
	s.router.GET("/archive/conversations", s.handleArchiveConversations)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) handleStatus(c *gin.Context) {
	out := gin.H{
		"channel_state":       string(s.machine.Current()),
		"active_conversation": s.engine.Active(),
	}
	if status, err := s.crm.InstanceStatus(c.Request.Context()); err == nil {
		out["instance"] = status
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleListConversations(c *gin.Context) {
	f := crm.Filter{
		Status:     model.Status(c.Query("status")),
		Search:     c.Query("q"),
		AssigneeID: c.Query("assignee_id"),
	}
	// Refresh is fail-soft: a network error falls back to the last
	// known list instead of an empty screen.
	if err := s.store.Refresh(c.Request.Context(), f); err != nil {
		s.logger.Warn("list refresh failed, serving stale", zap.Error(err))
	}
	c.JSON(http.StatusOK, s.store.Conversations())
}

func (s *Server) handleGetConversation(c *gin.Context) {
	id := c.Param("id")
	if conv, ok := s.store.Get(id); ok {
		c.JSON(http.StatusOK, conv)
		return
	}
	// Not in the synced list (filtered out or never listed yet);
	// ask the backend directly.
	conv, err := s.crm.GetConversation(c.Request.Context(), id)
	if err != nil {
		writeAPIError(c, err)
		return
	}
	c.JSON(http.StatusOK, conv)
}

// handleFetchMedia proxies media bytes for a message. The media
// reference comes from the live thread, falling back to the archive
// for messages the server has already trimmed.
func (s *Server) handleFetchMedia(c *gin.Context) {
	id, mid := c.Param("id"), c.Param("mid")

	var mediaURL string
	for _, m := range s.rec.Messages(id) {
		if m.ID == mid && m.Media != nil {
			mediaURL = m.Media.URL
			break
		}
	}
	if mediaURL == "" {
		row, err := s.db.GetMessage(id, mid)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if row != nil {
			mediaURL = row.MediaURL
		}
	}
	if mediaURL == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "no media for message"})
		return
	}

	data, mimetype, err := s.crm.FetchMedia(c.Request.Context(), mediaURL)
	if err != nil {
		writeAPIError(c, err)
		return
	}
	c.Data(http.StatusOK, mimetype, data)
}

type patchRequest struct {
	Status     *model.Status `json:"status"`
	AssigneeID *string       `json:"assignee_id"`
	TagIDs     *[]string     `json:"tag_ids"`
}

func (s *Server) handlePatchConversation(c *gin.Context) {
	id := c.Param("id")
	var req patchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Status != nil && !req.Status.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status"})
		return
	}

	// Apply locally first so the change is visible immediately.
	s.store.ApplyLocalPatch(id, inbox.Patch{
		Status:     req.Status,
		AssigneeID: req.AssigneeID,
		TagIDs:     req.TagIDs,
	})

	updated, err := s.crm.UpdateConversation(c.Request.Context(), id, crm.ConversationPatch{
		Status:     req.Status,
		AssigneeID: req.AssigneeID,
		TagIDs:     req.TagIDs,
	})
	if err != nil {
		// Roll the optimistic patch back to server truth.
		if rerr := s.store.RefreshCurrent(c.Request.Context()); rerr != nil {
			s.logger.Warn("rollback refresh failed", zap.String("conversation", id), zap.Error(rerr))
		}
		writeAPIError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (s *Server) handleOpenConversation(c *gin.Context) {
	id := c.Param("id")
	s.engine.Open(c.Request.Context(), id)
	c.JSON(http.StatusOK, gin.H{"active": id})
}

func (s *Server) handleCloseConversation(c *gin.Context) {
	s.engine.Close()
	c.JSON(http.StatusOK, gin.H{"active": ""})
}

func (s *Server) handleListMessages(c *gin.Context) {
	id := c.Param("id")

	// before=<unix ms> pages into the local archive; without it the
	// live reconciled thread is returned.
	if before := c.Query("before"); before != "" {
		ts, err := strconv.ParseInt(before, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid before timestamp"})
			return
		}
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
		msgs, err := s.db.ListMessages(id, ts, limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, msgs)
		return
	}

	c.JSON(http.StatusOK, s.rec.Messages(id))
}

type sendTextRequest struct {
	Body string `json:"body"`
}

func (s *Server) handleSendText(c *gin.Context) {
	id := c.Param("id")
	var req sendTextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	writeSendResult(c, s.pipeline.SendText(c.Request.Context(), id, req.Body))
}

func (s *Server) handleSendMedia(c *gin.Context) {
	id := c.Param("id")
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing file part"})
		return
	}
	f, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	data, err := io.ReadAll(f)
	_ = f.Close()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	mimetype := fileHeader.Header.Get("Content-Type")
	caption := c.PostForm("caption")

	writeSendResult(c, s.pipeline.SendMedia(c.Request.Context(), id, data, mimetype, caption))
}

// writeSendResult maps a pipeline outcome to a bridge response: 202 on
// success, 400 for an empty payload, 409 when a send is already in
// flight, upstream status otherwise.
func writeSendResult(c *gin.Context, err error) {
	switch {
	case err == nil:
		c.JSON(http.StatusAccepted, gin.H{"queued": true})
	case errors.Is(err, outbound.ErrEmptyMessage):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, inbox.ErrSendInFlight):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		writeAPIError(c, err)
	}
}

func (s *Server) handleTyping(c *gin.Context) {
	s.pipeline.Typing(c.Request.Context(), c.Param("id"))
	c.Status(http.StatusNoContent)
}

func (s *Server) handleTags(c *gin.Context) {
	tags, err := s.crm.ListTags(c.Request.Context())
	if err != nil {
		// Serve the cached catalog when the CRM is unreachable.
		if cached := s.cache.Tags(); cached != nil {
			c.JSON(http.StatusOK, cached)
			return
		}
		writeAPIError(c, err)
		return
	}
	s.cache.SetTags(tags)
	c.JSON(http.StatusOK, tags)
}

func (s *Server) handleAgents(c *gin.Context) {
	agents, err := s.crm.ListAgents(c.Request.Context())
	if err != nil {
		if cached := s.cache.Agents(); cached != nil {
			c.JSON(http.StatusOK, cached)
			return
		}
		writeAPIError(c, err)
		return
	}
	s.cache.SetAgents(agents)
	c.JSON(http.StatusOK, agents)
}

func (s *Server) handleSearch(c *gin.Context) {
	q := c.Query("q")
	if q == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "q is required"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	results, err := s.db.SearchMessages(q, c.Query("conversation_id"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, results)
}

func (s *Server) handleArchiveConversations(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	list, err := s.db.ListConversations(limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, list)
}

// writeAPIError maps an upstream CRM failure onto the bridge response,
// preserving the upstream status code when known.
func writeAPIError(c *gin.Context, err error) {
	var apiErr *crm.APIError
	if errors.As(err, &apiErr) {
		c.JSON(apiErr.Status, gin.H{"error": apiErr.Error()})
		return
	}
	c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
}
