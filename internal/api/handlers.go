package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"docpipe/internal/journal"
	"docpipe/internal/logger"
	"docpipe/internal/models"
	"docpipe/internal/pipeline"
)

// Pipeline is the request-processing collaborator behind the HTTP surface.
type Pipeline interface {
	Inlet(ctx context.Context, req pipeline.InletRequest) ([]models.Message, error)
	Complete(ctx context.Context, messages []models.Message, stream bool, callback func(chunk string) error) (string, error)
}

// Auditor exposes the extraction journal to the read endpoint. Nil-able.
type Auditor interface {
	ListRecent(ctx context.Context, key models.SessionKey, limit int) ([]journal.Entry, error)
}

// Handler wires HTTP routes to the document pipeline.
type Handler struct {
	pipeline Pipeline
	auditor  Auditor
	apiKey   string
}

// NewHandler constructs a Handler instance.
func NewHandler(p Pipeline, auditor Auditor, apiKey string) *Handler {
	return &Handler{
		pipeline: p,
		auditor:  auditor,
		apiKey:   apiKey,
	}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.Use(requestIDMiddleware())
	router.GET("/healthz", h.health)

	v1 := router.Group("/v1")
	v1.Use(h.authMiddleware())
	v1.POST("/inlet", h.inlet)
	v1.POST("/chat/completions", h.chatCompletions)
	v1.GET("/sessions/:user_id/:chat_id/extractions", h.listExtractions)
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// hostFile is the attachment shape the chat host posts alongside a message.
type hostFile struct {
	ID   string `json:"id"`
	URL  string `json:"url"`
	Name string `json:"name"`
	File struct {
		ID   string `json:"id"`
		Meta struct {
			ContentType string `json:"content_type"`
		} `json:"meta"`
	} `json:"file"`
}

func (f hostFile) descriptor() models.FileDescriptor {
	fd := models.FileDescriptor{
		FileID:      f.ID,
		URL:         f.URL,
		DisplayName: f.Name,
		ContentType: f.File.Meta.ContentType,
	}
	if fd.FileID == "" {
		fd.FileID = f.File.ID
	}
	return fd
}

type inletRequest struct {
	// Metadata is the host's envelope; the flat fields below are accepted as
	// a fallback for hosts that do not send one.
	Metadata struct {
		UserID    string `json:"user_id"`
		ChatID    string `json:"chat_id"`
		MessageID string `json:"message_id"`
	} `json:"metadata"`
	User struct {
		ID string `json:"id"`
	} `json:"user"`
	ChatID    string           `json:"chat_id"`
	MessageID string           `json:"id"`
	Messages  []models.Message `json:"messages"`
	Files     []hostFile       `json:"files"`
}

func (r inletRequest) toPipeline() pipeline.InletRequest {
	files := make([]models.FileDescriptor, 0, len(r.Files))
	for _, f := range r.Files {
		files = append(files, f.descriptor())
	}
	key := models.SessionKey{UserID: r.Metadata.UserID, ChatID: r.Metadata.ChatID}
	if key.UserID == "" {
		key.UserID = r.User.ID
	}
	if key.ChatID == "" {
		key.ChatID = r.ChatID
	}
	messageID := r.Metadata.MessageID
	if messageID == "" {
		messageID = r.MessageID
	}
	return pipeline.InletRequest{
		Key:       key,
		MessageID: messageID,
		Files:     files,
		Messages:  r.Messages,
	}
}

// inlet processes attachments and returns the rehydrated message history
// without invoking the model.
func (h *Handler) inlet(c *gin.Context) {
	var req inletRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	messages, err := h.pipeline.Inlet(c.Request.Context(), req.toPipeline())
	if err != nil {
		h.logError(c, err, "inlet processing failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

func (h *Handler) logError(c *gin.Context, err error, msg string) {
	ev := logger.Error().Err(err)
	if requestID, ok := RequestIDFromContext(c); ok {
		ev = ev.Str("request_id", requestID)
	}
	ev.Msg(msg)
}

type completionRequest struct {
	inletRequest
	Model  string `json:"model"`
	Stream bool   `json:"stream"`
}

// chatCompletions runs inlet processing and then invokes the model over the
// rehydrated history. stream:true answers with SSE chunks.
func (h *Handler) chatCompletions(c *gin.Context) {
	var req completionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	messages, err := h.pipeline.Inlet(c.Request.Context(), req.toPipeline())
	if err != nil {
		h.logError(c, err, "inlet processing failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if !req.Stream {
		content, err := h.pipeline.Complete(c.Request.Context(), messages, false, nil)
		if err != nil {
			h.logError(c, err, "completion failed")
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"model": req.Model,
			"message": gin.H{
				"role":    models.RoleAssistant,
				"content": content,
			},
		})
		return
	}

	streamCtx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Minute)
	defer cancel()

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return
	}
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	sendEvent := func(event string, payload interface{}) error {
		var data []byte
		switch v := payload.(type) {
		case string:
			data = []byte(v)
		default:
			var err error
			data, err = json.Marshal(v)
			if err != nil {
				return err
			}
		}
		if event != "" {
			if _, err := fmt.Fprintf(c.Writer, "event: %s\n", event); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintf(c.Writer, "data: %s\n\n", data); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	content, err := h.pipeline.Complete(streamCtx, messages, true, func(chunk string) error {
		return sendEvent("stream", gin.H{"content": chunk})
	})
	if err != nil {
		h.logError(c, err, "streamed completion failed")
		_ = sendEvent("error", gin.H{"message": err.Error()})
		return
	}
	_ = sendEvent("done", gin.H{
		"model": req.Model,
		"message": gin.H{
			"role":    models.RoleAssistant,
			"content": content,
		},
	})
}

// listExtractions returns the latest journal rows for a session.
func (h *Handler) listExtractions(c *gin.Context) {
	if h.auditor == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "extraction journal disabled"})
		return
	}
	key := models.SessionKey{
		UserID: strings.TrimSpace(c.Param("user_id")),
		ChatID: strings.TrimSpace(c.Param("chat_id")),
	}
	if !key.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id and chat_id are required"})
		return
	}
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if _, err := fmt.Sscanf(raw, "%d", &limit); err != nil || limit <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
	}
	entries, err := h.auditor.ListRecent(c.Request.Context(), key, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if entries == nil {
		entries = make([]journal.Entry, 0)
	}
	c.JSON(http.StatusOK, gin.H{"extractions": entries})
}
