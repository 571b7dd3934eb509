// Package chat serves the question answering endpoint. Answers stream
// as server-sent events when the client asks for them and fall back to
// a single JSON response otherwise.
package chat

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	registryroute "github.com/cola-ai/knowledge-service/internal/registry/route"
	registrystore "github.com/cola-ai/knowledge-service/internal/registry/store"
	"github.com/cola-ai/knowledge-service/internal/security"
	"github.com/cola-ai/knowledge-service/internal/service"
)

func init() {
	registryroute.Register(registryroute.Plugin{
		Order: 120,
		Loader: func(r *gin.Engine) error {
			return nil // routes are mounted by the serve command after service init
		},
	})
}

// MountRoutes mounts the chat route on the given engine.
func MountRoutes(r *gin.Engine, svc *service.Service, auth gin.HandlerFunc) {
	g := r.Group("/v1", auth)

	g.POST("/chat", func(c *gin.Context) {
		ask(c, svc)
	})
}

type askRequest struct {
	Question string `json:"question"`
	ThreadID *int64 `json:"threadId"`
}

func ask(c *gin.Context, svc *service.Service) {
	username := security.GetUsername(c)

	var req askRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	acceptsSSE := strings.Contains(strings.ToLower(c.GetHeader("Accept")), "text/event-stream")
	if acceptsSSE {
		askStream(c, svc, username, req)
		return
	}

	result, err := svc.Ask(c.Request.Context(), username, req.ThreadID, req.Question, nil)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"threadId": result.Thread.ID,
		"answer":   result.Answer.Text,
		"tier":     result.Answer.Tier,
		"degraded": result.Answer.Degraded,
	})
}

// askStream streams the answer as SSE. Each token batch arrives as a
// "delta" event; the terminal "done" event carries the thread id and
// tier so a client that started a fresh thread learns where it lives.
func askStream(c *gin.Context, svc *service.Service, username string, req askRequest) {
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Flush()

	result, err := svc.Ask(c.Request.Context(), username, req.ThreadID, req.Question, func(delta string) error {
		writeEvent(c, "delta", gin.H{"delta": delta})
		return nil
	})
	if err != nil {
		writeEvent(c, "error", gin.H{"error": sseErrorMessage(err)})
		return
	}

	writeEvent(c, "done", gin.H{
		"threadId": result.Thread.ID,
		"tier":     result.Answer.Tier,
		"degraded": result.Answer.Degraded,
	})
}

func writeEvent(c *gin.Context, event string, payload gin.H) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", event, data)
	c.Writer.Flush()
}

// sseErrorMessage keeps internal failures opaque on the wire while
// letting expected errors through verbatim.
func sseErrorMessage(err error) string {
	var notFound *registrystore.NotFoundError
	var validation *registrystore.ValidationError
	if errors.As(err, &notFound) || errors.As(err, &validation) {
		return err.Error()
	}
	return "internal server error"
}

func handleError(c *gin.Context, err error) {
	var notFound *registrystore.NotFoundError
	var validation *registrystore.ValidationError

	switch {
	case errors.As(err, &notFound):
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "error": err.Error()})
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": err.Error(), "field": validation.Field})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
