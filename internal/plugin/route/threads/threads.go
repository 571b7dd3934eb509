// Package threads serves the conversation thread endpoints: listing,
// creation, message history, and the cascading thread delete.
package threads

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	registryroute "github.com/cola-ai/knowledge-service/internal/registry/route"
	registrystore "github.com/cola-ai/knowledge-service/internal/registry/store"
	"github.com/cola-ai/knowledge-service/internal/security"
	"github.com/cola-ai/knowledge-service/internal/service"
)

func init() {
	registryroute.Register(registryroute.Plugin{
		Order: 100,
		Loader: func(r *gin.Engine) error {
			return nil // routes are mounted by the serve command after service init
		},
	})
}

// MountRoutes mounts thread routes on the given engine. Called after
// service initialization so the substrates are available.
func MountRoutes(r *gin.Engine, svc *service.Service, auth gin.HandlerFunc) {
	g := r.Group("/v1", auth)

	g.GET("/threads", func(c *gin.Context) {
		listThreads(c, svc)
	})
	g.POST("/threads", func(c *gin.Context) {
		createThread(c, svc)
	})
	g.GET("/threads/:threadId/messages", func(c *gin.Context) {
		listMessages(c, svc)
	})
	g.DELETE("/threads/:threadId", func(c *gin.Context) {
		deleteThread(c, svc)
	})
}

func listThreads(c *gin.Context, svc *service.Service) {
	username := security.GetUsername(c)
	threads, err := svc.ListThreads(c.Request.Context(), username)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": threads})
}

func createThread(c *gin.Context, svc *service.Service) {
	username := security.GetUsername(c)
	var req struct {
		Title string `json:"title"`
	}
	// An empty body is fine; a new thread starts untitled.
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	thread, err := svc.CreateThread(c.Request.Context(), username, req.Title)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, thread)
}

func listMessages(c *gin.Context, svc *service.Service) {
	username := security.GetUsername(c)
	threadID, ok := pathID(c, "threadId")
	if !ok {
		return
	}

	messages, err := svc.ListMessages(c.Request.Context(), username, threadID)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": messages})
}

func deleteThread(c *gin.Context, svc *service.Service) {
	username := security.GetUsername(c)
	threadID, ok := pathID(c, "threadId")
	if !ok {
		return
	}

	report, err := svc.DeleteThread(c.Request.Context(), username, threadID)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func pathID(c *gin.Context, param string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(param), 10, 64)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "error": "thread not found"})
		return 0, false
	}
	return id, true
}

func handleError(c *gin.Context, err error) {
	var notFound *registrystore.NotFoundError
	var validation *registrystore.ValidationError
	var conflict *registrystore.ConflictError

	switch {
	case errors.As(err, &notFound):
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "error": err.Error()})
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": err.Error(), "field": validation.Field})
	case errors.As(err, &conflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
