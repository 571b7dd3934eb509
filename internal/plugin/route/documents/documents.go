// Package documents serves the knowledge base endpoints: multipart
// upload into a namespace, listing, inspection, and the cascading
// document delete.
package documents

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	registryroute "github.com/cola-ai/knowledge-service/internal/registry/route"
	registrysegment "github.com/cola-ai/knowledge-service/internal/registry/segment"
	registrystore "github.com/cola-ai/knowledge-service/internal/registry/store"
	"github.com/cola-ai/knowledge-service/internal/security"
	"github.com/cola-ai/knowledge-service/internal/service"
)

func init() {
	registryroute.Register(registryroute.Plugin{
		Order: 110,
		Loader: func(r *gin.Engine) error {
			return nil // routes are mounted by the serve command after service init
		},
	})
}

// MountRoutes mounts document routes on the given engine.
func MountRoutes(r *gin.Engine, svc *service.Service, auth gin.HandlerFunc) {
	g := r.Group("/v1", auth)

	g.POST("/documents", func(c *gin.Context) {
		uploadDocument(c, svc)
	})
	g.GET("/documents", func(c *gin.Context) {
		listDocuments(c, svc)
	})
	g.GET("/documents/:documentId", func(c *gin.Context) {
		getDocument(c, svc)
	})
	g.DELETE("/documents/:documentId", func(c *gin.Context) {
		deleteDocument(c, svc)
	})
}

// uploadDocument ingests a multipart upload. The optional "threadId"
// form field scopes the document to a thread; without it the document
// lands in the caller's user-wide namespace.
func uploadDocument(c *gin.Context, svc *service.Service) {
	username := security.GetUsername(c)

	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": "multipart field \"file\" is required"})
		return
	}

	var threadID *int64
	if raw := c.PostForm("threadId"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": "invalid threadId"})
			return
		}
		threadID = &id
	}

	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	defer file.Close()

	doc, err := svc.UploadDocument(c.Request.Context(), username, threadID, fileHeader.Filename, file)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, doc)
}

func listDocuments(c *gin.Context, svc *service.Service) {
	username := security.GetUsername(c)
	query := registrystore.DocumentQuery{Username: username}

	if raw := c.Query("threadId"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": "invalid threadId"})
			return
		}
		query.ThreadID = &id
	}
	if c.Query("scope") == "user" {
		query.OnlyUserScoped = true
	}

	docs, err := svc.ListDocuments(c.Request.Context(), query)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": docs})
}

func getDocument(c *gin.Context, svc *service.Service) {
	username := security.GetUsername(c)
	documentID, ok := pathID(c, "documentId")
	if !ok {
		return
	}

	doc, segments, err := svc.GetDocument(c.Request.Context(), username, documentID)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"document": doc, "segments": segments})
}

func deleteDocument(c *gin.Context, svc *service.Service) {
	username := security.GetUsername(c)
	documentID, ok := pathID(c, "documentId")
	if !ok {
		return
	}

	report, err := svc.DeleteDocument(c.Request.Context(), username, documentID)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func pathID(c *gin.Context, param string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(param), 10, 64)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "error": "document not found"})
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
	case errors.Is(err, registrysegment.ErrEmptyContent):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"code": "empty_document", "error": err.Error()})
	case errors.Is(err, registrysegment.ErrUnsupportedFormat):
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
