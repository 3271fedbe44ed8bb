package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"document-qa/internal/helper"
	"document-qa/internal/models"
)

type queryRequest struct {
	Question string `json:"question"`
}

type queryResponse struct {
	*models.QueryResponse
	AnswerHTML string `json:"answerHtml,omitempty"`
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) upload(c *gin.Context) {
	if s.config.MaxUploadBytes > 0 {
		if c.Request.ContentLength > s.config.MaxUploadBytes {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Error processing file", "reason": "too_large"})
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.config.MaxUploadBytes)
	}

	fh, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Error processing file", "reason": "too_large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "No file uploaded", "reason": "invalid_input"})
		return
	}

	f, err := fh.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Error processing file", "reason": "invalid_input"})
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Error processing file", "reason": "invalid_input"})
		return
	}

	result, err := s.pipeline.Ingest(c.Request.Context(), models.IngestRequest{
		Filename: fh.Filename,
		MIMEType: fh.Header.Get("Content-Type"),
		Data:     data,
	})
	if err != nil {
		body := gin.H{
			"error":     "Error processing file",
			"reason":    models.Reason(err),
			"retryable": models.Retryable(err),
		}
		var pe *models.PartialUpsertError
		if errors.As(err, &pe) {
			body["writtenIds"] = pe.Written
		}
		c.JSON(ingestStatus(err), body)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":    "File processed successfully",
		"documentId": result.Document.ID,
		"chunkCount": result.ChunkCount,
		"indexedIds": result.IndexedIDs,
	})
}

func (s *Server) query(c *gin.Context) {
	var req queryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "reason": "invalid_input", "retryable": false})
		return
	}

	resp, err := s.pipeline.Query(c.Request.Context(), models.QueryRequest{Question: req.Question})
	if err != nil {
		c.JSON(queryStatus(err), queryFailure(err))
		return
	}

	out := queryResponse{QueryResponse: resp}
	if c.Query("format") == "html" {
		html, err := helper.RenderMarkdown(resp.Answer)
		if err != nil {
			log.Warn().Err(err).Msg("failed to render answer")
		}
		out.AnswerHTML = html
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) listDocuments(c *gin.Context) {
	docs, err := s.pipeline.ListDocuments(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error listing documents", "reason": models.Reason(err)})
		return
	}
	if docs == nil {
		docs = []*models.Document{}
	}
	c.JSON(http.StatusOK, docs)
}

func (s *Server) getDocument(c *gin.Context) {
	doc, err := s.pipeline.GetDocument(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(documentStatus(err), gin.H{"error": "Error fetching document", "reason": models.Reason(err)})
		return
	}
	c.JSON(http.StatusOK, doc)
}

func (s *Server) deleteDocument(c *gin.Context) {
	id := c.Param("id")
	if err := s.pipeline.DeleteDocument(c.Request.Context(), id); err != nil {
		c.JSON(documentStatus(err), gin.H{
			"error":     "Error deleting document",
			"reason":    models.Reason(err),
			"retryable": models.Retryable(err),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Document deleted", "documentId": id})
}

func queryFailure(err error) gin.H {
	body := gin.H{
		"error":     "Error processing query",
		"reason":    models.Reason(err),
		"retryable": models.Retryable(err),
	}
	var ge *models.GenerationError
	if errors.As(err, &ge) {
		body["hint"] = ge.Hint()
		body["details"] = ge.Detail
	}
	return body
}

func ingestStatus(err error) int {
	switch {
	case errors.Is(err, models.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, models.ErrUnsupportedFormat),
		errors.Is(err, models.ErrExtractionFailed),
		errors.Is(err, models.ErrEncoding),
		errors.Is(err, models.ErrEmptyDocument),
		errors.Is(err, models.ErrInvalidInput):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func queryStatus(err error) int {
	switch {
	case errors.Is(err, models.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, models.ErrEmbeddingFailed),
		errors.Is(err, models.ErrIndexQueryFailed),
		errors.Is(err, models.ErrGenerationFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func documentStatus(err error) int {
	if errors.Is(err, models.ErrNotFound) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}
