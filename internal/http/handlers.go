package http

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/fyrsmithlabs/docsearch/internal/pipeline"
	"github.com/fyrsmithlabs/docsearch/internal/reader"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// UploadSuccess is the status reported by a successful ingest.
const UploadSuccess = "Documents uploaded successfully"

// IngestResponse is the response body for POST /ingest/.
type IngestResponse struct {
	Status string   `json:"status"`
	IDs    []string `json:"ids"`
}

// QueryResponse is the response body for GET /query/.
type QueryResponse struct {
	Results []pipeline.QueryResult `json:"results"`
}

// DatabaseResponse is the response body for GET /database/.
type DatabaseResponse struct {
	Documents []pipeline.ListedDocument `json:"documents"`
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status    string `json:"status"`
	Documents int    `json:"documents"`
	Error     string `json:"error,omitempty"`
}

// handleIngest reads the repeated multipart field "files" and ingests it
// as one batch.
func (s *Server) handleIngest(c echo.Context) error {
	if !isMultipartContent(c.Request()) {
		return pipeline.InvalidRequest("ingest", "No files provided.", nil)
	}
	form, err := c.MultipartForm()
	if err != nil {
		var he *echo.HTTPError
		if errors.As(err, &he) {
			return he
		}
		return pipeline.InvalidRequest("ingest", fmt.Sprintf("Invalid upload: %v", err), err)
	}

	files, err := reader.ReadMultipart(form.File["files"], s.config.MaxFileSize)
	if err != nil {
		return uploadError(err)
	}

	res, err := s.service.Ingest(c.Request().Context(), files)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, IngestResponse{Status: UploadSuccess, IDs: res.IDs})
}

func uploadError(err error) error {
	if errors.Is(err, reader.ErrFileTooLarge) {
		return pipeline.InvalidRequest("read", err.Error(), err)
	}
	var ferr *reader.FileError
	if errors.As(err, &ferr) {
		return pipeline.NewError(pipeline.KindUnexpected, "read", fmt.Sprintf("File error: %v", ferr.Err), err)
	}
	return pipeline.Unexpected("read", err)
}

func (s *Server) handleQuery(c echo.Context) error {
	results, err := s.service.Query(c.Request().Context(), c.QueryParam("search_text"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, QueryResponse{Results: results})
}

// handleDatabase lists stored documents. offset and limit are optional;
// without limit every document is returned.
func (s *Server) handleDatabase(c echo.Context) error {
	offset, err := intParam(c, "offset")
	if err != nil {
		return err
	}
	limit, err := intParam(c, "limit")
	if err != nil {
		return err
	}

	docs, err := s.service.List(c.Request().Context(), pipeline.ListOptions{Offset: offset, Limit: limit})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, DatabaseResponse{Documents: docs})
}

func intParam(c echo.Context, name string) (int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, pipeline.InvalidRequest("list", fmt.Sprintf("%s must be a non-negative integer.", name), err)
	}
	return n, nil
}

// handleHealth reports 503 when the repository cannot be reached.
func (s *Server) handleHealth(c echo.Context) error {
	n, err := s.service.Count(c.Request().Context())
	if err != nil {
		s.logger.Warn(c.Request().Context(), "health check failed", zap.Error(err))
		return c.JSON(http.StatusServiceUnavailable, HealthResponse{Status: "unavailable", Error: pipeline.Message(err)})
	}
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok", Documents: n})
}
