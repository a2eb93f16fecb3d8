package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/JonMunkholm/results-america/internal/core"
	"github.com/JonMunkholm/results-america/internal/logging"
)

var (
	errNoFile          = errors.New("no file provided")
	errInvalidMetadata = errors.New("invalid metadata")
)

// multipartOverhead leaves room for form fields and part headers on top of
// the file size limit.
const multipartOverhead = 1 << 20

// handleUpload stages a multipart upload: file, templateId, userId and an
// optional metadata field holding a JSON object.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	maxSize := s.cfg.Upload.MaxFileSize
	r.Body = http.MaxBytesReader(w, r.Body, maxSize+multipartOverhead)

	if err := r.ParseMultipartForm(maxSize); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, r, fmt.Errorf("%w: %v", core.ErrFileTooLarge, err), nil)
			return
		}
		badRequest(w, r, "Request must be multipart/form-data")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, r, errNoFile, nil)
		return
	}
	defer file.Close()

	meta, err := parseMetadata(r.FormValue("metadata"))
	if err != nil {
		respondError(w, r, err, nil)
		return
	}

	content, err := io.ReadAll(io.LimitReader(file, maxSize+1))
	if err != nil {
		respondError(w, r, fmt.Errorf("read upload: %w", err), nil)
		return
	}

	userID := r.FormValue("userId")
	if userID == "" {
		userID = r.Header.Get("X-User-ID")
	}

	result, err := s.service.UploadCSV(r.Context(), core.UploadRequest{
		Name:       r.FormValue("name"),
		Filename:   header.Filename,
		Content:    content,
		TemplateID: r.FormValue("templateId"),
		UploadedBy: userID,
		Metadata:   meta,
	})
	if err != nil {
		// An unknown template is a bad upload, not a missing resource.
		status := statusFor(err)
		if errors.Is(err, core.ErrTemplateNotFound) {
			status = http.StatusBadRequest
		}
		respondErrorStatus(w, r, err, status, nil)
		return
	}

	logging.FromContext(r.Context()).Info("upload staged",
		"import_id", result.ImportID,
		"filename", header.Filename,
		"rows", result.Stats.TotalRows,
		"duplicate_of", result.DuplicateOf,
	)
	respondOK(w, result)
}

// parseMetadata accepts any JSON object. Strings are kept as they are and
// other values are stored as their JSON text; null values are dropped.
func parseMetadata(raw string) (map[string]string, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return nil, fmt.Errorf("%w: %v", errInvalidMetadata, err)
	}
	if fields == nil {
		return nil, fmt.Errorf("%w: not an object", errInvalidMetadata)
	}

	meta := make(map[string]string, len(fields))
	for k, v := range fields {
		switch v := v.(type) {
		case nil:
		case string:
			meta[k] = v
		default:
			text, err := json.Marshal(v)
			if err != nil {
				return nil, fmt.Errorf("%w: %s: %v", errInvalidMetadata, k, err)
			}
			meta[k] = string(text)
		}
	}
	return meta, nil
}

func (s *Server) handleListImports(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	status := core.ImportStatus(q.Get("status"))
	if status != "" && !status.Valid() {
		badRequest(w, r, fmt.Sprintf("unknown import status %q", status))
		return
	}
	page, err := s.service.ListImports(r.Context(), core.ImportFilter{
		Status:     status,
		UploadedBy: q.Get("uploadedBy"),
		Page:       parseIntParam(r, "page", 1),
		PageSize:   parseIntParam(r, "pageSize", 0),
	})
	if err != nil {
		respondError(w, r, err, nil)
		return
	}
	respondOK(w, page)
}

func (s *Server) handleGetImport(w http.ResponseWriter, r *http.Request) {
	id, ok := importID(w, r)
	if !ok {
		return
	}
	detail, err := s.service.GetImport(r.Context(), id)
	if err != nil {
		respondError(w, r, err, nil)
		return
	}
	respondOK(w, detail)
}

// handleListRows pages through staged rows, optionally by validation status.
func (s *Server) handleListRows(w http.ResponseWriter, r *http.Request) {
	id, ok := importID(w, r)
	if !ok {
		return
	}
	status := core.RowStatus(r.URL.Query().Get("status"))
	switch status {
	case "", core.RowStaged, core.RowValid, core.RowInvalid:
	default:
		badRequest(w, r, fmt.Sprintf("unknown row status %q", status))
		return
	}

	rows, err := s.service.ListStagedRows(r.Context(), id, core.RowFilter{
		Status:   status,
		Page:     parseIntParam(r, "page", 1),
		PageSize: parseIntParam(r, "pageSize", 0),
	})
	if err != nil {
		respondError(w, r, err, nil)
		return
	}
	respondOK(w, rows)
}

// handleValidate answers 200 with the report whether or not the import
// passed; isValid in the report carries the outcome.
func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	id, ok := importID(w, r)
	if !ok {
		return
	}
	report, err := s.service.ValidateImport(r.Context(), id)
	if err != nil {
		respondError(w, r, err, nil)
		return
	}
	respondNotice(w, r, fmt.Sprintf("Validation %s: %d valid, %d invalid, %d with warnings",
		report.Status, report.Stats.ValidRows, report.Stats.InvalidRows, report.Stats.WarningRows), report)
}

type publishRequest struct {
	UserID string `json:"userId"`
}

func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	id, ok := importID(w, r)
	if !ok {
		return
	}

	var req publishRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			badRequest(w, r, "Body must be a JSON object with userId")
			return
		}
	}
	if req.UserID == "" {
		req.UserID = r.Header.Get("X-User-ID")
	}

	result, err := s.service.PublishImport(r.Context(), id, req.UserID)
	if err != nil {
		respondError(w, r, err, core.PublishResult{Message: err.Error()})
		return
	}
	respondNotice(w, r, result.Message, result)
}

func (s *Server) handleExportCSV(w http.ResponseWriter, r *http.Request) {
	s.exportInvalidRows(w, r, "csv", "text/csv; charset=utf-8", s.service.ExportInvalidRowsCSV)
}

func (s *Server) handleExportXLSX(w http.ResponseWriter, r *http.Request) {
	s.exportInvalidRows(w, r, "xlsx", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", s.service.ExportInvalidRowsXLSX)
}

type exportFunc func(ctx context.Context, id uuid.UUID, w io.Writer) error

// exportInvalidRows renders into a buffer first so a failed export still
// gets a JSON error instead of a truncated download.
func (s *Server) exportInvalidRows(w http.ResponseWriter, r *http.Request, ext, contentType string, export exportFunc) {
	id, ok := importID(w, r)
	if !ok {
		return
	}

	var buf bytes.Buffer
	if err := export(r.Context(), id, &buf); err != nil {
		respondError(w, r, err, nil)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="import-%s-errors.%s"`, id, ext))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	if _, err := buf.WriteTo(w); err != nil {
		logging.FromContext(r.Context()).Warn("export write failed", "import_id", id, "error", err)
	}
}

func importID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		badRequest(w, r, "Import id must be a UUID")
		return uuid.Nil, false
	}
	return id, true
}

// parseIntParam parses a positive integer query parameter, falling back to
// def when it is absent or malformed.
func parseIntParam(r *http.Request, name string, def int) int {
	val := r.URL.Query().Get(name)
	if val == "" {
		return def
	}
	i, err := strconv.Atoi(val)
	if err != nil || i < 1 {
		return def
	}
	return i
}
