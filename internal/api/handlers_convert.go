package api

import (
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"printkiosk/internal/conversion"
	"printkiosk/internal/logging"
	"printkiosk/internal/services"
)

// multipartOverhead is the allowance for multipart framing on top of the
// document size limit.
const multipartOverhead = 1 << 20

// handleConvert accepts either a multipart upload in the "file" field or a
// JSON body naming a local file.
func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	if s.deps.Converter == nil {
		s.unavailable(w, r, "conversion")
		return
	}
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	var req conversion.Request
	switch mediaType {
	case "multipart/form-data":
		r.Body = http.MaxBytesReader(w, r.Body, s.deps.Converter.MaxInputBytes()+multipartOverhead)
		part, err := filePart(r)
		if err != nil {
			s.writeServiceError(w, r, "invalid upload", err)
			return
		}
		defer part.Close()
		req = conversion.Request{
			SourceReader:     part,
			OriginalFileName: filepath.Base(part.FileName()),
			DeclaredMimeType: part.Header.Get("Content-Type"),
		}
	case "application/json", "":
		var body ConvertRequest
		if err := s.decodeJSON(w, r, &body); err != nil {
			s.writeServiceError(w, r, "invalid request", err)
			return
		}
		if strings.TrimSpace(body.FilePath) == "" {
			s.writeServiceError(w, r, "invalid request",
				services.Wrap(services.ErrValidation, "api", "convert", "filePath is required", nil))
			return
		}
		source, err := confineIntakePath(body.FilePath, s.deps.IntakeRoots)
		if err != nil {
			s.writeServiceError(w, r, "invalid request", err)
			return
		}
		req = conversion.Request{SourcePath: source, OriginalFileName: body.FileName}
	default:
		s.writeError(w, r, http.StatusUnsupportedMediaType, "unsupported content type "+mediaType, nil)
		return
	}

	result, err := s.deps.Converter.Convert(r.Context(), req)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			err = services.Wrap(services.ErrTooLarge, "api", "convert", "upload exceeds size limit", err)
		}
		s.writeServiceError(w, r, "could not convert document", err)
		return
	}
	if result.UsedFallback {
		logging.WithContext(r.Context(), s.logger).Info("document converted in degraded mode",
			logging.String(logging.FieldFileName, req.OriginalFileName),
			logging.Int("page_count", result.PageCount),
		)
	}
	s.writeJSON(w, r, http.StatusOK, ConvertResponse{
		Status:       StatusSuccess,
		PDFURL:       result.URL,
		PageCount:    result.PageCount,
		UsedFallback: result.UsedFallback,
		Engine:       result.Engine,
		DurationMs:   result.Duration.Milliseconds(),
	})
}

// filePart streams to the "file" field without buffering the upload.
func filePart(r *http.Request) (*multipart.Part, error) {
	reader, err := r.MultipartReader()
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "api", "convert", "malformed multipart body", err)
	}
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			return nil, services.Wrap(services.ErrValidation, "api", "convert", `multipart field "file" is required`, nil)
		}
		if err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				return nil, services.Wrap(services.ErrTooLarge, "api", "convert", "upload exceeds size limit", err)
			}
			return nil, services.Wrap(services.ErrValidation, "api", "convert", "malformed multipart body", err)
		}
		if part.FormName() == "file" && part.FileName() != "" {
			return part, nil
		}
		_ = part.Close()
	}
}

// confineIntakePath resolves symlinks in path and requires the result to sit
// below one of roots.
func confineIntakePath(path string, roots []string) (string, error) {
	path = strings.TrimSpace(path)
	if !filepath.IsAbs(path) {
		return "", services.Wrap(services.ErrValidation, "api", "convert", "filePath must be absolute", nil)
	}
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		return "", services.Wrap(services.ErrValidation, "api", "convert", "filePath is not readable", err)
	}
	for _, root := range roots {
		if strings.TrimSpace(root) == "" {
			continue
		}
		base, err := filepath.EvalSymlinks(root)
		if err != nil {
			base = filepath.Clean(root)
		}
		rel, err := filepath.Rel(base, resolved)
		if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			continue
		}
		return resolved, nil
	}
	return "", services.Wrap(services.ErrValidation, "api", "convert", "filePath is outside the intake directories", nil)
}
