package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/canopylabs/cropclass/internal/apperr"
	"github.com/canopylabs/cropclass/internal/model"
)

const uploadFieldName = "image"

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	session, err := s.store.CreateSession(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := SanitizeID(chi.URLParam(r, "sessionID"))
	if id == "" {
		s.writeError(w, r, apperr.New(apperr.KindNotFound, "server: empty session id"))
		return
	}
	if err := s.store.DeleteSession(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// uploadResponse points the caller at the stored blob for a later classify
// call.
type uploadResponse struct {
	Ref       string    `json:"ref"`
	Filename  string    `json:"filename"`
	SizeBytes int64     `json:"size_bytes"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Upload.MaxBytes+1<<20)
	if err := r.ParseMultipartForm(s.cfg.Upload.MaxBytes); err != nil {
		s.writeError(w, r, apperr.Wrap(err, apperr.KindInvalidUpload, "server: parse multipart form"))
		return
	}

	file, header, err := r.FormFile(uploadFieldName)
	if err != nil {
		s.writeError(w, r, apperr.Wrap(err, apperr.KindInvalidUpload, "server: missing image field"))
		return
	}
	defer file.Close()

	if err := validateUpload(header, s.cfg.Upload); err != nil {
		s.writeError(w, r, err)
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		s.writeError(w, r, apperr.Wrap(err, apperr.KindInvalidUpload, "server: read upload body"))
		return
	}

	filename := SanitizeFilename(header.Filename)
	ttl := time.Duration(s.cfg.Upload.TTLHours) * time.Hour
	ref, err := s.store.PutUpload(r.Context(), filename, header.Header.Get("Content-Type"), data, ttl)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	zap.L().Info("image uploaded",
		zap.String("ref", ref),
		zap.String("filename", filename),
		zap.Int("size_bytes", len(data)))

	writeJSON(w, http.StatusCreated, uploadResponse{
		Ref:       ref,
		Filename:  filename,
		SizeBytes: int64(len(data)),
		ExpiresAt: time.Now().Add(ttl).UTC(),
	})
}

type classifyRequest struct {
	ImageRef    string             `json:"image_ref"`
	Coordinates *model.Coordinates `json:"coordinates,omitempty"`
	SessionID   string             `json:"session_id,omitempty"`
}

func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	var req classifyRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.ImageRef == "" {
		s.writeError(w, r, apperr.New(apperr.KindInvalidUpload, "server: image_ref is required"))
		return
	}

	result, err := s.pipeline.Run(r.Context(), SanitizeID(req.ImageRef), req.Coordinates)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if req.SessionID != "" {
		sessionID := SanitizeID(req.SessionID)
		if err := s.store.AppendResult(r.Context(), sessionID, result); err != nil {
			s.writeError(w, r, err)
			return
		}
	}

	zap.L().Info("image classified",
		zap.String("result_id", result.ID),
		zap.String("label", string(result.Outcome.Label)),
		zap.Float64("confidence", result.Outcome.Confidence),
		zap.Int("confidence_level", result.Level.Level))

	writeJSON(w, http.StatusOK, result)
}

type exportRequest struct {
	Format    string `json:"format"`
	SessionID string `json:"session_id,omitempty"`

	// Results may be supplied inline instead of a session reference.
	Results []*model.ClassificationResult `json:"results,omitempty"`
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	var req exportRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	format, err := model.ParseExportFormat(req.Format)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	results := req.Results
	if len(results) == 0 && req.SessionID != "" {
		results, err = s.store.ListResults(r.Context(), SanitizeID(req.SessionID))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
	}

	artifact, err := s.renderer.Render(format, results)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	zap.L().Info("results exported",
		zap.String("format", string(format)),
		zap.Int("results", len(results)),
		zap.Int("size_bytes", len(artifact.Bytes)))

	w.Header().Set("Content-Type", artifact.ContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+artifact.Filename+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(artifact.Bytes)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(artifact.Bytes)
}

type resultsResponse struct {
	SessionID string                        `json:"session_id"`
	Count     int                           `json:"count"`
	Results   []*model.ClassificationResult `json:"results"`
}

func (s *Server) handleListResults(w http.ResponseWriter, r *http.Request) {
	sessionID := SanitizeID(r.URL.Query().Get("session"))
	if sessionID == "" {
		s.writeError(w, r, apperr.New(apperr.KindNotFound, "server: session query parameter is required"))
		return
	}

	results, err := s.store.ListResults(r.Context(), sessionID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, resultsResponse{
		SessionID: sessionID,
		Count:     len(results),
		Results:   results,
	})
}

// decodeJSON parses the request body into dst, mapping malformed input to a
// client error.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return apperr.Wrap(err, apperr.KindInvalidUpload, "server: decode request body")
	}
	return nil
}

// writeError maps the error to a status and error code and logs server-side
// failures.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperr.HTTPStatus(err)
	code := errorCode(err)

	if status >= http.StatusInternalServerError {
		zap.L().Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
	} else {
		zap.L().Debug("request rejected",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("code", code),
			zap.Error(err))
	}

	writeErrorJSON(w, status, code, err.Error())
}

// errorCode produces the machine-readable error code for a response.
func errorCode(err error) string {
	switch apperr.KindOf(err) {
	case apperr.KindNotFound:
		return "not_found"
	case apperr.KindInvalidFeature:
		return "invalid_feature"
	case apperr.KindDomain:
		return "domain_error"
	case apperr.KindUnsupportedFormat:
		return "unsupported_format"
	case apperr.KindEmptyInput:
		return "empty_input"
	case apperr.KindInvalidUpload:
		return "invalid_upload"
	case apperr.KindRateLimited:
		return "rate_limited"
	default:
		return "internal"
	}
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("write response", zap.Error(err))
	}
}

func writeErrorJSON(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorEnvelope{Error: errorBody{Code: code, Message: message}})
}
