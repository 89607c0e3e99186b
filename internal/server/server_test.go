package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canopylabs/cropclass/internal/classify"
	"github.com/canopylabs/cropclass/internal/config"
	"github.com/canopylabs/cropclass/internal/export"
	"github.com/canopylabs/cropclass/internal/model"
	"github.com/canopylabs/cropclass/internal/store"
)

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Port:           8080,
			AllowedOrigins: []string{"*"},
			RateLimit:      config.RateLimitConfig{RPS: 1000, Burst: 1000, MaxClients: 64},
		},
		Upload: config.UploadConfig{
			MaxBytes:          10 << 20,
			AllowedMIMETypes:  []string{"image/png", "image/jpeg", "image/tiff"},
			AllowedExtensions: []string{".png", ".jpg", ".jpeg", ".tif", ".tiff"},
			TTLHours:          24,
		},
		Classify: config.ClassifyConfig{
			GroundResolutionM: 10.0,
			Bands:             config.DefaultBands(),
		},
		Export: config.ExportConfig{FilenamePrefix: "landcover_results"},
	}
}

func newTestServer(t *testing.T, cfg *config.Config) (*Server, store.Store) {
	t.Helper()

	st := store.NewMemory(nil)
	table, err := classify.NewTierTable(config.DefaultTiers())
	require.NoError(t, err)

	pipeline := classify.NewPipeline(
		classify.NewExtractor(NewImageSource(st), cfg.Classify.GroundResolutionM),
		classify.NewPredictor(cfg.Classify.Bands, model.DefaultLabels()),
		table,
		nil,
	)
	renderer := export.NewRenderer(cfg.Export.FilenamePrefix, nil)
	limiter := NewClientLimiter(cfg.Server.RateLimit, nil)

	return New(cfg, st, pipeline, renderer, limiter), st
}

// encodePNG renders a uniform tile of the given color.
func encodePNG(t *testing.T, c color.Color, w, h int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// multipartImage builds a multipart body with one image part.
func multipartImage(t *testing.T, filename, contentType string, data []byte) (*bytes.Buffer, string) {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, uploadFieldName, filename))
	hdr.Set("Content-Type", contentType)
	part, err := mw.CreatePart(hdr)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func postJSON(t *testing.T, srv http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func uploadImage(t *testing.T, srv http.Handler) string {
	t.Helper()

	vegetated := color.RGBA{R: 20, G: 200, B: 180, A: 255}
	body, contentType := multipartImage(t, "tile.png", "image/png", encodePNG(t, vegetated, 32, 32))
	req := httptest.NewRequest(http.MethodPost, "/api/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp uploadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Ref)
	return resp.Ref
}

func createSession(t *testing.T, srv http.Handler) string {
	t.Helper()

	rec := postJSON(t, srv, "/api/sessions", struct{}{})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var session model.Session
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &session))
	require.NotEmpty(t, session.ID)
	return session.ID
}

func TestHealth(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, testConfig())
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
}

func TestUploadClassifyExportFlow(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, testConfig())
	sessionID := createSession(t, srv)
	ref := uploadImage(t, srv)

	rec := postJSON(t, srv, "/api/classify", classifyRequest{
		ImageRef:    ref,
		Coordinates: &model.Coordinates{Lat: -2.5, Lng: 112.8},
		SessionID:   sessionID,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var result model.ClassificationResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.NotEmpty(t, result.ID)
	assert.Contains(t, model.DefaultLabels(), result.Outcome.Label)
	assert.InDelta(t, result.Outcome.Confidence, result.Outcome.Probabilities[result.Outcome.Label], 1e-9)
	assert.GreaterOrEqual(t, result.Level.Level, 1)
	assert.LessOrEqual(t, result.Level.Level, 5)

	// results are listed in append order
	req := httptest.NewRequest(http.MethodGet, "/api/results?session="+sessionID, nil)
	listRec := httptest.NewRecorder()
	srv.ServeHTTP(listRec, req)
	require.Equal(t, http.StatusOK, listRec.Code)

	var listed resultsResponse
	require.NoError(t, json.Unmarshal(listRec.Body.Bytes(), &listed))
	require.Equal(t, 1, listed.Count)
	assert.Equal(t, result.ID, listed.Results[0].ID)

	exportRec := postJSON(t, srv, "/api/export", exportRequest{Format: "csv", SessionID: sessionID})
	require.Equal(t, http.StatusOK, exportRec.Code, exportRec.Body.String())
	assert.Equal(t, "text/csv; charset=utf-8", exportRec.Header().Get("Content-Type"))
	assert.Contains(t, exportRec.Header().Get("Content-Disposition"), "landcover_results_")
	assert.Contains(t, exportRec.Body.String(), string(result.Outcome.Label))
}

func TestUploadRejectsConstraintViolations(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		filename    string
		contentType string
		data        []byte
		wantMsg     string
	}{
		{
			name:        "disallowed extension",
			filename:    "tile.bmp",
			contentType: "image/png",
			data:        []byte("irrelevant"),
			wantMsg:     ".png",
		},
		{
			name:        "disallowed content type",
			filename:    "tile.png",
			contentType: "application/octet-stream",
			data:        []byte("irrelevant"),
			wantMsg:     "image/png",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			srv, _ := newTestServer(t, testConfig())
			body, contentType := multipartImage(t, tt.filename, tt.contentType, tt.data)
			req := httptest.NewRequest(http.MethodPost, "/api/upload", body)
			req.Header.Set("Content-Type", contentType)
			rec := httptest.NewRecorder()
			srv.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), "invalid_upload")
			assert.Contains(t, rec.Body.String(), tt.wantMsg)
		})
	}
}

func TestUploadRejectsOversizedFile(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Upload.MaxBytes = 64
	srv, _ := newTestServer(t, cfg)

	body, contentType := multipartImage(t, "tile.png", "image/png", bytes.Repeat([]byte{0xAB}, 256))
	req := httptest.NewRequest(http.MethodPost, "/api/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_upload")
}

func TestClassifyErrors(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, testConfig())
	ref := uploadImage(t, srv)

	tests := []struct {
		name     string
		req      classifyRequest
		wantCode int
		wantBody string
	}{
		{
			name:     "missing image ref",
			req:      classifyRequest{},
			wantCode: http.StatusBadRequest,
			wantBody: "image_ref",
		},
		{
			name:     "unknown image ref",
			req:      classifyRequest{ImageRef: "no-such-ref"},
			wantCode: http.StatusNotFound,
			wantBody: "not_found",
		},
		{
			name:     "invalid coordinates",
			req:      classifyRequest{ImageRef: ref, Coordinates: &model.Coordinates{Lat: 91, Lng: 0}},
			wantCode: http.StatusBadRequest,
			wantBody: "latitude",
		},
		{
			name:     "unknown session",
			req:      classifyRequest{ImageRef: ref, SessionID: "missing-session"},
			wantCode: http.StatusNotFound,
			wantBody: "not_found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postJSON(t, srv, "/api/classify", tt.req)
			assert.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
			assert.Contains(t, rec.Body.String(), tt.wantBody)
		})
	}
}

func TestExportErrors(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, testConfig())
	sessionID := createSession(t, srv)

	t.Run("unsupported format", func(t *testing.T) {
		rec := postJSON(t, srv, "/api/export", exportRequest{Format: "xml", SessionID: sessionID})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "unsupported_format")
		assert.Contains(t, rec.Body.String(), "csv, geojson, pdf")
	})

	t.Run("inline results bypass the store", func(t *testing.T) {
		inline := []*model.ClassificationResult{{
			ID: "inline-1",
			Features: model.FeatureVector{
				NDVI: 0.82, EVI: 0.91, SAVI: 0.75, AreaHectares: 4.0,
			},
			Outcome: model.PredictionOutcome{
				Label:      model.LabelForest,
				Confidence: 0.9,
				Probabilities: map[model.ClassLabel]float64{
					model.LabelForest: 0.9, model.LabelOilPalm: 0.05, model.LabelCacao: 0.05,
				},
			},
			Level: model.ConfidenceLevel{Level: 5, Threshold: 0.8, Label: "Very High", RecommendedAction: "Accept classification"},
		}}
		rec := postJSON(t, srv, "/api/export", exportRequest{Format: "geojson", Results: inline})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, "application/geo+json", rec.Header().Get("Content-Type"))
		assert.Contains(t, rec.Body.String(), "FeatureCollection")
	})

	t.Run("empty session", func(t *testing.T) {
		rec := postJSON(t, srv, "/api/export", exportRequest{Format: "csv", SessionID: sessionID})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "empty_input")
	})
}

func TestDeleteSession(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, testConfig())
	sessionID := createSession(t, srv)

	req := httptest.NewRequest(http.MethodDelete, "/api/sessions/"+sessionID, nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/sessions/"+sessionID, nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRateLimitRejects(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Server.RateLimit = config.RateLimitConfig{RPS: 1, Burst: 2, MaxClients: 8}
	srv, _ := newTestServer(t, cfg)

	var last *httptest.ResponseRecorder
	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.RemoteAddr = "203.0.113.9:1234"
		last = httptest.NewRecorder()
		srv.ServeHTTP(last, req)
	}

	require.Equal(t, http.StatusTooManyRequests, last.Code)
	assert.Contains(t, last.Body.String(), "rate_limited")

	// a different client is unaffected
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.RemoteAddr = "198.51.100.7:5678"
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestClassifyRejectsUnknownFields(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, testConfig())
	req := httptest.NewRequest(http.MethodPost, "/api/classify",
		strings.NewReader(`{"image_ref":"x","bogus":true}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
