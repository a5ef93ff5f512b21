package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BaSui01/maskflow/internal/ctxkeys"
	"github.com/BaSui01/maskflow/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// =============================================================================
// 🧪 测试辅助类型
// =============================================================================

// fakeInferer 记录最后一次调用
type fakeInferer struct {
	mu      sync.Mutex
	image   string
	timeout time.Duration
	source  string
	calls   int
	result  *types.DetectionResult
}

func (f *fakeInferer) Infer(ctx context.Context, image string, timeout time.Duration) *types.DetectionResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.image, f.timeout, f.source = image, timeout, ctxkeys.Source(ctx)
	f.calls++
	return f.result
}

func successResult() *types.DetectionResult {
	dets := []types.Detection{{X1: 10, Y1: 10, X2: 50, Y2: 60, Confidence: 0.91, Class: types.ClassMasked, Label: "Maskeli", Color: "#22C55E"}}
	stats := types.ComputeStats(dets)
	return &types.DetectionResult{Success: true, Detections: dets, Stats: &stats, ImageWidth: 640, ImageHeight: 480}
}

var pngBytes = append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0}, 32)...)

func multipartRequest(t *testing.T, field string, data []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, "face.png")
	require.NoError(t, err)
	_, err = fw.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	r := httptest.NewRequest(http.MethodPost, "/api/detect", &buf)
	r.Header.Set("Content-Type", mw.FormDataContentType())
	return r
}

func jsonRequest(path, body string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	return r
}

func decodeResult(t *testing.T, w *httptest.ResponseRecorder) types.DetectionResult {
	t.Helper()
	var res types.DetectionResult
	require.NoError(t, json.NewDecoder(w.Body).Decode(&res))
	return res
}

// =============================================================================
// 🧪 DetectHandler 测试
// =============================================================================

func TestDetectHandler_MultipartUpload(t *testing.T) {
	inf := &fakeInferer{result: successResult()}
	h := NewDetectHandler(inf, DefaultDetectConfig(), zap.NewNop())

	w := httptest.NewRecorder()
	h.HandleDetect(w, multipartRequest(t, "image", pngBytes))

	require.Equal(t, http.StatusOK, w.Code)
	res := decodeResult(t, w)
	assert.True(t, res.Success)
	assert.Len(t, res.Detections, 1)
	assert.Equal(t, 640, res.ImageWidth)

	assert.Equal(t, types.EncodeImage(pngBytes), inf.image)
	assert.Equal(t, 30*time.Second, inf.timeout)
	assert.Equal(t, ctxkeys.SourceUpload, inf.source)
}

func TestDetectHandler_JSONBody(t *testing.T) {
	inf := &fakeInferer{result: successResult()}
	h := NewDetectHandler(inf, DefaultDetectConfig(), zap.NewNop())

	w := httptest.NewRecorder()
	h.HandleDetect(w, jsonRequest("/api/detect", `{"image":"data:image/png;base64,QUJD"}`))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "QUJD", inf.image)
}

func TestDetectHandler_Rejections(t *testing.T) {
	cfg := DefaultDetectConfig()
	cfg.MaxUploadBytes = 64

	tests := []struct {
		name       string
		req        func(t *testing.T) *http.Request
		wantStatus int
		wantErr    string
	}{
		{
			name:       "no body",
			req:        func(*testing.T) *http.Request { return httptest.NewRequest(http.MethodPost, "/api/detect", nil) },
			wantStatus: http.StatusBadRequest,
			wantErr:    "No image provided",
		},
		{
			name:       "json without image",
			req:        func(*testing.T) *http.Request { return jsonRequest("/api/detect", `{}`) },
			wantStatus: http.StatusBadRequest,
			wantErr:    "No image provided",
		},
		{
			name:       "wrong multipart field",
			req:        func(t *testing.T) *http.Request { return multipartRequest(t, "file", pngBytes) },
			wantStatus: http.StatusBadRequest,
			wantErr:    "No image provided",
		},
		{
			name: "unsupported type",
			req: func(t *testing.T) *http.Request {
				return multipartRequest(t, "image", []byte("just some text, not an image"))
			},
			wantStatus: http.StatusUnsupportedMediaType,
			wantErr:    "Invalid file type",
		},
		{
			name: "too large",
			req: func(t *testing.T) *http.Request {
				return multipartRequest(t, "image", append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{1}, 128)...))
			},
			wantStatus: http.StatusRequestEntityTooLarge,
			wantErr:    "File too large",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inf := &fakeInferer{result: successResult()}
			h := NewDetectHandler(inf, cfg, zap.NewNop())

			w := httptest.NewRecorder()
			h.HandleDetect(w, tt.req(t))

			assert.Equal(t, tt.wantStatus, w.Code)
			res := decodeResult(t, w)
			assert.False(t, res.Success)
			assert.Contains(t, res.Error, tt.wantErr)
			assert.Zero(t, inf.calls)
		})
	}
}

func TestDetectHandler_FailedDetectionIs500(t *testing.T) {
	inf := &fakeInferer{result: types.FailedResult("detector process exited with code 1: model load failed")}
	h := NewDetectHandler(inf, DefaultDetectConfig(), zap.NewNop())

	w := httptest.NewRecorder()
	h.HandleDetect(w, multipartRequest(t, "image", pngBytes))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	res := decodeResult(t, w)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "model load failed")
}

func TestDetectHandler_Base64(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		inf := &fakeInferer{result: successResult()}
		h := NewDetectHandler(inf, DefaultDetectConfig(), zap.NewNop())

		w := httptest.NewRecorder()
		h.HandleDetectBase64(w, jsonRequest("/api/detect/base64", `{"image":"QUJD"}`))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.True(t, decodeResult(t, w).Success)
	})

	t.Run("failure is returned verbatim", func(t *testing.T) {
		inf := &fakeInferer{result: types.FailedResult("Detection timeout - the model took too long to respond")}
		h := NewDetectHandler(inf, DefaultDetectConfig(), zap.NewNop())

		w := httptest.NewRecorder()
		h.HandleDetectBase64(w, jsonRequest("/api/detect/base64", `{"image":"QUJD"}`))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "Detection timeout - the model took too long to respond", decodeResult(t, w).Error)
	})

	t.Run("missing image", func(t *testing.T) {
		inf := &fakeInferer{result: successResult()}
		h := NewDetectHandler(inf, DefaultDetectConfig(), zap.NewNop())

		w := httptest.NewRecorder()
		h.HandleDetectBase64(w, jsonRequest("/api/detect/base64", `{"image":""}`))
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "No base64 image provided in request body", decodeResult(t, w).Error)
		assert.Zero(t, inf.calls)
	})
}

func TestDetectHandler_SetTimeout(t *testing.T) {
	inf := &fakeInferer{result: successResult()}
	h := NewDetectHandler(inf, DetectConfig{}, zap.NewNop())
	assert.Equal(t, 30*time.Second, h.Timeout())

	h.SetTimeout(45 * time.Second)
	h.SetTimeout(0)
	assert.Equal(t, 45*time.Second, h.Timeout())

	w := httptest.NewRecorder()
	h.HandleDetectBase64(w, jsonRequest("/api/detect/base64", `{"image":"QUJD"}`))
	assert.Equal(t, 45*time.Second, inf.timeout)
}

func TestHandleRoot(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "http://localhost:8080/", nil)
	HandleRoot("1.0.0", "/ws")(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	var desc ServiceDescriptor
	require.NoError(t, json.NewDecoder(w.Body).Decode(&desc))
	assert.Equal(t, "Face Mask Detection API", desc.Name)
	assert.Equal(t, "1.0.0", desc.Version)
	assert.Equal(t, "ws://localhost:8080/ws", desc.Endpoints["websocket"])
	assert.Equal(t, "POST /api/detect/base64", desc.Endpoints["detectBase64"])

	w = httptest.NewRecorder()
	HandleRoot("1.0.0", "/ws")(w, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
