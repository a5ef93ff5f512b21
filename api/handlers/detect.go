package handlers

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/BaSui01/maskflow/inference"
	"github.com/BaSui01/maskflow/internal/ctxkeys"
	"github.com/BaSui01/maskflow/types"
	"go.uber.org/zap"
)

// multipartOverhead multipart 边界与表单头的额外字节
const multipartOverhead = 1 << 20

// allowedImageTypes 上传图像允许的类型（按内容嗅探）
var allowedImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
	"image/gif":  true,
}

// DetectRequest JSON 检测请求
type DetectRequest struct {
	Image string `json:"image"`
}

// DetectConfig 检测接口配置
type DetectConfig struct {
	// MaxUploadBytes 上传文件大小上限
	MaxUploadBytes int64
	// MaxJSONBytes JSON 请求体大小上限
	MaxJSONBytes int64
	// Timeout 单次推理超时
	Timeout time.Duration
}

// DefaultDetectConfig 返回默认配置
func DefaultDetectConfig() DetectConfig {
	return DetectConfig{
		MaxUploadBytes: 10 << 20,
		MaxJSONBytes:   50 << 20,
		Timeout:        30 * time.Second,
	}
}

// =============================================================================
// 😷 一次性检测 Handler
// =============================================================================

// DetectHandler 一次性检测处理器
//
// 与实时流返回相同的 DetectionResult 结构。
type DetectHandler struct {
	inferer inference.Inferer
	cfg     DetectConfig
	timeout atomic.Int64
	logger  *zap.Logger
}

// NewDetectHandler 创建检测处理器
func NewDetectHandler(inferer inference.Inferer, cfg DetectConfig, logger *zap.Logger) *DetectHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultDetectConfig()
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = def.MaxUploadBytes
	}
	if cfg.MaxJSONBytes <= 0 {
		cfg.MaxJSONBytes = def.MaxJSONBytes
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	h := &DetectHandler{
		inferer: inferer,
		cfg:     cfg,
		logger:  logger.With(zap.String("component", "detect_handler")),
	}
	h.timeout.Store(int64(cfg.Timeout))
	return h
}

// SetTimeout 更新推理超时，用于配置热更新
func (h *DetectHandler) SetTimeout(d time.Duration) {
	if d > 0 {
		h.timeout.Store(int64(d))
	}
}

// Timeout 当前推理超时
func (h *DetectHandler) Timeout() time.Duration {
	return time.Duration(h.timeout.Load())
}

// HandleDetect 处理图像检测请求
// @Summary 图像口罩检测
// @Description 上传图像文件（multipart 字段 image）或提交 base64 JSON，返回检测结果
// @Tags 检测
// @Accept multipart/form-data,json
// @Produce json
// @Param image formData file false "图像文件（JPEG/PNG/WebP/GIF，最大 10MB）"
// @Success 200 {object} types.DetectionResult "检测结果"
// @Failure 400 {object} types.DetectionResult "未提供图像"
// @Failure 413 {object} types.DetectionResult "文件过大"
// @Failure 415 {object} types.DetectionResult "不支持的文件类型"
// @Failure 500 {object} types.DetectionResult "检测失败"
// @Router /api/detect [post]
func (h *DetectHandler) HandleDetect(w http.ResponseWriter, r *http.Request) {
	var (
		image  string
		apiErr *types.Error
	)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "multipart/form-data":
		image, apiErr = h.readUpload(w, r)
	case "application/json":
		image, apiErr = h.readJSON(w, r)
	default:
		apiErr = errNoImage()
	}
	if apiErr != nil {
		h.writeFailure(w, r, apiErr)
		return
	}

	res := h.infer(r, image)
	if res.Failed() {
		h.logger.Warn("detection failed", zap.String("error", res.Error))
		WriteJSON(w, http.StatusInternalServerError, res)
		return
	}

	h.logger.Info("detection complete", zap.Int("faces", len(res.Detections)))
	WriteJSON(w, http.StatusOK, res)
}

// HandleDetectBase64 处理 base64 图像检测请求
// @Summary base64 图像口罩检测
// @Description 提交 {"image": base64}，原样返回检测结果
// @Tags 检测
// @Accept json
// @Produce json
// @Param request body DetectRequest true "检测请求"
// @Success 200 {object} types.DetectionResult "检测结果"
// @Failure 400 {object} types.DetectionResult "未提供图像"
// @Router /api/detect/base64 [post]
func (h *DetectHandler) HandleDetectBase64(w http.ResponseWriter, r *http.Request) {
	image, apiErr := h.readJSON(w, r)
	if apiErr != nil {
		if types.IsErrorCode(apiErr, types.ErrInvalidRequest) && apiErr.Cause == nil {
			apiErr = types.NewError(types.ErrInvalidRequest, "No base64 image provided in request body").
				WithHTTPStatus(http.StatusBadRequest)
		}
		h.writeFailure(w, r, apiErr)
		return
	}

	res := h.infer(r, image)
	h.logger.Debug("base64 detection", zap.Bool("success", res.Success), zap.Int("image_chars", len(image)))
	WriteJSON(w, http.StatusOK, res)
}

func (h *DetectHandler) infer(r *http.Request, image string) *types.DetectionResult {
	ctx := ctxkeys.WithSource(r.Context(), ctxkeys.SourceUpload)
	return h.inferer.Infer(ctx, image, h.Timeout())
}

// readUpload 读取 multipart 字段 image 并校验大小与类型
func (h *DetectHandler) readUpload(w http.ResponseWriter, r *http.Request) (string, *types.Error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxUploadBytes+multipartOverhead)
	if err := r.ParseMultipartForm(h.cfg.MaxUploadBytes); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return "", errTooLarge(h.cfg.MaxUploadBytes)
		}
		return "", types.NewError(types.ErrInvalidRequest, "invalid multipart form").
			WithCause(err).
			WithHTTPStatus(http.StatusBadRequest)
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, header, err := r.FormFile("image")
	if err != nil {
		// multipart 中没有文件时回退到表单字段 image
		if v := r.FormValue("image"); v != "" {
			return normalize(v)
		}
		return "", errNoImage()
	}
	defer file.Close()

	if header.Size > h.cfg.MaxUploadBytes {
		return "", errTooLarge(h.cfg.MaxUploadBytes)
	}
	data, err := io.ReadAll(io.LimitReader(file, h.cfg.MaxUploadBytes+1))
	if err != nil {
		return "", types.NewError(types.ErrInvalidRequest, "failed to read upload").
			WithCause(err).
			WithHTTPStatus(http.StatusBadRequest)
	}
	if int64(len(data)) > h.cfg.MaxUploadBytes {
		return "", errTooLarge(h.cfg.MaxUploadBytes)
	}
	if len(data) == 0 {
		return "", errNoImage()
	}

	if ct := http.DetectContentType(data); !allowedImageTypes[ct] {
		return "", types.NewError(types.ErrUnsupportedMedia,
			"Invalid file type. Only JPEG, PNG, WebP, and GIF are allowed.").
			WithHTTPStatus(http.StatusUnsupportedMediaType)
	}

	h.logger.Debug("upload received",
		zap.String("filename", header.Filename),
		zap.Int("bytes", len(data)))
	return types.EncodeImage(data), nil
}

// readJSON 读取 {"image": base64}
func (h *DetectHandler) readJSON(w http.ResponseWriter, r *http.Request) (string, *types.Error) {
	if !isJSON(r) {
		return "", errNoImage()
	}
	var req DetectRequest
	if err := decodeJSON(w, r, &req, h.cfg.MaxJSONBytes); err != nil {
		return "", err
	}
	return normalize(req.Image)
}

// writeFailure 检测接口的错误与检测失败共用 {success:false, error} 结构
func (h *DetectHandler) writeFailure(w http.ResponseWriter, r *http.Request, err *types.Error) {
	status := err.HTTPStatus
	if status == 0 {
		status = mapErrorCodeToHTTPStatus(err.Code)
	}
	requestID, _ := ctxkeys.RequestID(r.Context())
	h.logger.Info("detect request rejected",
		zap.String("code", string(err.Code)),
		zap.String("message", err.Message),
		zap.Int("status", status),
		zap.String("request_id", requestID))
	WriteJSON(w, status, types.FailedResult(err.Message))
}

func normalize(image string) (string, *types.Error) {
	image, err := types.NormalizeImage(image)
	if err != nil {
		return "", errNoImage()
	}
	return image, nil
}

func errNoImage() *types.Error {
	return types.NewError(types.ErrInvalidRequest,
		"No image provided. Upload a file or send base64 image in body.").
		WithHTTPStatus(http.StatusBadRequest)
}

func errTooLarge(limit int64) *types.Error {
	return types.NewError(types.ErrPayloadTooLarge,
		fmt.Sprintf("File too large. Maximum size is %d bytes.", limit)).
		WithHTTPStatus(http.StatusRequestEntityTooLarge)
}
