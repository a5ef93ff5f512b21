package types

import (
	"encoding/base64"
	"errors"
	"math"
	"strings"
	"time"
)

// =============================================================================
// 🎭 检测结果
// =============================================================================

// Detection 单个人脸的检测框与分类，只由外部检测器产生
type Detection struct {
	X1         float64 `json:"x1"`
	Y1         float64 `json:"y1"`
	X2         float64 `json:"x2"`
	Y2         float64 `json:"y2"`
	Confidence float64 `json:"confidence"`
	Class      int     `json:"class"`
	Label      string  `json:"label"`
	Color      string  `json:"color"`
}

// DetectionStats 一帧的聚合统计，MaskRate 为百分比（保留一位小数）
type DetectionStats struct {
	Total     int     `json:"total"`
	Masked    int     `json:"masked"`
	Unmasked  int     `json:"unmasked"`
	Incorrect int     `json:"incorrect"`
	MaskRate  float64 `json:"maskRate"`
}

// DetectionResult 检测器输出，产生后不可变
type DetectionResult struct {
	Success     bool            `json:"success"`
	Detections  []Detection     `json:"detections,omitempty"`
	Stats       *DetectionStats `json:"stats,omitempty"`
	ImageWidth  int             `json:"imageWidth,omitempty"`
	ImageHeight int             `json:"imageHeight,omitempty"`
	Error       string          `json:"error,omitempty"`
}

// FailedResult 构造失败结果
func FailedResult(message string) *DetectionResult {
	return &DetectionResult{Success: false, Error: message}
}

// Failed reports whether the result carries an error outcome.
func (r *DetectionResult) Failed() bool {
	return r == nil || !r.Success
}

// =============================================================================
// 😷 口罩类别
// =============================================================================

// Mask classes emitted by the detector model.
const (
	ClassMasked    = 0
	ClassUnmasked  = 1
	ClassIncorrect = 2
)

type classInfo struct {
	label string
	color string
}

var classTable = map[int]classInfo{
	ClassMasked:    {label: "Maskeli", color: "#22C55E"},
	ClassUnmasked:  {label: "Maskesiz", color: "#EF4444"},
	ClassIncorrect: {label: "Hatalı Maske", color: "#F59E0B"},
}

// ClassLabel 返回类别标签，未知类别返回 "Unknown"
func ClassLabel(class int) string {
	if c, ok := classTable[class]; ok {
		return c.label
	}
	return "Unknown"
}

// ClassColor 返回类别颜色，未知类别为灰色
func ClassColor(class int) string {
	if c, ok := classTable[class]; ok {
		return c.color
	}
	return "#888888"
}

// ComputeStats 汇总检测列表
func ComputeStats(detections []Detection) DetectionStats {
	stats := DetectionStats{Total: len(detections)}
	for _, d := range detections {
		switch d.Class {
		case ClassMasked:
			stats.Masked++
		case ClassUnmasked:
			stats.Unmasked++
		case ClassIncorrect:
			stats.Incorrect++
		}
	}
	if stats.Total > 0 {
		rate := float64(stats.Masked) / float64(stats.Total) * 100
		stats.MaskRate = math.Round(rate*10) / 10
	}
	return stats
}

// =============================================================================
// 🖼️ 帧
// =============================================================================

// Frame 一帧图像。Image 保持客户端发送的 base64 文本，由检测器解码，服务端不做持久化
type Frame struct {
	Seq        uint64
	Image      string
	ReceivedAt time.Time
}

// ErrEmptyImage is returned when a payload carries no image data.
var ErrEmptyImage = errors.New("empty image payload")

// NormalizeImage 剥离 data URL 前缀（data:image/jpeg;base64,...）与首尾空白
func NormalizeImage(s string) (string, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "data:") {
		if i := strings.IndexByte(s, ','); i >= 0 {
			s = s[i+1:]
		}
	}
	if s == "" {
		return "", ErrEmptyImage
	}
	return s, nil
}

// EncodeImage base64 编码原始图像字节
func EncodeImage(image []byte) string {
	return base64.StdEncoding.EncodeToString(image)
}
