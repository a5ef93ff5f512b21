package handlers

import (
	"net/http"
)

// ServiceName 服务描述中的名称
const ServiceName = "Face Mask Detection API"

// ServiceDescriptor GET / 响应
type ServiceDescriptor struct {
	Name      string            `json:"name"`
	Version   string            `json:"version"`
	Endpoints map[string]string `json:"endpoints"`
}

// HandleRoot 返回服务描述，websocket 地址按请求的 Host 生成
func HandleRoot(version, streamPath string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		scheme := "ws"
		if r.TLS != nil {
			scheme = "wss"
		}
		WriteJSON(w, http.StatusOK, ServiceDescriptor{
			Name:    ServiceName,
			Version: version,
			Endpoints: map[string]string{
				"health":       "GET /api/health",
				"detect":       "POST /api/detect",
				"detectBase64": "POST /api/detect/base64",
				"websocket":    scheme + "://" + r.Host + streamPath,
			},
		})
	}
}
