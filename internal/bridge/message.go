package bridge

import (
	"encoding/json"
	"net/url"
	"strings"
)

// Inbound message types.
const (
	TypeJoined          = "joined"
	TypeFromApp         = "from_app"
	TypeBackendResponse = "backend_response"
	TypeStatus          = "status"
	TypeError           = "error"
	TypePing            = "ping"
	TypePong            = "pong"
	TypeToApp           = "to_app"
	TypeToBackend       = "to_backend"
)

// Message is an inbound bridge frame. Only the fields relevant to its Type
// are populated.
type Message struct {
	Type       string          `json:"type"`
	Role       string          `json:"role,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
	StatusCode int             `json:"status_code,omitempty"`
	LatencyMs  float64         `json:"latency_ms,omitempty"`
	Msg        string          `json:"msg,omitempty"`
	Code       any             `json:"code,omitempty"`
	Message    string          `json:"message,omitempty"`
}

// AppData is the payload of a from_app message.
type AppData struct {
	Message    string `json:"message,omitempty"`
	PlatformID string `json:"platform_id,omitempty"`
}

// App decodes the from_app payload. A missing or malformed payload yields
// the zero value.
func (m Message) App() AppData {
	var d AppData
	if len(m.Data) > 0 {
		_ = json.Unmarshal(m.Data, &d)
	}
	return d
}

// DataValue decodes Data into a generic value for broadcasting.
func (m Message) DataValue() any {
	if len(m.Data) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(m.Data, &v); err != nil {
		return string(m.Data)
	}
	return v
}

// QRPayload is encoded into the QR code shown during pairing.
type QRPayload struct {
	Token         string `json:"token"`
	WSAppURL      string `json:"ws_app_url"`
	WSHardwareURL string `json:"ws_hardware_url"`
	ServerHost    string `json:"server_host"`
}

// Map returns the payload as an event data map.
func (q QRPayload) Map() map[string]any {
	return map[string]any{
		"token":           q.Token,
		"ws_app_url":      q.WSAppURL,
		"ws_hardware_url": q.WSHardwareURL,
		"server_host":     q.ServerHost,
	}
}

// BuildQRPayload derives the QR payload from the bridge URLs.
func BuildQRPayload(apiURL, wsURL, token string) QRPayload {
	base := strings.TrimRight(wsURL, "/")
	host := apiURL
	if u, err := url.Parse(apiURL); err == nil && u.Host != "" {
		host = u.Host
	}
	return QRPayload{
		Token:         token,
		WSAppURL:      base + "/app",
		WSHardwareURL: base + "/hardware",
		ServerHost:    host,
	}
}

// UploadPayload builds the to_backend message carrying the chosen frame.
func UploadPayload(platformID, imageBase64 string) map[string]any {
	return map[string]any{
		"type": TypeToBackend,
		"data": map[string]any{
			"platform_id":  platformID,
			"image_base64": imageBase64,
		},
	}
}

// HelloReply answers an app hello.
func HelloReply() map[string]any {
	return map[string]any{
		"type": TypeToApp,
		"data": map[string]any{"message": "hello"},
	}
}
