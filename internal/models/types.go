package models

import "time"

type VideoFrame struct {
	Data           []byte `json:"-"`
	Width          int    `json:"width"`
	Height         int    `json:"height"`
	Timestamp      int64  `json:"timestamp"`
	SequenceNumber int32  `json:"sequence_number,omitempty"`
}

// WebSocketMessage is the envelope of every candidate channel message.
type WebSocketMessage struct {
	Type      string      `json:"type"`
	Payload   interface{} `json:"payload,omitempty"`
	ClientID  string      `json:"client_id,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// Candidate channel message types.
const (
	MsgWelcome            = "WELCOME"
	MsgPing               = "PING"
	MsgPong               = "PONG"
	MsgStartCapture       = "START_CAPTURE"
	MsgStopCapture        = "STOP_CAPTURE"
	MsgDeviceGranted      = "DEVICE_GRANTED"
	MsgDeviceError        = "DEVICE_ERROR"
	MsgFrame              = "FRAME"
	MsgCursor             = "CURSOR"
	MsgStartCamera        = "START_CAMERA"
	MsgStopCamera         = "STOP_CAMERA"
	MsgToggleOperatorView = "TOGGLE_OPERATOR_VIEW"
	MsgNotify             = "NOTIFY"
	MsgState              = "STATE"
	MsgRedirect           = "REDIRECT"
)

type FramePayload struct {
	Frame          string `json:"frame"`
	Width          int    `json:"width"`
	Height         int    `json:"height"`
	Timestamp      int64  `json:"timestamp,omitempty"`
	SequenceNumber int32  `json:"sequence_number,omitempty"`
}

type DeviceErrorPayload struct {
	Name    string `json:"name"`
	Message string `json:"message,omitempty"`
}

type CursorPayload struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type OperatorViewPayload struct {
	Visible bool `json:"visible"`
}

type NotifyPayload struct {
	Message  string `json:"message"`
	Severity string `json:"severity"`
}

type RedirectPayload struct {
	Path string `json:"path"`
}

type ErrorResponse struct {
	Error     string `json:"error"`
	Timestamp int64  `json:"timestamp"`
	Code      string `json:"code,omitempty"`
}

type HealthStatus struct {
	Status         string        `json:"status"`
	GoBackend      string        `json:"go_backend"`
	FaceMesh       bool          `json:"face_mesh_service"`
	ActiveSessions int           `json:"active_sessions"`
	Uptime         time.Duration `json:"uptime"`
	Version        string        `json:"version,omitempty"`
}
