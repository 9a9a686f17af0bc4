package models

import "time"

type User struct {
	ID           int       `json:"id"`
	Email        string    `json:"email"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

type GazeState string

const (
	GazeChecking GazeState = "checking"
	GazeGood     GazeState = "good"
	GazeAway     GazeState = "away"
	GazeNoFace   GazeState = "no_face"
	GazeError    GazeState = "error"
)

// IsViolation reports whether the state counts toward blocking.
func (s GazeState) IsViolation() bool {
	return s == GazeAway || s == GazeNoFace
}

type SessionStatus string

const (
	StatusMonitoring SessionStatus = "monitoring"
	StatusBlocked    SessionStatus = "blocked"
)

// Point is a landmark coordinate normalized to the frame size.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

type GazeSample struct {
	LeftEye   Point     `json:"left_eye"`
	RightEye  Point     `json:"right_eye"`
	NoseTip   Point     `json:"nose_tip"`
	Timestamp time.Time `json:"timestamp"`
}

type ViolationRecord struct {
	WarningNumber int       `json:"warning_number"`
	TriggeredAt   time.Time `json:"triggered_at"`
}

type CursorSample struct {
	X         float64   `json:"x"`
	Y         float64   `json:"y"`
	Timestamp time.Time `json:"timestamp"`
}

// Snapshot is the read-only operator view of one proctoring session.
type Snapshot struct {
	SessionID     string            `json:"session_id"`
	UserID        int               `json:"user_id,omitempty"`
	GazeState     GazeState         `json:"gaze_state"`
	WarningCount  int               `json:"warning_count"`
	MaxWarnings   int               `json:"max_warnings"`
	Status        SessionStatus     `json:"status"`
	CaptureActive bool              `json:"capture_active"`
	Violations    []ViolationRecord `json:"violations"`
	Cursor        []CursorSample    `json:"cursor,omitempty"`
}

type RegisterRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}
