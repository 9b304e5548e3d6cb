package api

import "time"

// Session source tags
const (
	// SourceDevice - session started by a wearable device button event
	SourceDevice = "device-stream"
	// SourceFile - session created for an uploaded recording
	SourceFile = "file-upload"
	// SourceManual - session started from the UI without a device
	SourceManual = "manual"
)

// Device event types accepted by the ingress
const (
	EventStart  = "start"
	EventPause  = "pause"
	EventResume = "resume"
	EventStop   = "stop"
)

// Segment is one timestamped unit of transcribed text within a session
type Segment struct {
	Seq        int     `json:"seq"`
	Text       string  `json:"text"`
	StartMs    int64   `json:"startMs"`
	EndMs      int64   `json:"endMs"`
	Confidence float64 `json:"confidence,omitempty"`
}

// Snapshot is the immutable copy of a finished session passed to the note queue
type Snapshot struct {
	SessionID      string    `json:"sessionID"`
	DeviceID       string    `json:"deviceID,omitempty"`
	OrganizationID string    `json:"organizationID"`
	OperatorID     string    `json:"operatorID"`
	Source         string    `json:"source"`
	Transcript     []Segment `json:"transcript"`
	GapSeqs        []int     `json:"gapSeqs,omitempty"`
	StartedAt      time.Time `json:"startedAt"`
	EndedAt        time.Time `json:"endedAt"`
}

// SessionInfo is the status view returned to collaborators
type SessionInfo struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	DeviceID      string `json:"deviceID,omitempty"`
	Source        string `json:"source"`
	SegmentCount  int    `json:"segmentCount"`
	LastSegmentMs int64  `json:"lastSegmentMs,omitempty"`
	Recoverable   bool   `json:"recoverable,omitempty"`
	StartedAt     int64  `json:"startedAt,omitempty"`
	EndedAt       int64  `json:"endedAt,omitempty"`
	ErrorCode     string `json:"errorCode,omitempty"`
	Error         string `json:"error,omitempty"`
}

// Viewer event types sent over the subscription socket
const (
	EventTypeSegment      = "segment"
	EventTypeStatus       = "status"
	EventTypeDisconnected = "disconnected"
)

// ViewerEvent is one message pushed to a passive viewer
type ViewerEvent struct {
	Type        string   `json:"type"`
	SessionID   string   `json:"sessionID"`
	Status      string   `json:"status,omitempty"`
	Segment     *Segment `json:"segment,omitempty"`
	Recoverable bool     `json:"recoverable,omitempty"`
	Reason      string   `json:"reason,omitempty"`
}
