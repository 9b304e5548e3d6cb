package api

import "context"

// SegmentData is one recognized unit delivered by the stream service
type SegmentData struct {
	Seq        int     `json:"seq"`
	Text       string  `json:"text"`
	StartMs    int64   `json:"startMs"`
	EndMs      int64   `json:"endMs"`
	Confidence float64 `json:"confidence,omitempty"`
}

// Handle is one live transcription channel.
// Segments is closed after Done. Err returns the drop reason, nil on
// normal closure. Close is idempotent.
type Handle interface {
	Segments() <-chan SegmentData
	Done() <-chan struct{}
	Err() error
	Close() error
}

// Opener opens live transcription channels
type Opener interface {
	Open(ctx context.Context, source string) (Handle, error)
}
