package messages

import (
	"time"

	amessages "github.com/airenas/async-api/pkg/messages"
	"github.com/airenas/vox/internal/pkg/api"
)

const (
	st = "VOX/"
	// NoteGen queue name - note generation jobs for completed sessions
	NoteGen = st + "NoteGen"
	// Inform queue name - operator email events
	Inform = st + "Inform"
)

// NoteGenMessage carries a finished session to the note-generation consumer.
// The consumer is idempotent per session ID, duplicate delivery is allowed.
type NoteGenMessage struct {
	amessages.QueueMessage
	OrganizationID string        `json:"organizationID"`
	OperatorID     string        `json:"operatorID"`
	Source         string        `json:"source"`
	Transcript     []api.Segment `json:"transcript"`
	GapSeqs        []int         `json:"gapSeqs,omitempty"`
	StartedAt      time.Time     `json:"startedAt"`
	EndedAt        time.Time     `json:"endedAt"`
}

// NewNoteGenMessage maps a session snapshot to the queue message
func NewNoteGenMessage(sn *api.Snapshot) *NoteGenMessage {
	return &NoteGenMessage{QueueMessage: amessages.QueueMessage{ID: sn.SessionID},
		OrganizationID: sn.OrganizationID, OperatorID: sn.OperatorID, Source: sn.Source,
		Transcript: sn.Transcript, GapSeqs: sn.GapSeqs, StartedAt: sn.StartedAt, EndedAt: sn.EndedAt}
}
