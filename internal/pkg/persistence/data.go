package persistence

import (
	"database/sql"
	"time"
)

type (

	// Device table
	Device struct {
		ID             string
		OrganizationID string
		OperatorID     string
		Status         string
		Active         bool
		Updated        time.Time
	}

	// Session table
	Session struct {
		ID             string
		DeviceID       sql.NullString
		OrganizationID string
		OperatorID     string
		Source         string
		Status         string
		Error          sql.NullString
		ErrorCode      sql.NullString
		SegmentCount   int32
		GapSeqs        []int32
		Started        time.Time
		Ended          sql.NullTime
	}

	// Segment table, append only
	Segment struct {
		SessionID  string
		Seq        int32
		Text       string
		StartMs    int64
		EndMs      int64
		Confidence sql.NullFloat64
		Created    time.Time
	}

	// Audit table - state transition log
	Audit struct {
		SessionID  string
		Transition string
		At         time.Time
	}

	// Operator table
	Operator struct {
		ID             string
		OrganizationID string
		Name           string
		Email          sql.NullString
		Active         bool
	}
)
