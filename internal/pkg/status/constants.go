package status

// Status represents session lifecycle status
type Status int

const (
	// Starting - session created, stream not yet confirmed
	Starting Status = iota + 1
	// Active - live stream confirmed, segments flowing
	Active
	// Paused - streaming suspended by operator
	Paused
	// Finalizing - draining buffers and handing off
	Finalizing
	// Completed - final step, handoff acknowledged
	Completed
	// Failed - validation, stream or handoff failure
	Failed
)

var (
	statusName = map[Status]string{Starting: "STARTING", Active: "ACTIVE", Paused: "PAUSED",
		Finalizing: "FINALIZING", Completed: "COMPLETED", Failed: "FAILED"}
	nameStatus = map[string]Status{"STARTING": Starting, "ACTIVE": Active, "PAUSED": Paused,
		"FINALIZING": Finalizing, "COMPLETED": Completed, "FAILED": Failed}
)

func (st Status) String() string {
	return statusName[st]
}

// From returns status obj from string
func From(st string) Status {
	return nameStatus[st]
}

// Terminal returns true if no transition is possible from st
func Terminal(st Status) bool {
	return st == Completed || st == Failed
}
