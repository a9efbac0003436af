package turn

// State is the lifecycle position of a turn.
type State int

const (
	Idle State = iota
	Sent
	Polling
	Draining
	Summarized
	Failed
	Stalled
	Cancelled
)

var stateNames = [...]string{
	Idle:       "idle",
	Sent:       "sent",
	Polling:    "polling",
	Draining:   "draining",
	Summarized: "summarized",
	Failed:     "failed",
	Stalled:    "stalled",
	Cancelled:  "cancelled",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Terminal reports whether no further transitions follow s.
func (s State) Terminal() bool {
	switch s {
	case Summarized, Failed, Stalled, Cancelled:
		return true
	}
	return false
}
