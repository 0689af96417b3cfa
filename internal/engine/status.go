package engine

// Status is the subscription state of an engine.
type Status int32

const (
	StatusUnknown Status = iota
	StatusVerifying
	StatusCreating
	StatusActive
	StatusStale
	StatusHalted
)

func (s Status) String() string {
	switch s {
	case StatusUnknown:
		return "unknown"
	case StatusVerifying:
		return "verifying"
	case StatusCreating:
		return "creating"
	case StatusActive:
		return "active"
	case StatusStale:
		return "stale"
	case StatusHalted:
		return "halted"
	default:
		return "invalid"
	}
}
