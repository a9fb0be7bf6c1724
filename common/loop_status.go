package common

//LoopStatus event-loop的生命周期
type LoopStatus int32

const (
	LoopNull LoopStatus = iota
	LoopInitializing
	LoopInitialized
	LoopStarting
	LoopRunning
	LoopStopping
	LoopStopped
)

func (s LoopStatus) String() string {
	switch s {
	case LoopNull:
		return "Null"
	case LoopInitializing:
		return "Initializing"
	case LoopInitialized:
		return "Initialized"
	case LoopStarting:
		return "Starting"
	case LoopRunning:
		return "Running"
	case LoopStopping:
		return "Stopping"
	case LoopStopped:
		return "Stopped"
	}
	return "Unknown"
}
