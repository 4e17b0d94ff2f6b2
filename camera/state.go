package camera

// State is the lifecycle state of a FrameSource.
//
//	Uninitialized -> Configured | Failed
//	Configured    -> Running | Stopped
//	Running       -> Stopped
//
// Failed and Stopped are terminal.
type State int32

const (
	// StateUninitialized is the state of a freshly constructed source.
	StateUninitialized State = iota
	// StateConfigured means the camera is open and configured but not capturing.
	StateConfigured
	// StateRunning means the capture loop is active.
	StateRunning
	// StateStopped means the capture loop has ended and the camera is released.
	StateStopped
	// StateFailed means the camera could not be opened or configured.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateConfigured:
		return "configured"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}
