package server

// State is a position in the server lifecycle.
type State int

const (
	StateCreated State = iota
	StateConfigured
	StateBound
	StateStarting
	StateRunning
	StateDisposed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateConfigured:
		return "configured"
	case StateBound:
		return "bound"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateDisposed:
		return "disposed"
	default:
		return "unknown"
	}
}

// started reports whether the server no longer accepts configuration.
func (s State) started() bool { return s >= StateStarting }

// BindingMode records how handlers were attached to an HTTP server. The
// first registration fixes it; the other mode is rejected afterwards.
type BindingMode int

const (
	BindingUnset BindingMode = iota
	BindingExplicit
	BindingReflective
)

func (m BindingMode) String() string {
	switch m {
	case BindingExplicit:
		return "explicit"
	case BindingReflective:
		return "reflective"
	default:
		return "unset"
	}
}
