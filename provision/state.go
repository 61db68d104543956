package provision

// State is a point in the provisioning lifecycle. Runs only move forward.
type State string

const (
	StateInit            State = "init"
	StateSystemPackages  State = "sys_pkgs"
	StateEnvReady        State = "env_ready"
	StateServerInstalled State = "server_installed"
	StateServerReady     State = "server_ready"
	StateModelsReady     State = "models_ready"
	StateDone            State = "done"
	StateFailed          State = "failed"
)

var stateOrder = map[State]int{
	StateInit:            0,
	StateSystemPackages:  1,
	StateEnvReady:        2,
	StateServerInstalled: 3,
	StateServerReady:     4,
	StateModelsReady:     5,
	StateDone:            6,
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// CanAdvanceTo reports whether moving from s to next keeps the run moving
// forward. Any non-terminal state may fail.
func (s State) CanAdvanceTo(next State) bool {
	if s.Terminal() {
		return false
	}
	if next == StateFailed {
		return true
	}
	from, ok := stateOrder[s]
	if !ok {
		return false
	}
	to, ok := stateOrder[next]
	return ok && to > from
}
