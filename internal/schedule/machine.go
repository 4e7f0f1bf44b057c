package schedule

import "time"

// Action is the scheduler's verdict for one poll cycle.
type Action int

const (
	// ActionNone skips the cycle entirely: out of window, already torn down.
	ActionNone Action = iota
	// ActionProceed runs the normal monitoring pass.
	ActionProceed
	// ActionProvisionInitial creates the initial fleet for a new window.
	ActionProvisionInitial
	// ActionTeardown destroys the fleet because the window has closed.
	ActionTeardown
)

func (a Action) String() string {
	switch a {
	case ActionProceed:
		return "proceed"
	case ActionProvisionInitial:
		return "provision_initial"
	case ActionTeardown:
		return "teardown"
	default:
		return "none"
	}
}

// Scheduler states exposed for status reporting.
const (
	StateActive            = "active"
	StateAwaitingProvision = "awaiting_provision"
	StateAwaitingTeardown  = "awaiting_teardown"
	StateTornDown          = "torn_down"
)

// Machine decides, from wall-clock time alone, whether the fleet should
// exist. It keeps two sticky booleans so teardown and initial provisioning
// run once per day-cycle; both reset when the clock re-enters the window.
//
// The machine has no timers of its own. It is evaluated once per poll
// cycle, so reactions to a window boundary can be up to one cycle interval
// late; that latency is accepted since cycle intervals are short relative
// to minute-granularity windows.
//
// Not safe for concurrent use; it is owned by the control loop.
type Machine struct {
	enabled       bool
	window        Window
	teardownDone  bool
	provisionDone bool
}

// NewMachine creates an enabled machine for the given window.
func NewMachine(w Window) *Machine {
	return &Machine{enabled: true, window: w}
}

// Disabled returns a machine that always answers ActionProceed, for
// deployments that run the fleet around the clock.
func Disabled() *Machine {
	return &Machine{enabled: false, provisionDone: true}
}

// Evaluate returns the action for the current instant. liveCount is the
// number of instances currently provisioned.
func (m *Machine) Evaluate(now time.Time, liveCount int) Action {
	if !m.enabled {
		return ActionProceed
	}

	if !m.window.Contains(MinuteOf(now)) {
		if m.teardownDone {
			return ActionNone
		}
		return ActionTeardown
	}

	// Re-entering the window after a teardown starts a new day-cycle.
	if m.teardownDone {
		m.teardownDone = false
		m.provisionDone = false
	}

	if !m.provisionDone {
		if liveCount == 0 {
			return ActionProvisionInitial
		}
		// Fleet already exists (process started mid-window); nothing to
		// provision this cycle.
		m.provisionDone = true
	}

	return ActionProceed
}

// MarkProvisioned records that initial provisioning completed.
func (m *Machine) MarkProvisioned() {
	m.provisionDone = true
}

// MarkTornDown records that the fleet-wide teardown completed.
func (m *Machine) MarkTornDown() {
	m.teardownDone = true
	m.provisionDone = false
}

// State names the machine's current position for status reporting.
func (m *Machine) State(now time.Time) string {
	if !m.enabled {
		return StateActive
	}
	if m.window.Contains(MinuteOf(now)) {
		if m.provisionDone {
			return StateActive
		}
		return StateAwaitingProvision
	}
	if m.teardownDone {
		return StateTornDown
	}
	return StateAwaitingTeardown
}

// Window returns the configured window.
func (m *Machine) Window() Window {
	return m.window
}
