package behavior

import (
	"github.com/librescoot/librefsm"

	"github.com/teslashibe/go-rover/pkg/motion"
	"github.com/teslashibe/go-rover/pkg/vision"
)

// Events. The event name is recorded as the transition reason.
const (
	evStart        librefsm.EventID = "start"
	evStop         librefsm.EventID = "stop"
	evObey         librefsm.EventID = "obey"
	evDanger       librefsm.EventID = "danger"
	evTime         librefsm.EventID = "time"
	evStall        librefsm.EventID = "stall"
	evTarget       librefsm.EventID = "target"
	evLost         librefsm.EventID = "lost"
	evMarker       librefsm.EventID = "marker"
	evMarkerLost   librefsm.EventID = "marker_lost"
	evArrived      librefsm.EventID = "arrived"
	evManeuverDone librefsm.EventID = "maneuver_done"
)

// id is the state's name in the FSM definition.
func (s State) id() librefsm.StateID { return librefsm.StateID(s.String()) }

// definition builds the transition table. Entry actions run once per
// state change; guards read the Input carried by the event.
func (m *Machine) definition() *librefsm.Definition {
	d := librefsm.NewDefinition().
		State(Stopped.id(),
			librefsm.WithOnEnter(m.entry(Stopped, m.enterIdle(CueStopped))),
		).
		State(Waiting.id(),
			librefsm.WithOnEnter(m.entry(Waiting, m.enterMarkers)),
		).
		State(SearchingTargets.id(),
			librefsm.WithOnEnter(m.entry(SearchingTargets, m.enterCollecting)),
		).
		State(TrackingTarget.id(),
			librefsm.WithOnEnter(m.entry(TrackingTarget, m.enterCollecting)),
		).
		State(SearchingHome.id(),
			librefsm.WithOnEnter(m.entry(SearchingHome, m.enterMarkers)),
		).
		State(GoingHome.id(),
			librefsm.WithOnEnter(m.entry(GoingHome, m.enterMarkers)),
		).
		State(Unblocking.id(),
			librefsm.WithOnEnter(m.entry(Unblocking, m.enterUnblocking)),
		).
		State(AtHome.id(),
			librefsm.WithOnEnter(m.entry(AtHome, m.enterIdle(CueMissionComplete))),
		).

		// Controller commands
		AnyStateTransition(evStop, Stopped.id(),
			librefsm.WithGuard(m.notIn(Stopped)),
		).
		Transition(Stopped.id(), evObey, Waiting.id()).
		Transition(SearchingTargets.id(), evDanger, SearchingHome.id(),
			librefsm.WithGuard(m.homeOnDanger),
		).
		Transition(TrackingTarget.id(), evDanger, SearchingHome.id(),
			librefsm.WithGuard(m.homeOnDanger),
		).

		// Match clock
		Transition(SearchingTargets.id(), evTime, SearchingHome.id(),
			librefsm.WithGuard(m.late),
		).
		Transition(TrackingTarget.id(), evTime, SearchingHome.id(),
			librefsm.WithGuard(m.late),
		).

		// Sensing
		Transition(SearchingTargets.id(), evTarget, TrackingTarget.id(),
			librefsm.WithAction(m.cue(CueTargetAcquired)),
		).
		Transition(TrackingTarget.id(), evLost, SearchingTargets.id(),
			librefsm.WithGuard(m.graceExpired),
		).
		Transition(SearchingHome.id(), evMarker, GoingHome.id(),
			librefsm.WithAction(m.cue(CueHomeSighted)),
		).
		Transition(GoingHome.id(), evMarkerLost, SearchingHome.id()).
		Transition(GoingHome.id(), evArrived, AtHome.id(),
			librefsm.WithGuard(m.arrived),
		)

	for _, s := range []State{Waiting, Stopped, AtHome} {
		d.Transition(s.id(), evStart, SearchingTargets.id(),
			librefsm.WithGuard(m.startPermitted),
			librefsm.WithAction(m.cue(CueStarted)),
		)
	}

	// Stalls interrupt any active state; the maneuver resumes it.
	for _, s := range []State{SearchingTargets, TrackingTarget, SearchingHome, GoingHome} {
		d.Transition(s.id(), evStall, Unblocking.id(),
			librefsm.WithGuard(m.blocked),
			librefsm.WithAction(m.remember(s)),
		)
		d.Transition(Unblocking.id(), evManeuverDone, s.id(),
			librefsm.WithGuard(m.resumes(s)),
		)
	}

	return d.Initial(Waiting.id())
}

// inputOf returns the cycle input carried by the event being processed.
func inputOf(c *librefsm.Context) Input {
	if c.Event != nil {
		if in, ok := c.Event.Payload.(Input); ok {
			return in
		}
	}
	return Input{}
}

// entry wraps a state's entry action with the bookkeeping shared by every
// state change.
func (m *Machine) entry(s State, action func(in Input)) func(*librefsm.Context) error {
	return func(c *librefsm.Context) error {
		in := inputOf(c)
		from, known := ParseState(string(c.FromState))

		m.state = s
		m.enteredAt = in.Now
		if known && s != Unblocking {
			m.driver.Discontinuity()
		}

		reason := "forced"
		if c.Event != nil {
			reason = string(c.Event.ID)
		}
		if known {
			m.logger.Info("state changed", "from", from, "to", s, "reason", reason)
		}

		action(in)

		if known && m.observer != nil {
			m.observer(Transition{From: from, To: s, At: in.Now, Reason: reason})
		}
		return nil
	}
}

func (m *Machine) enterIdle(c Cue) func(Input) {
	return func(Input) {
		m.driver.Halt()
		m.driver.SetAuxiliary(0)
		m.waypoint = motion.Waypoint{}
		m.hooks.Cue(c)
	}
}

func (m *Machine) enterMarkers(Input) {
	m.hooks.SetDetectorMode(vision.ModeTag)
	m.hooks.SetCameraTilt(m.cfg.TiltMarkers)
}

func (m *Machine) enterCollecting(Input) {
	m.hooks.SetDetectorMode(vision.ModeColor)
	m.hooks.SetCameraTilt(m.cfg.TiltTargets)
	m.driver.SetAuxiliary(m.cfg.CollectorPower)
}

func (m *Machine) enterUnblocking(in Input) {
	seq, idx := m.catalog.Next()
	m.maneuver = idx
	m.logger.Info("escape maneuver", "name", seq.Name, "index", idx, "resume", m.prior)
	m.hooks.Cue(CueBlocked)
	m.driver.Start(seq, in.Now)
}

// Guards. They run on the FSM goroutine while the caller waits, so they
// read the machine's own mirror of the state.

func (m *Machine) notIn(s State) func(*librefsm.Context) bool {
	return func(*librefsm.Context) bool { return m.state != s }
}

func (m *Machine) startPermitted(*librefsm.Context) bool {
	return m.permit == nil || m.permit()
}

func (m *Machine) homeOnDanger(*librefsm.Context) bool { return m.cfg.HomeOnDanger }

func (m *Machine) late(c *librefsm.Context) bool {
	return inputOf(c).Remaining < m.cfg.GoHomeBefore
}

func (m *Machine) blocked(c *librefsm.Context) bool {
	return inputOf(c).Motion == motion.Blocked
}

func (m *Machine) graceExpired(c *librefsm.Context) bool {
	return inputOf(c).Now.Sub(m.lastSeen) > m.cfg.LostGrace
}

func (m *Machine) arrived(*librefsm.Context) bool {
	return m.target != nil && m.target.Distance < m.cfg.ArrivalDistance
}

func (m *Machine) resumes(s State) func(*librefsm.Context) bool {
	return func(*librefsm.Context) bool {
		return m.prior == s && !m.driver.Running()
	}
}

// Transition actions.

func (m *Machine) cue(c Cue) func(*librefsm.Context) error {
	return func(*librefsm.Context) error {
		m.hooks.Cue(c)
		return nil
	}
}

func (m *Machine) remember(s State) func(*librefsm.Context) error {
	return func(*librefsm.Context) error {
		m.prior = s
		return nil
	}
}
