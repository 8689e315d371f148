package fifowrap

import "fmt"

// eventType describes an event type.
type eventType = string

const (
	eventWarning          eventType = "warning"
	eventStarted          eventType = "supervisor started"
	eventChildSpawned     eventType = "child spawned"
	eventChildExited      eventType = "child exited"
	eventCommandRelayed   eventType = "command relayed"
	eventRelayStarted     eventType = "relay started"
	eventRelayStopped     eventType = "relay stopped"
	eventRelayError       eventType = "relay error"
	eventLinkWriteError   eventType = "link write error"
	eventSignalReceived   eventType = "signal received"
	eventSignalIgnored    eventType = "signal ignored"
	eventShutdownStage    eventType = "shutdown stage"
	eventShutdownFinished eventType = "shutdown finished"
	eventFIFORecreated    eventType = "fifo recreated"
)

// Event is an interface describing known events. Each event knows how to
// describe itself as a single human-readable line.
type Event interface {
	Type() string
	String() string
	event()
}

// NewEvent creates a new event from the given event type. It is used primarily
// for decoding events from its type. Nil is returned if the event type is
// unknown.
func NewEvent(eventType string) Event {
	switch eventType {
	case eventWarning:
		return &EventWarning{}
	case eventStarted:
		return &EventStarted{}
	case eventChildSpawned:
		return &EventChildSpawned{}
	case eventChildExited:
		return &EventChildExited{}
	case eventCommandRelayed:
		return &EventCommandRelayed{}
	case eventRelayStarted:
		return &EventRelayStarted{}
	case eventRelayStopped:
		return &EventRelayStopped{}
	case eventRelayError:
		return &EventRelayError{}
	case eventLinkWriteError:
		return &EventLinkWriteError{}
	case eventSignalReceived:
		return &EventSignalReceived{}
	case eventSignalIgnored:
		return &EventSignalIgnored{}
	case eventShutdownStage:
		return &EventShutdownStage{}
	case eventShutdownFinished:
		return &EventShutdownFinished{}
	case eventFIFORecreated:
		return &EventFIFORecreated{}
	default:
		return nil
	}
}

// EventWarning is emitted when a non-fatal error occurs.
type EventWarning struct {
	Component string `json:"component"`
	Error     string `json:"error"`
}

func (ev *EventWarning) Type() string { return eventWarning }
func (ev *EventWarning) event()       {}
func (ev *EventWarning) String() string {
	return fmt.Sprintf("%s: %s", ev.Component, ev.Error)
}

// EventStarted is emitted once the supervisor has validated its arguments.
type EventStarted struct {
	FIFO string   `json:"fifo"`
	Dir  string   `json:"dir"`
	Argv []string `json:"argv"`
}

func (ev *EventStarted) Type() string { return eventStarted }
func (ev *EventStarted) event()       {}
func (ev *EventStarted) String() string {
	return fmt.Sprintf("Changing directory: %q; executing: %q", ev.Dir, ev.Argv)
}

// EventChildSpawned is emitted when the child process has been started.
type EventChildSpawned struct {
	PID int `json:"pid"`
}

func (ev *EventChildSpawned) Type() string { return eventChildSpawned }
func (ev *EventChildSpawned) event()       {}
func (ev *EventChildSpawned) String() string {
	return fmt.Sprintf("Spawned child process %d.", ev.PID)
}

// EventChildExited is emitted when the child process has been reaped.
type EventChildExited struct {
	PID      int    `json:"pid"`
	ExitCode int    `json:"exit_code"` // -1 if killed by a signal
	Signal   string `json:"signal,omitempty"`
	Error    string `json:"error,omitempty"`
}

// IsClean returns true if the child exited on its own with code 0.
func (ev EventChildExited) IsClean() bool {
	return ev.Error == "" && ev.ExitCode == 0
}

func (ev *EventChildExited) Type() string { return eventChildExited }
func (ev *EventChildExited) event()       {}
func (ev *EventChildExited) String() string {
	switch {
	case ev.IsClean():
		return "Server has shut down."
	case ev.Error != "":
		return fmt.Sprintf("Server died: pid %d: %s", ev.PID, ev.Error)
	case ev.Signal != "":
		return fmt.Sprintf("Server died: pid %d killed by %s", ev.PID, ev.Signal)
	default:
		return fmt.Sprintf("Server died: pid %d exit %d", ev.PID, ev.ExitCode)
	}
}

// EventCommandRelayed is emitted for every line forwarded from the FIFO to the
// child.
type EventCommandRelayed struct {
	Command string `json:"command"`
}

func (ev *EventCommandRelayed) Type() string { return eventCommandRelayed }
func (ev *EventCommandRelayed) event()       {}
func (ev *EventCommandRelayed) String() string {
	return fmt.Sprintf("Received command: %q", ev.Command)
}

// EventRelayStarted is emitted when a new relay instance is launched.
type EventRelayStarted struct {
	Generation int `json:"generation"`
}

func (ev *EventRelayStarted) Type() string { return eventRelayStarted }
func (ev *EventRelayStarted) event()       {}
func (ev *EventRelayStarted) String() string {
	return fmt.Sprintf("Launching proxy #%d.", ev.Generation)
}

// EventRelayStopped is emitted when a relay instance is stopped. Forced is
// true if it had to be revoked after not yielding in time.
type EventRelayStopped struct {
	Generation int  `json:"generation"`
	Forced     bool `json:"forced"`
}

func (ev *EventRelayStopped) Type() string { return eventRelayStopped }
func (ev *EventRelayStopped) event()       {}
func (ev *EventRelayStopped) String() string {
	if ev.Forced {
		return fmt.Sprintf("Proxy #%d did not stop in time, revoked.", ev.Generation)
	}
	return fmt.Sprintf("Proxy #%d stopped.", ev.Generation)
}

// EventRelayError is emitted when the relay fails to open or read the FIFO.
type EventRelayError struct {
	Generation int    `json:"generation"`
	Error      string `json:"error"`
}

func (ev *EventRelayError) Type() string { return eventRelayError }
func (ev *EventRelayError) event()       {}
func (ev *EventRelayError) String() string {
	return fmt.Sprintf("Proxy #%d: %s", ev.Generation, ev.Error)
}

// EventLinkWriteError is emitted when a line cannot be written to the child,
// usually because it has already exited.
type EventLinkWriteError struct {
	Command string `json:"command"`
	Error   string `json:"error"`
}

func (ev *EventLinkWriteError) Type() string { return eventLinkWriteError }
func (ev *EventLinkWriteError) event()       {}
func (ev *EventLinkWriteError) String() string {
	return fmt.Sprintf("Failed to send %q to server: %s", ev.Command, ev.Error)
}

// EventSignalReceived is emitted when a signal is dispatched to its handler.
type EventSignalReceived struct {
	Signal string `json:"signal"`
	Action string `json:"action"`
}

func (ev *EventSignalReceived) Type() string { return eventSignalReceived }
func (ev *EventSignalReceived) event()       {}
func (ev *EventSignalReceived) String() string {
	return fmt.Sprintf("Received %s, %s.", ev.Signal, ev.Action)
}

// EventSignalIgnored is emitted when a signal arrives that cannot be acted on,
// such as a second shutdown request.
type EventSignalIgnored struct {
	Signal string `json:"signal"`
	Reason string `json:"reason"`
}

func (ev *EventSignalIgnored) Type() string { return eventSignalIgnored }
func (ev *EventSignalIgnored) event()       {}
func (ev *EventSignalIgnored) String() string {
	return fmt.Sprintf("Received %s but %s.", ev.Signal, ev.Reason)
}

// EventShutdownStage is emitted when the shutdown escalation enters a stage.
type EventShutdownStage struct {
	Stage ShutdownStage `json:"stage"`
	PID   int           `json:"pid"`
}

func (ev *EventShutdownStage) Type() string { return eventShutdownStage }
func (ev *EventShutdownStage) event()       {}
func (ev *EventShutdownStage) String() string {
	switch ev.Stage {
	case StageGraceful:
		return "Attempting graceful stop."
	case StageTerminate:
		return "Server not shutting down, issuing SIGTERM."
	case StageKill:
		return "Server not responding to SIGTERM, issuing SIGKILL."
	default:
		return fmt.Sprintf("Shutdown stage %q.", ev.Stage)
	}
}

// EventShutdownFinished is emitted when the shutdown escalation ends, either
// because the child is gone or because we gave up on it.
type EventShutdownFinished struct {
	PID     int    `json:"pid"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

func (ev *EventShutdownFinished) Type() string { return eventShutdownFinished }
func (ev *EventShutdownFinished) event()       {}
func (ev *EventShutdownFinished) String() string {
	switch {
	case ev.Success:
		return "Server successfully shut down."
	case ev.Error != "":
		return fmt.Sprintf("Shutdown failed: %s", ev.Error)
	default:
		return fmt.Sprintf("Unable to kill process %d, giving up.", ev.PID)
	}
}

// EventFIFORecreated is emitted when the watcher notices the FIFO being
// replaced on disk.
type EventFIFORecreated struct {
	Path string `json:"path"`
}

func (ev *EventFIFORecreated) Type() string { return eventFIFORecreated }
func (ev *EventFIFORecreated) event()       {}
func (ev *EventFIFORecreated) String() string {
	return fmt.Sprintf("FIFO %q was recreated.", ev.Path)
}
