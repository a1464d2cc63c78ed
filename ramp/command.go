package ramp

// ToggleCommand is what the ramp button posts: start or stop the ramp, and
// whether to record while it runs.  StartRecording is ignored when
// StartRamp is false.
type ToggleCommand struct {
	StartRamp      bool `json:"ramp"`
	StartRecording bool `json:"record"`
}

// CommandKind discriminates the payload of a Command
type CommandKind uint8

const (
	// CommandToggle carries a ToggleCommand
	CommandToggle CommandKind = iota

	// CommandConfig commits a validated Config
	CommandConfig

	// CommandRecording sets the recording flag, mirroring an external
	// start/stop recording event
	CommandRecording
)

// Command is the value handed from the control context to the tick loop.
// It is copied into the channel, so nothing is shared between contexts.
type Command struct {
	Kind      CommandKind
	Toggle    ToggleCommand
	Config    Config
	Recording bool
}
