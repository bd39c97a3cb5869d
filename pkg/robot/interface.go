// Package robot provides interfaces and implementations for the rover's
// drive layer: wheels, collector motor and camera tilt servo.
//
// This package follows the Interface Segregation Principle (ISP) by defining
// small, focused interfaces that can be composed as needed. Consumers should
// depend only on the interfaces they actually use.
package robot

// Command is one batched actuator update.
type Command struct {
	Throttle  float64 `json:"throttle"`  // percent, negative = reverse
	Steering  float64 `json:"steering"`  // degrees, positive = right
	Auxiliary float64 `json:"auxiliary"` // collector motor percent
	Tilt      float64 `json:"tilt"`      // camera tilt degrees, negative = down
}

// DriveController provides wheel control.
type DriveController interface {
	SetDrive(throttle, steering float64) error
}

// AuxiliaryController drives the collector motor.
type AuxiliaryController interface {
	SetAuxiliary(percent float64) error
}

// TiltController positions the camera tilt servo.
type TiltController interface {
	SetTilt(degrees float64) error
}

// CommandController provides batched control (drive + collector + tilt).
// This reduces request rate by combining every update into one call.
// Use this interface for rate-limited control loops to prevent daemon flooding.
type CommandController interface {
	SetCommand(cmd Command) error
}

// StatusController provides driver daemon status queries.
type StatusController interface {
	GetDaemonStatus() (string, error)
}

// Controller is the composite interface for full drive control.
type Controller interface {
	DriveController
	AuxiliaryController
	TiltController
	CommandController
	StatusController
}

// Ensure HTTPDriver implements Controller
var _ Controller = (*HTTPDriver)(nil)
