package robot

import (
	"context"
	"net/http"
	"strings"

	"github.com/teslashibe/go-rover/internal/httpc"
)

// HTTPDriver implements Controller against the motor-driver daemon's HTTP
// API. The daemon owns the PWM and servo hardware.
type HTTPDriver struct {
	BaseURL string
	client  *http.Client
}

// NewHTTPDriver creates a driver for the daemon at baseURL
// (for example http://127.0.0.1:8000).
func NewHTTPDriver(baseURL string) *HTTPDriver {
	return &HTTPDriver{
		BaseURL: strings.TrimRight(baseURL, "/"),
		client:  httpc.Client,
	}
}

// WithClient replaces the HTTP client.
func (d *HTTPDriver) WithClient(c *http.Client) *HTTPDriver {
	d.client = c
	return d
}

type drivePayload struct {
	Throttle  *float64 `json:"throttle,omitempty"`
	Steering  *float64 `json:"steering,omitempty"`
	Auxiliary *float64 `json:"auxiliary,omitempty"`
	Tilt      *float64 `json:"tilt,omitempty"`
}

// SetCommand sends a full batched update.
func (d *HTTPDriver) SetCommand(cmd Command) error {
	cmd = cmd.Clamp()
	return d.post(drivePayload{
		Throttle:  &cmd.Throttle,
		Steering:  &cmd.Steering,
		Auxiliary: &cmd.Auxiliary,
		Tilt:      &cmd.Tilt,
	})
}

// SetDrive sets wheel throttle and steering, leaving the rest untouched.
func (d *HTTPDriver) SetDrive(throttle, steering float64) error {
	throttle, steering = clamp(throttle, MaxThrottle), clamp(steering, MaxSteering)
	return d.post(drivePayload{Throttle: &throttle, Steering: &steering})
}

// SetAuxiliary sets the collector motor power.
func (d *HTTPDriver) SetAuxiliary(percent float64) error {
	percent = clamp(percent, MaxAuxiliary)
	return d.post(drivePayload{Auxiliary: &percent})
}

// SetTilt positions the camera servo.
func (d *HTTPDriver) SetTilt(degrees float64) error {
	degrees = clamp(degrees, MaxTilt)
	return d.post(drivePayload{Tilt: &degrees})
}

// GetDaemonStatus returns the daemon state string.
func (d *HTTPDriver) GetDaemonStatus() (string, error) {
	var status struct {
		State string `json:"state"`
	}
	if err := httpc.GetJSON(context.Background(), d.client, d.BaseURL+"/api/status", &status); err != nil {
		return "", err
	}
	return status.State, nil
}

// post sends a drive update to the daemon API.
func (d *HTTPDriver) post(p drivePayload) error {
	return httpc.PostJSON(context.Background(), d.client, d.BaseURL+"/api/drive", p)
}
