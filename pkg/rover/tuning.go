package rover

import (
	"encoding/json"
	"fmt"

	"github.com/teslashibe/go-rover/pkg/pid"
)

// TuningParams holds the real-time adjustable control parameters.
// These can be modified via the tuning API without restarting the rover.
type TuningParams struct {
	// Heading loop
	HeadingKp float64 `json:"heading_kp"`
	HeadingKi float64 `json:"heading_ki"`
	HeadingKd float64 `json:"heading_kd"`

	// Speed loop
	SpeedKp float64 `json:"speed_kp"`
	SpeedKi float64 `json:"speed_ki"`
	SpeedKd float64 `json:"speed_kd"`

	// Target turn-in
	TrackGain     float64 `json:"track_gain"`     // bearing multiplier for near off-axis targets
	TrackDeadband float64 `json:"track_deadband"` // degrees
}

func (p TuningParams) validate() error {
	for name, v := range map[string]float64{
		"heading_kp": p.HeadingKp, "heading_ki": p.HeadingKi, "heading_kd": p.HeadingKd,
		"speed_kp": p.SpeedKp, "speed_ki": p.SpeedKi, "speed_kd": p.SpeedKd,
		"track_gain": p.TrackGain, "track_deadband": p.TrackDeadband,
	} {
		if v < 0 {
			return fmt.Errorf("%s must not be negative, got %v", name, v)
		}
	}
	return nil
}

// GetTuningParams returns the current tuning parameters.
func (r *Rover) GetTuningParams() TuningParams {
	r.tuneMu.Lock()
	defer r.tuneMu.Unlock()
	return r.tuning
}

// SetTuningParams queues new tuning parameters for the control loop.
// Only non-zero values are applied.
func (r *Rover) SetTuningParams(params TuningParams) error {
	if err := params.validate(); err != nil {
		return err
	}

	r.tuneMu.Lock()
	defer r.tuneMu.Unlock()

	t := &r.tuning
	merge := func(dst *float64, v float64) {
		if v > 0 {
			*dst = v
		}
	}
	merge(&t.HeadingKp, params.HeadingKp)
	merge(&t.HeadingKi, params.HeadingKi)
	merge(&t.HeadingKd, params.HeadingKd)
	merge(&t.SpeedKp, params.SpeedKp)
	merge(&t.SpeedKi, params.SpeedKi)
	merge(&t.SpeedKd, params.SpeedKd)
	merge(&t.TrackGain, params.TrackGain)
	merge(&t.TrackDeadband, params.TrackDeadband)
	r.tunePending = true
	return nil
}

// SetTuningJSON decodes a JSON TuningParams document and queues it.
func (r *Rover) SetTuningJSON(body []byte) error {
	var params TuningParams
	if err := json.Unmarshal(body, &params); err != nil {
		return fmt.Errorf("decode tuning: %w", err)
	}
	return r.SetTuningParams(params)
}

// applyTuning hands queued parameters to the loop-owned controllers.
func (r *Rover) applyTuning() {
	r.tuneMu.Lock()
	if !r.tunePending {
		r.tuneMu.Unlock()
		return
	}
	t := r.tuning
	r.tunePending = false
	r.tuneMu.Unlock()

	r.motion.SetGains(
		pid.Gains{Kp: t.HeadingKp, Ki: t.HeadingKi, Kd: t.HeadingKd},
		pid.Gains{Kp: t.SpeedKp, Ki: t.SpeedKi, Kd: t.SpeedKd},
	)
	r.machine.SetTracking(t.TrackGain, t.TrackDeadband)
	r.logger.Info("tuning applied",
		"heading_kp", t.HeadingKp, "speed_kp", t.SpeedKp,
		"track_gain", t.TrackGain, "track_deadband", t.TrackDeadband)
}

func tuningFrom(cfg Config) TuningParams {
	return TuningParams{
		HeadingKp:     cfg.Motion.Heading.Kp,
		HeadingKi:     cfg.Motion.Heading.Ki,
		HeadingKd:     cfg.Motion.Heading.Kd,
		SpeedKp:       cfg.Motion.Speed.Kp,
		SpeedKi:       cfg.Motion.Speed.Ki,
		SpeedKd:       cfg.Motion.Speed.Kd,
		TrackGain:     cfg.Behavior.TrackGain,
		TrackDeadband: cfg.Behavior.TrackDeadband,
	}
}
