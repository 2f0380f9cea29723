package lumen

import (
	"time"
)

// Time is the frame clock resource. Dt is the wall time since the
// previous frame; FixedDt, when positive, overrides it for deterministic
// stepping.
type Time struct {
	Time    time.Time
	Dt      time.Duration
	FixedDt float32
	Frame   uint64
}

// DeltaSeconds is the step the simulation should advance this frame.
func (t *Time) DeltaSeconds() float32 {
	if t.FixedDt > 0 {
		return t.FixedDt
	}
	return float32(t.Dt.Seconds())
}

type TimeModule struct {
	// FixedDt pins the frame step; 0 measures wall time.
	FixedDt float32
}

func (mod TimeModule) Install(app *App) {
	app.AddResources(&Time{
		Time:    time.Now(),
		FixedDt: mod.FixedDt,
	})
	app.UseSystem(Prelude, timeSystem)
}

func timeSystem(timeResource *Time) {
	now := time.Now()

	timeResource.Dt = now.Sub(timeResource.Time)
	timeResource.Time = now
	timeResource.Frame++
}
