package dispatch

import (
	"context"
	"time"
)

// AlarmState is what a StateReader knows about the alarm.
type AlarmState int

const (
	AlarmUnknown AlarmState = iota
	AlarmOff
	AlarmOn
)

func (s AlarmState) String() string {
	switch s {
	case AlarmOff:
		return "off"
	case AlarmOn:
		return "on"
	}
	return "unknown"
}

// StateReader reports the current alarm state.
type StateReader interface {
	AlarmState(ctx context.Context) (AlarmState, error)
}

// AssumeOff is the reader for installations without alarm feedback: relays are
// driven open loop and the alarm is always taken to be off.
type AssumeOff struct{}

// AlarmState always reports AlarmOff.
func (AssumeOff) AlarmState(context.Context) (AlarmState, error) {
	return AlarmOff, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
