// Package dispatch turns a keypad result into relay actions: opening the gate,
// arming and disarming the alarm, and asking the operator over Telegram.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrCodeEU/gatekeeper/pkg/i18n"
	"github.com/MrCodeEU/gatekeeper/pkg/keypad"
	"github.com/MrCodeEU/gatekeeper/pkg/logging"
	"github.com/MrCodeEU/gatekeeper/pkg/notify"
)

// Action codes logged for a ping, next to the keypad result codes.
const (
	CodeOperatorOpened      = 2
	CodeOperatorRefused     = 3
	CodeOperatorUnavailable = 4
)

// Message durations.
const (
	shortMessage = time.Second
	armedMessage = 2 * time.Second
	noNetMessage = 3 * time.Second
	errorMessage = 5 * time.Second
	replyMessage = 7 * time.Second
)

// ErrAlarmNotOff is returned when the gate stays shut because the alarm could not be switched off.
var ErrAlarmNotOff = errors.New("alarm not switched off")

// ErrArmDeclined is returned when the user declines to re-arm an armed alarm.
var ErrArmDeclined = errors.New("arming declined")

// Pulser drives named relays.
type Pulser interface {
	Pulse(ctx context.Context, name string) error
}

// Messenger shows a full-screen message and returns after d.
type Messenger interface {
	ShowMessage(text string, d time.Duration)
}

// Confirmer asks a yes/no question on the screen.
type Confirmer interface {
	Confirm(question string) bool
}

// Notifier is the operator channel.
type Notifier interface {
	Post(ctx context.Context, text string, photo []byte, buttons []notify.Button) (int, error)
	PollForButton(ctx context.Context, messageID int, timeout time.Duration) (notify.Reply, error)
}

// Switches names the relay of each function.
type Switches struct {
	Gate       string
	AlarmArm   string
	AlarmNight string
	AlarmOff   string
}

// DefaultSwitches matches the relay names in the configuration.
var DefaultSwitches = Switches{
	Gate:       "gate",
	AlarmArm:   "alarm_arm",
	AlarmNight: "alarm_night",
	AlarmOff:   "alarm_off",
}

// Options holds sequence timings.
type Options struct {
	OpenShort       time.Duration
	WaitShort       time.Duration
	AlarmAttempts   int
	AlarmBackoff    time.Duration
	ArmSettle       time.Duration
	ResponseTimeout time.Duration
}

// Deps are the collaborators of a Dispatcher. Notifier may be nil when
// Telegram is disabled.
type Deps struct {
	Relays   Pulser
	Screen   Messenger
	Confirm  Confirmer
	State    StateReader
	Notifier Notifier
	Online   notify.Connectivity
	Catalog  *i18n.Catalog
}

// Dispatcher runs actions for one keypad result at a time.
type Dispatcher struct {
	Deps
	switches Switches
	opts     Options
	sleep    func(ctx context.Context, d time.Duration) error
}

// New creates a dispatcher.
func New(deps Deps, switches Switches, opts Options) *Dispatcher {
	if opts.AlarmAttempts <= 0 {
		opts.AlarmAttempts = 3
	}
	if deps.State == nil {
		deps.State = AssumeOff{}
	}
	return &Dispatcher{
		Deps:     deps,
		switches: switches,
		opts:     opts,
		sleep:    sleep,
	}
}

// Request is one keypad outcome to act on.
type Request struct {
	Result   keypad.Result
	Language string
	// PingText and Photo are sent to the operator on a ping.
	PingText string
	Photo    []byte
}

// Handle performs the actions for a keypad result and returns the action
// code to log. Results without an action are returned unchanged.
func (d *Dispatcher) Handle(ctx context.Context, req Request) int {
	log := logging.Component("dispatch").WithField("result", int(req.Result))
	lang := req.Language

	switch req.Result {
	case keypad.ResultAuthenticated:
		if err := d.OpenGate(ctx, lang); err != nil {
			log.WithError(err).Warn("Gate not opened")
		}
	case keypad.ResultArmDay:
		d.say(i18n.MsgArmingDay, lang, 0)
		if err := d.ArmAlarm(ctx, lang, false); err != nil {
			log.WithError(err).Warn("Alarm not armed")
		}
	case keypad.ResultArmNight:
		d.say(i18n.MsgArmingNight, lang, 0)
		if err := d.ArmAlarm(ctx, lang, true); err != nil {
			log.WithError(err).Warn("Alarm not armed")
		}
	case keypad.ResultDisarm:
		d.say(i18n.MsgAlarmSwitchingOff, lang, 0)
		if err := d.SwitchOffAlarm(ctx, lang, true); err != nil {
			log.WithError(err).Warn("Alarm not switched off")
		}
	case keypad.ResultPing:
		return d.Ping(ctx, req)
	}
	return int(req.Result)
}

// OpenGate switches the alarm off and, only if that succeeded, pulses the gate
// three times with the configured pauses in between.
func (d *Dispatcher) OpenGate(ctx context.Context, lang string) error {
	d.say(i18n.MsgAlarmSwitchingOff, lang, 0)
	if err := d.SwitchOffAlarm(ctx, lang, true); err != nil {
		d.say(i18n.MsgAlarmOffBlocked, lang, 0)
		return fmt.Errorf("%w: %v", ErrAlarmNotOff, err)
	}

	steps := []time.Duration{d.opts.OpenShort, d.opts.WaitShort, 0}
	for _, pause := range steps {
		if err := d.Relays.Pulse(ctx, d.switches.Gate); err != nil {
			d.Screen.ShowMessage(d.Catalog.Getf(i18n.MsgGateError, lang, err), 0)
			return err
		}
		if pause > 0 {
			d.Screen.ShowMessage(d.Catalog.Get(i18n.MsgOpeningGate, lang), pause)
		}
	}

	logging.Component("dispatch").Info("Gate opened")
	return nil
}

// SwitchOffAlarm pulses the alarm-off relay, retrying with backoff. Only the
// last failure is shown. A pulse without error counts as success; verbose
// shows the success message.
func (d *Dispatcher) SwitchOffAlarm(ctx context.Context, lang string, verbose bool) error {
	log := logging.Component("dispatch")

	var err error
	for attempt := 1; attempt <= d.opts.AlarmAttempts; attempt++ {
		err = d.Relays.Pulse(ctx, d.switches.AlarmOff)
		if err == nil {
			if verbose {
				d.say(i18n.MsgAlarmOff, lang, shortMessage)
			}
			log.WithField("attempt", attempt).Info("Alarm switched off")
			return nil
		}

		log.WithError(err).WithField("attempt", attempt).Warn("Alarm off failed")
		if attempt == d.opts.AlarmAttempts {
			d.Screen.ShowMessage(d.Catalog.Getf(i18n.MsgErrorOccurred, lang, err), errorMessage)
			break
		}
		if serr := d.sleep(ctx, d.opts.AlarmBackoff); serr != nil {
			return serr
		}
	}
	return err
}

// ArmAlarm sets the alarm in day or night mode. An alarm reported as already
// on asks for confirmation first; otherwise it is switched off silently and
// given time to settle before arming.
func (d *Dispatcher) ArmAlarm(ctx context.Context, lang string, night bool) error {
	log := logging.Component("dispatch").WithField("night", night)

	state, err := d.State.AlarmState(ctx)
	if err != nil {
		d.Screen.ShowMessage(d.Catalog.Getf(i18n.MsgErrorOccurred, lang, err), errorMessage)
		return fmt.Errorf("read alarm state: %w", err)
	}
	log = log.WithField("state", state.String())

	if state == AlarmOn {
		if d.Confirm == nil || !d.Confirm.Confirm(d.Catalog.Get(i18n.MsgAlarmAppearsSet, lang)) {
			log.Info("Arming declined")
			return ErrArmDeclined
		}
	} else {
		if err := d.SwitchOffAlarm(ctx, lang, false); err != nil {
			log.WithError(err).Warn("Alarm off before arming failed")
		}
		if err := d.sleep(ctx, d.opts.ArmSettle); err != nil {
			return err
		}
	}

	relay := d.switches.AlarmArm
	if night {
		relay = d.switches.AlarmNight
	}

	for attempt := 1; attempt <= d.opts.AlarmAttempts; attempt++ {
		err = d.Relays.Pulse(ctx, relay)
		if err == nil {
			d.say(i18n.MsgAlarmSet, lang, armedMessage)
			log.Info("Alarm armed")
			return nil
		}
		log.WithError(err).WithField("attempt", attempt).Warn("Arming failed")
		if attempt == d.opts.AlarmAttempts {
			break
		}
		if serr := d.sleep(ctx, d.opts.AlarmBackoff); serr != nil {
			return serr
		}
	}

	d.Screen.ShowMessage(d.Catalog.Getf(i18n.MsgAlarmSetError, lang, err), errorMessage)
	return err
}

// Ping asks the operator to open the gate and returns the action code to log.
func (d *Dispatcher) Ping(ctx context.Context, req Request) int {
	lang := req.Language
	log := logging.Component("dispatch")

	d.say(i18n.MsgPinging, lang, 0)

	if d.Notifier == nil || d.Online == nil || !d.Online.Online(ctx) {
		log.Warn("No internet, ping skipped")
		d.say(i18n.MsgNoInternet, lang, noNetMessage)
		return CodeOperatorUnavailable
	}

	buttons := []notify.Button{
		{Text: d.Catalog.Get(i18n.MsgOpenGateButton, lang), Data: notify.CallbackOpen},
		{Text: d.Catalog.Get(i18n.MsgMenuCancel, lang), Data: notify.CallbackCancel},
	}
	id, err := d.Notifier.Post(ctx, req.PingText, req.Photo, buttons)
	if err != nil {
		log.WithError(err).Warn("Ping not delivered")
		d.say(i18n.MsgOperatorAway, lang, replyMessage)
		return CodeOperatorUnavailable
	}

	reply, err := d.Notifier.PollForButton(ctx, id, d.opts.ResponseTimeout)
	if err != nil {
		log.WithError(err).Warn("Waiting for operator failed")
	}

	switch reply {
	case notify.ReplyOpen:
		if err := d.OpenGate(ctx, lang); err != nil {
			log.WithError(err).Warn("Gate not opened")
		}
		return CodeOperatorOpened
	case notify.ReplyCancel:
		d.say(i18n.MsgNotAuthorized, lang, replyMessage)
		return CodeOperatorRefused
	}
	d.say(i18n.MsgOperatorAway, lang, replyMessage)
	return CodeOperatorUnavailable
}

func (d *Dispatcher) say(id int, lang string, dur time.Duration) {
	d.Screen.ShowMessage(d.Catalog.Get(id, lang), dur)
}
