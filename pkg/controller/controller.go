// Package controller runs the gate interaction loop: recognize a face,
// collect a code on the keypad, act on the result and log the event.
package controller

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/MrCodeEU/gatekeeper/pkg/dispatch"
	"github.com/MrCodeEU/gatekeeper/pkg/eventlog"
	"github.com/MrCodeEU/gatekeeper/pkg/i18n"
	"github.com/MrCodeEU/gatekeeper/pkg/keypad"
	"github.com/MrCodeEU/gatekeeper/pkg/logging"
	"github.com/MrCodeEU/gatekeeper/pkg/metrics"
	"github.com/MrCodeEU/gatekeeper/pkg/notify"
	"github.com/MrCodeEU/gatekeeper/pkg/recognition"
	"github.com/MrCodeEU/gatekeeper/pkg/registry"
	"github.com/MrCodeEU/gatekeeper/pkg/session"
)

// ErrCyclePanic wraps a panic recovered inside one cycle.
var ErrCyclePanic = errors.New("cycle panicked")

// Recognizer produces the next confirmed identity.
type Recognizer interface {
	Recognize(ctx context.Context) (session.Outcome, bool, error)
}

// Keypad collects a code and returns the session result.
type Keypad interface {
	Run(ctx context.Context, p keypad.Prompt) keypad.Result
}

// Dispatcher acts on a keypad result and returns the action code to log.
type Dispatcher interface {
	Handle(ctx context.Context, req dispatch.Request) int
}

// People is the registry view needed to build a profile.
type People interface {
	Lookup(ctx context.Context, id int64) (*registry.Person, error)
	StrangerDefaults(ctx context.Context) (passwordHash, language string, err error)
}

// EventLog stores one record per completed cycle.
type EventLog interface {
	Append(ctx context.Context, picture []byte, name, surname string, actionCode int) (*eventlog.Event, error)
}

// Screen is the part of the display the loop drives directly.
type Screen interface {
	ShowMessage(text string, d time.Duration)
	Clear()
}

// Drainer discards buffered camera frames.
type Drainer interface {
	Drain(n int)
}

// Poster sends the arrival notification.
type Poster interface {
	Post(ctx context.Context, text string, photo []byte, buttons []notify.Button) (int, error)
}

// Options holds loop timings.
type Options struct {
	Language    string
	JoinTimeout time.Duration
	DrainFrames int
	SettleDelay time.Duration
	ErrorDelay  time.Duration
}

// DefaultOptions returns the production timings.
func DefaultOptions() Options {
	return Options{
		Language:    i18n.DefaultLanguage,
		JoinTimeout: 2 * time.Second,
		DrainFrames: 10,
		SettleDelay: 500 * time.Millisecond,
		ErrorDelay:  time.Second,
	}
}

// Deps are the collaborators of a Controller. Notifier may be nil when
// notifications are disabled.
type Deps struct {
	Session    Recognizer
	Keypad     Keypad
	Dispatcher Dispatcher
	People     People
	Events     EventLog
	Screen     Screen
	Camera     Drainer
	Notifier   Poster
	Online     notify.Connectivity
	Catalog    *i18n.Catalog
}

// Controller runs interaction cycles one after another.
type Controller struct {
	Deps
	opts Options

	now   func() time.Time
	sleep func(time.Duration)
}

// New creates a controller.
func New(deps Deps, opts Options) *Controller {
	if opts.Language == "" {
		opts.Language = i18n.DefaultLanguage
	}
	return &Controller{
		Deps:  deps,
		opts:  opts,
		now:   time.Now,
		sleep: time.Sleep,
	}
}

// Profile is everything the cycle knows about the visitor.
type Profile struct {
	// Name and Surname go to the event log.
	Name    string
	Surname string
	// Display is shown on the keypad header.
	Display      string
	Language     string
	PasswordHash string
	// Arrival is the notification text sent when the visitor is recognized.
	Arrival string
	// PingText accompanies the open/cancel buttons.
	PingText string
}

// Run executes cycles until the exit code is entered, the quit key is
// pressed or ctx ends. Errors inside a cycle are logged and the loop goes on.
func (c *Controller) Run(ctx context.Context) error {
	log := logging.Component("controller")
	log.Info("Gate loop started")

	for {
		exit, err := c.Cycle(ctx)
		if exit {
			log.Info("Gate loop stopped")
			return ctx.Err()
		}
		if err != nil {
			log.WithError(err).Error("Cycle failed")
			c.sleep(c.opts.ErrorDelay)
		}
	}
}

// Cycle runs one interaction. exit reports that the loop should stop.
func (c *Controller) Cycle(ctx context.Context) (exit bool, err error) {
	log := logging.Component("controller")
	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", r).Error("Recovered from panic in cycle")
			exit, err = false, fmt.Errorf("%w: %v", ErrCyclePanic, r)
		}
	}()

	c.Screen.ShowMessage(c.Catalog.Get(i18n.MsgWelcome, c.opts.Language), 0)
	c.Screen.ShowMessage(c.Catalog.Get(i18n.MsgInitRecognition, c.opts.Language), 0)

	out, ok, err := c.Session.Recognize(ctx)
	if err != nil {
		return false, fmt.Errorf("recognition: %w", err)
	}
	if !ok {
		return true, nil
	}

	start := c.now()
	profile, err := c.resolveProfile(ctx, out.Identity)
	if err != nil {
		return false, err
	}
	log.WithFields(logging.Fields{
		"identity": out.Identity.String(),
		"name":     profile.Name,
		"language": profile.Language,
	}).Info("Visitor at the gate")

	arrival := c.notifyArrival(ctx, profile, out.Snapshot)

	result := c.Keypad.Run(ctx, keypad.Prompt{
		Name:         profile.Display,
		Language:     profile.Language,
		PasswordHash: profile.PasswordHash,
	})
	metrics.KeypadResults.WithLabelValues(strconv.Itoa(int(result))).Inc()

	if result == keypad.ResultExit {
		log.Warn("Exit code entered")
		return true, nil
	}

	// The visitor has committed; a shutdown now waits for the action and its record.
	actx := context.WithoutCancel(ctx)

	code := c.Dispatcher.Handle(actx, dispatch.Request{
		Result:   result,
		Language: profile.Language,
		PingText: profile.PingText,
		Photo:    out.Snapshot,
	})

	c.join(arrival)

	if _, err := c.Events.Append(actx, out.Snapshot, profile.Name, profile.Surname, code); err != nil {
		log.WithError(err).Error("Failed to log event")
	}
	metrics.Cycles.WithLabelValues(strconv.Itoa(code)).Inc()
	metrics.CycleDuration.Observe(c.now().Sub(start).Seconds())

	if settles(result) {
		c.settle()
	}
	return false, nil
}

// resolveProfile builds the visitor profile. A matched id missing from the
// registry uses the stranger credentials.
func (c *Controller) resolveProfile(ctx context.Context, id recognition.Identity) (Profile, error) {
	if !id.IsStranger() {
		p, err := c.People.Lookup(ctx, id.PersonID)
		if err == nil {
			return Profile{
				Name:         p.Name,
				Surname:      p.Surname,
				Display:      p.Name,
				Language:     p.Language,
				PasswordHash: p.PasswordHash,
				Arrival:      fmt.Sprintf("%s %s %s", p.Name, p.Surname, c.Catalog.Get(i18n.MsgAtGate, p.Language)),
				PingText:     fmt.Sprintf("%s %s %s", p.Name, p.Surname, c.Catalog.Get(i18n.MsgPersonPing, p.Language)),
			}, nil
		}
		if !errors.Is(err, registry.ErrPersonNotFound) {
			logging.Component("controller").WithError(err).Warn("Person lookup failed, using stranger credentials")
		}
	}

	hash, lang, err := c.People.StrangerDefaults(ctx)
	if err != nil {
		return Profile{}, fmt.Errorf("stranger credentials: %w", err)
	}

	if id.IsStranger() {
		return Profile{
			Name:         "Unrecognized",
			Surname:      "Person",
			Display:      c.Catalog.Get(i18n.MsgStranger, lang),
			Language:     lang,
			PasswordHash: hash,
			Arrival:      c.Catalog.Get(i18n.MsgStrangerAtGate, lang),
			PingText:     c.Catalog.Get(i18n.MsgStrangerPing, lang),
		}, nil
	}
	return Profile{
		Name:         "Unknown",
		Surname:      "Unknown",
		Display:      "Unknown",
		Language:     lang,
		PasswordHash: hash,
		Arrival:      c.Catalog.Get(i18n.MsgUnregisteredAtGate, lang),
		PingText:     c.Catalog.Get(i18n.MsgUnregisteredPing, lang),
	}, nil
}

// notifyArrival posts the arrival message in the background. It returns nil
// when there is nothing to wait for.
func (c *Controller) notifyArrival(ctx context.Context, p Profile, photo []byte) <-chan struct{} {
	if c.Notifier == nil {
		return nil
	}
	if c.Online != nil && !c.Online.Online(ctx) {
		logging.Component("controller").Warn("Offline, arrival notification skipped")
		metrics.Notifications.WithLabelValues("offline").Inc()
		return nil
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				logging.Component("controller").WithField("panic", r).Error("Recovered from panic in arrival notification")
			}
		}()
		if _, err := c.Notifier.Post(ctx, p.Arrival, photo, nil); err != nil {
			logging.Component("controller").WithError(err).Warn("Arrival notification failed")
		}
	}()
	return done
}

// join waits briefly for the arrival notification. A post still in flight is left running.
func (c *Controller) join(done <-chan struct{}) {
	if done == nil {
		return
	}
	select {
	case <-done:
	case <-time.After(c.opts.JoinTimeout):
		logging.Component("controller").Debug("Arrival notification still in flight")
	}
}

// settles reports whether the visitor is likely still in front of the camera
// after the cycle.
func settles(r keypad.Result) bool {
	switch r {
	case keypad.ResultCancel, keypad.ResultLockout, keypad.ResultDisarm, keypad.ResultArmDay, keypad.ResultArmNight:
		return true
	}
	return false
}

// settle blanks the screen and drops the frames buffered during the cycle, so
// the same visitor is not recognized again straight away.
func (c *Controller) settle() {
	c.Screen.Clear()
	if c.Camera != nil {
		c.Camera.Drain(c.opts.DrainFrames)
	}
	c.sleep(c.opts.SettleDelay)
}
