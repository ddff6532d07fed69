package controller

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/MrCodeEU/gatekeeper/pkg/dispatch"
	"github.com/MrCodeEU/gatekeeper/pkg/eventlog"
	"github.com/MrCodeEU/gatekeeper/pkg/i18n"
	"github.com/MrCodeEU/gatekeeper/pkg/keypad"
	"github.com/MrCodeEU/gatekeeper/pkg/notify"
	"github.com/MrCodeEU/gatekeeper/pkg/recognition"
	"github.com/MrCodeEU/gatekeeper/pkg/registry"
	"github.com/MrCodeEU/gatekeeper/pkg/session"
)

var snapshot = []byte{0xFF, 0xD8, 0xFF}

func recognized(id recognition.Identity) func(context.Context) (session.Outcome, bool, error) {
	return func(context.Context) (session.Outcome, bool, error) {
		return session.Outcome{Identity: id, Snapshot: snapshot}, true, nil
	}
}

func returns(r keypad.Result) func(context.Context, keypad.Prompt) keypad.Result {
	return func(context.Context, keypad.Prompt) keypad.Result { return r }
}

func lev(_ context.Context, id int64) (*registry.Person, error) {
	if id != 1 {
		return nil, registry.ErrPersonNotFound
	}
	return &registry.Person{ID: 1, Name: "Lev", Surname: "Gordon", Language: "IT", PasswordHash: "lev-hash"}, nil
}

func TestCycle_KnownPerson(t *testing.T) {
	f := newFixture()
	f.session.RecognizeFunc = recognized(recognition.Person(1))
	f.people.LookupFunc = lev
	f.keypad.RunFunc = returns(keypad.ResultAuthenticated)

	exit, err := f.controller().Cycle(context.Background())
	if err != nil || exit {
		t.Fatalf("expected a completed cycle, got exit=%v err=%v", exit, err)
	}

	if len(f.keypad.prompts) != 1 {
		t.Fatalf("expected 1 keypad session, got %d", len(f.keypad.prompts))
	}
	p := f.keypad.prompts[0]
	if p.Name != "Lev" || p.Language != "IT" || p.PasswordHash != "lev-hash" {
		t.Errorf("unexpected prompt %+v", p)
	}

	if len(f.dispatcher.requests) != 1 {
		t.Fatalf("expected 1 dispatch, got %d", len(f.dispatcher.requests))
	}
	req := f.dispatcher.requests[0]
	wantPing := "Lev Gordon " + f.catalog.Get(i18n.MsgPersonPing, "IT")
	if req.Language != "IT" || req.PingText != wantPing || len(req.Photo) != len(snapshot) {
		t.Errorf("unexpected dispatch request %+v", req)
	}

	if len(f.events.events) != 1 {
		t.Fatalf("expected exactly 1 event, got %d", len(f.events.events))
	}
	e := f.events.events[0]
	if e.name != "Lev" || e.surname != "Gordon" || e.code != 1 || len(e.picture) != len(snapshot) {
		t.Errorf("unexpected event %+v", e)
	}

	posted := f.poster.posted()
	wantArrival := "Lev Gordon " + f.catalog.Get(i18n.MsgAtGate, "IT")
	if len(posted) != 1 || posted[0] != wantArrival {
		t.Errorf("expected arrival %q, got %v", wantArrival, posted)
	}

	if f.screen.clears != 0 || f.screen.drained != 0 {
		t.Error("expected no settle after an authenticated cycle")
	}
}

func TestCycle_Profiles(t *testing.T) {
	tests := []struct {
		name        string
		id          recognition.Identity
		wantName    string
		wantSurname string
		wantArrival int
		wantPing    int
	}{
		{"stranger", recognition.Stranger, "Unrecognized", "Person", i18n.MsgStrangerAtGate, i18n.MsgStrangerPing},
		{"unregistered id", recognition.Person(42), "Unknown", "Unknown", i18n.MsgUnregisteredAtGate, i18n.MsgUnregisteredPing},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.session.RecognizeFunc = recognized(tt.id)
			f.people.LookupFunc = lev
			f.people.StrangerDefaultsFunc = func(context.Context) (string, string, error) {
				return "stranger-hash", "RU", nil
			}
			f.keypad.RunFunc = returns(keypad.ResultPing)
			f.dispatcher.HandleFunc = func(context.Context, dispatch.Request) int {
				return dispatch.CodeOperatorRefused
			}

			if _, err := f.controller().Cycle(context.Background()); err != nil {
				t.Fatalf("Cycle failed: %v", err)
			}

			p := f.keypad.prompts[0]
			if p.PasswordHash != "stranger-hash" || p.Language != "RU" {
				t.Errorf("expected stranger credentials, got %+v", p)
			}

			e := f.events.events[0]
			if e.name != tt.wantName || e.surname != tt.wantSurname {
				t.Errorf("expected %s %s, got %s %s", tt.wantName, tt.wantSurname, e.name, e.surname)
			}
			if e.code != dispatch.CodeOperatorRefused {
				t.Errorf("expected dispatch code to be logged, got %d", e.code)
			}

			if got := f.dispatcher.requests[0].PingText; got != f.catalog.Get(tt.wantPing, "RU") {
				t.Errorf("unexpected ping text %q", got)
			}
			if posted := f.poster.posted(); len(posted) != 1 || posted[0] != f.catalog.Get(tt.wantArrival, "RU") {
				t.Errorf("unexpected arrival %v", posted)
			}
		})
	}
}

func TestCycle_LookupErrorUsesStrangerCredentials(t *testing.T) {
	f := newFixture()
	f.session.RecognizeFunc = recognized(recognition.Person(1))
	f.people.LookupFunc = func(context.Context, int64) (*registry.Person, error) {
		return nil, errors.New("database is locked")
	}

	if _, err := f.controller().Cycle(context.Background()); err != nil {
		t.Fatalf("Cycle failed: %v", err)
	}
	if f.keypad.prompts[0].PasswordHash != "stranger-hash" {
		t.Error("expected stranger credentials after a failed lookup")
	}
}

func TestCycle_StrangerDefaultsError(t *testing.T) {
	f := newFixture()
	f.session.RecognizeFunc = recognized(recognition.Stranger)
	f.people.StrangerDefaultsFunc = func(context.Context) (string, string, error) {
		return "", "", errors.New("no such table")
	}

	exit, err := f.controller().Cycle(context.Background())
	if err == nil || exit {
		t.Fatalf("expected an error without exit, got exit=%v err=%v", exit, err)
	}
	if len(f.keypad.prompts) != 0 || len(f.events.events) != 0 {
		t.Error("expected the cycle to stop before the keypad")
	}
}

func TestCycle_Exit(t *testing.T) {
	f := newFixture()
	f.session.RecognizeFunc = recognized(recognition.Person(1))
	f.people.LookupFunc = lev
	f.keypad.RunFunc = returns(keypad.ResultExit)

	exit, err := f.controller().Cycle(context.Background())
	if err != nil {
		t.Fatalf("Cycle failed: %v", err)
	}
	if !exit {
		t.Error("expected exit")
	}
	if len(f.dispatcher.requests) != 0 || len(f.events.events) != 0 {
		t.Error("expected no dispatch and no event on exit")
	}
}

func TestCycle_SessionEnded(t *testing.T) {
	f := newFixture()

	exit, err := f.controller().Cycle(context.Background())
	if err != nil || !exit {
		t.Fatalf("expected exit when the session ends, got exit=%v err=%v", exit, err)
	}
	if len(f.keypad.prompts) != 0 {
		t.Error("expected no keypad session")
	}
}

func TestCycle_SessionError(t *testing.T) {
	f := newFixture()
	boom := errors.New("model missing")
	f.session.RecognizeFunc = func(context.Context) (session.Outcome, bool, error) {
		return session.Outcome{}, false, boom
	}

	exit, err := f.controller().Cycle(context.Background())
	if exit {
		t.Error("expected the loop to continue")
	}
	if !errors.Is(err, boom) {
		t.Errorf("expected wrapped session error, got %v", err)
	}
}

func TestCycle_RecoversPanic(t *testing.T) {
	f := newFixture()
	f.session.RecognizeFunc = recognized(recognition.Person(1))
	f.people.LookupFunc = lev
	f.dispatcher.HandleFunc = func(context.Context, dispatch.Request) int {
		panic("relay driver crashed")
	}

	exit, err := f.controller().Cycle(context.Background())
	if exit {
		t.Error("expected the loop to continue after a panic")
	}
	if !errors.Is(err, ErrCyclePanic) {
		t.Errorf("expected ErrCyclePanic, got %v", err)
	}
}

func TestCycle_Settle(t *testing.T) {
	tests := []struct {
		result keypad.Result
		settle bool
	}{
		{keypad.ResultAuthenticated, false},
		{keypad.ResultPing, false},
		{keypad.ResultCancel, true},
		{keypad.ResultLockout, true},
		{keypad.ResultDisarm, true},
		{keypad.ResultArmDay, true},
		{keypad.ResultArmNight, true},
	}

	for _, tt := range tests {
		t.Run(strconv.Itoa(int(tt.result)), func(t *testing.T) {
			f := newFixture()
			f.session.RecognizeFunc = recognized(recognition.Stranger)
			f.keypad.RunFunc = returns(tt.result)

			if _, err := f.controller().Cycle(context.Background()); err != nil {
				t.Fatalf("Cycle failed: %v", err)
			}

			if !tt.settle {
				if f.screen.clears != 0 || len(f.sleeps) != 0 {
					t.Errorf("expected no settle, got %d clears and sleeps %v", f.screen.clears, f.sleeps)
				}
				return
			}
			if f.screen.clears != 1 {
				t.Errorf("expected 1 clear, got %d", f.screen.clears)
			}
			if f.screen.drained != 10 {
				t.Errorf("expected 10 drained frames, got %d", f.screen.drained)
			}
			if len(f.sleeps) != 1 || f.sleeps[0] != 500*time.Millisecond {
				t.Errorf("expected a 500ms settle, got %v", f.sleeps)
			}
		})
	}
}

func TestCycle_Offline(t *testing.T) {
	f := newFixture()
	f.online = false
	f.session.RecognizeFunc = recognized(recognition.Stranger)

	if _, err := f.controller().Cycle(context.Background()); err != nil {
		t.Fatalf("Cycle failed: %v", err)
	}
	if posted := f.poster.posted(); len(posted) != 0 {
		t.Errorf("expected no notification while offline, got %v", posted)
	}
	if len(f.events.events) != 1 {
		t.Error("expected the event to be logged anyway")
	}
}

func TestCycle_NoNotifier(t *testing.T) {
	f := newFixture()
	f.session.RecognizeFunc = recognized(recognition.Stranger)
	c := f.controller()
	c.Notifier = nil

	if _, err := c.Cycle(context.Background()); err != nil {
		t.Fatalf("Cycle failed: %v", err)
	}
	if len(f.events.events) != 1 {
		t.Error("expected the event to be logged")
	}
}

func TestCycle_SlowNotificationDoesNotBlock(t *testing.T) {
	f := newFixture()
	f.session.RecognizeFunc = recognized(recognition.Stranger)
	release := make(chan struct{})
	defer close(release)
	f.poster.PostFunc = func(context.Context, string, []byte, []notify.Button) (int, error) {
		<-release
		return 1, nil
	}

	c := f.controller()
	c.opts.JoinTimeout = 10 * time.Millisecond

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = c.Cycle(context.Background())
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("cycle blocked on the arrival notification")
	}
	if len(f.events.events) != 1 {
		t.Error("expected the event to be logged")
	}
}

func TestCycle_ShutdownDuringKeypadStillCompletes(t *testing.T) {
	f := newFixture()
	f.session.RecognizeFunc = recognized(recognition.Person(1))
	f.people.LookupFunc = lev

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.keypad.RunFunc = func(context.Context, keypad.Prompt) keypad.Result {
		cancel()
		return keypad.ResultAuthenticated
	}

	var dispatchErr, appendErr error
	f.dispatcher.HandleFunc = func(ctx context.Context, req dispatch.Request) int {
		dispatchErr = ctx.Err()
		return int(req.Result)
	}
	f.events.AppendFunc = func(ctx context.Context, _ []byte, name, surname string, code int) (*eventlog.Event, error) {
		appendErr = ctx.Err()
		if appendErr != nil {
			return nil, appendErr
		}
		return &eventlog.Event{Name: name, Surname: surname, ActionCode: code}, nil
	}

	if _, err := f.controller().Cycle(ctx); err != nil {
		t.Fatalf("Cycle failed: %v", err)
	}
	if dispatchErr != nil {
		t.Errorf("expected the gate action to run on a live context, got %v", dispatchErr)
	}
	if appendErr != nil {
		t.Errorf("expected the event to be written on a live context, got %v", appendErr)
	}
	if len(f.events.events) != 1 || f.events.events[0].code != int(keypad.ResultAuthenticated) {
		t.Errorf("expected exactly one authenticated event, got %+v", f.events.events)
	}
}

func TestCycle_NotificationPanicDoesNotEscape(t *testing.T) {
	f := newFixture()
	f.session.RecognizeFunc = recognized(recognition.Stranger)
	f.poster.PostFunc = func(context.Context, string, []byte, []notify.Button) (int, error) {
		panic("bot client exploded")
	}

	exit, err := f.controller().Cycle(context.Background())
	if err != nil || exit {
		t.Fatalf("expected a completed cycle, got exit=%v err=%v", exit, err)
	}
	if len(f.events.events) != 1 {
		t.Errorf("expected the event to be logged, got %d", len(f.events.events))
	}
}

func TestCycle_EventLogFailure(t *testing.T) {
	f := newFixture()
	f.session.RecognizeFunc = recognized(recognition.Stranger)
	f.events.AppendFunc = func(context.Context, []byte, string, string, int) (*eventlog.Event, error) {
		return nil, errors.New("disk full")
	}

	exit, err := f.controller().Cycle(context.Background())
	if err != nil || exit {
		t.Errorf("expected the cycle to survive a logging failure, got exit=%v err=%v", exit, err)
	}
}

func TestRun(t *testing.T) {
	f := newFixture()
	calls := 0
	f.session.RecognizeFunc = func(context.Context) (session.Outcome, bool, error) {
		calls++
		switch calls {
		case 1:
			return session.Outcome{}, false, errors.New("camera unplugged")
		case 2:
			return session.Outcome{Identity: recognition.Stranger, Snapshot: snapshot}, true, nil
		}
		return session.Outcome{}, false, nil
	}
	f.keypad.RunFunc = returns(keypad.ResultAuthenticated)

	c := f.controller()
	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if calls != 3 {
		t.Errorf("expected 3 recognitions, got %d", calls)
	}
	if len(f.events.events) != 1 {
		t.Errorf("expected 1 event, got %d", len(f.events.events))
	}
	if len(f.sleeps) != 1 || f.sleeps[0] != c.opts.ErrorDelay {
		t.Errorf("expected one error pause, got %v", f.sleeps)
	}
}

func TestRun_ExitCode(t *testing.T) {
	f := newFixture()
	cycles := 0
	f.session.RecognizeFunc = func(ctx context.Context) (session.Outcome, bool, error) {
		cycles++
		return session.Outcome{Identity: recognition.Stranger}, true, nil
	}
	f.keypad.RunFunc = returns(keypad.ResultExit)

	if err := f.controller().Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if cycles != 1 {
		t.Errorf("expected the loop to stop after 1 cycle, got %d", cycles)
	}
}
