package dispatch

import (
	"context"
	"time"

	"github.com/MrCodeEU/gatekeeper/pkg/i18n"
	"github.com/MrCodeEU/gatekeeper/pkg/notify"
)

type mockRelays struct {
	PulseFunc func(ctx context.Context, name string) error
	pulses    []string
}

func (m *mockRelays) Pulse(ctx context.Context, name string) error {
	m.pulses = append(m.pulses, name)
	if m.PulseFunc != nil {
		return m.PulseFunc(ctx, name)
	}
	return nil
}

func (m *mockRelays) count(name string) int {
	n := 0
	for _, p := range m.pulses {
		if p == name {
			n++
		}
	}
	return n
}

type shown struct {
	text string
	dur  time.Duration
}

type mockScreen struct {
	messages []shown
}

func (m *mockScreen) ShowMessage(text string, d time.Duration) {
	m.messages = append(m.messages, shown{text, d})
}

func (m *mockScreen) saw(text string) bool {
	for _, s := range m.messages {
		if s.text == text {
			return true
		}
	}
	return false
}

type mockConfirm struct {
	answer    bool
	questions []string
}

func (m *mockConfirm) Confirm(q string) bool {
	m.questions = append(m.questions, q)
	return m.answer
}

type mockState struct {
	state AlarmState
	err   error
}

func (m mockState) AlarmState(context.Context) (AlarmState, error) { return m.state, m.err }

type mockNotifier struct {
	PostFunc func(ctx context.Context, text string, photo []byte, buttons []notify.Button) (int, error)
	PollFunc func(ctx context.Context, id int, timeout time.Duration) (notify.Reply, error)
	posted   []string
}

func (m *mockNotifier) Post(ctx context.Context, text string, photo []byte, buttons []notify.Button) (int, error) {
	m.posted = append(m.posted, text)
	if m.PostFunc != nil {
		return m.PostFunc(ctx, text, photo, buttons)
	}
	return 1, nil
}

func (m *mockNotifier) PollForButton(ctx context.Context, id int, timeout time.Duration) (notify.Reply, error) {
	if m.PollFunc != nil {
		return m.PollFunc(ctx, id, timeout)
	}
	return notify.ReplyTimeout, nil
}

type onlineFunc func() bool

func (f onlineFunc) Online(context.Context) bool { return f() }

type fixture struct {
	relays   *mockRelays
	screen   *mockScreen
	confirm  *mockConfirm
	notifier *mockNotifier
	sleeps   []time.Duration
	d        *Dispatcher
	catalog  *i18n.Catalog
}

func newFixture(state StateReader, online bool) *fixture {
	f := &fixture{
		relays:   &mockRelays{},
		screen:   &mockScreen{},
		confirm:  &mockConfirm{},
		notifier: &mockNotifier{},
		catalog:  i18n.New("", "EN"),
	}
	f.d = New(Deps{
		Relays:   f.relays,
		Screen:   f.screen,
		Confirm:  f.confirm,
		State:    state,
		Notifier: f.notifier,
		Online:   onlineFunc(func() bool { return online }),
		Catalog:  f.catalog,
	}, DefaultSwitches, Options{
		OpenShort:       3 * time.Second,
		WaitShort:       3 * time.Second,
		AlarmAttempts:   3,
		AlarmBackoff:    2 * time.Second,
		ArmSettle:       2 * time.Second,
		ResponseTimeout: time.Minute,
	})
	f.d.sleep = func(ctx context.Context, d time.Duration) error {
		f.sleeps = append(f.sleeps, d)
		return nil
	}
	return f
}
