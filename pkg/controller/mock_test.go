package controller

import (
	"context"
	"sync"
	"time"

	"github.com/MrCodeEU/gatekeeper/pkg/dispatch"
	"github.com/MrCodeEU/gatekeeper/pkg/eventlog"
	"github.com/MrCodeEU/gatekeeper/pkg/i18n"
	"github.com/MrCodeEU/gatekeeper/pkg/keypad"
	"github.com/MrCodeEU/gatekeeper/pkg/notify"
	"github.com/MrCodeEU/gatekeeper/pkg/registry"
	"github.com/MrCodeEU/gatekeeper/pkg/session"
)

// MockSession implements Recognizer for testing
type MockSession struct {
	RecognizeFunc func(ctx context.Context) (session.Outcome, bool, error)
}

func (m *MockSession) Recognize(ctx context.Context) (session.Outcome, bool, error) {
	if m.RecognizeFunc != nil {
		return m.RecognizeFunc(ctx)
	}
	return session.Outcome{}, false, nil
}

// MockKeypad implements Keypad for testing
type MockKeypad struct {
	RunFunc func(ctx context.Context, p keypad.Prompt) keypad.Result
	prompts []keypad.Prompt
}

func (m *MockKeypad) Run(ctx context.Context, p keypad.Prompt) keypad.Result {
	m.prompts = append(m.prompts, p)
	if m.RunFunc != nil {
		return m.RunFunc(ctx, p)
	}
	return keypad.ResultCancel
}

// MockDispatcher implements Dispatcher for testing
type MockDispatcher struct {
	HandleFunc func(ctx context.Context, req dispatch.Request) int
	requests   []dispatch.Request
}

func (m *MockDispatcher) Handle(ctx context.Context, req dispatch.Request) int {
	m.requests = append(m.requests, req)
	if m.HandleFunc != nil {
		return m.HandleFunc(ctx, req)
	}
	return int(req.Result)
}

// MockPeople implements People for testing
type MockPeople struct {
	LookupFunc           func(ctx context.Context, id int64) (*registry.Person, error)
	StrangerDefaultsFunc func(ctx context.Context) (string, string, error)
}

func (m *MockPeople) Lookup(ctx context.Context, id int64) (*registry.Person, error) {
	if m.LookupFunc != nil {
		return m.LookupFunc(ctx, id)
	}
	return nil, registry.ErrPersonNotFound
}

func (m *MockPeople) StrangerDefaults(ctx context.Context) (string, string, error) {
	if m.StrangerDefaultsFunc != nil {
		return m.StrangerDefaultsFunc(ctx)
	}
	return "stranger-hash", "EN", nil
}

type loggedEvent struct {
	picture []byte
	name    string
	surname string
	code    int
}

// MockEvents implements EventLog for testing
type MockEvents struct {
	AppendFunc func(ctx context.Context, picture []byte, name, surname string, code int) (*eventlog.Event, error)
	events     []loggedEvent
}

func (m *MockEvents) Append(ctx context.Context, picture []byte, name, surname string, code int) (*eventlog.Event, error) {
	m.events = append(m.events, loggedEvent{picture, name, surname, code})
	if m.AppendFunc != nil {
		return m.AppendFunc(ctx, picture, name, surname, code)
	}
	return &eventlog.Event{Name: name, Surname: surname, ActionCode: code}, nil
}

// MockScreen implements Screen and Drainer for testing
type MockScreen struct {
	messages []string
	clears   int
	drained  int
}

func (m *MockScreen) ShowMessage(text string, d time.Duration) {
	m.messages = append(m.messages, text)
}

func (m *MockScreen) Clear() {
	m.clears++
}

func (m *MockScreen) Drain(n int) {
	m.drained += n
}

// MockPoster implements Poster for testing
type MockPoster struct {
	PostFunc func(ctx context.Context, text string, photo []byte, buttons []notify.Button) (int, error)

	mu    sync.Mutex
	texts []string
}

func (m *MockPoster) Post(ctx context.Context, text string, photo []byte, buttons []notify.Button) (int, error) {
	m.mu.Lock()
	m.texts = append(m.texts, text)
	m.mu.Unlock()
	if m.PostFunc != nil {
		return m.PostFunc(ctx, text, photo, buttons)
	}
	return 1, nil
}

func (m *MockPoster) posted() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.texts...)
}

type onlineFunc func(ctx context.Context) bool

func (f onlineFunc) Online(ctx context.Context) bool { return f(ctx) }

type fixture struct {
	session    *MockSession
	keypad     *MockKeypad
	dispatcher *MockDispatcher
	people     *MockPeople
	events     *MockEvents
	screen     *MockScreen
	poster     *MockPoster
	online     bool
	sleeps     []time.Duration
	catalog    *i18n.Catalog
}

func newFixture() *fixture {
	return &fixture{
		session:    &MockSession{},
		keypad:     &MockKeypad{},
		dispatcher: &MockDispatcher{},
		people:     &MockPeople{},
		events:     &MockEvents{},
		screen:     &MockScreen{},
		poster:     &MockPoster{},
		online:     true,
		catalog:    i18n.New("", "EN"),
	}
}

func (f *fixture) controller() *Controller {
	c := New(Deps{
		Session:    f.session,
		Keypad:     f.keypad,
		Dispatcher: f.dispatcher,
		People:     f.people,
		Events:     f.events,
		Screen:     f.screen,
		Camera:     f.screen,
		Notifier:   f.poster,
		Online:     onlineFunc(func(context.Context) bool { return f.online }),
		Catalog:    f.catalog,
	}, DefaultOptions())
	c.sleep = func(d time.Duration) { f.sleeps = append(f.sleeps, d) }
	return c
}
