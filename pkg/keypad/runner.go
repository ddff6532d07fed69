package keypad

import (
	"context"
	"time"

	"github.com/MrCodeEU/gatekeeper/pkg/i18n"
	"github.com/MrCodeEU/gatekeeper/pkg/logging"
)

// Blink timings for wrong-code and lockout feedback.
const (
	BlinkTimes   = 3
	BlinkPeriod  = 200 * time.Millisecond
	LockoutTimes = 5
	LockoutFlash = 500 * time.Millisecond
)

const pollInterval = 100 * time.Millisecond

// View is everything a terminal needs to draw the keypad screen.
type View struct {
	Name      string
	Message   string
	Masked    string
	Remaining time.Duration
	Labels    map[Key]string
	// Alert renders Message as a warning.
	Alert bool
}

// MenuItem is one labelled admin menu button.
type MenuItem struct {
	Option MenuOption
	Label  string
}

// Terminal is the keypad surface. NextKey returns false when no key arrived
// within wait. Menu blocks until an option is chosen; false means dismissed.
type Terminal interface {
	RenderKeypad(v View)
	NextKey(wait time.Duration) (Key, bool)
	Blink(v View, times int, period time.Duration)
	Menu(items []MenuItem) (MenuOption, bool)
}

// Prompt identifies who is entering a code.
type Prompt struct {
	Name         string
	Language     string
	PasswordHash string
}

// Runner drives a Machine against a Terminal.
type Runner struct {
	term        Terminal
	catalog     *i18n.Catalog
	maxAttempts int
	timeout     time.Duration
	now         func() time.Time
}

// NewRunner creates a runner.
func NewRunner(term Terminal, catalog *i18n.Catalog, maxAttempts int, timeout time.Duration) *Runner {
	return &Runner{
		term:        term,
		catalog:     catalog,
		maxAttempts: maxAttempts,
		timeout:     timeout,
		now:         time.Now,
	}
}

// Run collects a code and returns the session result. A cancelled context
// ends the session as ResultCancel.
func (r *Runner) Run(ctx context.Context, p Prompt) Result {
	log := logging.Component("keypad")
	m := NewMachine(p.PasswordHash, r.maxAttempts, r.timeout, r.now())
	labels := r.labels(p.Language)

	view := func(msgID int, alert bool) View {
		return View{
			Name:      p.Name,
			Message:   ", " + r.catalog.Getf(msgID, p.Language, m.Attempts()),
			Masked:    masked(m.Len()),
			Remaining: m.Remaining(r.now()),
			Labels:    labels,
			Alert:     alert,
		}
	}

	for {
		if ctx.Err() != nil {
			return ResultCancel
		}
		if st := m.Tick(r.now()); st.Done {
			log.WithField("name", p.Name).Info("Keypad timed out")
			return st.Result
		}

		r.term.RenderKeypad(view(i18n.MsgAttemptsLeft, false))

		key, ok := r.term.NextKey(pollInterval)
		if !ok || key == KeyNone {
			continue
		}

		st := m.Press(key, r.now())
		switch st.Feedback {
		case FeedbackPrompt:
			r.term.Blink(view(i18n.MsgAttemptsLeft, false), BlinkTimes, BlinkPeriod)
		case FeedbackWrongCode:
			log.WithField("attempts_left", m.Attempts()).Warn("Wrong code")
			r.term.Blink(view(i18n.MsgWrongCode, false), BlinkTimes, BlinkPeriod)
		case FeedbackLockout:
			log.WithField("name", p.Name).Warn("Keypad locked out")
			v := view(i18n.MsgLockout, true)
			v.Message = r.catalog.Get(i18n.MsgLockout, p.Language)
			r.term.Blink(v, LockoutTimes, LockoutFlash)
		}

		if st.Menu {
			opt, chosen := r.term.Menu(r.menuItems(p.Language))
			if !chosen {
				opt = MenuCancel
			}
			st = m.Select(opt)
		}

		if st.Done {
			log.WithFields(logging.Fields{"name": p.Name, "result": int(st.Result)}).Info("Keypad session finished")
			return st.Result
		}
	}
}

func (r *Runner) labels(lang string) map[Key]string {
	return map[Key]string{
		KeyDelete: r.catalog.Get(i18n.MsgKeyDelete, lang),
		KeyEnter:  r.catalog.Get(i18n.MsgKeyEnter, lang),
		KeyCancel: r.catalog.Get(i18n.MsgKeyCancel, lang),
		KeyPing:   r.catalog.Get(i18n.MsgKeyPing, lang),
	}
}

func (r *Runner) menuItems(lang string) []MenuItem {
	return []MenuItem{
		{Option: MenuArmDay, Label: r.catalog.Get(i18n.MsgMenuArmDay, lang)},
		{Option: MenuArmNight, Label: r.catalog.Get(i18n.MsgMenuArmNight, lang)},
		{Option: MenuDisarm, Label: r.catalog.Get(i18n.MsgMenuDisarm, lang)},
		{Option: MenuCancel, Label: r.catalog.Get(i18n.MsgMenuCancel, lang)},
	}
}

func masked(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = '*'
	}
	return string(b)
}
