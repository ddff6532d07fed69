// Package keypad implements PIN entry: a pure state machine over logical keys
// and a runner that drives it against a rendering terminal.
package keypad

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Result is the outcome code of a keypad session.
type Result int

const (
	ResultAuthenticated Result = 1
	ResultPing          Result = 0
	ResultCancel        Result = -1
	ResultLockout       Result = -2
	// ResultTimeout shares the lockout code; the event log does not tell them apart.
	ResultTimeout  Result = -2
	ResultDisarm   Result = 10
	ResultArmDay   Result = 11
	ResultArmNight Result = 12
	ResultExit     Result = -100
)

// ExitSequence ends the program from the keypad regardless of the password.
// It is a maintenance hook and bypasses hashing.
const ExitSequence = "***000***"

// DefaultMaxAttempts is the number of wrong codes before lockout.
const DefaultMaxAttempts = 3

// Feedback asks the terminal for transient feedback after a key.
type Feedback int

const (
	FeedbackNone Feedback = iota
	// FeedbackPrompt blinks the attempts-left prompt after Enter on an empty code.
	FeedbackPrompt
	// FeedbackWrongCode blinks "wrong code, N attempts left".
	FeedbackWrongCode
	// FeedbackLockout flashes the failure warning before the session ends.
	FeedbackLockout
)

// Step is the machine's reaction to one input.
type Step struct {
	Feedback Feedback
	// Menu is set when a correct admin code was entered; call Select next.
	Menu   bool
	Done   bool
	Result Result
}

// HashCode returns the hex SHA-256 digest a stored password hash is compared with.
func HashCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}

// Machine is the keypad state for one session. It has no clock of its own:
// callers pass the current time with every input.
type Machine struct {
	passwordHash string
	attempts     int
	timeout      time.Duration

	buffer    []byte
	lastInput time.Time
	menu      bool
	done      bool
	result    Result
}

// NewMachine starts a session at now.
func NewMachine(passwordHash string, maxAttempts int, timeout time.Duration, now time.Time) *Machine {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Machine{
		passwordHash: passwordHash,
		attempts:     maxAttempts,
		timeout:      timeout,
		lastInput:    now,
	}
}

// Attempts returns the attempts left.
func (m *Machine) Attempts() int { return m.attempts }

// Len returns the number of characters entered.
func (m *Machine) Len() int { return len(m.buffer) }

// Remaining returns the time left before the inactivity timeout.
func (m *Machine) Remaining(now time.Time) time.Duration {
	left := m.timeout - now.Sub(m.lastInput)
	if left < 0 {
		return 0
	}
	return left
}

// Done reports whether the session ended, and with which result.
func (m *Machine) Done() (Result, bool) { return m.result, m.done }

// InMenu reports whether the admin menu is awaiting a selection.
func (m *Machine) InMenu() bool { return m.menu }

// Tick ends the session with ResultTimeout once no key arrived for longer than
// the timeout. The admin menu has no timeout.
func (m *Machine) Tick(now time.Time) Step {
	if m.done {
		return m.finished()
	}
	if !m.menu && m.timeout > 0 && now.Sub(m.lastInput) > m.timeout {
		return m.finish(FeedbackNone, ResultTimeout)
	}
	return Step{}
}

// Press applies one key. Every key resets the inactivity timer.
func (m *Machine) Press(k Key, now time.Time) Step {
	if m.done || m.menu {
		return m.finished()
	}
	m.lastInput = now

	if c, ok := k.Char(); ok {
		m.buffer = append(m.buffer, c)
		return Step{}
	}

	switch k {
	case KeyDelete:
		if len(m.buffer) > 0 {
			m.buffer = m.buffer[:len(m.buffer)-1]
		}
		return Step{}
	case KeyCancel:
		return m.finish(FeedbackNone, ResultCancel)
	case KeyPing:
		return m.finish(FeedbackNone, ResultPing)
	case KeyEnter:
		return m.enter()
	}
	return Step{}
}

func (m *Machine) enter() Step {
	code := string(m.buffer)
	if code == ExitSequence {
		return m.finish(FeedbackNone, ResultExit)
	}

	admin := strings.HasPrefix(code, string(Marker))
	candidate := strings.TrimPrefix(code, string(Marker))
	if candidate == "" {
		return Step{Feedback: FeedbackPrompt}
	}

	if HashCode(candidate) == m.passwordHash {
		m.buffer = m.buffer[:0]
		if admin {
			m.menu = true
			return Step{Menu: true}
		}
		return m.finish(FeedbackNone, ResultAuthenticated)
	}

	m.attempts--
	m.buffer = m.buffer[:0]
	if m.attempts <= 0 {
		return m.finish(FeedbackLockout, ResultLockout)
	}
	return Step{Feedback: FeedbackWrongCode}
}

// Select resolves the admin menu.
func (m *Machine) Select(opt MenuOption) Step {
	if m.done || !m.menu {
		return m.finished()
	}
	m.menu = false
	return m.finish(FeedbackNone, opt.Result())
}

// Result maps a menu option to its session result.
func (o MenuOption) Result() Result {
	switch o {
	case MenuArmDay:
		return ResultArmDay
	case MenuArmNight:
		return ResultArmNight
	case MenuDisarm:
		return ResultDisarm
	}
	return ResultCancel
}

func (m *Machine) finish(f Feedback, r Result) Step {
	m.done, m.result = true, r
	return Step{Feedback: f, Done: true, Result: r}
}

func (m *Machine) finished() Step {
	return Step{Done: m.done, Result: m.result, Menu: m.menu}
}
