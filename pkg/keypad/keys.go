package keypad

import (
	"image"
	"strconv"
)

// Key is one logical keypad key. Keyboard codes and touch hits both map to Key
// values, so the two input paths drive the machine identically.
type Key int

const (
	KeyNone Key = iota
	KeyDelete
	KeyCancel
	KeyPing
	KeyEnter
	KeyStar
	Key0
	Key1
	Key2
	Key3
	Key4
	Key5
	Key6
	Key7
	Key8
	Key9
)

// Marker is the admin-mode prefix character.
const Marker = '*'

// Digit returns the key for 0-9.
func Digit(n int) Key {
	if n < 0 || n > 9 {
		return KeyNone
	}
	return Key0 + Key(n)
}

// Char returns the character a key appends to the code buffer.
func (k Key) Char() (byte, bool) {
	switch {
	case k >= Key0 && k <= Key9:
		return byte('0' + int(k-Key0)), true
	case k == KeyStar:
		return Marker, true
	}
	return 0, false
}

func (k Key) String() string {
	if c, ok := k.Char(); ok {
		return string(c)
	}
	switch k {
	case KeyDelete:
		return "delete"
	case KeyCancel:
		return "cancel"
	case KeyPing:
		return "ping"
	case KeyEnter:
		return "enter"
	}
	return "none(" + strconv.Itoa(int(k)) + ")"
}

// FromKeyCode maps a keyboard code, as returned by a window's key poll, to a Key.
// Escape cancels and p pings, matching the on-screen buttons.
func FromKeyCode(code int) Key {
	switch {
	case code >= '0' && code <= '9':
		return Digit(code - '0')
	case code == '*':
		return KeyStar
	case code == 8 || code == 127:
		return KeyDelete
	case code == 13 || code == 10:
		return KeyEnter
	case code == 27:
		return KeyCancel
	case code == 'p' || code == 'P':
		return KeyPing
	}
	return KeyNone
}

// Grid is the touch keypad arrangement, top row first.
var Grid = [5][3]Key{
	{Key1, Key2, Key3},
	{Key4, Key5, Key6},
	{Key7, Key8, Key9},
	{KeyStar, Key0, KeyDelete},
	{KeyCancel, KeyPing, KeyEnter},
}

// Layout places the keypad on a screen: a header of one sixth of the height,
// then five rows of three buttons, each one sixth high.
type Layout struct {
	Width, Height int
}

// Header is the status strip above the buttons.
func (l Layout) Header() image.Rectangle {
	return image.Rect(0, 0, l.Width, l.Height/6)
}

// Button returns the rectangle of the button at row, col.
func (l Layout) Button(row, col int) image.Rectangle {
	w, h := l.Width/3, l.Height/6
	x, y := col*w, l.Height/6+row*h
	return image.Rect(x, y, x+w, y+h)
}

// HitTest returns the key under a touch point, or KeyNone.
func (l Layout) HitTest(p image.Point) Key {
	w, h := l.Width/3, l.Height/6
	if w == 0 || h == 0 || p.X < 0 || p.Y < h {
		return KeyNone
	}
	row, col := (p.Y-h)/h, p.X/w
	if row >= len(Grid) || col >= len(Grid[0]) {
		return KeyNone
	}
	return Grid[row][col]
}

// MenuOption is one of the four admin menu buttons.
type MenuOption int

const (
	MenuArmDay MenuOption = iota
	MenuArmNight
	MenuDisarm
	MenuCancel
)

// MenuLayout places the admin menu as a 2x2 grid in option order.
type MenuLayout struct {
	Width, Height int
}

// Button returns the rectangle of an option.
func (l MenuLayout) Button(opt MenuOption) image.Rectangle {
	w, h := l.Width/2, l.Height/2
	x, y := int(opt)%2*w, int(opt)/2*h
	return image.Rect(x, y, x+w, y+h)
}

// HitTest returns the option under a touch point.
func (l MenuLayout) HitTest(p image.Point) (MenuOption, bool) {
	w, h := l.Width/2, l.Height/2
	if w == 0 || h == 0 || p.X < 0 || p.Y < 0 {
		return MenuCancel, false
	}
	col, row := p.X/w, p.Y/h
	if col > 1 || row > 1 {
		return MenuCancel, false
	}
	return MenuOption(row*2 + col), true
}
