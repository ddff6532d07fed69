// Package display renders the gate screen in a gocv window: the live camera
// view, the touch keypad, the admin menu and full-screen messages.
package display

import (
	"fmt"
	"image"
	"image/color"
	"time"

	"github.com/MrCodeEU/gatekeeper/pkg/camera"
	"github.com/MrCodeEU/gatekeeper/pkg/keypad"
	"github.com/MrCodeEU/gatekeeper/pkg/logging"
	"gocv.io/x/gocv"
)

// eventLeftButtonDown is the highgui mouse event for a press or a touch.
const eventLeftButtonDown = 1

const (
	font      = gocv.FontHersheySimplex
	quitKey   = 'q'
	pollMs    = 100
	clickSlot = 16
)

// Labels are the fixed captions drawn by the window itself.
type Labels struct {
	// Hint is shown on the live view while no face is in sight.
	Hint string
	// Pending is shown while a face is being confirmed.
	Pending string
	Yes     string
	No      string
}

// Options configures a Window.
type Options struct {
	Name       string
	Fullscreen bool
	Width      int
	Height     int
	Labels     Labels
}

// Window is the single screen of the gate. All methods must be called from the
// goroutine that created it.
type Window struct {
	win    *gocv.Window
	canvas gocv.Mat
	size   image.Point
	labels Labels
	scale  float64
	clicks chan image.Point
}

// New opens the window.
func New(opts Options) *Window {
	if opts.Width <= 0 || opts.Height <= 0 {
		opts.Width, opts.Height = 800, 480
	}

	w := &Window{
		win:    gocv.NewWindow(opts.Name),
		canvas: gocv.NewMatWithSize(opts.Height, opts.Width, gocv.MatTypeCV8UC3),
		size:   image.Pt(opts.Width, opts.Height),
		labels: opts.Labels,
		scale:  float64(opts.Height) / 480,
		clicks: make(chan image.Point, clickSlot),
	}

	if opts.Fullscreen {
		w.win.SetWindowProperty(gocv.WindowPropertyFullscreen, gocv.WindowFullscreen)
	}
	w.win.SetMouseHandler(w.onMouse, nil)

	logging.Component("display").WithFields(logging.Fields{
		"name":       opts.Name,
		"size":       fmt.Sprintf("%dx%d", opts.Width, opts.Height),
		"fullscreen": opts.Fullscreen,
	}).Info("Window opened")
	return w
}

// Close releases the window and its canvas.
func (w *Window) Close() error {
	_ = w.canvas.Close()
	return w.win.Close()
}

func (w *Window) onMouse(event, x, y, flags int, _ interface{}) {
	if event != eventLeftButtonDown {
		return
	}
	select {
	case w.clicks <- image.Pt(x, y):
	default:
	}
}

func (w *Window) flushClicks() {
	for {
		select {
		case <-w.clicks:
		default:
			return
		}
	}
}

// ShowLive draws a camera frame with the boxes awaiting confirmation.
func (w *Window) ShowLive(frame *camera.Frame, pending []image.Rectangle) bool {
	w.drawFrame(frame)
	for _, box := range pending {
		gocv.Rectangle(&w.canvas, scaleRect(box, frame.Size(), w.size), colorPending, 2)
	}

	hint := w.labels.Hint
	if len(pending) > 0 {
		hint = w.labels.Pending
	}
	w.drawBanner(hint)

	w.win.IMShow(w.canvas)
	return w.win.WaitKey(1)&0xFF == quitKey
}

// ShowMatch draws a frame with the confirmed face box and the greeting.
func (w *Window) ShowMatch(frame *camera.Frame, box image.Rectangle, greeting string) {
	w.drawFrame(frame)
	gocv.Rectangle(&w.canvas, scaleRect(box, frame.Size(), w.size), colorMatch, 3)
	w.drawBanner(greeting)
	w.show()
	w.flushClicks()
}

// Snapshot encodes the current screen as JPEG.
func (w *Window) Snapshot() ([]byte, error) {
	buf, err := gocv.IMEncode(gocv.JPEGFileExt, w.canvas)
	if err != nil {
		return nil, fmt.Errorf("failed to encode screen: %w", err)
	}
	defer buf.Close()
	return append([]byte(nil), buf.GetBytes()...), nil
}

// Dim darkens the current screen.
func (w *Window) Dim() {
	w.canvas.MultiplyFloat(0.75)
	w.show()
}

// Clear blanks the screen and drops pending touches.
func (w *Window) Clear() {
	w.fill(colorBackground)
	w.show()
	w.flushClicks()
}

// ShowMessage shows text full screen for d.
func (w *Window) ShowMessage(text string, d time.Duration) {
	w.fill(colorBackground)
	w.drawParagraph(text, image.Rect(0, 0, w.size.X, w.size.Y), colorMessage)
	w.show()
	w.pause(d)
	w.flushClicks()
}

// Confirm asks a yes/no question and blocks for the answer.
func (w *Window) Confirm(question string) bool {
	yes, no := confirmButtons(w.size)

	w.fill(colorBackground)
	w.drawParagraph(question, image.Rect(0, 0, w.size.X, yes.Min.Y), colorMessage)
	w.drawButton(yes, w.labels.Yes, colorEnter)
	w.drawButton(no, w.labels.No, colorCancel)
	w.show()
	w.flushClicks()

	for {
		if answer, ok := confirmKey(w.win.WaitKey(pollMs) & 0xFF); ok {
			return answer
		}
		select {
		case p := <-w.clicks:
			if answer, ok := confirmHit(w.size, p); ok {
				return answer
			}
		default:
		}
	}
}

// RenderKeypad draws the keypad screen. It is painted by the following NextKey,
// so no key press is consumed here.
func (w *Window) RenderKeypad(v keypad.View) {
	w.drawKeypad(v, true)
	w.win.IMShow(w.canvas)
}

// NextKey waits up to wait for a key press or a touch on a button.
func (w *Window) NextKey(wait time.Duration) (keypad.Key, bool) {
	if code := w.win.WaitKey(millis(wait)); code >= 0 {
		k := keypad.FromKeyCode(code & 0xFF)
		return k, k != keypad.KeyNone
	}
	select {
	case p := <-w.clicks:
		k := w.keypadLayout().HitTest(p)
		return k, k != keypad.KeyNone
	default:
		return keypad.KeyNone, false
	}
}

// Blink flashes the header message, ignoring input meanwhile.
func (w *Window) Blink(v keypad.View, times int, period time.Duration) {
	for i := 0; i < times; i++ {
		w.drawKeypad(v, false)
		w.show()
		w.pause(period)
		w.drawKeypad(v, true)
		w.show()
		w.pause(period)
	}
	w.flushClicks()
}

// Menu shows the admin menu and blocks until an option is chosen. Escape
// dismisses it.
func (w *Window) Menu(items []keypad.MenuItem) (keypad.MenuOption, bool) {
	layout := keypad.MenuLayout{Width: w.size.X, Height: w.size.Y}

	w.fill(colorBackground)
	for _, it := range items {
		w.drawButton(layout.Button(it.Option), it.Label, menuColor(it.Option))
	}
	w.show()
	w.flushClicks()

	for {
		code := w.win.WaitKey(pollMs) & 0xFF
		if opt, ok := menuKey(code); ok {
			return opt, code != 27
		}
		select {
		case p := <-w.clicks:
			if opt, ok := layout.HitTest(p); ok {
				return opt, true
			}
		default:
		}
	}
}

func (w *Window) keypadLayout() keypad.Layout {
	return keypad.Layout{Width: w.size.X, Height: w.size.Y}
}

func (w *Window) drawKeypad(v keypad.View, withMessage bool) {
	layout := w.keypadLayout()
	w.fill(colorBackground)

	header := layout.Header()
	line := header.Min.Y + header.Dy()*2/5
	scale := 0.8 * w.scale

	x := header.Min.X + 10
	gocv.PutText(&w.canvas, v.Name, image.Pt(x, line), font, scale, colorName, 2)
	if withMessage {
		x += gocv.GetTextSize(v.Name, font, scale, 2).X
		msgColor := colorMessage
		if v.Alert {
			msgColor = colorCancel
		}
		gocv.PutText(&w.canvas, v.Message, image.Pt(x, line), font, scale, msgColor, 2)
	}

	status := fmt.Sprintf("%s   %ds", v.Masked, int(v.Remaining.Seconds()))
	gocv.PutText(&w.canvas, status, image.Pt(header.Min.X+10, header.Max.Y-10), font, scale, colorBlack, 2)

	for row, keys := range keypad.Grid {
		for col, k := range keys {
			w.drawButton(layout.Button(row, col), keyLabel(k, v.Labels), keyColor(k))
		}
	}
}

func (w *Window) drawFrame(frame *camera.Frame) {
	gocv.Resize(frame.Mat(), &w.canvas, w.size, 0, 0, gocv.InterpolationLinear)
}

// drawBanner writes text on a dark strip across the bottom of the screen.
func (w *Window) drawBanner(text string) {
	if text == "" {
		return
	}
	strip := image.Rect(0, w.size.Y*5/6, w.size.X, w.size.Y)
	gocv.Rectangle(&w.canvas, strip, colorBlack, -1)
	w.drawCentered(text, strip, colorWhite)
}

func (w *Window) drawButton(r image.Rectangle, label string, fill color.RGBA) {
	inner := r.Inset(3)
	gocv.Rectangle(&w.canvas, inner, fill, -1)
	w.drawCentered(label, inner, colorWhite)
}

func (w *Window) drawCentered(text string, r image.Rectangle, c color.RGBA) {
	scale := 0.9 * w.scale
	size := gocv.GetTextSize(text, font, scale, 2)
	org := image.Pt(r.Min.X+(r.Dx()-size.X)/2, r.Min.Y+(r.Dy()+size.Y)/2)
	gocv.PutText(&w.canvas, text, org, font, scale, c, 2)
}

// drawParagraph wraps text and centres the block of lines in r.
func (w *Window) drawParagraph(text string, r image.Rectangle, c color.RGBA) {
	scale := 1.0 * w.scale
	charWidth := gocv.GetTextSize("M", font, scale, 2).X
	if charWidth <= 0 {
		charWidth = 1
	}
	lines := wrapText(text, (r.Dx()-40)/charWidth)
	if len(lines) == 0 {
		return
	}

	lineHeight := gocv.GetTextSize("Mg", font, scale, 2).Y * 2
	top := r.Min.Y + (r.Dy()-lineHeight*len(lines))/2
	for i, l := range lines {
		row := image.Rect(r.Min.X, top+i*lineHeight, r.Max.X, top+(i+1)*lineHeight)
		size := gocv.GetTextSize(l, font, scale, 2)
		org := image.Pt(row.Min.X+(row.Dx()-size.X)/2, row.Min.Y+(row.Dy()+size.Y)/2)
		gocv.PutText(&w.canvas, l, org, font, scale, c, 2)
	}
}

func (w *Window) fill(c color.RGBA) {
	w.canvas.SetTo(gocv.NewScalar(float64(c.B), float64(c.G), float64(c.R), 0))
}

func (w *Window) show() {
	w.win.IMShow(w.canvas)
	w.win.WaitKey(1)
}

// pause keeps the window responsive for d. Key presses do not cut it short.
func (w *Window) pause(d time.Duration) {
	deadline := time.Now().Add(d)
	for {
		left := time.Until(deadline)
		if left <= 0 {
			return
		}
		w.win.WaitKey(millis(left))
	}
}

// millis converts d for WaitKey, where 0 would block forever.
func millis(d time.Duration) int {
	ms := int(d / time.Millisecond)
	if ms < 1 {
		return 1
	}
	return ms
}
