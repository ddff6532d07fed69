package display

import (
	"image"
	"image/color"
	"strings"

	"github.com/MrCodeEU/gatekeeper/pkg/keypad"
)

// Palette of the touch screen.
var (
	colorBackground = color.RGBA{0xF0, 0xF0, 0xF0, 0}
	colorDigit      = color.RGBA{0x3F, 0x51, 0xB5, 0}
	colorEnter      = color.RGBA{0x4C, 0xAF, 0x50, 0}
	colorCancel     = color.RGBA{0xF4, 0x43, 0x36, 0}
	colorPing       = color.RGBA{0xFF, 0x98, 0x00, 0}
	colorDelete     = color.RGBA{0x9E, 0x9E, 0x9E, 0}
	colorName       = color.RGBA{0xD3, 0x2F, 0x2F, 0}
	colorMessage    = color.RGBA{0x19, 0x76, 0xD2, 0}
	colorNight      = color.RGBA{0x21, 0x96, 0xF3, 0}
	colorDisarm     = color.RGBA{0xFF, 0xC1, 0x07, 0}
	colorWhite      = color.RGBA{0xFF, 0xFF, 0xFF, 0}
	colorBlack      = color.RGBA{0x00, 0x00, 0x00, 0}
	colorMatch      = color.RGBA{0x00, 0xC8, 0x00, 0}
	colorPending    = color.RGBA{0xFF, 0xC1, 0x07, 0}
)

// keyColor returns the fill colour of a keypad button.
func keyColor(k keypad.Key) color.RGBA {
	switch k {
	case keypad.KeyEnter:
		return colorEnter
	case keypad.KeyCancel:
		return colorCancel
	case keypad.KeyPing:
		return colorPing
	case keypad.KeyDelete:
		return colorDelete
	}
	return colorDigit
}

// menuColor returns the fill colour of an admin menu button.
func menuColor(opt keypad.MenuOption) color.RGBA {
	switch opt {
	case keypad.MenuArmDay:
		return colorEnter
	case keypad.MenuArmNight:
		return colorNight
	case keypad.MenuDisarm:
		return colorDisarm
	}
	return colorCancel
}

// keyLabel is the caption of a keypad button.
func keyLabel(k keypad.Key, labels map[keypad.Key]string) string {
	if l, ok := labels[k]; ok && l != "" {
		return l
	}
	return k.String()
}

// scaleRect maps a rectangle from a frame of size from onto a canvas of size to.
func scaleRect(r image.Rectangle, from, to image.Point) image.Rectangle {
	if from.X <= 0 || from.Y <= 0 {
		return r
	}
	sx := float64(to.X) / float64(from.X)
	sy := float64(to.Y) / float64(from.Y)
	return image.Rect(
		int(float64(r.Min.X)*sx),
		int(float64(r.Min.Y)*sy),
		int(float64(r.Max.X)*sx),
		int(float64(r.Max.Y)*sy),
	)
}

// wrapText breaks text on spaces into lines of at most width characters.
// A single word longer than width gets a line of its own.
func wrapText(text string, width int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	if width <= 0 {
		return []string{strings.Join(words, " ")}
	}

	var lines []string
	line := words[0]
	for _, w := range words[1:] {
		if len([]rune(line))+1+len([]rune(w)) > width {
			lines = append(lines, line)
			line = w
			continue
		}
		line += " " + w
	}
	return append(lines, line)
}

// confirmButtons returns the yes and no buttons of the confirmation screen,
// side by side across the bottom third.
func confirmButtons(size image.Point) (yes, no image.Rectangle) {
	top := size.Y * 2 / 3
	half := size.X / 2
	return image.Rect(0, top, half, size.Y), image.Rect(half, top, size.X, size.Y)
}

// confirmHit reports whether p answers the confirmation, and how.
func confirmHit(size image.Point, p image.Point) (answer, ok bool) {
	yes, no := confirmButtons(size)
	switch {
	case p.In(yes):
		return true, true
	case p.In(no):
		return false, true
	}
	return false, false
}

// confirmKey maps a keyboard code to a confirmation answer.
func confirmKey(code int) (answer, ok bool) {
	switch code {
	case 'y', 'Y', 13, 10:
		return true, true
	case 'n', 'N', 27:
		return false, true
	}
	return false, false
}

// menuKey maps the digits 1-4 to menu options in layout order, and escape to cancel.
func menuKey(code int) (keypad.MenuOption, bool) {
	switch {
	case code >= '1' && code <= '4':
		return keypad.MenuOption(code - '1'), true
	case code == 27:
		return keypad.MenuCancel, true
	}
	return keypad.MenuCancel, false
}
