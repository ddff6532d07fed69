// Package detection implements the two-stage face detector used by a recognition session.
//
// A cheap coarse detector runs on every downscaled frame. Once a candidate has been
// visible for longer than the confirmation delay, the accurate fine detector runs once
// on the current frame and either confirms a face (with its descriptor) or resets the
// search. The detector is clock-injected: callers pass the frame timestamp to Step.
package detection

import (
	"errors"
	"fmt"
	"image"
	"math"
	"time"

	"github.com/MrCodeEU/gatekeeper/pkg/recognition"
)

// State is the detector state between frames.
type State int

const (
	Searching State = iota
	CandidatePending
	Confirming
	Matched
)

func (s State) String() string {
	switch s {
	case Searching:
		return "searching"
	case CandidatePending:
		return "candidate_pending"
	case Confirming:
		return "confirming"
	case Matched:
		return "matched"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Frame is a downscaled video frame handed to both detector stages.
type Frame interface {
	Size() image.Point
}

// CoarseDetector is the fast detector that runs on every frame.
type CoarseDetector interface {
	Detect(frame Frame) ([]image.Rectangle, error)
}

// FineDetector is the accurate detector that also describes the faces it finds.
type FineDetector interface {
	Detect(frame Frame) ([]recognition.Face, error)
}

// Options controls scaling and confirmation timing.
type Options struct {
	// ResizeFactor is the factor frames were downscaled by before Step.
	ResizeFactor float64
	// ConfirmationDelay is how long a candidate must stay visible before the fine stage runs.
	ConfirmationDelay time.Duration
}

// DefaultOptions returns the production timing.
func DefaultOptions() Options {
	return Options{
		ResizeFactor:      0.2,
		ConfirmationDelay: 700 * time.Millisecond,
	}
}

// Result describes what one Step observed. Boxes and Face.Box are in full-resolution
// coordinates.
type Result struct {
	State State
	Boxes []image.Rectangle
	Face  *recognition.Face
}

// ErrAlreadyMatched is returned by Step after a match until Reset is called.
var ErrAlreadyMatched = errors.New("detector already matched, reset required")

// Detector is the two-stage detector state machine.
type Detector struct {
	coarse    CoarseDetector
	fine      FineDetector
	opts      Options
	state     State
	firstSeen time.Time
}

// New creates a detector in the Searching state.
func New(coarse CoarseDetector, fine FineDetector, opts Options) *Detector {
	if opts.ResizeFactor <= 0 || opts.ResizeFactor > 1 {
		opts.ResizeFactor = DefaultOptions().ResizeFactor
	}
	return &Detector{
		coarse: coarse,
		fine:   fine,
		opts:   opts,
		state:  Searching,
	}
}

// State returns the current state.
func (d *Detector) State() State {
	return d.state
}

// Reset drops any candidate and returns to Searching.
func (d *Detector) Reset() {
	d.state = Searching
	d.firstSeen = time.Time{}
}

// Step processes one downscaled frame captured at now.
// A coarse detector error leaves the state untouched so the frame can be skipped.
func (d *Detector) Step(now time.Time, small Frame) (Result, error) {
	if d.state == Matched {
		return Result{State: Matched}, ErrAlreadyMatched
	}

	boxes, err := d.coarse.Detect(small)
	if err != nil {
		return Result{State: d.state}, fmt.Errorf("coarse detection: %w", err)
	}

	if len(boxes) == 0 {
		d.Reset()
		return Result{State: Searching}, nil
	}

	scaled := make([]image.Rectangle, len(boxes))
	for i, b := range boxes {
		scaled[i] = d.scaleUp(b, small)
	}

	if d.state == Searching {
		d.state = CandidatePending
		d.firstSeen = now
	}

	if now.Sub(d.firstSeen) <= d.opts.ConfirmationDelay {
		return Result{State: CandidatePending, Boxes: scaled}, nil
	}

	d.state = Confirming
	faces, err := d.fine.Detect(small)
	if err != nil {
		d.Reset()
		return Result{State: Searching, Boxes: scaled}, fmt.Errorf("fine detection: %w", err)
	}
	if len(faces) == 0 {
		d.Reset()
		return Result{State: Searching, Boxes: scaled}, nil
	}

	confirmed := faces[0]
	confirmed.Box = d.scaleUp(confirmed.Box, small)
	d.state = Matched
	return Result{State: Matched, Boxes: scaled, Face: &confirmed}, nil
}

func (d *Detector) scaleUp(r image.Rectangle, small Frame) image.Rectangle {
	scaled := ScaleRect(r, 1/d.opts.ResizeFactor)
	if small == nil {
		return scaled
	}
	size := ScalePoint(small.Size(), 1/d.opts.ResizeFactor)
	return scaled.Intersect(image.Rectangle{Max: size})
}

// ScaleRect multiplies every coordinate of r by factor, rounding to the nearest pixel.
func ScaleRect(r image.Rectangle, factor float64) image.Rectangle {
	return image.Rectangle{
		Min: ScalePoint(r.Min, factor),
		Max: ScalePoint(r.Max, factor),
	}
}

// ScalePoint multiplies both coordinates of p by factor, rounding to the nearest pixel.
func ScalePoint(p image.Point, factor float64) image.Point {
	return image.Point{
		X: int(math.Round(float64(p.X) * factor)),
		Y: int(math.Round(float64(p.Y) * factor)),
	}
}
