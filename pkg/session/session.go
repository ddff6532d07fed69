// Package session runs the camera loop until a face is confirmed and identified.
package session

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"time"

	"github.com/MrCodeEU/gatekeeper/pkg/camera"
	"github.com/MrCodeEU/gatekeeper/pkg/detection"
	"github.com/MrCodeEU/gatekeeper/pkg/i18n"
	"github.com/MrCodeEU/gatekeeper/pkg/logging"
	"github.com/MrCodeEU/gatekeeper/pkg/metrics"
	"github.com/MrCodeEU/gatekeeper/pkg/recognition"
	"github.com/MrCodeEU/gatekeeper/pkg/registry"
)

// Screen is the live view. ShowLive and Flash return true when the quit key
// was pressed.
type Screen interface {
	// ShowLive draws a frame with pending boxes, or the positioning hint when there are none.
	ShowLive(frame *camera.Frame, pending []image.Rectangle) (quit bool)
	// ShowMatch draws a frame with the confirmed box and the greeting.
	ShowMatch(frame *camera.Frame, box image.Rectangle, greeting string)
	// Snapshot encodes what is currently on screen as JPEG.
	Snapshot() ([]byte, error)
	// Dim darkens the current screen for the flash effect.
	Dim()
}

// Gallery supplies the current embeddings.
type Gallery interface {
	Embeddings(ctx context.Context) (*recognition.Gallery, error)
}

// People looks up registry persons for the greeting.
type People interface {
	Lookup(ctx context.Context, id int64) (*registry.Person, error)
}

// Options configures a session.
type Options struct {
	ResizeFactor float64
	DrainFrames  int
	SnapshotPath string
	Language     string

	GreetingHold time.Duration
	FlashTimes   int
	FlashPeriod  time.Duration
}

// DefaultOptions returns the production timings.
func DefaultOptions() Options {
	return Options{
		ResizeFactor: 0.2,
		DrainFrames:  5,
		Language:     i18n.DefaultLanguage,
		GreetingHold: time.Second,
		FlashTimes:   3,
		FlashPeriod:  200 * time.Millisecond,
	}
}

// Outcome is a confirmed recognition.
type Outcome struct {
	Identity recognition.Identity
	Box      image.Rectangle
	Distance float64
	// Snapshot is the JPEG of the greeting screen.
	Snapshot []byte
}

// Session owns the camera loop and the detector state.
type Session struct {
	source   camera.Source
	screen   Screen
	detector *detection.Detector
	matcher  *recognition.Matcher
	gallery  Gallery
	people   People
	catalog  *i18n.Catalog
	opts     Options

	now   func() time.Time
	sleep func(time.Duration)
}

// Deps are the collaborators of a Session.
type Deps struct {
	Source   camera.Source
	Screen   Screen
	Detector *detection.Detector
	Matcher  *recognition.Matcher
	Gallery  Gallery
	People   People
	Catalog  *i18n.Catalog
}

// New creates a session.
func New(deps Deps, opts Options) *Session {
	if opts.ResizeFactor <= 0 || opts.ResizeFactor > 1 {
		opts.ResizeFactor = DefaultOptions().ResizeFactor
	}
	return &Session{
		source:   deps.Source,
		screen:   deps.Screen,
		detector: deps.Detector,
		matcher:  deps.Matcher,
		gallery:  deps.Gallery,
		people:   deps.People,
		catalog:  deps.Catalog,
		opts:     opts,
		now:      time.Now,
		sleep:    time.Sleep,
	}
}

// Recognize reads frames until a face is confirmed and matched. It returns
// ok=false when the quit key is pressed or ctx ends. Camera read failures skip
// the frame.
func (s *Session) Recognize(ctx context.Context) (Outcome, bool, error) {
	log := logging.Component("session")
	s.detector.Reset()

	for {
		if ctx.Err() != nil {
			return Outcome{}, false, nil
		}

		frame, err := s.source.Read()
		if err != nil {
			log.WithError(err).Debug("Frame skipped")
			s.sleep(10 * time.Millisecond)
			continue
		}

		out, done, quit, err := s.step(ctx, frame)
		_ = frame.Close()
		switch {
		case err != nil:
			return Outcome{}, false, err
		case quit:
			log.Info("Quit requested")
			return Outcome{}, false, nil
		case done:
			return out, true, nil
		}
	}
}

func (s *Session) step(ctx context.Context, frame *camera.Frame) (Outcome, bool, bool, error) {
	small := frame.Downscale(s.opts.ResizeFactor)
	res, err := s.detector.Step(s.now(), small)
	_ = small.Close()
	if err != nil {
		logging.Component("session").WithError(err).Warn("Detection failed")
	}

	if res.State != detection.Matched || res.Face == nil {
		return Outcome{}, false, s.screen.ShowLive(frame, res.Boxes), nil
	}

	gallery, err := s.gallery.Embeddings(ctx)
	if err != nil {
		return Outcome{}, false, false, fmt.Errorf("load embeddings: %w", err)
	}
	metrics.GallerySize.Set(float64(gallery.Len()))

	id := s.matcher.Match(res.Face.Descriptor, gallery)
	_, dist := s.matcher.Nearest(res.Face.Descriptor, gallery)

	kind := "known"
	if id.IsStranger() {
		kind = "stranger"
	}
	metrics.Recognitions.WithLabelValues(kind).Inc()
	logging.Component("session").WithFields(logging.Fields{
		"identity": id.String(),
		"distance": dist,
	}).Info("Face confirmed")

	greeting := s.greeting(ctx, id)
	box := res.Face.Box

	s.screen.ShowMatch(frame, box, greeting)
	s.sleep(s.opts.GreetingHold)

	snapshot, err := s.screen.Snapshot()
	if err != nil {
		logging.Component("session").WithError(err).Warn("Snapshot failed")
	} else if err := s.saveSnapshot(snapshot); err != nil {
		logging.Component("session").WithError(err).Warn("Saving snapshot failed")
	}

	for i := 0; i < s.opts.FlashTimes; i++ {
		s.screen.Dim()
		s.sleep(s.opts.FlashPeriod)
		s.screen.ShowMatch(frame, box, greeting)
		s.sleep(s.opts.FlashPeriod)
	}

	s.source.Drain(s.opts.DrainFrames)
	s.detector.Reset()

	return Outcome{Identity: id, Box: box, Distance: dist, Snapshot: snapshot}, true, false, nil
}

// greeting is "Hello, <name>", "Hello, Stranger", or "Hello, ID: <n>" for an
// id missing from the registry.
func (s *Session) greeting(ctx context.Context, id recognition.Identity) string {
	lang := s.opts.Language
	name := s.catalog.Get(i18n.MsgStranger, lang)

	if !id.IsStranger() {
		p, err := s.people.Lookup(ctx, id.PersonID)
		switch {
		case err == nil:
			lang, name = p.Language, p.Name
		case errors.Is(err, registry.ErrPersonNotFound):
			name = fmt.Sprintf("ID: %d", id.PersonID)
		default:
			logging.Component("session").WithError(err).Warn("Person lookup failed")
			name = fmt.Sprintf("ID: %d", id.PersonID)
		}
	}
	return s.catalog.Get(i18n.MsgHello, lang) + ", " + name
}

func (s *Session) saveSnapshot(data []byte) error {
	if s.opts.SnapshotPath == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.opts.SnapshotPath), 0755); err != nil {
		return err
	}
	return os.WriteFile(s.opts.SnapshotPath, data, 0644)
}
