// Package recognition turns JPEG frames into 128-d dlib descriptors through
// go-face and matches them against the cached gallery of registered people.
package recognition

import (
	"errors"
	"fmt"
	"image"
	"math"
	"sync"

	"github.com/Kagami/go-face"
	"github.com/MrCodeEU/gatekeeper/pkg/logging"
)

// Descriptor is a 128-dimensional face descriptor from dlib.
type Descriptor = face.Descriptor

// Face is one detected face with its box in frame coordinates.
type Face struct {
	Box        image.Rectangle
	Descriptor Descriptor
}

// FaceEngine is the subset of *face.Recognizer the engine drives.
type FaceEngine interface {
	Recognize(imgData []byte) ([]face.Face, error)
	RecognizeCNN(imgData []byte) ([]face.Face, error)
	Close()
}

var (
	// ErrNoFaceDetected is returned when a photo holds no face.
	ErrNoFaceDetected = errors.New("no face detected")
	// ErrMultipleFaces is returned when a photo holds more than one face.
	ErrMultipleFaces = errors.New("multiple faces detected")
	// ErrModelNotLoaded is returned before Load has succeeded.
	ErrModelNotLoaded = errors.New("recognition models not loaded")
)

// DefaultTolerance is the descriptor distance below which two faces match.
const DefaultTolerance = 0.5

// Engine wraps the dlib models. The HOG path describes registry photos,
// the CNN path confirms faces the cascade found in camera frames.
type Engine struct {
	mu     sync.RWMutex
	engine FaceEngine
	open   func(modelPath string) (FaceEngine, error)
}

// NewEngine returns an engine with no models loaded.
func NewEngine() *Engine {
	return &Engine{
		open: func(modelPath string) (FaceEngine, error) {
			return face.NewRecognizer(modelPath)
		},
	}
}

// Load reads shape_predictor_5_face_landmarks.dat,
// dlib_face_recognition_resnet_model_v1.dat and mmod_human_face_detector.dat
// from modelPath. Loading twice is a no-op.
func (e *Engine) Load(modelPath string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.engine != nil {
		return nil
	}

	log := logging.Component("recognition").WithField("path", modelPath)
	log.Info("Loading face models")

	engine, err := e.open(modelPath)
	if err != nil {
		return fmt.Errorf("failed to load models: %w", err)
	}
	e.engine = engine

	log.Info("Face models loaded")
	return nil
}

// Close releases the dlib models.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.engine != nil {
		e.engine.Close()
		e.engine = nil
	}
	return nil
}

// DetectFaces runs the HOG detector on a JPEG image and describes every face.
func (e *Engine) DetectFaces(jpeg []byte) ([]Face, error) {
	return e.detect(jpeg, false)
}

// DetectFacesCNN runs the slower CNN detector on a JPEG image.
func (e *Engine) DetectFacesCNN(jpeg []byte) ([]Face, error) {
	return e.detect(jpeg, true)
}

func (e *Engine) detect(jpeg []byte, cnn bool) ([]Face, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.engine == nil {
		return nil, ErrModelNotLoaded
	}

	recognize := e.engine.Recognize
	if cnn {
		recognize = e.engine.RecognizeCNN
	}
	found, err := recognize(jpeg)
	if err != nil {
		return nil, fmt.Errorf("face detection failed: %w", err)
	}

	faces := make([]Face, 0, len(found))
	for _, f := range found {
		faces = append(faces, Face{Box: f.Rectangle, Descriptor: f.Descriptor})
	}
	logging.Debugf("Detected %d face(s), cnn=%t", len(faces), cnn)
	return faces, nil
}

// Describe returns the descriptor of the only face in a registry photo.
// Photos with no face or several faces are rejected.
func (e *Engine) Describe(jpeg []byte) (Descriptor, error) {
	faces, err := e.DetectFaces(jpeg)
	if err != nil {
		return Descriptor{}, err
	}
	switch len(faces) {
	case 0:
		return Descriptor{}, ErrNoFaceDetected
	case 1:
		return faces[0].Descriptor, nil
	default:
		return Descriptor{}, ErrMultipleFaces
	}
}

// EuclideanDistance is the L2 distance between two descriptors.
func EuclideanDistance(d1, d2 Descriptor) float64 {
	var sum float64
	for i := range d1 {
		diff := float64(d1[i] - d2[i])
		sum += diff * diff
	}
	return math.Sqrt(sum)
}
