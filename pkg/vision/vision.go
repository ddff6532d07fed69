// Package vision adapts the OpenCV Haar cascade and the dlib CNN detector to the
// two detector stages used by the recognition session.
package vision

import (
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/MrCodeEU/gatekeeper/pkg/camera"
	"github.com/MrCodeEU/gatekeeper/pkg/detection"
	"github.com/MrCodeEU/gatekeeper/pkg/metrics"
	"github.com/MrCodeEU/gatekeeper/pkg/recognition"
	"gocv.io/x/gocv"
)

// ErrUnsupportedFrame is returned when a detector receives a frame it cannot read.
var ErrUnsupportedFrame = errors.New("unsupported frame type")

// ErrCascadeNotLoaded is returned when the cascade file cannot be loaded.
var ErrCascadeNotLoaded = errors.New("cascade classifier not loaded")

// HaarDetector is the coarse stage: a frontal-face Haar cascade on a gray,
// equalized copy of the frame.
type HaarDetector struct {
	mu         sync.Mutex
	classifier gocv.CascadeClassifier
	minSize    image.Point
}

// NewHaarDetector loads a cascade file such as haarcascade_frontalface_default.xml.
func NewHaarDetector(cascadeFile string) (*HaarDetector, error) {
	classifier := gocv.NewCascadeClassifier()
	if !classifier.Load(cascadeFile) {
		_ = classifier.Close()
		return nil, fmt.Errorf("%w: %s", ErrCascadeNotLoaded, cascadeFile)
	}
	return &HaarDetector{
		classifier: classifier,
		// Frames arrive downscaled, faces at the gate are small.
		minSize: image.Pt(12, 12),
	}, nil
}

// Detect returns face boxes in the coordinates of the given frame.
func (h *HaarDetector) Detect(frame detection.Frame) ([]image.Rectangle, error) {
	f, ok := frame.(*camera.Frame)
	if !ok {
		return nil, ErrUnsupportedFrame
	}

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(f.Mat(), &gray, gocv.ColorBGRToGray)

	equalized := gocv.NewMat()
	defer equalized.Close()
	gocv.EqualizeHist(gray, &equalized)

	h.mu.Lock()
	defer h.mu.Unlock()
	return h.classifier.DetectMultiScaleWithParams(equalized, 1.1, 4, 0, h.minSize, image.Point{}), nil
}

// Close releases the classifier.
func (h *HaarDetector) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.classifier.Close()
}

// faceFinder is the part of recognition.Engine the fine stage needs.
type faceFinder interface {
	DetectFacesCNN(imageData []byte) ([]recognition.Face, error)
}

// CNNDetector is the fine stage: dlib's CNN detector, which also yields descriptors.
type CNNDetector struct {
	finder faceFinder
}

// NewCNNDetector wraps a loaded recognizer.
func NewCNNDetector(finder faceFinder) *CNNDetector {
	return &CNNDetector{finder: finder}
}

// Detect encodes the frame as JPEG and runs CNN detection on it.
func (c *CNNDetector) Detect(frame detection.Frame) ([]recognition.Face, error) {
	f, ok := frame.(*camera.Frame)
	if !ok {
		return nil, ErrUnsupportedFrame
	}

	data, err := f.JPEG()
	if err != nil {
		return nil, err
	}

	start := time.Now()
	faces, err := c.finder.DetectFacesCNN(data)
	metrics.FineDetections.Observe(time.Since(start).Seconds())
	return faces, err
}
