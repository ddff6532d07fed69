// Package camera provides video capture and frame handling on top of gocv.
package camera

import (
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/MrCodeEU/gatekeeper/pkg/logging"
	"gocv.io/x/gocv"
)

// ErrCameraNotOpen is returned when trying to capture from a closed camera.
var ErrCameraNotOpen = errors.New("camera not open")

// ErrNoFrame is returned when no frame could be captured.
var ErrNoFrame = errors.New("failed to capture frame")

// Frame is one captured BGR image. Frames own native memory and must be closed.
type Frame struct {
	mat       gocv.Mat
	Timestamp time.Time
}

// NewFrame wraps a Mat. The frame takes ownership of it.
func NewFrame(mat gocv.Mat, ts time.Time) *Frame {
	return &Frame{mat: mat, Timestamp: ts}
}

// Mat returns the underlying Mat. It stays owned by the frame.
func (f *Frame) Mat() gocv.Mat {
	return f.mat
}

// Size returns the frame width and height.
func (f *Frame) Size() image.Point {
	return image.Pt(f.mat.Cols(), f.mat.Rows())
}

// Close releases the native image.
func (f *Frame) Close() error {
	return f.mat.Close()
}

// Clone returns an independent copy of the frame.
func (f *Frame) Clone() *Frame {
	return &Frame{mat: f.mat.Clone(), Timestamp: f.Timestamp}
}

// Downscale returns a new frame resized by factor on both axes.
func (f *Frame) Downscale(factor float64) *Frame {
	small := gocv.NewMat()
	gocv.Resize(f.mat, &small, image.Point{}, factor, factor, gocv.InterpolationLinear)
	return &Frame{mat: small, Timestamp: f.Timestamp}
}

// JPEG encodes the frame as JPEG.
func (f *Frame) JPEG() ([]byte, error) {
	buf, err := gocv.IMEncode(gocv.JPEGFileExt, f.mat)
	if err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}
	defer buf.Close()

	// The native buffer is freed on Close, keep a Go copy.
	return append([]byte(nil), buf.GetBytes()...), nil
}

// Source is what a recognition session reads frames from.
type Source interface {
	Read() (*Frame, error)
	Drain(n int)
}

// Device captures frames from a V4L2 device or video file through OpenCV.
type Device struct {
	mu      sync.Mutex
	capture *gocv.VideoCapture
	device  string
}

// Open opens a capture device. Numeric names ("0") select a camera index.
func Open(device string, width, height int) (*Device, error) {
	capture, err := gocv.OpenVideoCapture(device)
	if err != nil {
		return nil, fmt.Errorf("failed to open camera %s: %w", device, err)
	}
	if !capture.IsOpened() {
		_ = capture.Close()
		return nil, fmt.Errorf("camera %s: %w", device, ErrCameraNotOpen)
	}

	if width > 0 && height > 0 {
		capture.Set(gocv.VideoCaptureFrameWidth, float64(width))
		capture.Set(gocv.VideoCaptureFrameHeight, float64(height))
	}

	logging.Component("camera").WithField("device", device).Info("Camera opened")
	return &Device{capture: capture, device: device}, nil
}

// Read captures the next frame.
func (d *Device) Read() (*Frame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.capture == nil {
		return nil, ErrCameraNotOpen
	}

	mat := gocv.NewMat()
	if ok := d.capture.Read(&mat); !ok || mat.Empty() {
		_ = mat.Close()
		return nil, ErrNoFrame
	}
	return NewFrame(mat, time.Now()), nil
}

// Drain reads and discards n frames so the next Read is fresh.
func (d *Device) Drain(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.capture == nil {
		return
	}

	mat := gocv.NewMat()
	defer mat.Close()
	for i := 0; i < n; i++ {
		d.capture.Read(&mat)
	}
}

// Close releases the capture device.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.capture == nil {
		return nil
	}
	err := d.capture.Close()
	d.capture = nil
	return err
}
