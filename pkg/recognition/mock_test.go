package recognition

import (
	"github.com/Kagami/go-face"
)

type MockFaceEngine struct {
	RecognizeFunc    func(data []byte) ([]face.Face, error)
	RecognizeCNNFunc func(data []byte) ([]face.Face, error)
	CloseFunc        func()
}

func (m *MockFaceEngine) Recognize(data []byte) ([]face.Face, error) {
	if m.RecognizeFunc != nil {
		return m.RecognizeFunc(data)
	}
	return nil, nil
}

func (m *MockFaceEngine) RecognizeCNN(data []byte) ([]face.Face, error) {
	if m.RecognizeCNNFunc != nil {
		return m.RecognizeCNNFunc(data)
	}
	return nil, nil
}

func (m *MockFaceEngine) Close() {
	if m.CloseFunc != nil {
		m.CloseFunc()
	}
}

// withFaces returns an engine whose HOG detector always finds faces.
func withFaces(faces ...face.Face) *Engine {
	return loadedEngine(&MockFaceEngine{
		RecognizeFunc: func([]byte) ([]face.Face, error) { return faces, nil },
	})
}

func loadedEngine(mock *MockFaceEngine) *Engine {
	e := NewEngine()
	e.open = func(string) (FaceEngine, error) { return mock, nil }
	_ = e.Load("models")
	return e
}
