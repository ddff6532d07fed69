package recognition

import (
	"testing"
)

func descriptor(values ...float32) Descriptor {
	var d Descriptor
	copy(d[:], values)
	return d
}

func TestMatcher_Match(t *testing.T) {
	gallery := &Gallery{
		Descriptors: []Descriptor{
			descriptor(1, 0, 0),
			descriptor(0, 1, 0),
			descriptor(0, 0, 1),
		},
		Owners: []int64{7, 7, 9},
	}

	tests := []struct {
		name  string
		probe Descriptor
		want  Identity
	}{
		{
			name:  "exact match returns owner",
			probe: descriptor(0, 0, 1),
			want:  Person(9),
		},
		{
			name:  "second embedding of the same person",
			probe: descriptor(0, 1.1, 0),
			want:  Person(7),
		},
		{
			name:  "far from everything is a stranger",
			probe: descriptor(5, 5, 5),
			want:  Stranger,
		},
		{
			name:  "distance equal to tolerance is a stranger",
			probe: descriptor(1.5, 0, 0),
			want:  Stranger,
		},
	}

	m := NewMatcher(0.5)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := m.Match(tt.probe, gallery); got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestMatcher_EmptyGallery(t *testing.T) {
	m := NewMatcher(0.5)

	if got := m.Match(descriptor(1, 2, 3), &Gallery{}); got != Stranger {
		t.Errorf("expected Stranger for empty gallery, got %v", got)
	}
	if got := m.Match(descriptor(1, 2, 3), nil); got != Stranger {
		t.Errorf("expected Stranger for nil gallery, got %v", got)
	}
}

func TestMatcher_TieKeepsFirstOccurrence(t *testing.T) {
	gallery := &Gallery{
		Descriptors: []Descriptor{
			descriptor(0.1, 0, 0),
			descriptor(-0.1, 0, 0),
		},
		Owners: []int64{1, 2},
	}

	m := NewMatcher(0.5)
	idx, dist := m.Nearest(descriptor(0, 0, 0), gallery)
	if idx != 0 {
		t.Errorf("expected first occurrence to win the tie, got index %d", idx)
	}
	if dist < 0.0999 || dist > 0.1001 {
		t.Errorf("expected distance 0.1, got %f", dist)
	}
	if got := m.Match(descriptor(0, 0, 0), gallery); got != Person(1) {
		t.Errorf("expected person 1, got %v", got)
	}
}

func TestNewMatcher_DefaultTolerance(t *testing.T) {
	if m := NewMatcher(0); m.tolerance != DefaultTolerance {
		t.Errorf("expected default tolerance, got %f", m.tolerance)
	}
}

func TestIdentity_String(t *testing.T) {
	if Stranger.String() != "Stranger" {
		t.Errorf("expected Stranger, got %s", Stranger.String())
	}
	if !Stranger.IsStranger() {
		t.Error("expected sentinel to report IsStranger")
	}
	if Person(12).String() != "12" {
		t.Errorf("expected 12, got %s", Person(12).String())
	}
}
