package recognition

import (
	"math"
	"strconv"
)

// Identity is the outcome of matching a face: a registry person id or the stranger sentinel.
type Identity struct {
	PersonID int64
	Known    bool
}

// Stranger is returned when no cached embedding is close enough.
var Stranger = Identity{}

// Person returns the identity of a registry person.
func Person(id int64) Identity {
	return Identity{PersonID: id, Known: true}
}

// IsStranger reports whether the identity is the stranger sentinel.
func (i Identity) IsStranger() bool {
	return !i.Known
}

func (i Identity) String() string {
	if !i.Known {
		return "Stranger"
	}
	return strconv.FormatInt(i.PersonID, 10)
}

// Gallery is the ordered set of known embeddings with their owners.
// Descriptors[i] belongs to person Owners[i]; a person may own many entries.
type Gallery struct {
	Descriptors []Descriptor
	Owners      []int64
}

// Len returns the number of embeddings in the gallery.
func (g *Gallery) Len() int {
	if g == nil {
		return 0
	}
	return len(g.Descriptors)
}

// Matcher resolves a probe descriptor against a gallery under a distance tolerance.
type Matcher struct {
	tolerance float64
}

// NewMatcher creates a matcher. A non-positive tolerance selects DefaultTolerance.
func NewMatcher(tolerance float64) *Matcher {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return &Matcher{tolerance: tolerance}
}

// Nearest returns the index and distance of the closest gallery entry.
// Ties keep the first occurrence. An empty gallery returns -1.
func (m *Matcher) Nearest(probe Descriptor, gallery *Gallery) (int, float64) {
	bestIdx := -1
	bestDist := math.MaxFloat64

	for i := 0; i < gallery.Len(); i++ {
		dist := EuclideanDistance(probe, gallery.Descriptors[i])
		if dist < bestDist {
			bestDist = dist
			bestIdx = i
		}
	}
	return bestIdx, bestDist
}

// Match returns the owner of the nearest embedding when it lies strictly within
// tolerance, otherwise Stranger.
func (m *Matcher) Match(probe Descriptor, gallery *Gallery) Identity {
	idx, dist := m.Nearest(probe, gallery)
	if idx < 0 || dist >= m.tolerance {
		return Stranger
	}
	return Person(gallery.Owners[idx])
}
