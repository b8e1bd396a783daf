// Package tracks holds 2D marker observations keyed by image and track.
package tracks

import (
	"encoding/json"
	"io"
	"os"
	"sort"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.viam.com/utils"
)

// Marker is one observation of a track in one image.
type Marker struct {
	Image int     `json:"image"`
	Track int     `json:"track"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	// Weight scales the marker's residuals; zero disables the marker.
	Weight float64 `json:"weight"`
}

// NewMarker returns a marker with unit weight.
func NewMarker(image, track int, x, y float64) Marker {
	return Marker{Image: image, Track: track, X: x, Y: y, Weight: 1}
}

type key struct {
	image, track int
}

// Tracks is an in-memory table of markers with at most one marker per (image, track). Markers are
// returned in insertion order.
type Tracks struct {
	markers []Marker
	index   map[key]int
}

// New returns an empty track database.
func New() *Tracks {
	return &Tracks{index: map[key]int{}}
}

// FromMarkers builds a database from markers; later duplicates replace earlier ones.
func FromMarkers(markers []Marker) *Tracks {
	t := New()
	for _, m := range markers {
		t.AddMarker(m)
	}
	return t
}

// Insert adds or replaces the unit weight marker for (image, track).
func (t *Tracks) Insert(image, track int, x, y float64) {
	t.AddMarker(NewMarker(image, track, x, y))
}

// AddMarker adds or replaces the marker for (m.Image, m.Track).
func (t *Tracks) AddMarker(m Marker) {
	k := key{m.Image, m.Track}
	if i, ok := t.index[k]; ok {
		t.markers[i] = m
		return
	}
	t.index[k] = len(t.markers)
	t.markers = append(t.markers, m)
}

// Remove deletes the marker for (image, track) if present.
func (t *Tracks) Remove(image, track int) bool {
	k := key{image, track}
	i, ok := t.index[k]
	if !ok {
		return false
	}
	t.markers = append(t.markers[:i], t.markers[i+1:]...)
	delete(t.index, k)
	for j := i; j < len(t.markers); j++ {
		t.index[key{t.markers[j].Image, t.markers[j].Track}] = j
	}
	return true
}

// AllMarkers returns a copy of every marker.
func (t *Tracks) AllMarkers() []Marker {
	return append([]Marker(nil), t.markers...)
}

// NumMarkers returns the number of markers.
func (t *Tracks) NumMarkers() int {
	return len(t.markers)
}

// MarkersInImage returns the markers of an image.
func (t *Tracks) MarkersInImage(image int) []Marker {
	return lo.Filter(t.markers, func(m Marker, _ int) bool { return m.Image == image })
}

// MarkersForTrack returns the markers of a track.
func (t *Tracks) MarkersForTrack(track int) []Marker {
	return lo.Filter(t.markers, func(m Marker, _ int) bool { return m.Track == track })
}

// MarkerInImageForTrack returns the marker for (image, track).
func (t *Tracks) MarkerInImageForTrack(image, track int) (Marker, bool) {
	i, ok := t.index[key{image, track}]
	if !ok {
		return Marker{}, false
	}
	return t.markers[i], true
}

// MarkersInBothImages returns the markers in either image whose track is visible in both.
func (t *Tracks) MarkersInBothImages(image1, image2 int) []Marker {
	shared := t.sharedTracks(image1, image2)
	return lo.Filter(t.markers, func(m Marker, _ int) bool {
		return (m.Image == image1 || m.Image == image2) && shared[m.Track]
	})
}

// MarkersForTracksInBothImages returns the markers of image1 and of image2 for the tracks visible in
// both images, as two slices aligned by track and sorted by track.
func (t *Tracks) MarkersForTracksInBothImages(image1, image2 int) ([]Marker, []Marker) {
	shared := lo.Keys(t.sharedTracks(image1, image2))
	sort.Ints(shared)
	out1 := make([]Marker, 0, len(shared))
	out2 := make([]Marker, 0, len(shared))
	for _, track := range shared {
		m1, _ := t.MarkerInImageForTrack(image1, track)
		m2, _ := t.MarkerInImageForTrack(image2, track)
		out1 = append(out1, m1)
		out2 = append(out2, m2)
	}
	return out1, out2
}

func (t *Tracks) sharedTracks(image1, image2 int) map[int]bool {
	shared := map[int]bool{}
	for _, m := range t.markers {
		if m.Image != image1 {
			continue
		}
		if _, ok := t.index[key{image2, m.Track}]; ok {
			shared[m.Track] = true
		}
	}
	return shared
}

// Images returns the sorted distinct image indices.
func (t *Tracks) Images() []int {
	images := lo.Uniq(lo.Map(t.markers, func(m Marker, _ int) int { return m.Image }))
	sort.Ints(images)
	return images
}

// TrackIDs returns the sorted distinct track indices.
func (t *Tracks) TrackIDs() []int {
	ids := lo.Uniq(lo.Map(t.markers, func(m Marker, _ int) int { return m.Track }))
	sort.Ints(ids)
	return ids
}

// MaxImage returns the largest image index or -1 when empty.
func (t *Tracks) MaxImage() int {
	return lo.Reduce(t.markers, func(acc int, m Marker, _ int) int { return max(acc, m.Image) }, -1)
}

// MaxTrack returns the largest track index or -1 when empty.
func (t *Tracks) MaxTrack() int {
	return lo.Reduce(t.markers, func(acc int, m Marker, _ int) int { return max(acc, m.Track) }, -1)
}

// Map returns a new database with fn applied to every marker.
func (t *Tracks) Map(fn func(Marker) Marker) *Tracks {
	return FromMarkers(lo.Map(t.markers, func(m Marker, _ int) Marker { return fn(m) }))
}

// Clone returns a deep copy.
func (t *Tracks) Clone() *Tracks {
	return FromMarkers(t.markers)
}

type tracksFile struct {
	Markers []Marker `json:"markers"`
}

// UnmarshalJSON reads {"markers": [...]}. A missing weight means one.
func (t *Tracks) UnmarshalJSON(data []byte) error {
	var raw struct {
		Markers []struct {
			Marker
			Weight *float64 `json:"weight"`
		} `json:"markers"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*t = *New()
	for _, m := range raw.Markers {
		marker := m.Marker
		marker.Weight = 1
		if m.Weight != nil {
			marker.Weight = *m.Weight
		}
		t.AddMarker(marker)
	}
	return nil
}

// MarshalJSON writes {"markers": [...]}.
func (t *Tracks) MarshalJSON() ([]byte, error) {
	markers := t.markers
	if markers == nil {
		markers = []Marker{}
	}
	return json.Marshal(tracksFile{Markers: markers})
}

// Read decodes a database from JSON.
func Read(r io.Reader) (*Tracks, error) {
	t := New()
	if err := json.NewDecoder(r).Decode(t); err != nil {
		return nil, errors.Wrap(err, "error parsing tracks JSON")
	}
	return t, nil
}

// Load reads a database from a JSON file.
func Load(path string) (*Tracks, error) {
	//nolint:gosec
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "error opening tracks file")
	}
	defer utils.UncheckedErrorFunc(f.Close)
	return Read(f)
}

// Save writes the database to a JSON file.
func (t *Tracks) Save(path string) error {
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
