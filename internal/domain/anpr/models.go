package anpr

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// Rect is an axis-aligned rectangle in detector-buffer pixel coordinates.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Valid reports whether the rectangle has a positive, finite area.
func (r Rect) Valid() bool {
	for _, v := range []float64{r.X, r.Y, r.Width, r.Height} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return r.Width > 0 && r.Height > 0
}

func (r Rect) Area() float64 {
	return r.Width * r.Height
}

// IoU returns the intersection-over-union of two rectangles in [0,1].
func (r Rect) IoU(o Rect) float64 {
	ix := math.Min(r.X+r.Width, o.X+o.Width) - math.Max(r.X, o.X)
	iy := math.Min(r.Y+r.Height, o.Y+o.Height) - math.Max(r.Y, o.Y)
	if ix <= 0 || iy <= 0 {
		return 0
	}
	inter := ix * iy
	union := r.Area() + o.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// Normalize scales the rectangle into [0,1] relative to a buffer of the given size.
func (r Rect) Normalize(width, height float64) Rect {
	return Rect{
		X:      r.X / width,
		Y:      r.Y / height,
		Width:  r.Width / width,
		Height: r.Height / height,
	}
}

// TrackedPlate is one physically distinct plate currently in view.
type TrackedPlate struct {
	ID               uuid.UUID `json:"id"`
	LastRect         Rect      `json:"last_rect"`
	FirstSeen        time.Time `json:"first_seen"`
	LastSeen         time.Time `json:"last_seen"`
	Number           string    `json:"number,omitempty"`
	NumberConfidence float64   `json:"number_confidence,omitempty"`
	Misses           int       `json:"misses"`
}

func (p TrackedPlate) HasNumber() bool {
	return p.Number != ""
}

// CandidateReading is a single OCR observation.
type CandidateReading struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// CaptureRequest asks the external capture collaborator for a
// high-resolution image and OCR pass focused on one track.
type CaptureRequest struct {
	ID               uuid.UUID `json:"id"`
	TrackID          uuid.UUID `json:"track_id"`
	Rect             Rect      `json:"rect"`
	RegionOfInterest *Rect     `json:"region_of_interest,omitempty"`
	RequestedAt      time.Time `json:"requested_at"`
}

// AlertEvent is raised once when a validated plate matches the search target.
type AlertEvent struct {
	Target  string    `json:"target"`
	Plate   string    `json:"plate"`
	TrackID uuid.UUID `json:"track_id"`
	At      time.Time `json:"at"`
}

// ReadingSource tells which recognition path validated a number.
type ReadingSource string

const (
	SourceLive    ReadingSource = "live"
	SourceCapture ReadingSource = "capture"
)

// PlateRecord is handed to the persistence sink whenever a track gains a number.
type PlateRecord struct {
	TrackID    uuid.UUID          `json:"track_id"`
	Number     string             `json:"number"`
	Confidence float64            `json:"confidence"`
	Source     ReadingSource      `json:"source"`
	Rect       Rect               `json:"rect"`
	FirstSeen  time.Time          `json:"first_seen"`
	SeenAt     time.Time          `json:"seen_at"`
	Readings   []CandidateReading `json:"readings,omitempty"`
}
