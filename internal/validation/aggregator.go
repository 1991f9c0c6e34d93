// Package validation turns noisy OCR candidate readings into validated
// plate numbers.
package validation

import (
	"errors"
	"fmt"
	"sort"

	"anpr-tracker/internal/domain/anpr"
	"anpr-tracker/internal/utils"
)

var ErrInvalidConfig = errors.New("invalid validation config")

// Config holds the gates and window size of an Aggregator.
type Config struct {
	ConfidenceThreshold  float64 // Live readings below this are never enqueued (inclusive bound)
	WindowCapacity       int     // Readings per majority vote
	CaptureMinConfidence float64 // Floor for single-capture candidates; 0 trusts the capture
	Live                 ShapePolicy
	Capture              ShapePolicy
}

func DefaultConfig() Config {
	return Config{
		ConfidenceThreshold:  0.7,
		WindowCapacity:       3,
		CaptureMinConfidence: 0,
		Live:                 LivePolicy(),
		Capture:              CapturePolicy(),
	}
}

// Validation is a resolved plate number.
type Validation struct {
	Text       string
	Confidence float64 // Mean confidence of the winning readings, or the top capture candidate
	Votes      int
	Source     anpr.ReadingSource
}

// Aggregator collects live readings into a majority-vote window and ranks
// single-capture candidates. It is not safe for concurrent use.
type Aggregator struct {
	cfg    Config
	window []anpr.CandidateReading
}

func NewAggregator(cfg Config) (*Aggregator, error) {
	if cfg.WindowCapacity < 1 {
		return nil, fmt.Errorf("%w: window capacity must be positive, got %d", ErrInvalidConfig, cfg.WindowCapacity)
	}
	if cfg.ConfidenceThreshold < 0 || cfg.ConfidenceThreshold > 1 {
		return nil, fmt.Errorf("%w: confidence threshold %v outside [0,1]", ErrInvalidConfig, cfg.ConfidenceThreshold)
	}
	if cfg.CaptureMinConfidence < 0 || cfg.CaptureMinConfidence > 1 {
		return nil, fmt.Errorf("%w: capture confidence %v outside [0,1]", ErrInvalidConfig, cfg.CaptureMinConfidence)
	}
	if err := cfg.Live.compile(); err != nil {
		return nil, fmt.Errorf("live policy: %w", err)
	}
	if err := cfg.Capture.compile(); err != nil {
		return nil, fmt.Errorf("capture policy: %w", err)
	}
	return &Aggregator{
		cfg:    cfg,
		window: make([]anpr.CandidateReading, 0, cfg.WindowCapacity),
	}, nil
}

// Submit feeds live-stream readings through the confidence and shape gates
// into the window. Each time the window fills, a majority vote is taken and
// the window is cleared whatever the outcome; leftover readings from the same
// batch start the next window. Only the first validation of the batch is
// returned: the live stream targets one numberless track at a time, so any
// later window that also resolves within the same batch is voted, cleared
// and discarded.
func (a *Aggregator) Submit(readings []anpr.CandidateReading) (Validation, bool) {
	var (
		result Validation
		found  bool
	)
	for _, r := range readings {
		if !(r.Confidence >= a.cfg.ConfidenceThreshold) {
			continue
		}
		text := utils.NormalizePlate(r.Text)
		if !a.cfg.Live.Accepts(text) {
			continue
		}
		a.window = append(a.window, anpr.CandidateReading{Text: text, Confidence: r.Confidence})
		if len(a.window) < a.cfg.WindowCapacity {
			continue
		}
		v, ok := a.resolve()
		if ok && !found {
			result, found = v, true
		}
	}
	return result, found
}

// resolve votes over a full window and clears it.
func (a *Aggregator) resolve() (Validation, bool) {
	defer func() { a.window = a.window[:0] }()

	type group struct {
		count int
		sum   float64
		first int
	}
	groups := make(map[string]*group)
	for i, r := range a.window {
		g, ok := groups[r.Text]
		if !ok {
			g = &group{first: i}
			groups[r.Text] = g
		}
		g.count++
		g.sum += r.Confidence
	}

	var (
		best     string
		bestSeen *group
	)
	for text, g := range groups {
		if bestSeen == nil || g.count > bestSeen.count || (g.count == bestSeen.count && g.first < bestSeen.first) {
			best, bestSeen = text, g
		}
	}
	// Strict majority of the capacity, not a plurality.
	if bestSeen == nil || 2*bestSeen.count <= a.cfg.WindowCapacity {
		return Validation{}, false
	}
	return Validation{
		Text:       best,
		Confidence: bestSeen.sum / float64(bestSeen.count),
		Votes:      bestSeen.count,
		Source:     anpr.SourceLive,
	}, true
}

// SelectBest ranks the candidates of one high-resolution capture by
// confidence and trusts the strongest one that passes the capture gate.
func (a *Aggregator) SelectBest(readings []anpr.CandidateReading) (Validation, bool) {
	accepted := make([]anpr.CandidateReading, 0, len(readings))
	for _, r := range readings {
		if !(r.Confidence >= a.cfg.CaptureMinConfidence) {
			continue
		}
		text := utils.NormalizePlate(r.Text)
		if !a.cfg.Capture.Accepts(text) {
			continue
		}
		accepted = append(accepted, anpr.CandidateReading{Text: text, Confidence: r.Confidence})
	}
	if len(accepted) == 0 {
		return Validation{}, false
	}
	sort.SliceStable(accepted, func(i, j int) bool {
		return accepted[i].Confidence > accepted[j].Confidence
	})
	return Validation{
		Text:       accepted[0].Text,
		Confidence: accepted[0].Confidence,
		Votes:      1,
		Source:     anpr.SourceCapture,
	}, true
}

// Pending returns how many readings sit in the current window.
func (a *Aggregator) Pending() int {
	return len(a.window)
}

func (a *Aggregator) Reset() {
	a.window = a.window[:0]
}
