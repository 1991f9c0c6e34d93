package service

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"anpr-tracker/internal/alert"
	"anpr-tracker/internal/domain/anpr"
	"anpr-tracker/internal/tracking"
	"anpr-tracker/internal/validation"
)

// CaptureRequester receives high-resolution capture requests. Implementations
// must not block; they are called with the engine lock held.
type CaptureRequester interface {
	RequestCapture(req anpr.CaptureRequest)
}

// AlertNotifier receives target-found events. Must not block.
type AlertNotifier interface {
	NotifyAlert(ev anpr.AlertEvent)
}

// PlateSink receives every number written onto a track. Must not block.
type PlateSink interface {
	SavePlate(rec anpr.PlateRecord)
}

// EngineConfig groups the tunables of the tracking engine.
type EngineConfig struct {
	Matcher        tracking.MatcherConfig
	Validation     validation.Config
	AllowOverwrite bool          // Let a later, at least as confident validation replace a number
	CaptureTimeout time.Duration // Force-clear an outstanding capture after this long; 0 waits forever
	BufferWidth    float64       // Detector buffer size, used for the normalized region of interest
	BufferHeight   float64
}

func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Matcher:        tracking.DefaultMatcherConfig(),
		Validation:     validation.DefaultConfig(),
		CaptureTimeout: 10 * time.Second,
	}
}

// ReadingOutcome reports what happened to a batch of candidate readings.
type ReadingOutcome struct {
	Validated string    `json:"validated,omitempty"`
	TrackID   uuid.UUID `json:"track_id,omitempty"`
	Applied   bool      `json:"applied"`
}

// Engine owns the tracked-plate set and sequences the per-frame and
// per-capture update cycle. All entry points are serialized.
type Engine struct {
	mu sync.Mutex

	cfg      EngineConfig
	matcher  *tracking.Matcher
	votes    *validation.Aggregator
	alerts   *alert.Machine
	capturer CaptureRequester
	notifier AlertNotifier
	sink     PlateSink
	log      zerolog.Logger
	now      func() time.Time

	pending *anpr.CaptureRequest
	closed  bool
}

type EngineOption func(*Engine)

func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

func WithCaptureRequester(c CaptureRequester) EngineOption {
	return func(e *Engine) { e.capturer = c }
}

func WithAlertNotifier(n AlertNotifier) EngineOption {
	return func(e *Engine) { e.notifier = n }
}

func WithPlateSink(s PlateSink) EngineOption {
	return func(e *Engine) { e.sink = s }
}

func NewEngine(cfg EngineConfig, log zerolog.Logger, opts ...EngineOption) (*Engine, error) {
	if cfg.CaptureTimeout < 0 {
		return nil, fmt.Errorf("%w: capture timeout must not be negative", ErrInvalidConfig)
	}
	if cfg.BufferWidth < 0 || cfg.BufferHeight < 0 {
		return nil, fmt.Errorf("%w: buffer size must not be negative", ErrInvalidConfig)
	}
	matcher, err := tracking.NewMatcher(cfg.Matcher)
	if err != nil {
		return nil, err
	}
	votes, err := validation.NewAggregator(cfg.Validation)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:      cfg,
		matcher:  matcher,
		votes:    votes,
		alerts:   alert.NewMachine(),
		capturer: nopCollaborator{},
		notifier: nopCollaborator{},
		sink:     nopCollaborator{},
		log:      log,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// OnDetections runs one matching cycle for a detector batch. Afterwards, if
// no capture is outstanding, it requests one for the oldest track that still
// lacks a number.
func (e *Engine) OnDetections(rects []anpr.Rect) []anpr.TrackedPlate {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}

	now := e.now()
	if e.pending != nil && e.cfg.CaptureTimeout > 0 && now.Sub(e.pending.RequestedAt) >= e.cfg.CaptureTimeout {
		e.log.Warn().
			Str("capture_id", e.pending.ID.String()).
			Str("track_id", e.pending.TrackID.String()).
			Dur("timeout", e.cfg.CaptureTimeout).
			Msg("capture timed out, releasing")
		e.pending = nil
	}

	plates := e.matcher.Update(rects, now)
	e.releaseExpiredCaptureLocked()
	e.observeLocked(now)
	e.requestCaptureLocked(now)
	return plates
}

// OnCandidateReadings routes one OCR pass. A nil track id marks the live
// stream: readings are voted on and a validated number goes to the oldest
// numberless track. Otherwise the readings are the single high-resolution
// capture for that track and release any capture pending for it, including
// one re-requested after a timeout. Capture workers that need a late result
// told apart from the current request should use CompleteCapture.
func (e *Engine) OnCandidateReadings(trackID uuid.UUID, readings []anpr.CandidateReading) ReadingOutcome {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ReadingOutcome{}
	}
	e.expireLocked()

	if trackID == uuid.Nil {
		return e.liveLocked(readings)
	}
	if e.pending != nil && e.pending.TrackID == trackID {
		e.pending = nil
	}
	return e.captureLocked(trackID, readings)
}

// CompleteCapture delivers the result of a specific capture request. Results
// for a request that is no longer outstanding are discarded.
func (e *Engine) CompleteCapture(requestID uuid.UUID, readings []anpr.CandidateReading) ReadingOutcome {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ReadingOutcome{}
	}
	e.expireLocked()
	if e.pending == nil || e.pending.ID != requestID {
		e.log.Debug().Str("capture_id", requestID.String()).Msg("discarding result for stale capture")
		return ReadingOutcome{}
	}
	trackID := e.pending.TrackID
	e.pending = nil
	return e.captureLocked(trackID, readings)
}

func (e *Engine) liveLocked(readings []anpr.CandidateReading) ReadingOutcome {
	v, ok := e.votes.Submit(readings)
	if !ok {
		return ReadingOutcome{}
	}
	target, ok := e.matcher.FirstWithoutNumber()
	if !ok {
		e.log.Debug().Str("plate", v.Text).Msg("validated live reading has no numberless track")
		return ReadingOutcome{Validated: v.Text}
	}
	return e.applyLocked(target.ID, v, readings)
}

func (e *Engine) captureLocked(trackID uuid.UUID, readings []anpr.CandidateReading) ReadingOutcome {
	if _, ok := e.matcher.Get(trackID); !ok {
		e.log.Debug().Str("track_id", trackID.String()).Msg("discarding capture for expired track")
		return ReadingOutcome{}
	}
	v, ok := e.votes.SelectBest(readings)
	if !ok {
		return ReadingOutcome{TrackID: trackID}
	}
	return e.applyLocked(trackID, v, readings)
}

func (e *Engine) applyLocked(trackID uuid.UUID, v validation.Validation, readings []anpr.CandidateReading) ReadingOutcome {
	out := ReadingOutcome{Validated: v.Text, TrackID: trackID}
	if !e.matcher.SetNumber(trackID, v.Text, v.Confidence, e.cfg.AllowOverwrite) {
		return out
	}
	out.Applied = true

	now := e.now()
	plate, _ := e.matcher.Get(trackID)
	e.log.Info().
		Str("track_id", trackID.String()).
		Str("plate", v.Text).
		Str("source", string(v.Source)).
		Float64("confidence", v.Confidence).
		Int("votes", v.Votes).
		Msg("plate number validated")

	e.sink.SavePlate(anpr.PlateRecord{
		TrackID:    trackID,
		Number:     v.Text,
		Confidence: v.Confidence,
		Source:     v.Source,
		Rect:       plate.LastRect,
		FirstSeen:  plate.FirstSeen,
		SeenAt:     now,
		Readings:   append([]anpr.CandidateReading(nil), readings...),
	})
	e.observeLocked(now)
	return out
}

// expireLocked drops stale tracks between detection batches so a stalled
// detector cannot keep them alive.
func (e *Engine) expireLocked() {
	if n := e.matcher.Expire(e.now()); n > 0 {
		e.log.Debug().Int("expired", n).Msg("expired stale tracks")
	}
	e.releaseExpiredCaptureLocked()
}

func (e *Engine) releaseExpiredCaptureLocked() {
	if e.pending == nil {
		return
	}
	if _, ok := e.matcher.Get(e.pending.TrackID); ok {
		return
	}
	e.log.Debug().
		Str("capture_id", e.pending.ID.String()).
		Str("track_id", e.pending.TrackID.String()).
		Msg("capture target expired, releasing")
	e.pending = nil
}

func (e *Engine) observeLocked(now time.Time) {
	ev, fired := e.alerts.Observe(e.matcher.Plates(), now)
	if !fired {
		return
	}
	e.log.Info().
		Str("target", ev.Target).
		Str("plate", ev.Plate).
		Str("track_id", ev.TrackID.String()).
		Msg("target vehicle found")
	e.notifier.NotifyAlert(ev)
}

func (e *Engine) requestCaptureLocked(now time.Time) {
	if e.pending != nil {
		return
	}
	plate, ok := e.matcher.FirstWithoutNumber()
	if !ok {
		return
	}
	req := anpr.CaptureRequest{
		ID:          uuid.New(),
		TrackID:     plate.ID,
		Rect:        plate.LastRect,
		RequestedAt: now,
	}
	if e.cfg.BufferWidth > 0 && e.cfg.BufferHeight > 0 {
		roi := plate.LastRect.Normalize(e.cfg.BufferWidth, e.cfg.BufferHeight)
		req.RegionOfInterest = &roi
	}
	e.pending = &req
	e.log.Debug().
		Str("capture_id", req.ID.String()).
		Str("track_id", req.TrackID.String()).
		Msg("requesting high-resolution capture")
	e.capturer.RequestCapture(req)
}

// SetTarget starts a new target search and immediately checks the plates
// already validated.
func (e *Engine) SetTarget(target string) alert.Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return e.alerts.Status()
	}

	status := e.alerts.SetTarget(target)
	if status.State == alert.Idle {
		e.log.Info().Msg("target search cleared")
		return status
	}
	e.log.Info().Str("target", status.Target).Msg("starting to search for license plate")
	e.expireLocked()
	e.observeLocked(e.now())
	return e.alerts.Status()
}

func (e *Engine) ClearTarget() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.alerts.Clear()
	e.log.Info().Msg("target search cleared")
}

func (e *Engine) Target() alert.Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.alerts.Status()
}

func (e *Engine) CurrentPlates() []anpr.TrackedPlate {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.expireLocked()
	}
	return e.matcher.Plates()
}

func (e *Engine) Plate(id uuid.UUID) (anpr.TrackedPlate, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.expireLocked()
	}
	p, ok := e.matcher.Get(id)
	if !ok {
		return anpr.TrackedPlate{}, fmt.Errorf("%w: track %s", ErrNotFound, id)
	}
	return p, nil
}

func (e *Engine) PendingCapture() (anpr.CaptureRequest, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.expireLocked()
	}
	if e.pending == nil {
		return anpr.CaptureRequest{}, false
	}
	return *e.pending, true
}

// ReleaseCapture force-clears the outstanding capture, if any.
func (e *Engine) ReleaseCapture() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || e.pending == nil {
		return false
	}
	e.log.Info().Str("capture_id", e.pending.ID.String()).Msg("capture released by owner")
	e.pending = nil
	return true
}

// Reset tears the session down: tracks, votes, target and the outstanding
// capture are dropped. Late results for dropped tracks are discarded.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.resetLocked()
	e.log.Info().Msg("tracking session reset")
}

// Close resets the engine and turns every later entry point into a no-op.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.resetLocked()
	e.closed = true
}

func (e *Engine) resetLocked() {
	e.matcher.Reset()
	e.votes.Reset()
	e.alerts.Clear()
	e.pending = nil
}

type nopCollaborator struct{}

func (nopCollaborator) RequestCapture(anpr.CaptureRequest) {}
func (nopCollaborator) NotifyAlert(anpr.AlertEvent)        {}
func (nopCollaborator) SavePlate(anpr.PlateRecord)         {}

// Notifiers fans one alert out to several notifiers.
type Notifiers []AlertNotifier

func (ns Notifiers) NotifyAlert(ev anpr.AlertEvent) {
	for _, n := range ns {
		n.NotifyAlert(ev)
	}
}
